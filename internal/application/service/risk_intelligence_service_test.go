package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-risk-intelligence/internal/domain/analytics"
	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/domain/repository"
	"crypto-risk-intelligence/internal/domain/service"
	"crypto-risk-intelligence/internal/infrastructure/database"
	"crypto-risk-intelligence/internal/infrastructure/logger"
)

func addr(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

func walletID(n int) string {
	return entity.Key(entity.DefaultChain, addr(n))
}

var txSeq atomic.Int64

func transfer(from, to int, at time.Time) *entity.Transaction {
	return &entity.Transaction{
		Hash:      fmt.Sprintf("0x%064x", txSeq.Add(1)),
		From:      addr(from),
		To:        addr(to),
		Value:     "1000",
		GasPrice:  "20000000000",
		Timestamp: at,
		Status:    entity.TxStatusSuccess,
		Chain:     entity.DefaultChain,
	}
}

func taggedWallet(n int, tags ...string) *entity.Entity {
	now := time.Now().UTC()
	return &entity.Entity{
		ID:         walletID(n),
		Type:       entity.EntityTypeWallet,
		Chain:      entity.DefaultChain,
		Address:    addr(n),
		FirstSeen:  now.Add(-24 * time.Hour),
		LastActive: now,
		Tags:       tags,
		Wallet:     &entity.WalletDetails{WalletType: entity.WalletTypeEOA},
	}
}

func newIntelligence(store repository.EntityStore, notifiers ...service.AlertNotifier) *RiskIntelligenceService {
	nop := logger.NewNop()
	views := service.NewGraphViewBuilder(store, 500, nop)
	scoring := service.NewRiskScoringService(store, views, service.DefaultScoringConfig(), nop)
	alerts := service.NewAlertManager(store, service.DefaultAlertingConfig(), notifiers, nop)
	return NewRiskIntelligenceService(views, scoring, alerts, DefaultAnalyticsConfig(), nop)
}

// racingStore lets another pass win the version race the first n times
type racingStore struct {
	*database.MemoryEntityStore
	races atomic.Int32
}

func (s *racingStore) UpsertEntityRisk(ctx context.Context, update repository.RiskUpdate) (int64, error) {
	if s.races.Add(-1) >= 0 {
		if _, err := s.MemoryEntityStore.UpsertEntityRisk(ctx, update); err != nil {
			return 0, err
		}
	}
	return s.MemoryEntityStore.UpsertEntityRisk(ctx, update)
}

func TestScoreAndAlert_FlaggedWallet(t *testing.T) {
	store := database.NewMemoryEntityStore()
	store.PutEntity(taggedWallet(1, "phishing"))
	svc := newIntelligence(store)

	resp, err := svc.ScoreAndAlert(context.Background(), walletID(1))
	require.NoError(t, err)
	require.NotNil(t, resp.Result.Score)
	assert.Equal(t, 100.0, *resp.Result.Score)
	assert.Equal(t, entity.RiskCategoryCritical, resp.Result.Category)
	assert.Contains(t, resp.Message, "2 alert(s) raised")

	types := make(map[entity.AlertType]entity.Severity)
	for _, r := range resp.AlertsRaised {
		types[r.Alert.Type] = r.Alert.Severity
	}
	assert.Equal(t, map[entity.AlertType]entity.Severity{
		entity.AlertTypeCategoryIncrease: entity.SeverityCritical,
		entity.AlertTypeFlaggedEntity:    entity.SeverityHigh,
	}, types)

	again, err := svc.ScoreAndAlert(context.Background(), walletID(1))
	require.NoError(t, err)
	require.Len(t, again.AlertsRaised, 1)
	assert.Equal(t, service.AlertActionUpdated, again.AlertsRaised[0].Action)
}

func TestScoreAndAlert_RetriesLostVersionRace(t *testing.T) {
	store := &racingStore{MemoryEntityStore: database.NewMemoryEntityStore()}
	store.PutEntity(taggedWallet(2, "scam"))
	store.races.Store(1)
	svc := newIntelligence(store)

	resp, err := svc.ScoreAndAlert(context.Background(), walletID(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.Result.EvaluationVersion)
}

func TestScoreAndAlert_GivesUpAfterRepeatedRaces(t *testing.T) {
	store := &racingStore{MemoryEntityStore: database.NewMemoryEntityStore()}
	store.PutEntity(taggedWallet(3, "scam"))
	store.races.Store(5)
	svc := newIntelligence(store)

	_, err := svc.ScoreAndAlert(context.Background(), walletID(3))
	assert.ErrorIs(t, err, entity.ErrConcurrentModification)
}

func TestScoreAndAlert_PermanentErrorsAreNotRetried(t *testing.T) {
	svc := newIntelligence(database.NewMemoryEntityStore())

	_, err := svc.ScoreAndAlert(context.Background(), walletID(4))
	assert.ErrorIs(t, err, entity.ErrNotFound)

	_, err = svc.ScoreAndAlert(context.Background(), "ethereum:not-an-address")
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestScoreEntity_UnknownMessage(t *testing.T) {
	store := database.NewMemoryEntityStore()
	store.PutEntity(taggedWallet(5))
	svc := newIntelligence(store)

	resp, err := svc.ScoreEntity(context.Background(), walletID(5))
	require.NoError(t, err)
	assert.Nil(t, resp.Result.Score)
	assert.Equal(t, service.ScoreStatusUnknown, resp.Result.Status)
	assert.Contains(t, resp.Message, "unknown")
}

func seedTriangle(t *testing.T, store *database.MemoryEntityStore) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.UpsertTransactions(context.Background(), []*entity.Transaction{
		transfer(10, 11, now.Add(-3*time.Hour)),
		transfer(11, 12, now.Add(-2*time.Hour)),
		transfer(12, 10, now.Add(-1*time.Hour)),
	}))
}

func TestComputeMetrics(t *testing.T) {
	store := database.NewMemoryEntityStore()
	svc := newIntelligence(store)

	empty, err := svc.ComputeMetrics(context.Background(), service.ViewParams{})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Metrics.NodeCount)
	assert.Contains(t, empty.Message, "graph view is empty")

	seedTriangle(t, store)
	resp, err := svc.ComputeMetrics(context.Background(), service.ViewParams{Directed: true})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Metrics.NodeCount)
	assert.Equal(t, 3, resp.Metrics.EdgeCount)
	require.NotNil(t, resp.Metrics.IsStronglyConnected)
	assert.True(t, *resp.Metrics.IsStronglyConnected)

	truncated, err := svc.ComputeMetrics(context.Background(), service.ViewParams{LinkLimit: 2})
	require.NoError(t, err)
	assert.True(t, truncated.Metrics.Truncated)
	assert.Contains(t, truncated.Message, "truncated")

	_, err = svc.ComputeMetrics(context.Background(), service.ViewParams{Hops: 9})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestComputeCentrality(t *testing.T) {
	store := database.NewMemoryEntityStore()
	seedTriangle(t, store)
	svc := newIntelligence(store)

	one := 1
	resp, err := svc.ComputeCentrality(context.Background(), CentralityRequest{
		View:       service.ViewParams{Directed: true},
		Algorithms: []string{analytics.AlgorithmPageRank},
		TopN:       &one,
	})
	require.NoError(t, err)
	require.Len(t, resp.Centrality.Ranking[analytics.AlgorithmPageRank], 1)

	_, err = svc.ComputeCentrality(context.Background(), CentralityRequest{Algorithms: []string{"katz"}})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)

	negative := -1
	_, err = svc.ComputeCentrality(context.Background(), CentralityRequest{TopN: &negative})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestDetectCommunities_DefaultsAlgorithm(t *testing.T) {
	store := database.NewMemoryEntityStore()
	seedTriangle(t, store)
	svc := newIntelligence(store)

	resp, err := svc.DetectCommunities(context.Background(), service.ViewParams{}, "")
	require.NoError(t, err)
	assert.Equal(t, analytics.CommunityLouvain, resp.Communities.Algorithm)
	require.Len(t, resp.Communities.Communities, 1)
	assert.Len(t, resp.Communities.Communities[0], 3)

	_, err = svc.DetectCommunities(context.Background(), service.ViewParams{}, "spectral")
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestComputeTemporal(t *testing.T) {
	store := database.NewMemoryEntityStore()
	seedTriangle(t, store)
	svc := newIntelligence(store)

	resp, err := svc.ComputeTemporal(context.Background(), TemporalRequest{})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, resp.Temporal.WindowSize)
	require.Len(t, resp.Temporal.Windows, 1)
	assert.Equal(t, 3, resp.Temporal.Windows[0].Metrics.TransactionCount)

	hourly, err := svc.ComputeTemporal(context.Background(), TemporalRequest{WindowSize: time.Hour, MaxWindows: 2})
	require.NoError(t, err)
	assert.Len(t, hourly.Temporal.Windows, 2)

	_, err = svc.ComputeTemporal(context.Background(), TemporalRequest{WindowSize: -time.Hour})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestComputeLayout(t *testing.T) {
	store := database.NewMemoryEntityStore()
	seedTriangle(t, store)
	svc := newIntelligence(store)

	resp, err := svc.ComputeLayout(context.Background(), LayoutRequest{})
	require.NoError(t, err)
	assert.Equal(t, analytics.LayoutSpring, resp.Layout.Algorithm)
	assert.Equal(t, analytics.DefaultLayoutScale, resp.Layout.Scale)
	assert.Len(t, resp.Layout.Positions, 3)
	assert.Equal(t, "Layout computed", resp.Message)

	_, err = svc.ComputeLayout(context.Background(), LayoutRequest{Layout: analytics.LayoutOptions{Algorithm: "spectral"}})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestVisualize(t *testing.T) {
	store := database.NewMemoryEntityStore()
	seedTriangle(t, store)
	svc := newIntelligence(store)

	resp, err := svc.Visualize(context.Background(), VisualizationRequest{
		Layout:             analytics.LayoutOptions{Algorithm: analytics.LayoutCircular},
		IncludeCommunities: true,
		IncludeMetrics:     true,
	})
	require.NoError(t, err)
	vis := resp.Visualization
	require.NotNil(t, vis.Communities)
	assert.Equal(t, analytics.CommunityLouvain, vis.Communities.Algorithm)
	require.Len(t, vis.Nodes, 3)
	for _, node := range vis.Nodes {
		require.NotNil(t, node.Community)
		assert.Equal(t, 0, *node.Community)
		assert.Contains(t, node.Metrics, analytics.AlgorithmDegree)
	}

	plain, err := svc.Visualize(context.Background(), VisualizationRequest{CommunityAlgorithm: "spectral"})
	require.NoError(t, err)
	assert.Nil(t, plain.Visualization.Communities)

	_, err = svc.Visualize(context.Background(), VisualizationRequest{IncludeCommunities: true, CommunityAlgorithm: "spectral"})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestAlertLifecycle(t *testing.T) {
	store := database.NewMemoryEntityStore()
	store.PutEntity(taggedWallet(6, "mixer"))
	svc := newIntelligence(store)
	ctx := context.Background()

	scored, err := svc.ScoreAndAlert(ctx, walletID(6))
	require.NoError(t, err)
	require.NotEmpty(t, scored.AlertsRaised)
	id := scored.AlertsRaised[0].Alert.ID

	_, err = svc.ResolveAlert(ctx, id)
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)

	acked, err := svc.AcknowledgeAlert(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.AlertStatusAcknowledged, acked.Alert.Status)

	resolved, err := svc.ResolveAlert(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.AlertStatusResolved, resolved.Alert.Status)

	list, err := svc.ListAlerts(ctx, repository.AlertFilter{Status: entity.AlertStatusResolved})
	require.NoError(t, err)
	require.Len(t, list.Alerts, 1)
	assert.Equal(t, id, list.Alerts[0].ID)

	_, err = svc.ListAlerts(ctx, repository.AlertFilter{Status: "closed"})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)

	_, err = svc.AcknowledgeAlert(ctx, "missing")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

type failingSink struct{}

func (failingSink) NotifyAlert(context.Context, *entity.Alert, service.AlertAction) error {
	return errors.New("sink down")
}

func TestMeteredNotifier_PassesErrorsThrough(t *testing.T) {
	n := NewMeteredNotifier("test", failingSink{})
	err := n.NotifyAlert(context.Background(), &entity.Alert{ID: "a"}, service.AlertActionCreated)
	assert.EqualError(t, err, "sink down")

	store := database.NewMemoryEntityStore()
	store.PutEntity(taggedWallet(7, "hack"))
	resp, err := newIntelligence(store, n).ScoreAndAlert(context.Background(), walletID(7))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AlertsRaised)
}
