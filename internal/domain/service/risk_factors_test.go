package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-risk-intelligence/internal/domain/analytics"
	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/infrastructure/database"
)

func graphEdge(from, to int, at time.Time) *entity.Edge {
	txCounter++
	return &entity.Edge{
		TxHash:    hash(txCounter),
		From:      walletID(from),
		To:        walletID(to),
		Timestamp: at,
		Value:     100,
		GasPrice:  20,
		Status:    entity.TxStatusSuccess,
	}
}

// clique connects every pair of ids once
func clique(at time.Time, ids ...int) []*entity.Edge {
	var edges []*entity.Edge
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			edges = append(edges, graphEdge(ids[i], ids[j], at))
		}
	}
	return edges
}

func walletInput(subject *entity.Entity, view *analytics.GraphView, neighbors ...*entity.Entity) *factorInput {
	byID := make(map[string]*entity.Entity, len(neighbors))
	for _, n := range neighbors {
		byID[n.ID] = n
	}
	return &factorInput{
		subject:   subject,
		actor:     subject.ID,
		reference: testNow,
		view:      view,
		seeds:     []string{subject.ID},
		neighbors: byID,
		config:    DefaultScoringConfig(),
	}
}

func TestFlaggedCommunity_CappedWhenWholeCommunityIsFlagged(t *testing.T) {
	view := analytics.NewGraphView(nil, clique(testNow.Add(-time.Hour), 1, 2, 3, 4), false, false)
	in := walletInput(wallet(1), view,
		withRisk(wallet(2), 90), withRisk(wallet(3), 80), withRisk(wallet(4), 95))

	f, err := flaggedCommunity(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1.0, f.RawValue)
	assert.Equal(t, in.config.CommunityCap, f.NormalizedValue)
}

func TestFlaggedCommunity_ShareBelowCap(t *testing.T) {
	view := analytics.NewGraphView(nil, clique(testNow.Add(-time.Hour), 1, 2, 3, 4), false, false)
	in := walletInput(wallet(1), view,
		withRisk(wallet(2), 90), withRisk(wallet(3), 10), withRisk(wallet(4), 10))

	res, err := analytics.DetectCommunities(context.Background(), view, in.config.CommunityAlgorithm)
	require.NoError(t, err)
	members := 0
	flagged := 0
	for _, id := range res.CommunityOf(walletID(1)) {
		if id == walletID(1) {
			continue
		}
		members++
		if id == walletID(2) {
			flagged++
		}
	}
	require.Positive(t, members)

	f, err := flaggedCommunity(context.Background(), in)
	require.NoError(t, err)
	share := float64(flagged) / float64(members)
	assert.InDelta(t, share, f.RawValue, 1e-9)
	assert.LessOrEqual(t, f.NormalizedValue, in.config.CommunityCap)
	assert.InDelta(t, min(share, in.config.CommunityCap), f.NormalizedValue, 1e-9)
}

func TestFlaggedCommunity_AbsentOutsideView(t *testing.T) {
	view := analytics.NewGraphView(nil, clique(testNow, 2, 3), false, false)
	_, err := flaggedCommunity(context.Background(), walletInput(wallet(1), view))
	assert.ErrorIs(t, err, entity.ErrInsufficientData)
}

func TestBridgingCentrality(t *testing.T) {
	at := testNow.Add(-time.Hour)
	// 1 - 2 - 3: the middle wallet bridges the ends
	view := analytics.NewGraphView(nil, []*entity.Edge{graphEdge(1, 2, at), graphEdge(2, 3, at)}, false, false)

	bridge, err := bridgingCentrality(context.Background(), walletInput(wallet(2), view))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, bridge.NormalizedValue, 1e-9)

	endpoint, err := bridgingCentrality(context.Background(), walletInput(wallet(1), view))
	require.NoError(t, err)
	assert.Less(t, endpoint.NormalizedValue, bridge.NormalizedValue)

	_, err = bridgingCentrality(context.Background(), walletInput(wallet(9), view))
	assert.ErrorIs(t, err, entity.ErrInsufficientData)
}

func TestAnomalyFactors(t *testing.T) {
	history := func(latestValue, latestGas float64) []*entity.Edge {
		var edges []*entity.Edge
		for i, v := range []float64{100, 200, 300} {
			e := graphEdge(1, 10+i, testNow.Add(-time.Duration(10-i)*time.Hour))
			e.Value, e.GasPrice = v, v/10
			edges = append(edges, e)
		}
		latest := graphEdge(1, 20, testNow.Add(-time.Minute))
		latest.Value, latest.GasPrice = latestValue, latestGas
		return append(edges, latest)
	}

	tests := []struct {
		name       string
		fn         factorFunc
		edges      []*entity.Edge
		normalized float64
		absent     bool
	}{
		{"value spike", valueAnomaly, history(1000, 20), 1, false},
		{"value in line", valueAnomaly, history(200, 20), 0, false},
		{"gas spike", gasPriceAnomaly, history(200, 100), 1, false},
		{"gas in line", gasPriceAnomaly, history(200, 20), 0, false},
		{"gas missing", gasPriceAnomaly, history(200, 0), 0, true},
		{"short history", valueAnomaly, history(1000, 20)[2:], 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := walletInput(wallet(1), analytics.NewGraphView(nil, tt.edges, true, false))
			in.history = tt.edges

			f, err := tt.fn(context.Background(), in)
			if tt.absent {
				assert.ErrorIs(t, err, entity.ErrInsufficientData)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.normalized, f.NormalizedValue, 1e-9)
		})
	}
}

func TestContractRecency(t *testing.T) {
	tests := []struct {
		name     string
		age      time.Duration
		verified bool
		want     float64
	}{
		{"new unverified", 24 * time.Hour, false, 1},
		{"new verified", 24 * time.Hour, true, verifiedRecencyDiscount},
		{"halfway", newContractAge + (staleContractAge-newContractAge)/2, false, 0.5},
		{"stale", 120 * 24 * time.Hour, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newUnverifiedContract(1)
			c.Contract.Verified = tt.verified
			c.Contract.CreatedAt = testNow.Add(-tt.age)

			f, err := contractRecency(context.Background(), walletInput(c, analytics.NewGraphView(nil, nil, true, false)))
			require.NoError(t, err)
			assert.InDelta(t, tt.want, f.NormalizedValue, 1e-9)
		})
	}

	c := newUnverifiedContract(2)
	c.Contract.CreatedAt = time.Time{}
	_, err := contractRecency(context.Background(), walletInput(c, analytics.NewGraphView(nil, nil, true, false)))
	assert.ErrorIs(t, err, entity.ErrInsufficientData)
}

func TestCentralityShiftFactor(t *testing.T) {
	window := DefaultScoringConfig().ShiftWindow
	current := testNow.Add(-time.Minute)
	previous := current.Add(-window - time.Hour)

	// one counterparty in the previous window, three in the current one
	edges := []*entity.Edge{
		graphEdge(1, 2, previous),
		graphEdge(1, 3, current.Add(-2*time.Minute)),
		graphEdge(1, 4, current.Add(-time.Minute)),
		graphEdge(5, 1, current),
	}
	f, err := centralityShift(context.Background(), walletInput(wallet(1), analytics.NewGraphView(nil, edges, false, false)))
	require.NoError(t, err)
	assert.InDelta(t, 3.0, f.RawValue, 1e-9)
	assert.InDelta(t, 2.0/3.0, f.NormalizedValue, 1e-9)

	// first activity has no baseline to compare against
	first := []*entity.Edge{graphEdge(6, 7, current)}
	_, err = centralityShift(context.Background(), walletInput(wallet(6), analytics.NewGraphView(nil, first, false, false)))
	assert.ErrorIs(t, err, entity.ErrInsufficientData)
}

func TestScoreEntity_FirstTransferRaisesNoCentralitySpike(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryEntityStore()
	require.NoError(t, store.UpsertTransactions(ctx, []*entity.Transaction{
		transfer(901, 902, testNow.Add(-time.Minute), "1000"),
	}))
	svc := newScoringFixture(store)

	res, err := svc.ScoreEntity(ctx, walletID(901))
	require.NoError(t, err)
	_, ok := entity.FindFactor(res.Factors, FactorCentralityShift)
	assert.False(t, ok)
	assert.Contains(t, res.Omitted, FactorCentralityShift)
	assert.Nil(t, res.Signals.CentralityShiftRatio)

	for _, d := range newAlertFixture(store, DefaultAlertingConfig()).Detect(res) {
		assert.NotEqual(t, entity.AlertTypeCentralitySpike, d.Type)
	}
}
