package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/domain/repository"
)

var storeNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testAddr(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

func testWalletID(n int) string {
	return entity.Key(entity.DefaultChain, testAddr(n))
}

func testWallet(n int) *entity.Entity {
	return &entity.Entity{
		ID:         testWalletID(n),
		Type:       entity.EntityTypeWallet,
		Chain:      entity.DefaultChain,
		Address:    testAddr(n),
		FirstSeen:  storeNow.Add(-time.Hour),
		LastActive: storeNow,
		Wallet:     &entity.WalletDetails{WalletType: entity.WalletTypeEOA},
	}
}

func testTx(seq, from, to int, at time.Time) *entity.Transaction {
	return &entity.Transaction{
		Hash:      fmt.Sprintf("0x%064x", seq),
		From:      testAddr(from),
		To:        testAddr(to),
		Value:     "1000",
		Timestamp: at,
		Status:    entity.TxStatusSuccess,
	}
}

func TestMemoryEntityStore_UpsertTransactionsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEntityStore()
	tx := testTx(1, 1, 2, storeNow)

	require.NoError(t, s.UpsertTransactions(ctx, []*entity.Transaction{tx}))
	require.NoError(t, s.UpsertTransactions(ctx, []*entity.Transaction{tx}))

	edges, err := s.GetEdges(ctx, repository.EdgeFilter{}, repository.TimeRange{}, 0)
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	sender, err := s.GetEntity(ctx, testWalletID(1))
	require.NoError(t, err)
	assert.Equal(t, entity.EntityTypeWallet, sender.Type)

	txEntity, err := s.GetEntity(ctx, tx.ID())
	require.NoError(t, err)
	assert.Equal(t, entity.EntityTypeTransaction, txEntity.Type)
	require.NotNil(t, txEntity.Transaction)
	assert.Equal(t, "1000", txEntity.Transaction.Value)
}

func TestMemoryEntityStore_GetEdgesExpandsHops(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEntityStore()
	require.NoError(t, s.UpsertTransactions(ctx, []*entity.Transaction{
		testTx(1, 1, 2, storeNow.Add(-3*time.Hour)),
		testTx(2, 2, 3, storeNow.Add(-2*time.Hour)),
		testTx(3, 3, 4, storeNow.Add(-time.Hour)),
	}))

	one, err := s.GetEdges(ctx, repository.EdgeFilter{Seeds: []string{testWalletID(1)}, Hops: 1}, repository.TimeRange{}, 0)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	two, err := s.GetEdges(ctx, repository.EdgeFilter{Seeds: []string{testWalletID(1)}, Hops: 2}, repository.TimeRange{}, 0)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.True(t, two[0].Timestamp.After(two[1].Timestamp))

	recent, err := s.GetEdges(ctx, repository.EdgeFilter{}, repository.TimeRange{From: storeNow.Add(-90 * time.Minute)}, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, testWalletID(4), recent[0].To)

	limited, err := s.GetEdges(ctx, repository.EdgeFilter{}, repository.TimeRange{}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	other, err := s.GetEdges(ctx, repository.EdgeFilter{Chain: "polygon"}, repository.TimeRange{}, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemoryEntityStore_UpsertEntityRiskCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEntityStore()
	s.PutEntity(testWallet(1))
	score := 42.5

	version, err := s.UpsertEntityRisk(ctx, repository.RiskUpdate{
		ID:          testWalletID(1),
		Score:       &score,
		Category:    entity.RiskCategoryMedium,
		EvaluatedAt: storeNow,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	_, err = s.UpsertEntityRisk(ctx, repository.RiskUpdate{ID: testWalletID(1), ExpectedVersion: 0})
	assert.ErrorIs(t, err, entity.ErrConcurrentModification)

	_, err = s.UpsertEntityRisk(ctx, repository.RiskUpdate{ID: testWalletID(9)})
	assert.ErrorIs(t, err, entity.ErrNotFound)

	got, err := s.GetEntity(ctx, testWalletID(1))
	require.NoError(t, err)
	require.NotNil(t, got.RiskScore)
	assert.Equal(t, 42.5, *got.RiskScore)
	assert.Equal(t, entity.RiskCategoryMedium, got.RiskCategory)
}

func TestMemoryEntityStore_UpsertEntitiesKeepsRiskState(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEntityStore()
	contract := &entity.Entity{
		ID:       testWalletID(5),
		Type:     entity.EntityTypeContract,
		Chain:    entity.DefaultChain,
		Address:  testAddr(5),
		Contract: &entity.ContractDetails{Verified: true},
	}
	require.NoError(t, s.UpsertEntities(ctx, []*entity.Entity{contract}))
	score := 80.0
	_, err := s.UpsertEntityRisk(ctx, repository.RiskUpdate{ID: contract.ID, Score: &score, Category: entity.RiskCategoryCritical})
	require.NoError(t, err)

	// the contract later shows up as a plain transaction endpoint
	require.NoError(t, s.UpsertTransactions(ctx, []*entity.Transaction{testTx(1, 1, 5, storeNow)}))
	require.NoError(t, s.UpsertEntities(ctx, []*entity.Entity{{
		ID:      contract.ID,
		Type:    entity.EntityTypeContract,
		Chain:   entity.DefaultChain,
		Address: testAddr(5),
		Tags:    []string{"ponzi"},
		Contract: &entity.ContractDetails{
			Verified: false,
		},
	}}))

	got, err := s.GetEntity(ctx, contract.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.EntityTypeContract, got.Type)
	assert.Equal(t, []string{"ponzi"}, got.Tags)
	assert.False(t, got.Contract.Verified)
	require.NotNil(t, got.RiskScore)
	assert.Equal(t, 80.0, *got.RiskScore)
	assert.Equal(t, int64(1), got.EvaluationVersion)

	assert.Error(t, s.UpsertEntities(ctx, []*entity.Entity{{ID: "ethereum:0x01", Type: entity.EntityTypeWallet}}))
}

func TestMemoryEntityStore_Alerts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEntityStore()
	newAlert := func(id string, at time.Time, status entity.AlertStatus) *entity.Alert {
		return &entity.Alert{
			ID:          id,
			Timestamp:   at,
			Severity:    entity.SeverityHigh,
			Type:        entity.AlertTypeBurstActivity,
			Entity:      testWalletID(1),
			EntityType:  entity.EntityTypeWallet,
			Status:      status,
			Occurrences: 1,
			Context:     map[string]any{"score": 80.0},
		}
	}
	require.NoError(t, s.AppendAlert(ctx, newAlert("a1", storeNow.Add(-time.Hour), entity.AlertStatusResolved)))
	require.NoError(t, s.AppendAlert(ctx, newAlert("a2", storeNow, entity.AlertStatusNew)))
	assert.ErrorIs(t, s.AppendAlert(ctx, newAlert("a2", storeNow, entity.AlertStatusNew)), entity.ErrInvalidInput)

	open, err := s.FindOpenAlert(ctx, testWalletID(1), entity.AlertTypeBurstActivity)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "a2", open.ID)

	none, err := s.FindOpenAlert(ctx, testWalletID(1), entity.AlertTypeFlaggedEntity)
	require.NoError(t, err)
	assert.Nil(t, none)

	// callers cannot mutate stored context through a returned alert
	open.Context["score"] = 1.0
	again, err := s.GetAlert(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, 80.0, again.Context["score"])

	acked := entity.AlertStatusAcknowledged
	expect := entity.AlertStatusNew
	updated, err := s.UpdateAlert(ctx, "a2", repository.AlertUpdate{Status: &acked, ExpectStatus: &expect, UpdatedAt: storeNow})
	require.NoError(t, err)
	assert.Equal(t, entity.AlertStatusAcknowledged, updated.Status)

	_, err = s.UpdateAlert(ctx, "a2", repository.AlertUpdate{Status: &acked, ExpectStatus: &expect})
	assert.ErrorIs(t, err, entity.ErrConcurrentModification)

	back := entity.AlertStatusNew
	_, err = s.UpdateAlert(ctx, "a2", repository.AlertUpdate{Status: &back})
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)

	_, err = s.UpdateAlert(ctx, "missing", repository.AlertUpdate{})
	assert.ErrorIs(t, err, entity.ErrNotFound)

	all, err := s.ListAlerts(ctx, repository.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a2", all[0].ID)

	resolved, err := s.ListAlerts(ctx, repository.AlertFilter{Status: entity.AlertStatusResolved})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "a1", resolved[0].ID)

	limited, err := s.ListAlerts(ctx, repository.AlertFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
