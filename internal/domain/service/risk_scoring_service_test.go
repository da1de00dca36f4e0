package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/domain/repository"
	"crypto-risk-intelligence/internal/infrastructure/database"
	"crypto-risk-intelligence/internal/infrastructure/logger"
)

func newUnverifiedContract(n int) *entity.Entity {
	return &entity.Entity{
		ID:         walletID(n),
		Type:       entity.EntityTypeContract,
		Chain:      entity.DefaultChain,
		Address:    addr(n),
		FirstSeen:  testNow.Add(-48 * time.Hour),
		LastActive: testNow,
		Contract: &entity.ContractDetails{
			Creator:   addr(1),
			CreatedAt: testNow.Add(-48 * time.Hour),
			Vulnerabilities: []entity.Vulnerability{
				{Type: "reentrancy", Severity: entity.SeverityCritical},
			},
		},
	}
}

func TestScoreEntity_UnverifiedContract(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryEntityStore()
	store.PutEntity(newUnverifiedContract(50))
	svc := newScoringFixture(store)

	res, err := svc.ScoreEntity(ctx, walletID(50))
	require.NoError(t, err)

	assert.Equal(t, ScoreStatusScored, res.Status)
	require.NotNil(t, res.Score)
	assert.InDelta(t, 70.0, *res.Score, 0.001)
	assert.Equal(t, entity.RiskCategoryHigh, res.Category)
	assert.Equal(t, int64(1), res.EvaluationVersion)
	assert.Equal(t, 1, res.Signals.CriticalVulnerabilities)
	assert.Nil(t, res.PreviousScore)

	vulns, ok := entity.FindFactor(res.Factors, FactorVulnerabilities)
	require.True(t, ok)
	assert.InDelta(t, 0.25, vulns.NormalizedValue, 1e-9)
	assert.Contains(t, res.Omitted, FactorTxBurst)
	assert.Contains(t, res.Omitted, FactorCentralityShift)

	stored, err := store.GetEntity(ctx, walletID(50))
	require.NoError(t, err)
	require.NotNil(t, stored.RiskScore)
	assert.InDelta(t, 70.0, *stored.RiskScore, 0.001)
	assert.Equal(t, int64(1), stored.EvaluationVersion)
	assert.Equal(t, testNow, stored.LastEvaluated)
}

func TestScoreEntity_ZeroWeightDisablesFactor(t *testing.T) {
	store := database.NewMemoryEntityStore()
	store.PutEntity(newUnverifiedContract(51))
	nop := logger.NewNop()
	config := DefaultScoringConfig()
	config.Weights[FactorUnverifiedContract] = 0
	svc := NewRiskScoringService(store, NewGraphViewBuilder(store, 500, nop), config, nop)
	svc.now = func() time.Time { return testNow }

	res, err := svc.ScoreEntity(context.Background(), walletID(51))
	require.NoError(t, err)

	_, ok := entity.FindFactor(res.Factors, FactorUnverifiedContract)
	assert.False(t, ok)
	require.NotNil(t, res.Score)
	assert.InDelta(t, 50.0, *res.Score, 0.001)
	assert.Equal(t, entity.RiskCategoryMedium, res.Category)
}

func TestScoreEntity_NoFactorsIsUnknown(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryEntityStore()
	store.PutEntity(wallet(60))
	svc := newScoringFixture(store)

	res, err := svc.ScoreEntity(ctx, walletID(60))
	require.NoError(t, err)
	assert.Equal(t, ScoreStatusUnknown, res.Status)
	assert.Nil(t, res.Score)
	assert.Empty(t, res.Category)
	assert.Empty(t, res.Factors)
	assert.Equal(t, int64(1), res.EvaluationVersion)

	stored, err := store.GetEntity(ctx, walletID(60))
	require.NoError(t, err)
	assert.Nil(t, stored.RiskScore)
	assert.Equal(t, int64(1), stored.EvaluationVersion)
}

func TestScoreEntity_FlaggedTag(t *testing.T) {
	store := database.NewMemoryEntityStore()
	store.PutEntity(wallet(61, "phishing"))
	svc := newScoringFixture(store)

	res, err := svc.ScoreEntity(context.Background(), walletID(61))
	require.NoError(t, err)
	require.NotNil(t, res.Score)
	assert.Equal(t, 100.0, *res.Score)
	assert.Equal(t, entity.RiskCategoryCritical, res.Category)
}

func TestScoreEntity_SecondHopNeighbourDecays(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryEntityStore()
	require.NoError(t, store.UpsertTransactions(ctx, []*entity.Transaction{
		transfer(70, 71, testNow.Add(-2*time.Hour), "1000"),
		transfer(71, 72, testNow.Add(-90*time.Minute), "1000"),
	}))
	store.PutEntity(withRisk(wallet(71), 10))
	store.PutEntity(withRisk(wallet(72), 90))
	svc := newScoringFixture(store)

	res, err := svc.ScoreEntity(ctx, walletID(70))
	require.NoError(t, err)

	risky, ok := entity.FindFactor(res.Factors, FactorRiskyNeighbors)
	require.True(t, ok)
	assert.InDelta(t, 0.45, risky.NormalizedValue, 1e-9)
	assert.Contains(t, risky.Detail, walletID(72))

	novelty, ok := entity.FindFactor(res.Factors, FactorRecipientNovelty)
	require.True(t, ok)
	assert.Equal(t, 1.0, novelty.NormalizedValue)

	score, err := entity.Aggregate(res.Factors)
	require.NoError(t, err)
	assert.Equal(t, score, *res.Score)
}

func TestScoreEntity_TransactionBurst(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryEntityStore()
	var txs []*entity.Transaction
	for i := 1; i <= 10; i++ {
		txs = append(txs, transfer(80, 100+i, testNow.Add(-time.Duration(i)*24*time.Hour), "100"))
	}
	for i := 1; i <= 20; i++ {
		txs = append(txs, transfer(80, 81, testNow.Add(-time.Duration(i)*time.Minute), "100"))
	}
	require.NoError(t, store.UpsertTransactions(ctx, txs))
	svc := newScoringFixture(store)

	res, err := svc.ScoreEntity(ctx, walletID(80))
	require.NoError(t, err)

	burst, ok := entity.FindFactor(res.Factors, FactorTxBurst)
	require.True(t, ok)
	assert.Equal(t, 1.0, burst.NormalizedValue)
	assert.Greater(t, burst.RawValue, 100.0)
}

func TestScoreEntity_FailedTransaction(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryEntityStore()
	tx := transfer(90, 91, testNow.Add(-time.Hour), "5000")
	tx.Status = entity.TxStatusFailed
	require.NoError(t, store.UpsertTransactions(ctx, []*entity.Transaction{tx}))
	svc := newScoringFixture(store)

	res, err := svc.ScoreEntity(ctx, tx.ID())
	require.NoError(t, err)
	assert.Equal(t, entity.EntityTypeTransaction, res.EntityType)

	failed, ok := entity.FindFactor(res.Factors, FactorFailedTransaction)
	require.True(t, ok)
	assert.Equal(t, 1.0, failed.NormalizedValue)

	risky, ok := entity.FindFactor(res.Factors, FactorRiskyNeighbors)
	require.True(t, ok)
	assert.Zero(t, risky.NormalizedValue)

	require.NotNil(t, res.Score)
	assert.InDelta(t, 42.86, *res.Score, 0.001)
	assert.Equal(t, entity.RiskCategoryMedium, res.Category)
}

// racingStore lets a competing pass commit between the read and the write
type racingStore struct {
	*database.MemoryEntityStore
}

func (s racingStore) UpsertEntityRisk(ctx context.Context, update repository.RiskUpdate) (int64, error) {
	if _, err := s.MemoryEntityStore.UpsertEntityRisk(ctx, update); err != nil {
		return 0, err
	}
	return s.MemoryEntityStore.UpsertEntityRisk(ctx, update)
}

func TestScoreEntity_StalePassLosesCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	mem := database.NewMemoryEntityStore()
	mem.PutEntity(wallet(95, "scam"))
	store := racingStore{mem}
	nop := logger.NewNop()
	svc := NewRiskScoringService(store, NewGraphViewBuilder(store, 500, nop), DefaultScoringConfig(), nop)

	_, err := svc.ScoreEntity(ctx, walletID(95))
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrConcurrentModification)

	stored, err := mem.GetEntity(ctx, walletID(95))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.EvaluationVersion)
}

func TestScoreEntity_Errors(t *testing.T) {
	svc := newScoringFixture(database.NewMemoryEntityStore())
	ctx := context.Background()

	_, err := svc.ScoreEntity(ctx, walletID(404))
	assert.ErrorIs(t, err, entity.ErrNotFound)

	_, err = svc.ScoreEntity(ctx, "not-an-id")
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestScoreEntity_SecondPassSeesPreviousScore(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryEntityStore()
	store.PutEntity(wallet(96, "mixer"))
	svc := newScoringFixture(store)

	_, err := svc.ScoreEntity(ctx, walletID(96))
	require.NoError(t, err)
	res, err := svc.ScoreEntity(ctx, walletID(96))
	require.NoError(t, err)

	require.NotNil(t, res.PreviousScore)
	assert.Equal(t, 100.0, *res.PreviousScore)
	assert.Equal(t, entity.RiskCategoryCritical, res.PreviousCategory)
	assert.Equal(t, int64(2), res.EvaluationVersion)
	assert.Equal(t, int64(2), res.Entity.EvaluationVersion)
}
