package service

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/domain/repository"
	"crypto-risk-intelligence/internal/domain/service"
	"crypto-risk-intelligence/internal/infrastructure/logger"
	"crypto-risk-intelligence/internal/infrastructure/metrics"
)

// RiskEvaluator rescores an entity and raises its alerts
type RiskEvaluator interface {
	ScoreAndAlert(ctx context.Context, id string) (*ScoreAndAlertResponse, error)
}

// IndexingApplicationService records confirmed transactions in the entity
// store and rescores every entity they touch
type IndexingApplicationService struct {
	store       repository.EntityStore
	evaluator   RiskEvaluator
	concurrency int
	logger      *logger.Logger
}

// NewIndexingApplicationService creates a new indexing application service.
// concurrency bounds the rescoring fan-out of one batch.
func NewIndexingApplicationService(
	store repository.EntityStore,
	evaluator RiskEvaluator,
	concurrency int,
	logger *logger.Logger,
) *IndexingApplicationService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &IndexingApplicationService{
		store:       store,
		evaluator:   evaluator,
		concurrency: concurrency,
		logger:      logger.WithComponent("indexing-service"),
	}
}

// ProcessTransaction processes a single transaction event
func (s *IndexingApplicationService) ProcessTransaction(ctx context.Context, tx *entity.Transaction) error {
	return s.ProcessTransactionBatch(ctx, []*entity.Transaction{tx})
}

// ProcessTransactionBatch writes the batch in one store call, then rescores
// the senders, recipients and transactions it touched. Rescoring failures
// are logged per entity and do not fail the batch.
func (s *IndexingApplicationService) ProcessTransactionBatch(ctx context.Context, transactions []*entity.Transaction) error {
	valid := make([]*entity.Transaction, 0, len(transactions))
	for _, tx := range transactions {
		if tx == nil {
			continue
		}
		if err := validateTransaction(tx); err != nil {
			s.logger.Warn("Skipping invalid transaction", zap.String("hash", tx.Hash), zap.Error(err))
			metrics.IngestedTransactionsTotal.WithLabelValues("rejected").Inc()
			continue
		}
		valid = append(valid, tx)
	}
	if len(valid) == 0 {
		return nil
	}

	if err := s.store.UpsertTransactions(ctx, valid); err != nil {
		metrics.IngestedTransactionsTotal.WithLabelValues("failed").Add(float64(len(valid)))
		return fmt.Errorf("failed to store transaction batch: %w", err)
	}
	metrics.IngestedTransactionsTotal.WithLabelValues("stored").Add(float64(len(valid)))

	touched := touchedEntities(valid)
	s.logger.Info("Stored transaction batch",
		zap.Int("transactions", len(valid)),
		zap.Int("touched_entities", len(touched)))

	return s.rescore(ctx, touched)
}

func (s *IndexingApplicationService) rescore(ctx context.Context, ids []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			resp, err := s.evaluator.ScoreAndAlert(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("Failed to rescore entity", zap.String("entity", id), zap.Error(err))
				return nil
			}
			if n := len(resp.AlertsRaised); n > 0 {
				s.logger.Info("Alerts raised while indexing",
					zap.String("entity", id),
					zap.Int("alerts", n))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("rescoring interrupted: %w", err)
	}
	return nil
}

func validateTransaction(tx *entity.Transaction) error {
	chain := tx.ChainOrDefault()
	if err := entity.ValidateHash(chain, tx.Hash); err != nil {
		return err
	}
	if err := entity.ValidateAddress(chain, tx.From); err != nil {
		return err
	}
	if tx.To != "" {
		if err := entity.ValidateAddress(chain, tx.To); err != nil {
			return err
		}
	}
	if tx.Timestamp.IsZero() {
		return fmt.Errorf("%w: transaction %s has no timestamp", entity.ErrInvalidInput, tx.Hash)
	}
	return nil
}

// touchedEntities returns the sorted, distinct ids of every entity a batch
// created or extended
func touchedEntities(transactions []*entity.Transaction) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, tx := range transactions {
		for _, e := range tx.Entities() {
			if !seen[e.ID] {
				seen[e.ID] = true
				ids = append(ids, e.ID)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

var _ service.IndexingService = (*IndexingApplicationService)(nil)
