package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/domain/repository"
	"crypto-risk-intelligence/internal/infrastructure/logger"
	"crypto-risk-intelligence/internal/infrastructure/metrics"
	"crypto-risk-intelligence/internal/pkg/retry"
)

// RetryingEntityStore retries transient store failures with backoff.
// Failures that survive every attempt are returned as
// entity.ErrDataUnavailable; not-found, conflicts and invalid input are
// returned as they are on the first attempt.
type RetryingEntityStore struct {
	next   repository.EntityStore
	policy retry.Policy
	logger *logger.Logger
}

// NewRetryingEntityStore decorates next with a bounded retry loop
func NewRetryingEntityStore(next repository.EntityStore, attempts int, baseDelay, maxDelay time.Duration, logger *logger.Logger) *RetryingEntityStore {
	return &RetryingEntityStore{
		next: next,
		policy: retry.Policy{
			MaxAttempts: attempts,
			BaseDelay:   baseDelay,
			MaxDelay:    maxDelay,
		},
		logger: logger.WithComponent("entity-store-retry"),
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, entity.ErrNotFound) ||
		errors.Is(err, entity.ErrConcurrentModification) ||
		errors.Is(err, entity.ErrInvalidInput) ||
		errors.Is(err, entity.ErrInvalidTransition) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func withRetry[T any](ctx context.Context, s *RetryingEntityStore, op string, fn func() (T, error)) (T, error) {
	var out T
	policy := s.policy
	policy.OnRetry = func(attempt int, err error) {
		metrics.StoreRetriesTotal.WithLabelValues(op).Inc()
		s.logger.Warn("Entity store operation failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	err := policy.Do(ctx, func() error {
		v, err := fn()
		if err != nil {
			if isPermanent(err) {
				return retry.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	})
	switch {
	case err == nil:
		return out, nil
	case isPermanent(err), ctx.Err() != nil:
		return out, err
	case errors.Is(err, entity.ErrDataUnavailable):
		return out, err
	}
	s.logger.Error("Entity store operation exhausted retries",
		zap.String("operation", op),
		zap.Int("attempts", s.policy.MaxAttempts),
		zap.Error(err))
	return out, fmt.Errorf("%s: %w: %w", op, entity.ErrDataUnavailable, err)
}

func (s *RetryingEntityStore) GetEntity(ctx context.Context, id string) (*entity.Entity, error) {
	return withRetry(ctx, s, "get_entity", func() (*entity.Entity, error) {
		return s.next.GetEntity(ctx, id)
	})
}

func (s *RetryingEntityStore) GetEntities(ctx context.Context, filter repository.EntityFilter) ([]*entity.Entity, error) {
	return withRetry(ctx, s, "get_entities", func() ([]*entity.Entity, error) {
		return s.next.GetEntities(ctx, filter)
	})
}

func (s *RetryingEntityStore) GetEdges(ctx context.Context, filter repository.EdgeFilter, timeRange repository.TimeRange, limit int) ([]*entity.Edge, error) {
	return withRetry(ctx, s, "get_edges", func() ([]*entity.Edge, error) {
		return s.next.GetEdges(ctx, filter, timeRange, limit)
	})
}

// UpsertEntityRisk is retried like any write. An attempt that committed
// but lost its reply makes the retry fail the version check, which
// surfaces as entity.ErrConcurrentModification.
func (s *RetryingEntityStore) UpsertEntityRisk(ctx context.Context, update repository.RiskUpdate) (int64, error) {
	return withRetry(ctx, s, "upsert_entity_risk", func() (int64, error) {
		return s.next.UpsertEntityRisk(ctx, update)
	})
}

func (s *RetryingEntityStore) UpsertEntities(ctx context.Context, entities []*entity.Entity) error {
	_, err := withRetry(ctx, s, "upsert_entities", func() (struct{}, error) {
		return struct{}{}, s.next.UpsertEntities(ctx, entities)
	})
	return err
}

func (s *RetryingEntityStore) UpsertTransactions(ctx context.Context, transactions []*entity.Transaction) error {
	_, err := withRetry(ctx, s, "upsert_transactions", func() (struct{}, error) {
		return struct{}{}, s.next.UpsertTransactions(ctx, transactions)
	})
	return err
}

func (s *RetryingEntityStore) AppendAlert(ctx context.Context, alert *entity.Alert) error {
	_, err := withRetry(ctx, s, "append_alert", func() (struct{}, error) {
		return struct{}{}, s.next.AppendAlert(ctx, alert)
	})
	return err
}

func (s *RetryingEntityStore) FindOpenAlert(ctx context.Context, entityID string, alertType entity.AlertType) (*entity.Alert, error) {
	return withRetry(ctx, s, "find_open_alert", func() (*entity.Alert, error) {
		return s.next.FindOpenAlert(ctx, entityID, alertType)
	})
}

func (s *RetryingEntityStore) UpdateAlert(ctx context.Context, id string, update repository.AlertUpdate) (*entity.Alert, error) {
	return withRetry(ctx, s, "update_alert", func() (*entity.Alert, error) {
		return s.next.UpdateAlert(ctx, id, update)
	})
}

func (s *RetryingEntityStore) GetAlert(ctx context.Context, id string) (*entity.Alert, error) {
	return withRetry(ctx, s, "get_alert", func() (*entity.Alert, error) {
		return s.next.GetAlert(ctx, id)
	})
}

func (s *RetryingEntityStore) ListAlerts(ctx context.Context, filter repository.AlertFilter) ([]*entity.Alert, error) {
	return withRetry(ctx, s, "list_alerts", func() ([]*entity.Alert, error) {
		return s.next.ListAlerts(ctx, filter)
	})
}

// Ping is not retried; health checks want the current state
func (s *RetryingEntityStore) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

var _ repository.EntityStore = (*RetryingEntityStore)(nil)
