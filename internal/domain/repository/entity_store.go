package repository

import (
	"context"
	"time"

	"crypto-risk-intelligence/internal/domain/entity"
)

// EntityFilter selects entities. Empty fields do not constrain.
type EntityFilter struct {
	Chain      string
	IDs        []string
	Types      []entity.EntityType
	Categories []entity.RiskCategory
	Limit      int
}

// EdgeFilter selects transaction edges. With Seeds set, only edges within
// Hops of a seed are returned: Hops=1 yields edges touching a seed, Hops=2
// adds edges touching the seeds' direct counterparties, and so on.
type EdgeFilter struct {
	Chain string
	Seeds []string
	Hops  int
}

// TimeRange bounds edge timestamps. A zero bound is open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range (both ends inclusive)
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// RiskUpdate is the result of one scoring pass. The write succeeds only
// if the stored evaluation version still equals ExpectedVersion.
type RiskUpdate struct {
	ID              string
	ExpectedVersion int64
	Score           *float64
	Category        entity.RiskCategory
	Factors         []entity.RiskFactor
	EvaluatedAt     time.Time
}

// AlertFilter selects alerts for listing, newest first
type AlertFilter struct {
	Entity string
	Type   entity.AlertType
	Status entity.AlertStatus
	Limit  int
}

// AlertUpdate lists the fields to change on an alert. Nil fields are left
// untouched. When ExpectStatus is set the update is applied only if the
// stored status still matches.
type AlertUpdate struct {
	Severity     *entity.Severity
	Description  *string
	Context      map[string]any
	Status       *entity.AlertStatus
	Occurrences  *int
	ExpectStatus *entity.AlertStatus
	UpdatedAt    time.Time
}

// EntityStore is the persistence boundary of the risk core
type EntityStore interface {
	// GetEntity returns entity.ErrNotFound when id is unknown
	GetEntity(ctx context.Context, id string) (*entity.Entity, error)

	GetEntities(ctx context.Context, filter EntityFilter) ([]*entity.Entity, error)

	// GetEdges returns edges newest first (ties by tx hash). A limit <= 0
	// means no limit.
	GetEdges(ctx context.Context, filter EdgeFilter, timeRange TimeRange, limit int) ([]*entity.Edge, error)

	// UpsertEntityRisk writes score, category and factors with a
	// compare-and-swap on the evaluation version and returns the new
	// version. A stale pass gets entity.ErrConcurrentModification.
	UpsertEntityRisk(ctx context.Context, update RiskUpdate) (int64, error)

	// UpsertEntities merges descriptive fields (tags, details, activity
	// timestamps). Risk fields are never touched.
	UpsertEntities(ctx context.Context, entities []*entity.Entity) error

	// UpsertTransactions records transactions, their endpoints and the
	// edges between them. Re-delivered transactions are idempotent.
	UpsertTransactions(ctx context.Context, transactions []*entity.Transaction) error

	AppendAlert(ctx context.Context, alert *entity.Alert) error

	// FindOpenAlert returns the alert for (entityID, alertType) that is
	// still in status new, or nil when there is none
	FindOpenAlert(ctx context.Context, entityID string, alertType entity.AlertType) (*entity.Alert, error)

	UpdateAlert(ctx context.Context, id string, update AlertUpdate) (*entity.Alert, error)
	GetAlert(ctx context.Context, id string) (*entity.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*entity.Alert, error)

	// Ping checks connectivity
	Ping(ctx context.Context) error
}
