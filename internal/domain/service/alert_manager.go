package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/domain/repository"
	"crypto-risk-intelligence/internal/infrastructure/logger"
	"crypto-risk-intelligence/internal/pkg/syncutil"
)

// Severity merge policies applied when a detection supersedes an open alert
const (
	MergePolicyLatest = "latest"
	MergePolicyMax    = "max"
)

// AlertingConfig tunes the trigger rules
type AlertingConfig struct {
	SeverityMergePolicy      string
	CentralityJumpRatio      float64
	UnverifiedBurstThreshold float64
	// FactorThresholds maps a factor name to the normalised value at which
	// it raises an alert on its own
	FactorThresholds map[string]float64
}

// DefaultAlertingConfig returns the built-in alert rules
func DefaultAlertingConfig() AlertingConfig {
	return AlertingConfig{
		SeverityMergePolicy:      MergePolicyLatest,
		CentralityJumpRatio:      2.0,
		UnverifiedBurstThreshold: 0.7,
		FactorThresholds: map[string]float64{
			FactorTxBurst:        0.9,
			FactorRiskyNeighbors: 0.75,
			FactorFlaggedTags:    1.0,
		},
	}
}

// factorRule is the alert a single factor raises past its threshold
type factorRule struct {
	alertType entity.AlertType
	severity  entity.Severity
	describe  string
}

var factorRules = map[string]factorRule{
	FactorTxBurst:        {entity.AlertTypeBurstActivity, entity.SeverityHigh, "Transaction burst far above baseline"},
	FactorRiskyNeighbors: {entity.AlertTypeHighRiskAssociation, entity.SeverityHigh, "Direct exposure to a high-risk counterparty"},
	FactorFlaggedTags:    {entity.AlertTypeFlaggedEntity, entity.SeverityHigh, "Entity carries a high-risk tag"},
}

// Detection is one triggered rule before dedup
type Detection struct {
	Type        entity.AlertType
	Severity    entity.Severity
	Description string
	Context     map[string]any
}

// RaisedAlert is an alert created or superseded by an evaluation
type RaisedAlert struct {
	Alert  *entity.Alert `json:"alert"`
	Action AlertAction   `json:"action"`
}

// AlertManager turns scoring passes into deduplicated alerts and drives
// the alert lifecycle
type AlertManager struct {
	store     repository.EntityStore
	config    AlertingConfig
	notifiers []AlertNotifier
	locks     *syncutil.KeyedMutex
	logger    *logger.Logger
	now       func() time.Time
}

// NewAlertManager creates an alert manager that fans changes out to notifiers
func NewAlertManager(
	store repository.EntityStore,
	config AlertingConfig,
	notifiers []AlertNotifier,
	logger *logger.Logger,
) *AlertManager {
	return &AlertManager{
		store:     store,
		config:    config,
		notifiers: notifiers,
		locks:     syncutil.NewKeyedMutex(),
		logger:    logger.WithComponent("alert-manager"),
		now:       time.Now,
	}
}

// Detect applies the trigger rules to a scoring pass. Each rule carries its
// own severity; the aggregate score only matters for category increases.
func (m *AlertManager) Detect(result *ScoreResult) []Detection {
	var detections []Detection

	if d, ok := m.categoryIncrease(result); ok {
		detections = append(detections, d)
	}

	if n := result.Signals.CriticalVulnerabilities; n > 0 {
		ctx := baseContext(result)
		ctx["critical_vulnerabilities"] = n
		if result.Entity != nil && result.Entity.Contract != nil {
			var types []string
			for _, v := range result.Entity.Contract.Vulnerabilities {
				if v.Severity == entity.SeverityCritical {
					types = append(types, v.Type)
				}
			}
			ctx["vulnerability_types"] = types
		}
		detections = append(detections, Detection{
			Type:        entity.AlertTypeCriticalVulnerability,
			Severity:    entity.SeverityCritical,
			Description: fmt.Sprintf("Contract has %d critical vulnerabilities", n),
			Context:     ctx,
		})
	}

	unverified, hasUnverified := entity.FindFactor(result.Factors, FactorUnverifiedContract)
	burst, hasBurst := entity.FindFactor(result.Factors, FactorTxBurst)
	if hasUnverified && hasBurst && unverified.NormalizedValue >= 1 && burst.NormalizedValue >= m.config.UnverifiedBurstThreshold {
		ctx := baseContext(result)
		ctx["tx_burst"] = burst.NormalizedValue
		detections = append(detections, Detection{
			Type:        entity.AlertTypeUnverifiedContractBurst,
			Severity:    entity.SeverityCritical,
			Description: "Unverified contract with burst activity",
			Context:     ctx,
		})
	}

	for _, name := range []string{FactorTxBurst, FactorRiskyNeighbors, FactorFlaggedTags} {
		threshold, ok := m.config.FactorThresholds[name]
		if !ok {
			continue
		}
		f, ok := entity.FindFactor(result.Factors, name)
		if !ok || f.NormalizedValue < threshold {
			continue
		}
		rule := factorRules[name]
		ctx := baseContext(result)
		ctx["factor"] = name
		ctx["factor_value"] = f.NormalizedValue
		ctx["factor_detail"] = f.Detail
		detections = append(detections, Detection{
			Type:        rule.alertType,
			Severity:    rule.severity,
			Description: fmt.Sprintf("%s (%s)", rule.describe, f.Detail),
			Context:     ctx,
		})
	}

	if ratio := result.Signals.CentralityShiftRatio; ratio != nil && m.config.CentralityJumpRatio > 0 && *ratio > m.config.CentralityJumpRatio {
		severity := entity.SeverityMedium
		if *ratio > 2*m.config.CentralityJumpRatio {
			severity = entity.SeverityHigh
		}
		ctx := baseContext(result)
		ctx["shift_ratio"] = *ratio
		detections = append(detections, Detection{
			Type:        entity.AlertTypeCentralitySpike,
			Severity:    severity,
			Description: fmt.Sprintf("Counterparty degree jumped %.1fx within one window", *ratio),
			Context:     ctx,
		})
	}
	return detections
}

func (m *AlertManager) categoryIncrease(result *ScoreResult) (Detection, bool) {
	if result.Score == nil {
		return Detection{}, false
	}
	previous := result.PreviousCategory
	previousRank := previous.Rank()
	if previousRank < entity.RiskCategoryLow.Rank() {
		previousRank = entity.RiskCategoryLow.Rank()
	}
	if result.Category.Rank() <= previousRank {
		return Detection{}, false
	}

	var top []string
	for _, f := range entity.TopFactors(result.Factors, 2) {
		top = append(top, f.Name)
	}
	from := string(previous)
	if from == "" {
		from = "unknown"
	}

	ctx := baseContext(result)
	ctx["previous_category"] = from
	if result.PreviousScore != nil {
		ctx["previous_score"] = *result.PreviousScore
	}
	ctx["top_factors"] = top
	description := fmt.Sprintf("Risk category rose from %s to %s (score %.2f), driven by %s",
		from, result.Category, *result.Score, strings.Join(top, " and "))
	return Detection{
		Type:        entity.AlertTypeCategoryIncrease,
		Severity:    entity.SeverityForCategory(result.Category),
		Description: description,
		Context:     ctx,
	}, true
}

func baseContext(result *ScoreResult) map[string]any {
	ctx := map[string]any{
		"evaluation_version": result.EvaluationVersion,
		"evaluated_at":       result.EvaluatedAt.Format(time.RFC3339),
	}
	if result.Score != nil {
		ctx["score"] = *result.Score
		ctx["category"] = string(result.Category)
	}
	return ctx
}

// Evaluate raises the alerts a scoring pass triggers. A detection whose
// (entity, type) already has an alert in status new updates that alert;
// otherwise a new alert is appended. Failures of one detection do not
// stop the others.
func (m *AlertManager) Evaluate(ctx context.Context, result *ScoreResult) ([]RaisedAlert, error) {
	var raised []RaisedAlert
	var errs []error
	for _, d := range m.Detect(result) {
		r, err := m.raise(ctx, result, d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		raised = append(raised, r)
	}
	return raised, errors.Join(errs...)
}

func (m *AlertManager) raise(ctx context.Context, result *ScoreResult, d Detection) (RaisedAlert, error) {
	unlock, err := m.locks.Lock(ctx, entity.DedupKey(result.EntityID, d.Type))
	if err != nil {
		return RaisedAlert{}, fmt.Errorf("failed to acquire alert lock: %w", err)
	}
	defer unlock()

	now := m.now().UTC()
	existing, err := m.store.FindOpenAlert(ctx, result.EntityID, d.Type)
	if err != nil {
		return RaisedAlert{}, fmt.Errorf("failed to look up open %s alert: %w", d.Type, err)
	}

	if existing != nil {
		updated, err := m.supersede(ctx, existing, d, now)
		switch {
		case err == nil:
			m.notify(ctx, updated, AlertActionUpdated)
			return RaisedAlert{Alert: updated, Action: AlertActionUpdated}, nil
		case errors.Is(err, entity.ErrConcurrentModification):
			m.logger.Info("Open alert left status new before update, creating a new one",
				zap.String("alert_id", existing.ID))
		default:
			return RaisedAlert{}, err
		}
	}

	alert := &entity.Alert{
		ID:          uuid.NewString(),
		Timestamp:   now,
		UpdatedAt:   now,
		Severity:    d.Severity,
		Type:        d.Type,
		Entity:      result.EntityID,
		EntityType:  result.EntityType,
		Description: d.Description,
		Context:     d.Context,
		Status:      entity.AlertStatusNew,
		Occurrences: 1,
	}
	if err := m.store.AppendAlert(ctx, alert); err != nil {
		return RaisedAlert{}, fmt.Errorf("failed to append %s alert: %w", d.Type, err)
	}
	m.logger.Info("Raised alert",
		zap.String("alert_id", alert.ID),
		zap.String("entity", alert.Entity),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)))
	m.notify(ctx, alert, AlertActionCreated)
	return RaisedAlert{Alert: alert, Action: AlertActionCreated}, nil
}

// supersede folds a repeated detection into the open alert: context and
// description are replaced, severity follows the merge policy
func (m *AlertManager) supersede(ctx context.Context, existing *entity.Alert, d Detection, now time.Time) (*entity.Alert, error) {
	severity := d.Severity
	if m.config.SeverityMergePolicy == MergePolicyMax {
		severity = entity.MaxSeverity(existing.Severity, d.Severity)
	}
	occurrences := existing.Occurrences + 1
	expect := entity.AlertStatusNew

	updated, err := m.store.UpdateAlert(ctx, existing.ID, repository.AlertUpdate{
		Severity:     &severity,
		Description:  &d.Description,
		Context:      d.Context,
		Occurrences:  &occurrences,
		ExpectStatus: &expect,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update alert %s: %w", existing.ID, err)
	}
	m.logger.Debug("Superseded open alert",
		zap.String("alert_id", existing.ID),
		zap.Int("occurrences", occurrences))
	return updated, nil
}

// Acknowledge moves an alert from new to acknowledged
func (m *AlertManager) Acknowledge(ctx context.Context, id string) (*entity.Alert, error) {
	return m.transition(ctx, id, entity.AlertStatusAcknowledged, AlertActionAcknowledged)
}

// Resolve moves an alert from acknowledged to resolved
func (m *AlertManager) Resolve(ctx context.Context, id string) (*entity.Alert, error) {
	return m.transition(ctx, id, entity.AlertStatusResolved, AlertActionResolved)
}

func (m *AlertManager) transition(ctx context.Context, id string, next entity.AlertStatus, action AlertAction) (*entity.Alert, error) {
	alert, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert %s: %w", id, err)
	}

	unlock, err := m.locks.Lock(ctx, alert.DedupKey())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire alert lock: %w", err)
	}
	defer unlock()

	// re-read under the lock; a detection may have superseded it meanwhile
	alert, err = m.store.GetAlert(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert %s: %w", id, err)
	}
	if !alert.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: alert %s is %s, cannot become %s", entity.ErrInvalidTransition, id, alert.Status, next)
	}

	from := alert.Status
	updated, err := m.store.UpdateAlert(ctx, id, repository.AlertUpdate{
		Status:       &next,
		ExpectStatus: &from,
		UpdatedAt:    m.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update alert %s: %w", id, err)
	}
	m.logger.Info("Alert transitioned",
		zap.String("alert_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(next)))
	m.notify(ctx, updated, action)
	return updated, nil
}

// List returns alerts matching filter, newest first
func (m *AlertManager) List(ctx context.Context, filter repository.AlertFilter) ([]*entity.Alert, error) {
	alerts, err := m.store.ListAlerts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

func (m *AlertManager) notify(ctx context.Context, alert *entity.Alert, action AlertAction) {
	for _, n := range m.notifiers {
		if err := n.NotifyAlert(ctx, alert.Clone(), action); err != nil {
			m.logger.Warn("Alert notification failed",
				zap.String("alert_id", alert.ID),
				zap.String("action", string(action)),
				zap.Error(err))
		}
	}
}
