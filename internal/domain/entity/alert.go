package entity

import (
	"fmt"
	"time"
)

// Severity is the four-level scale shared by alerts and contract findings
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank 0
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Valid reports whether s is one of the four levels
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// MaxSeverity returns the more severe of a and b
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// SeverityForCategory maps a risk band onto the alert scale one to one
func SeverityForCategory(c RiskCategory) Severity {
	switch c {
	case RiskCategoryMedium:
		return SeverityMedium
	case RiskCategoryHigh:
		return SeverityHigh
	case RiskCategoryCritical:
		return SeverityCritical
	}
	return SeverityLow
}

// AlertType names the detection that raised an alert; together with the
// entity it forms the dedup key
type AlertType string

const (
	AlertTypeCategoryIncrease        AlertType = "risk_category_increase"
	AlertTypeCriticalVulnerability   AlertType = "critical_vulnerability"
	AlertTypeUnverifiedContractBurst AlertType = "unverified_contract_burst"
	AlertTypeBurstActivity           AlertType = "burst_activity"
	AlertTypeHighRiskAssociation     AlertType = "high_risk_association"
	AlertTypeFlaggedEntity           AlertType = "flagged_entity"
	AlertTypeCentralitySpike         AlertType = "centrality_spike"
)

// AlertStatus is the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusNew          AlertStatus = "new"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Valid reports whether s is a known status
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusNew, AlertStatusAcknowledged, AlertStatusResolved:
		return true
	}
	return false
}

// CanTransitionTo allows only new -> acknowledged -> resolved
func (s AlertStatus) CanTransitionTo(next AlertStatus) bool {
	switch s {
	case AlertStatusNew:
		return next == AlertStatusAcknowledged
	case AlertStatusAcknowledged:
		return next == AlertStatusResolved
	}
	return false
}

// Alert is an append-only record of a detection. Alerts are transitioned,
// never deleted.
type Alert struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Severity    Severity       `json:"severity"`
	Type        AlertType      `json:"type"`
	Entity      string         `json:"entity"`
	EntityType  EntityType     `json:"entity_type"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`
	Status      AlertStatus    `json:"status"`
	Occurrences int            `json:"occurrences"`
}

// DedupKey returns the (entity, type) key that collapses repeated detections
func (a *Alert) DedupKey() string {
	return DedupKey(a.Entity, a.Type)
}

// DedupKey builds the (entity, type) key
func DedupKey(entityID string, alertType AlertType) string {
	return fmt.Sprintf("%s|%s", entityID, alertType)
}

// Clone returns a deep copy of the alert, including its context map
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Context != nil {
		cp.Context = make(map[string]any, len(a.Context))
		for k, v := range a.Context {
			cp.Context[k] = v
		}
	}
	return &cp
}
