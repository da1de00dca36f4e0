package service

import (
	"context"

	"crypto-risk-intelligence/internal/domain/entity"
)

// AlertAction says what happened to an alert
type AlertAction string

const (
	AlertActionCreated      AlertAction = "created"
	AlertActionUpdated      AlertAction = "updated"
	AlertActionAcknowledged AlertAction = "acknowledged"
	AlertActionResolved     AlertAction = "resolved"
)

// AlertNotifier receives every alert change. Implementations must not
// block for long; a failed delivery is logged and never undoes the change.
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert *entity.Alert, action AlertAction) error
}

// AlertEvent is the payload published to notification channels
type AlertEvent struct {
	Action AlertAction   `json:"action"`
	Alert  *entity.Alert `json:"alert"`
}
