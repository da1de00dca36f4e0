package service

import (
	"context"

	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/domain/service"
	"crypto-risk-intelligence/internal/infrastructure/metrics"
)

// MeteredNotifier counts failed deliveries of the wrapped sink
type MeteredNotifier struct {
	sink string
	next service.AlertNotifier
}

// NewMeteredNotifier wraps next; sink labels the failure counter
func NewMeteredNotifier(sink string, next service.AlertNotifier) *MeteredNotifier {
	return &MeteredNotifier{sink: sink, next: next}
}

// NotifyAlert implements service.AlertNotifier
func (n *MeteredNotifier) NotifyAlert(ctx context.Context, alert *entity.Alert, action service.AlertAction) error {
	err := n.next.NotifyAlert(ctx, alert, action)
	if err != nil {
		metrics.NotificationFailuresTotal.WithLabelValues(n.sink).Inc()
	}
	return err
}

var _ service.AlertNotifier = (*MeteredNotifier)(nil)
