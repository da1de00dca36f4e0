package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/domain/service"
	"crypto-risk-intelligence/internal/infrastructure/config"
	"crypto-risk-intelligence/internal/infrastructure/logger"
)

// Publisher is the part of a NATS connection the alert publisher needs
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSAlertPublisher publishes alert changes as JSON to
// "<alert_subject>.<type>"
type NATSAlertPublisher struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
	logger  *logger.Logger
}

// NewNATSAlertPublisher wraps an existing publisher
func NewNATSAlertPublisher(pub Publisher, subject string, logger *logger.Logger) *NATSAlertPublisher {
	return &NATSAlertPublisher{
		pub:     pub,
		subject: subject,
		logger:  logger.WithComponent("nats-alert-publisher"),
	}
}

// ConnectNATSAlertPublisher dials NATS and returns a publisher owning the
// connection
func ConnectNATSAlertPublisher(cfg *config.NATSConfig, logger *logger.Logger) (*NATSAlertPublisher, error) {
	conn, err := Dial(cfg, "risk-intel-alerts", logger)
	if err != nil {
		return nil, err
	}
	p := NewNATSAlertPublisher(conn, cfg.AlertSubject, logger)
	p.conn = conn
	return p, nil
}

// Subject returns the subject an alert of type t is published on
func (p *NATSAlertPublisher) Subject(t entity.AlertType) string {
	return p.subject + "." + string(t)
}

// NotifyAlert implements service.AlertNotifier
func (p *NATSAlertPublisher) NotifyAlert(ctx context.Context, alert *entity.Alert, action service.AlertAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(service.AlertEvent{Action: action, Alert: alert})
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}
	subject := p.Subject(alert.Type)
	if err := p.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish alert %s to %s: %w", alert.ID, subject, err)
	}
	p.logger.Debug("Published alert event",
		zap.String("alert_id", alert.ID),
		zap.String("subject", subject),
		zap.String("action", string(action)))
	return nil
}

// Close flushes and closes the owned connection, if any
func (p *NATSAlertPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Flush(); err != nil {
		p.logger.Warn("Failed to flush NATS connection", zap.Error(err))
	}
	p.conn.Close()
	p.conn = nil
	return nil
}

var _ service.AlertNotifier = (*NATSAlertPublisher)(nil)
