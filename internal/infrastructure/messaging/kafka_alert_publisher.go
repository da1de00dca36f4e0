package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/domain/service"
	"crypto-risk-intelligence/internal/infrastructure/config"
	"crypto-risk-intelligence/internal/infrastructure/logger"
)

// KafkaAlertPublisher writes alert changes to a Kafka topic. Messages are
// keyed by entity id so changes to one entity stay ordered within a
// partition.
type KafkaAlertPublisher struct {
	topic    string
	producer sarama.SyncProducer
	logger   *logger.Logger
}

// NewKafkaAlertPublisher wraps an existing producer
func NewKafkaAlertPublisher(producer sarama.SyncProducer, topic string, logger *logger.Logger) *KafkaAlertPublisher {
	return &KafkaAlertPublisher{
		topic:    topic,
		producer: producer,
		logger:   logger.WithComponent("kafka-alert-publisher"),
	}
}

// NewKafkaProducerConfig returns a reliability-oriented sync producer config
func NewKafkaProducerConfig(cfg *config.KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = cfg.MaxRetries
	sc.Producer.Retry.Backoff = 200 * time.Millisecond
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	return sc
}

// ConnectKafkaAlertPublisher creates the producer against the configured brokers
func ConnectKafkaAlertPublisher(cfg *config.KafkaConfig, logger *logger.Logger) (*KafkaAlertPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewKafkaProducerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaAlertPublisher(producer, cfg.AlertTopic, logger), nil
}

// NotifyAlert implements service.AlertNotifier. SyncProducer takes no
// context, so ctx is only checked before sending.
func (p *KafkaAlertPublisher) NotifyAlert(ctx context.Context, alert *entity.Alert, action service.AlertAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(service.AlertEvent{Action: action, Alert: alert})
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(alert.Entity),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("alert_type"), Value: []byte(alert.Type)},
			{Key: []byte("action"), Value: []byte(action)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send alert %s to kafka: %w", alert.ID, err)
	}
	p.logger.Debug("Published alert to kafka",
		zap.String("alert_id", alert.ID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close closes the producer
func (p *KafkaAlertPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ service.AlertNotifier = (*KafkaAlertPublisher)(nil)
