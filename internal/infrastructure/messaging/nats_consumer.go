package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/infrastructure/config"
	"crypto-risk-intelligence/internal/infrastructure/logger"
	"crypto-risk-intelligence/internal/infrastructure/metrics"
)

const fetchBatch = 10

// NATSConsumer receives confirmed transaction events from JetStream, or
// from a core NATS queue group when no stream is available, and hands
// them to the processing channel
type NATSConsumer struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	sub     *nats.Subscription
	config  *config.NATSConfig
	logger  *logger.Logger
	msgChan chan *entity.Transaction

	running   atomic.Bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewNATSConsumer creates a new NATS consumer
func NewNATSConsumer(cfg *config.NATSConfig, logger *logger.Logger) *NATSConsumer {
	return &NATSConsumer{
		config:  cfg,
		logger:  logger.WithComponent("nats-consumer"),
		msgChan: make(chan *entity.Transaction, cfg.MaxPendingMessages),
	}
}

// Subject is the subject transaction events are published on
func (n *NATSConsumer) Subject() string {
	return fmt.Sprintf("%s.events", n.config.SubjectPrefix)
}

// Connect connects to NATS server and sets up consumer
func (n *NATSConsumer) Connect(ctx context.Context) error {
	if !n.config.Enabled {
		n.logger.Info("NATS is disabled, skipping connection")
		return nil
	}

	conn, err := Dial(n.config, "risk-intel-consumer", n.logger)
	if err != nil {
		return err
	}
	n.conn = conn

	js, err := conn.JetStream()
	if err != nil {
		n.logger.Warn("JetStream not available, using core NATS", zap.Error(err))
		return n.setupCoreNATSSubscription()
	}

	n.js = js
	return n.setupJetStreamSubscription(ctx)
}

// Dial opens a NATS connection with the shared reconnect and logging options
func Dial(cfg *config.NATSConfig, name string, log *logger.Logger) (*nats.Conn, error) {
	log.Info("Connecting to NATS server", zap.String("url", cfg.URL), zap.String("name", name))

	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectDelay),
		nats.MaxReconnects(cfg.ReconnectAttempts),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		log.Error("Failed to connect to NATS", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// setupJetStreamSubscription binds a durable pull consumer named after the
// consumer group
func (n *NATSConsumer) setupJetStreamSubscription(ctx context.Context) error {
	subject := n.Subject()
	durable := n.config.ConsumerGroup

	n.logger.Info("Setting up JetStream subscription",
		zap.String("subject", subject),
		zap.String("stream", n.config.StreamName),
		zap.String("consumer", durable))

	sub, err := n.js.PullSubscribe(subject, durable, nats.BindStream(n.config.StreamName), nats.ManualAck())
	if err != nil {
		n.logger.Warn("Failed to bind JetStream consumer, falling back to core NATS", zap.Error(err))
		return n.setupCoreNATSSubscription()
	}

	n.sub = sub
	n.running.Store(true)

	n.wg.Add(1)
	go n.processJetStreamMessages(ctx)

	n.logger.Info("Successfully connected to NATS JetStream",
		zap.String("subject", subject),
		zap.String("consumer", durable))
	return nil
}

// processJetStreamMessages fetches until Disconnect or ctx cancellation
func (n *NATSConsumer) processJetStreamMessages(ctx context.Context) {
	defer n.wg.Done()
	n.logger.Info("Starting JetStream message processing")

	for n.running.Load() && ctx.Err() == nil {
		msgs, err := n.sub.Fetch(fetchBatch, nats.MaxWait(5*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if !n.running.Load() {
				break
			}
			n.logger.Error("Failed to fetch messages", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			n.handleMessage(msg)
		}
	}

	n.logger.Info("Stopped JetStream message processing")
}

// setupCoreNATSSubscription sets up core NATS subscription
func (n *NATSConsumer) setupCoreNATSSubscription() error {
	subject := n.Subject()
	queueGroup := n.config.ConsumerGroup

	n.logger.Info("Setting up core NATS subscription",
		zap.String("subject", subject),
		zap.String("queue_group", queueGroup))

	sub, err := n.conn.QueueSubscribe(subject, queueGroup, n.handleMessage)
	if err != nil {
		n.logger.Error("Failed to subscribe to subject", zap.Error(err))
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	n.sub = sub
	n.running.Store(true)

	n.logger.Info("Successfully connected to core NATS",
		zap.String("subject", subject),
		zap.String("queue_group", queueGroup))
	return nil
}

// DecodeTransaction parses one event payload and checks the fields the
// graph needs
func DecodeTransaction(data []byte) (*entity.Transaction, error) {
	var tx entity.Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal transaction: %v", entity.ErrInvalidInput, err)
	}
	tx.Chain = tx.ChainOrDefault()
	tx.Hash = strings.ToLower(tx.Hash)
	tx.From = strings.ToLower(tx.From)
	tx.To = strings.ToLower(tx.To)

	if err := entity.ValidateHash(tx.Chain, tx.Hash); err != nil {
		return nil, err
	}
	if err := entity.ValidateAddress(tx.Chain, tx.From); err != nil {
		return nil, err
	}
	if tx.To != "" {
		if err := entity.ValidateAddress(tx.Chain, tx.To); err != nil {
			return nil, err
		}
	}
	if tx.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: transaction %s has no timestamp", entity.ErrInvalidInput, tx.Hash)
	}
	if tx.Status == "" {
		tx.Status = entity.TxStatusSuccess
	}
	return &tx, nil
}

// handleMessage decodes an event and forwards it. Malformed events are
// terminated so they are not redelivered; a full channel naks for later
// redelivery.
func (n *NATSConsumer) handleMessage(msg *nats.Msg) {
	tx, err := DecodeTransaction(msg.Data)
	if err != nil {
		n.logger.Warn("Dropping malformed transaction event", zap.Error(err))
		metrics.IngestedTransactionsTotal.WithLabelValues("rejected").Inc()
		if msg.Reply != "" {
			_ = msg.Term()
		}
		return
	}

	select {
	case n.msgChan <- tx:
		if msg.Reply != "" {
			_ = msg.Ack()
		}
	default:
		n.logger.Warn("Message channel is full, dropping message", zap.String("hash", tx.Hash))
		metrics.IngestedTransactionsTotal.WithLabelValues("dropped").Inc()
		if msg.Reply != "" {
			_ = msg.Nak()
		}
	}
}

// Disconnect stops fetching, drains the connection and closes the channel
func (n *NATSConsumer) Disconnect() error {
	n.running.Store(false)

	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
	n.wg.Wait()
	n.sub = nil

	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
	n.closeOnce.Do(func() { close(n.msgChan) })
	n.logger.Info("Disconnected from NATS")
	return nil
}

// IsConnected checks if connected to NATS
func (n *NATSConsumer) IsConnected() bool {
	return n.running.Load() && n.conn != nil && n.conn.IsConnected()
}

// GetMessageChannel returns the message channel
func (n *NATSConsumer) GetMessageChannel() <-chan *entity.Transaction {
	return n.msgChan
}
