package messaging

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/infrastructure/config"
	"wallet-watcher-engine/internal/infrastructure/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const fetchWait = 5 * time.Second

// pullFetcher is the pull side of a JetStream subscription
type pullFetcher interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

// NATSConsumer delivers notification batches published on the notification subject
type NATSConsumer struct {
	client    *NATSClient
	mu        sync.Mutex
	sub       *nats.Subscription
	config    *config.NATSConfig
	logger    *logger.Logger
	batchChan chan []*entity.RawNotification
	fetchSize int
	isRunning atomic.Bool
}

// NewNATSConsumer creates a new NATS consumer. fetchSize bounds a JetStream pull.
func NewNATSConsumer(client *NATSClient, cfg *config.NATSConfig, fetchSize int, logger *logger.Logger) *NATSConsumer {
	if fetchSize <= 0 {
		fetchSize = 10
	}
	return &NATSConsumer{
		client:    client,
		config:    cfg,
		logger:    logger.WithComponent("nats-consumer"),
		batchChan: make(chan []*entity.RawNotification, cfg.MaxPendingMessages),
		fetchSize: fetchSize,
	}
}

// Start subscribes to the notification subject. It must be called after the client connected.
func (n *NATSConsumer) Start() error {
	if !n.config.Enabled || !n.config.ConsumeNotifications {
		n.logger.Info("Notification consumption is disabled")
		return nil
	}
	if n.client.Conn() == nil {
		return fmt.Errorf("NATS is not connected")
	}

	// Try JetStream first, if not available fall back to core NATS
	if n.client.JetStream() == nil {
		return n.setupCoreNATSSubscription()
	}
	return n.setupJetStreamSubscription()
}

// setupJetStreamSubscription sets up a durable pull subscription
func (n *NATSConsumer) setupJetStreamSubscription() error {
	subject := n.config.NotificationSubject

	n.logger.Info("Setting up JetStream subscription",
		zap.String("subject", subject),
		zap.String("stream", n.config.StreamName),
		zap.String("durable", n.config.DurableName))

	sub, err := n.client.JetStream().PullSubscribe(subject, n.config.DurableName, nats.BindStream(n.config.StreamName))
	if err != nil {
		n.logger.Warn("Failed to create pull subscription, falling back to core NATS", zap.Error(err))
		return n.setupCoreNATSSubscription()
	}

	n.setSubscription(sub)
	n.isRunning.Store(true)

	go n.processJetStreamMessages(sub)

	n.logger.Info("Successfully subscribed to NATS JetStream", zap.String("subject", subject))
	return nil
}

// processJetStreamMessages fetches messages until the consumer stops. It owns
// its handle so Stop can clear the shared one.
func (n *NATSConsumer) processJetStreamMessages(sub pullFetcher) {
	n.logger.Info("Starting JetStream message processing")

	for n.isRunning.Load() {
		msgs, err := sub.Fetch(n.fetchSize, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
				break
			}
			n.logger.Error("Failed to fetch messages", zap.Error(err))
			continue
		}

		n.logger.Debug("Fetched messages from JetStream", zap.Int("count", len(msgs)))

		for _, msg := range msgs {
			n.handleMessage(msg)
		}
	}

	n.logger.Info("Stopped JetStream message processing")
}

// setupCoreNATSSubscription sets up a core NATS queue subscription
func (n *NATSConsumer) setupCoreNATSSubscription() error {
	subject := n.config.NotificationSubject
	queueGroup := n.config.ConsumerGroup

	n.logger.Info("Setting up core NATS subscription",
		zap.String("subject", subject),
		zap.String("queue_group", queueGroup))

	sub, err := n.client.Conn().QueueSubscribe(subject, queueGroup, n.handleMessage)
	if err != nil {
		n.logger.Error("Failed to subscribe to subject", zap.Error(err))
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	n.setSubscription(sub)
	n.isRunning.Store(true)

	n.logger.Info("Successfully subscribed to core NATS",
		zap.String("subject", subject),
		zap.String("queue_group", queueGroup))
	return nil
}

// handleMessage decodes a webhook body and hands the batch to the processing channel
func (n *NATSConsumer) handleMessage(msg *nats.Msg) {
	events, err := entity.DecodeNotifications(msg.Data)
	if err != nil {
		n.logger.Error("Failed to decode notifications", zap.Error(err))
		// a malformed body is never redelivered
		if msg.Reply != "" {
			msg.Term()
		}
		return
	}

	select {
	case n.batchChan <- events:
		if msg.Reply != "" {
			msg.Ack()
		}
	default:
		n.logger.Warn("Batch channel is full, dropping message", zap.Int("events", len(events)))
		if msg.Reply != "" {
			msg.Nak()
		}
	}
}

// Stop unsubscribes. The batch channel stays open because an in-flight
// handler may still be sending.
func (n *NATSConsumer) Stop() error {
	if !n.isRunning.Swap(false) {
		return nil
	}

	n.mu.Lock()
	sub := n.sub
	n.sub = nil
	n.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Warn("Failed to unsubscribe", zap.Error(err))
		}
	}
	n.logger.Info("Stopped NATS consumer")
	return nil
}

func (n *NATSConsumer) setSubscription(sub *nats.Subscription) {
	n.mu.Lock()
	n.sub = sub
	n.mu.Unlock()
}

// IsRunning reports whether the consumer holds a live subscription
func (n *NATSConsumer) IsRunning() bool {
	return n.isRunning.Load() && n.client.IsConnected()
}

// Batches returns the channel of decoded notification batches
func (n *NATSConsumer) Batches() <-chan []*entity.RawNotification {
	return n.batchChan
}
