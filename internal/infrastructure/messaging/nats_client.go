package messaging

import (
	"context"
	"fmt"

	"wallet-watcher-engine/internal/infrastructure/config"
	"wallet-watcher-engine/internal/infrastructure/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSClient owns the shared NATS connection and JetStream context
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config *config.NATSConfig
	logger *logger.Logger
}

// NewNATSClient creates a new NATS client
func NewNATSClient(cfg *config.NATSConfig, logger *logger.Logger) *NATSClient {
	return &NATSClient{
		config: cfg,
		logger: logger.WithComponent("nats-client"),
	}
}

// Connect connects to the NATS server and opens JetStream
func (c *NATSClient) Connect(ctx context.Context) error {
	if !c.config.Enabled {
		c.logger.Info("NATS is disabled, skipping connection")
		return nil
	}

	c.logger.Info("Connecting to NATS server", zap.String("url", c.config.URL))

	opts := []nats.Option{
		nats.Name("wallet-watcher"),
		nats.Timeout(c.config.ConnectTimeout),
		nats.ReconnectWait(c.config.ReconnectDelay),
		nats.MaxReconnects(c.config.ReconnectAttempts),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		c.logger.Error("Failed to connect to NATS", zap.Error(err))
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c.conn = conn
	c.js = js
	return nil
}

// JetStream returns the JetStream context, nil when disconnected
func (c *NATSClient) JetStream() nats.JetStreamContext {
	return c.js
}

// Conn returns the raw connection, nil when disconnected
func (c *NATSClient) Conn() *nats.Conn {
	return c.conn
}

// IsConnected checks if connected to NATS
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains and closes the connection
func (c *NATSClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Drain()
	c.conn = nil
	c.js = nil
	return err
}
