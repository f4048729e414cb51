// Package consumer reacts to checkout events published by any storefront instance.
package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fjod/furnistore/internal/domain"
	"github.com/fjod/furnistore/internal/publisher"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// SessionEvictor drops a session's in-memory cart so the next request reloads it from the store.
type SessionEvictor interface {
	Forget(sessionID string)
}

type Config struct {
	Brokers []string
	Topic   string
	// GroupID must be unique per instance: every instance has to see every event.
	GroupID string
}

// Consumer evicts the cached cart of every session whose checkout completed,
// so instances sharing a Redis or MongoDB cart store never serve a stale cart.
type Consumer struct {
	reader   MessageReader
	sessions SessionEvictor
	logger   *zap.Logger
}

func NewConsumer(sessions SessionEvictor, cfg Config, l *zap.Logger) *Consumer {
	topic := cfg.Topic
	if topic == "" {
		topic = publisher.DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.GroupID,
		StartOffset: kafka.LastOffset,
		MaxBytes:    10e6, // 10MB
	})
	return newConsumer(reader, sessions, l)
}

func newConsumer(reader MessageReader, sessions SessionEvictor, l *zap.Logger) *Consumer {
	if l == nil {
		l = zap.NewNop()
	}
	return &Consumer{reader: reader, sessions: sessions, logger: l.Named("checkout-consumer")}
}

// Run reads until ctx is cancelled, then closes the reader.
func (c *Consumer) Run(ctx context.Context) {
	defer c.close()
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Error("error closing kafka reader", zap.Error(err))
	}
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		c.logger.Error("error reading message", zap.Error(err))
		return
	}

	if eventType := header(m, "event_type"); eventType != "" && eventType != domain.EventTypeCheckoutCompleted {
		return
	}

	var event domain.CheckoutCompletedPayload
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.logger.Warn("error parsing message", zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}
	if event.SessionID == "" {
		c.logger.Warn("checkout event without session_id", zap.String("checkout_id", event.CheckoutID))
		return
	}

	c.sessions.Forget(event.SessionID)
	c.logger.Debug("evicted cart after checkout",
		zap.String("session_id", event.SessionID),
		zap.String("checkout_id", event.CheckoutID))
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
