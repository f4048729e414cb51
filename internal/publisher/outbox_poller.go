package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fjod/furnistore/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const DefaultTopic = "checkout-completed"

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

// StuckAttemptRepository is implemented by ledgers that can find attempts which
// were confirmed but never cleared.
type StuckAttemptRepository interface {
	GetStuckAttempts(ctx context.Context, olderThan time.Duration) ([]*domain.CheckoutAttempt, error)
	CompleteAttempt(ctx context.Context, id string, payload []byte) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	EventTick    time.Duration
	RecoveryTick time.Duration
	StuckAfter   time.Duration
}

func (c *Config) withDefaults() {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.EventTick <= 0 {
		c.EventTick = time.Second
	}
	if c.RecoveryTick <= 0 {
		c.RecoveryTick = 5 * time.Second
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = time.Minute
	}
}

// OutboxPoller publishes outbox events to Kafka and marks them processed.
type OutboxPoller struct {
	cfg         Config
	repo        OutboxRepository
	writer      MessageWriter
	logger      *zap.Logger
	onRecovered func(ctx context.Context, a *domain.CheckoutAttempt)
}

func NewOutboxPoller(repo OutboxRepository, cfg Config, l *zap.Logger) *OutboxPoller {
	cfg.withDefaults()
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return newOutboxPoller(repo, w, cfg, l)
}

func newOutboxPoller(repo OutboxRepository, w MessageWriter, cfg Config, l *zap.Logger) *OutboxPoller {
	cfg.withDefaults()
	if l == nil {
		l = zap.NewNop()
	}
	return &OutboxPoller{cfg: cfg, repo: repo, writer: w, logger: l.Named("outbox")}
}

// OnRecovered registers a callback run after a stuck attempt has been completed.
func (p *OutboxPoller) OnRecovered(fn func(ctx context.Context, a *domain.CheckoutAttempt)) {
	p.onRecovered = fn
}

// Run polls until ctx is cancelled, then closes the writer.
func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.cfg.EventTick)
	recoveryTicker := time.NewTicker(p.cfg.RecoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.logger.Warn("failed to close kafka writer", zap.Error(err))
		}
	}()

	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.recoverStuckAttempts(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("failed to fetch outbox events", zap.Error(err))
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.logger.Error("failed to publish event", zap.Int64("event_id", event.ID), zap.Error(err))
			continue
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.logger.Error("failed to mark event as processed", zap.Int64("event_id", event.ID), zap.Error(err))
			continue
		}
	}
}

func (p *OutboxPoller) recoverStuckAttempts(ctx context.Context) {
	stuckRepo, ok := p.repo.(StuckAttemptRepository)
	if !ok {
		return
	}

	attempts, err := stuckRepo.GetStuckAttempts(ctx, p.cfg.StuckAfter)
	if err != nil {
		p.logger.Error("failed to get stuck attempts", zap.Error(err))
		return
	}
	for _, a := range attempts {
		log := p.logger.With(zap.String("checkout_id", a.ID))
		log.Info("recovering stuck checkout attempt")

		payload, err := json.Marshal(a.CompletedPayload(a.UpdatedAt))
		if err != nil {
			log.Error("failed to marshal checkout payload", zap.Error(err))
			continue
		}

		if err := stuckRepo.CompleteAttempt(ctx, a.ID, payload); err != nil {
			log.Error("failed to complete stuck attempt", zap.Error(err))
			continue
		}
		if p.onRecovered != nil {
			p.onRecovered(ctx, a)
		}
		log.Info("checkout attempt recovered")
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *domain.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // checkout_id for ordering
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
