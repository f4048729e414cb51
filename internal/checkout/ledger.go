package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/furnistore/internal/domain"
)

// Ledger records checkout attempts and their transitions.
type Ledger interface {
	CreateAttempt(ctx context.Context, a *domain.CheckoutAttempt) error
	UpdateAttemptState(ctx context.Context, id string, state domain.CheckoutState, externalID, reason string) error
	// CompleteAttempt moves the attempt to Cleared and enqueues the outbox event atomically.
	CompleteAttempt(ctx context.Context, id string, payload []byte) error
	GetAttempt(ctx context.Context, id string) (*domain.CheckoutAttempt, error)
}

// MemoryLedger keeps attempts and outbox events in process memory.
type MemoryLedger struct {
	mu       sync.Mutex
	attempts map[string]*domain.CheckoutAttempt
	events   []*domain.OutboxEvent
	nextID   int64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{attempts: make(map[string]*domain.CheckoutAttempt)}
}

func (l *MemoryLedger) CreateAttempt(_ context.Context, a *domain.CheckoutAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *a
	cp.Items = append([]domain.CartLineItem(nil), a.Items...)
	l.attempts[a.ID] = &cp
	return nil
}

func (l *MemoryLedger) UpdateAttemptState(_ context.Context, id string, state domain.CheckoutState, externalID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.attempts[id]
	if !ok {
		return ErrAttemptNotFound
	}
	a.State = state
	if externalID != "" {
		a.ExternalID = externalID
	}
	if reason != "" {
		a.FailureReason = reason
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *MemoryLedger) CompleteAttempt(_ context.Context, id string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.attempts[id]
	if !ok {
		return ErrAttemptNotFound
	}
	now := time.Now().UTC()
	a.State = domain.CheckoutStateCleared
	a.UpdatedAt = now

	l.nextID++
	l.events = append(l.events, &domain.OutboxEvent{
		ID:          l.nextID,
		AggregateID: id,
		EventType:   domain.EventTypeCheckoutCompleted,
		Payload:     append([]byte(nil), payload...),
		CreatedAt:   now,
	})
	return nil
}

func (l *MemoryLedger) GetAttempt(_ context.Context, id string) (*domain.CheckoutAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	cp := *a
	return &cp, nil
}

func (l *MemoryLedger) GetUnprocessedEvents(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit > len(l.events) {
		limit = len(l.events)
	}
	out := make([]*domain.OutboxEvent, limit)
	copy(out, l.events[:limit])
	return out, nil
}

func (l *MemoryLedger) MarkEventAsProcessed(_ context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.events {
		if e.ID == id {
			l.events = append(l.events[:i], l.events[i+1:]...)
			return nil
		}
	}
	return nil
}
