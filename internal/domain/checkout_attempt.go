package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// CheckoutAttempt is one run of the checkout state machine for a session.
type CheckoutAttempt struct {
	ID            string          `json:"checkout_id"`
	SessionID     string          `json:"session_id"`
	Provider      Provider        `json:"provider"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	ExternalID    string          `json:"external_id,omitempty"`
	State         CheckoutState   `json:"state"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Items         []CartLineItem  `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

const EventTypeCheckoutCompleted = "CheckoutCompleted"

// OutboxEvent is written in the same transaction as the state it announces and
// published later by the outbox poller.
type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// CheckoutCompletedPayload is the body of a CheckoutCompleted event.
type CheckoutCompletedPayload struct {
	CheckoutID  string          `json:"checkout_id"`
	SessionID   string          `json:"session_id"`
	Provider    Provider        `json:"provider"`
	ExternalID  string          `json:"external_id"`
	Items       []CartLineItem  `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	CompletedAt time.Time       `json:"completed_at"`
}

// CompletedPayload builds the CheckoutCompleted event body for the attempt.
func (a *CheckoutAttempt) CompletedPayload(completedAt time.Time) CheckoutCompletedPayload {
	items := a.Items
	if items == nil {
		items = []CartLineItem{}
	}
	return CheckoutCompletedPayload{
		CheckoutID:  a.ID,
		SessionID:   a.SessionID,
		Provider:    a.Provider,
		ExternalID:  a.ExternalID,
		Items:       items,
		TotalAmount: a.Amount,
		Currency:    a.Currency,
		CompletedAt: completedAt,
	}
}
