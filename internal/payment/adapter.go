package payment

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/fjod/furnistore/internal/domain"
	"github.com/shopspring/decimal"
)

// Adapter turns the generic intent lifecycle into calls against one payment provider.
type Adapter interface {
	Provider() domain.Provider
	CreateIntent(ctx context.Context, req IntentRequest) (*domain.PaymentIntent, error)
	ConfirmIntent(ctx context.Context, externalID string) (*Confirmation, error)
}

type IntentRequest struct {
	Amount   decimal.Decimal
	Currency string
	// IdempotencyKey is forwarded to the provider. It dedupes retries of one attempt only;
	// every attempt has its own key, so concurrent attempts are serialized by the caller.
	IdempotencyKey string
}

// Confirmation is the outcome of confirming (Stripe) or capturing (PayPal) an intent.
type Confirmation struct {
	ExternalID string
	Status     string
	Succeeded  bool
	// Raw is the provider's response body, passed through by the payment routes.
	Raw json.RawMessage
}

// Validate normalizes the currency and rejects requests no provider would accept.
func (r *IntentRequest) Validate() error {
	if !r.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if r.Currency == "" {
		r.Currency = domain.DefaultCurrency
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if len(r.Currency) != 3 {
		return &ValidationError{Field: "currency", Reason: "must be a three-letter ISO code"}
	}
	return nil
}

func validateExternalID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: field, Reason: "is required"}
	}
	return nil
}

const (
	stripeSucceeded = "succeeded"
	paypalCompleted = "COMPLETED"
)

// Succeeded reports whether status is the provider's terminal success status.
func Succeeded(p domain.Provider, status string) bool {
	switch p {
	case domain.ProviderStripe:
		return status == stripeSucceeded
	case domain.ProviderPayPal:
		return status == paypalCompleted
	default:
		return false
	}
}
