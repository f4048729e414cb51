package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
)

const DefaultCurrency = "USD"

func (p Provider) Valid() bool {
	return p == ProviderStripe || p == ProviderPayPal
}

func (p Provider) String() string {
	return string(p)
}

// PaymentIntent is a provider-tracked payment created before and confirmed after the shopper authorizes it.
// Stripe fills ClientSecret, PayPal fills ApprovalURL.
type PaymentIntent struct {
	Provider     Provider        `json:"provider"`
	ExternalID   string          `json:"external_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Status       string          `json:"status"`
	ClientSecret string          `json:"client_secret,omitempty"`
	ApprovalURL  string          `json:"approval_url,omitempty"`

	// Raw is the provider's own response body.
	Raw json.RawMessage `json:"-"`
}
