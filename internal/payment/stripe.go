package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fjod/furnistore/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

type StripeConfig struct {
	SecretKey string
	// BaseURL overrides the Stripe API host, used against test doubles.
	BaseURL string
	// PaymentMethod is attached on confirm, e.g. "pm_card_visa" in test mode.
	PaymentMethod string
	HTTPClient    *http.Client
}

// StripeAdapter maps intents onto Stripe PaymentIntents.
type StripeAdapter struct {
	client        paymentintent.Client
	paymentMethod string
}

func NewStripeAdapter(cfg StripeConfig) *StripeAdapter {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	return &StripeAdapter{
		client: paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
		paymentMethod: cfg.PaymentMethod,
	}
}

func (s *StripeAdapter) Provider() domain.Provider {
	return domain.ProviderStripe
}

func (s *StripeAdapter) CreateIntent(ctx context.Context, req IntentRequest) (*domain.PaymentIntent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(toMinorUnits(req.Amount, req.Currency)),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := s.client.New(params)
	if err != nil {
		return nil, s.upstream("create_intent", err)
	}

	raw, _ := json.Marshal(pi)
	return &domain.PaymentIntent{
		Provider:     domain.ProviderStripe,
		ExternalID:   pi.ID,
		Amount:       fromMinorUnits(pi.Amount, string(pi.Currency)),
		Currency:     strings.ToUpper(string(pi.Currency)),
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
		Raw:          raw,
	}, nil
}

func (s *StripeAdapter) ConfirmIntent(ctx context.Context, externalID string) (*Confirmation, error) {
	if err := validateExternalID("paymentIntentId", externalID); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	if s.paymentMethod != "" {
		params.PaymentMethod = stripe.String(s.paymentMethod)
	}

	pi, err := s.client.Confirm(externalID, params)
	if err != nil {
		return nil, s.upstream("confirm_intent", err)
	}

	raw, _ := json.Marshal(pi)
	return &Confirmation{
		ExternalID: pi.ID,
		Status:     string(pi.Status),
		Succeeded:  pi.Status == stripe.PaymentIntentStatusSucceeded,
		Raw:        raw,
	}, nil
}

func (s *StripeAdapter) upstream(op string, err error) error {
	ue := &UpstreamError{Provider: domain.ProviderStripe, Op: op, Err: err}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		ue.StatusCode = stripeErr.HTTPStatusCode
		ue.Message = stripeErr.Msg
	}
	return ue
}

var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

func currencyExponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return 0
	}
	return 2
}

func toMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(currencyExponent(currency)).Round(0).IntPart()
}

func fromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -currencyExponent(currency))
}
