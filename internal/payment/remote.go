package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fjod/furnistore/internal/domain"
	"github.com/shopspring/decimal"
)

// IdempotencyHeader carries the checkout attempt ID from the storefront to the payment routes.
const IdempotencyHeader = "Idempotency-Key"

// RemoteAdapter talks to the payment routes of a separate payments deployment
// instead of the provider APIs directly.
type RemoteAdapter struct {
	provider domain.Provider
	baseURL  string
	client   *http.Client
}

func NewRemoteAdapter(provider domain.Provider, baseURL string, client *http.Client) *RemoteAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteAdapter{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
	}
}

func (r *RemoteAdapter) Provider() domain.Provider {
	return r.provider
}

type amountRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
}

// StripeIntentResponse is the body of POST /api/payments/stripe/intents.
type StripeIntentResponse struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	ClientSecret string          `json:"client_secret"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
}

// StripeConfirmResponse is the body of POST /api/payments/stripe/confirm.
type StripeConfirmResponse struct {
	Status        string          `json:"status"`
	PaymentIntent json.RawMessage `json:"paymentIntent"`
}

func (r *RemoteAdapter) CreateIntent(ctx context.Context, req IntentRequest) (*domain.PaymentIntent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body := amountRequest{Amount: req.Amount, Currency: req.Currency}

	switch r.provider {
	case domain.ProviderStripe:
		raw, err := r.post(ctx, "create_intent", "/api/payments/stripe/intents", body, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		var resp StripeIntentResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, r.decodeErr("create_intent", err)
		}
		return &domain.PaymentIntent{
			Provider:     domain.ProviderStripe,
			ExternalID:   resp.ID,
			Amount:       resp.Amount,
			Currency:     resp.Currency,
			Status:       resp.Status,
			ClientSecret: resp.ClientSecret,
			Raw:          raw,
		}, nil
	case domain.ProviderPayPal:
		raw, err := r.post(ctx, "create_order", "/api/payments/paypal/orders", body, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		return parsePayPalOrder(raw, req)
	default:
		return nil, fmt.Errorf("remote adapter: unsupported provider %q", r.provider)
	}
}

func (r *RemoteAdapter) ConfirmIntent(ctx context.Context, externalID string) (*Confirmation, error) {
	switch r.provider {
	case domain.ProviderStripe:
		if err := validateExternalID("paymentIntentId", externalID); err != nil {
			return nil, err
		}
		raw, err := r.post(ctx, "confirm_intent", "/api/payments/stripe/confirm", map[string]string{"paymentIntentId": externalID}, "")
		if err != nil {
			return nil, err
		}
		var resp StripeConfirmResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, r.decodeErr("confirm_intent", err)
		}
		return &Confirmation{
			ExternalID: externalID,
			Status:     resp.Status,
			Succeeded:  Succeeded(domain.ProviderStripe, resp.Status),
			Raw:        resp.PaymentIntent,
		}, nil
	case domain.ProviderPayPal:
		if err := validateExternalID("orderId", externalID); err != nil {
			return nil, err
		}
		raw, err := r.post(ctx, "capture_order", "/api/payments/paypal/capture", map[string]string{"orderId": externalID}, "")
		if err != nil {
			return nil, err
		}
		return parseConfirmation(domain.ProviderPayPal, raw)
	default:
		return nil, fmt.Errorf("remote adapter: unsupported provider %q", r.provider)
	}
}

func (r *RemoteAdapter) post(ctx context.Context, op, path string, body any, idempotencyKey string) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set(IdempotencyHeader, idempotencyKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: r.provider, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &UpstreamError{Provider: r.provider, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &errBody)
		if resp.StatusCode == http.StatusBadRequest {
			return nil, &ValidationError{Field: "request", Reason: "rejected: " + errBody.Error}
		}
		return nil, &UpstreamError{Provider: r.provider, Op: op, StatusCode: resp.StatusCode, Message: errBody.Error}
	}
	return data, nil
}

func (r *RemoteAdapter) decodeErr(op string, err error) error {
	return &UpstreamError{Provider: r.provider, Op: op, Err: fmt.Errorf("decode response: %w", err)}
}
