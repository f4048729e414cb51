package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/fjod/furnistore/internal/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	PayPalSandboxURL = "https://api-m.sandbox.paypal.com"
	maxResponseBytes = 1 << 20
)

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	HTTPClient   *http.Client
}

// PayPalAdapter maps intents onto PayPal Orders v2: an order is the intent and
// capturing it is the confirmation.
type PayPalAdapter struct {
	baseURL string
	client  *http.Client
	creds   *clientcredentials.Config

	mu    sync.Mutex
	token *oauth2.Token
}

func NewPayPalAdapter(cfg PayPalConfig) *PayPalAdapter {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = PayPalSandboxURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &PayPalAdapter{
		baseURL: base,
		client:  client,
		creds: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     base + "/v1/oauth2/token",
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
	}
}

// accessToken returns the cached token, fetching a new one under ctx once it expires.
// A stalled token endpoint is bounded by the caller's deadline like any other call.
func (p *PayPalAdapter) accessToken(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token.Valid() {
		return p.token, nil
	}
	tok, err := p.creds.Token(context.WithValue(ctx, oauth2.HTTPClient, p.client))
	if err != nil {
		return nil, err
	}
	p.token = tok
	return tok, nil
}

func (p *PayPalAdapter) Provider() domain.Provider {
	return domain.ProviderPayPal
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	Amount paypalAmount `json:"amount"`
}

type paypalOrderRequest struct {
	Intent        string               `json:"intent"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
}

type paypalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

type paypalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units,omitempty"`
	Links         []paypalLink         `json:"links"`
}

func (o *paypalOrder) approvalURL() string {
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

type paypalError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"error_description"`
}

func (p *PayPalAdapter) CreateIntent(ctx context.Context, req IntentRequest) (*domain.PaymentIntent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body := paypalOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			Amount: paypalAmount{
				CurrencyCode: req.Currency,
				Value:        req.Amount.StringFixed(currencyExponent(req.Currency)),
			},
		}},
	}

	raw, err := p.post(ctx, "create_order", "/v2/checkout/orders", body, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	return parsePayPalOrder(raw, req)
}

func (p *PayPalAdapter) ConfirmIntent(ctx context.Context, externalID string) (*Confirmation, error) {
	if err := validateExternalID("orderId", externalID); err != nil {
		return nil, err
	}

	raw, err := p.post(ctx, "capture_order", "/v2/checkout/orders/"+url.PathEscape(externalID)+"/capture", struct{}{}, "")
	if err != nil {
		return nil, err
	}
	return parseConfirmation(domain.ProviderPayPal, raw)
}

func (p *PayPalAdapter) post(ctx context.Context, op, path string, body any, requestID string) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Prefer", "return=representation")
	if requestID != "" {
		httpReq.Header.Set("PayPal-Request-Id", requestID)
	}

	tok, err := p.accessToken(ctx)
	if err != nil {
		ue := &UpstreamError{Provider: domain.ProviderPayPal, Op: op, Err: err}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			ue.StatusCode = retrieveErr.Response.StatusCode
			ue.Message = "access token request rejected"
		}
		return nil, ue
	}
	tok.SetAuthHeader(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: domain.ProviderPayPal, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &UpstreamError{Provider: domain.ProviderPayPal, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{
			Provider:   domain.ProviderPayPal,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    paypalErrorMessage(data),
		}
	}
	return data, nil
}

func paypalErrorMessage(data []byte) string {
	var pe paypalError
	if err := json.Unmarshal(data, &pe); err != nil {
		return strings.TrimSpace(string(data))
	}
	switch {
	case pe.Message != "":
		return pe.Message
	case pe.Detail != "":
		return pe.Detail
	case pe.Name != "":
		return pe.Name
	default:
		return pe.Error
	}
}

func parsePayPalOrder(raw json.RawMessage, req IntentRequest) (*domain.PaymentIntent, error) {
	var order paypalOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, &UpstreamError{Provider: domain.ProviderPayPal, Op: "create_order", Err: fmt.Errorf("decode order: %w", err)}
	}
	if order.ID == "" {
		return nil, &UpstreamError{Provider: domain.ProviderPayPal, Op: "create_order", Message: "order id missing from response"}
	}
	return &domain.PaymentIntent{
		Provider:    domain.ProviderPayPal,
		ExternalID:  order.ID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Status:      order.Status,
		ApprovalURL: order.approvalURL(),
		Raw:         raw,
	}, nil
}

func parseConfirmation(provider domain.Provider, raw json.RawMessage) (*Confirmation, error) {
	var result struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &UpstreamError{Provider: provider, Op: "confirm", Err: fmt.Errorf("decode confirmation: %w", err)}
	}
	return &Confirmation{
		ExternalID: result.ID,
		Status:     result.Status,
		Succeeded:  Succeeded(provider, result.Status),
		Raw:        raw,
	}, nil
}
