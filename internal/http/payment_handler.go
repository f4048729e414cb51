package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/furnistore/internal/checkout"
	"github.com/fjod/furnistore/internal/domain"
	"github.com/fjod/furnistore/internal/payment"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentHandler exposes the provider adapters as plain JSON routes so a
// front end (or a remote storefront) never talks to the providers directly.
type PaymentHandler struct {
	registry *payment.Registry
	timeout  time.Duration
	logger   *zap.Logger
}

func NewPaymentHandler(registry *payment.Registry, timeout time.Duration, l *zap.Logger) *PaymentHandler {
	if l == nil {
		l = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = checkout.DefaultPaymentTimeout
	}
	return &PaymentHandler{
		registry: registry,
		timeout:  timeout,
		logger:   l.Named("payments"),
	}
}

type CreateIntentRequestDTO struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,len=3,alpha"`
}

type ConfirmStripeRequestDTO struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

type CapturePayPalRequestDTO struct {
	OrderID string `json:"orderId"`
}

// POST /api/payments/stripe/intents
func (h *PaymentHandler) CreateStripeIntent(w http.ResponseWriter, r *http.Request) {
	intent, ok := h.createIntent(w, r, domain.ProviderStripe)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, payment.StripeIntentResponse{
		ID:           intent.ExternalID,
		Status:       intent.Status,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
	})
}

// POST /api/payments/stripe/confirm
func (h *PaymentHandler) ConfirmStripeIntent(w http.ResponseWriter, r *http.Request) {
	var req ConfirmStripeRequestDTO
	if err := decodeAndValidate(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if req.PaymentIntentID == "" {
		respondError(w, http.StatusBadRequest, "missing_payment_intent_id", "paymentIntentId is required")
		return
	}

	conf, ok := h.confirm(w, r, domain.ProviderStripe, req.PaymentIntentID)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, payment.StripeConfirmResponse{
		Status:        conf.Status,
		PaymentIntent: conf.Raw,
	})
}

// POST /api/payments/paypal/orders
func (h *PaymentHandler) CreatePayPalOrder(w http.ResponseWriter, r *http.Request) {
	intent, ok := h.createIntent(w, r, domain.ProviderPayPal)
	if !ok {
		return
	}
	respondRaw(w, http.StatusOK, intent.Raw)
}

// POST /api/payments/paypal/capture
func (h *PaymentHandler) CapturePayPalOrder(w http.ResponseWriter, r *http.Request) {
	var req CapturePayPalRequestDTO
	if err := decodeAndValidate(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if req.OrderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "orderId is required")
		return
	}

	conf, ok := h.confirm(w, r, domain.ProviderPayPal, req.OrderID)
	if !ok {
		return
	}
	respondRaw(w, http.StatusOK, conf.Raw)
}

func (h *PaymentHandler) createIntent(w http.ResponseWriter, r *http.Request, provider domain.Provider) (*domain.PaymentIntent, bool) {
	var req CreateIntentRequestDTO
	if err := decodeAndValidate(r, &req); err != nil {
		respondDecodeError(w, err)
		return nil, false
	}

	adapter, ok := h.adapter(w, provider)
	if !ok {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	intent, err := adapter.CreateIntent(ctx, payment.IntentRequest{
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: r.Header.Get(payment.IdempotencyHeader),
	})
	if err != nil {
		h.respondPaymentError(w, provider, err)
		return nil, false
	}
	return intent, true
}

func (h *PaymentHandler) confirm(w http.ResponseWriter, r *http.Request, provider domain.Provider, externalID string) (*payment.Confirmation, bool) {
	adapter, ok := h.adapter(w, provider)
	if !ok {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	conf, err := adapter.ConfirmIntent(ctx, externalID)
	if err != nil {
		h.respondPaymentError(w, provider, err)
		return nil, false
	}
	return conf, true
}

func (h *PaymentHandler) adapter(w http.ResponseWriter, provider domain.Provider) (payment.Adapter, bool) {
	adapter, ok := h.registry.Get(provider)
	if !ok {
		respondError(w, http.StatusServiceUnavailable, "provider_not_configured", provider.String()+" is not configured")
		return nil, false
	}
	return adapter, true
}

func (h *PaymentHandler) respondPaymentError(w http.ResponseWriter, provider domain.Provider, err error) {
	var verr *payment.ValidationError
	if errors.As(err, &verr) {
		respondError(w, http.StatusBadRequest, "validation_failed", verr.Error())
		return
	}

	h.logger.Warn("payment provider call failed", zap.String("provider", provider.String()), zap.Error(err))
	var uerr *payment.UpstreamError
	if errors.As(err, &uerr) && uerr.Message != "" {
		respondError(w, http.StatusBadGateway, "upstream_error", uerr.Message)
		return
	}
	respondError(w, http.StatusBadGateway, "upstream_error", err.Error())
}
