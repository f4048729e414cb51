package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/fjod/furnistore/internal/cart"
	"github.com/fjod/furnistore/internal/checkout"
	"github.com/fjod/furnistore/internal/domain"
	"github.com/fjod/furnistore/internal/payment"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Checkouter runs checkouts and looks up recorded attempts.
type Checkouter interface {
	Checkout(ctx context.Context, c checkout.Cart, provider domain.Provider, currency string) (*checkout.Result, error)
	Attempt(ctx context.Context, id string) (*domain.CheckoutAttempt, error)
}

type CheckoutHandler struct {
	sessions *cart.Sessions
	checkout Checkouter
	logger   *zap.Logger
}

func NewCheckoutHandler(sessions *cart.Sessions, c Checkouter, l *zap.Logger) *CheckoutHandler {
	if l == nil {
		l = zap.NewNop()
	}
	return &CheckoutHandler{
		sessions: sessions,
		checkout: c,
		logger:   l,
	}
}

type CheckoutRequestDTO struct {
	Provider string `json:"provider" validate:"required,oneof=stripe paypal"`
	Currency string `json:"currency" validate:"omitempty,len=3,alpha"`
}

type CheckoutResponseDTO struct {
	CheckoutID   string `json:"checkout_id"`
	State        string `json:"state"`
	Provider     string `json:"provider"`
	ExternalID   string `json:"external_id,omitempty"`
	Status       string `json:"status,omitempty"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"client_secret,omitempty"`
	ApprovalURL  string `json:"approval_url,omitempty"`
	Error        string `json:"error,omitempty"`
}

func newCheckoutResponse(res *checkout.Result) CheckoutResponseDTO {
	dto := CheckoutResponseDTO{
		CheckoutID: res.CheckoutID,
		State:      res.State.String(),
		Provider:   res.Provider.String(),
		Amount:     res.Amount.String(),
		Currency:   res.Currency,
	}
	if res.Intent != nil {
		dto.ExternalID = res.Intent.ExternalID
		dto.Status = res.Intent.Status
		dto.ClientSecret = res.Intent.ClientSecret
		dto.ApprovalURL = res.Intent.ApprovalURL
	}
	if res.Confirmation != nil {
		dto.Status = res.Confirmation.Status
	}
	return dto
}

// POST /api/v1/checkout
func (h *CheckoutHandler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequestDTO
	if err := decodeAndValidate(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}

	sessionID := getSessionIDFromContext(r.Context())
	controller := h.sessions.Get(r.Context(), sessionID)

	res, err := h.checkout.Checkout(r.Context(), controller, domain.Provider(req.Provider), req.Currency)
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, newCheckoutResponse(res))
	case errors.Is(err, checkout.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "empty_cart", err.Error())
	case errors.Is(err, checkout.ErrUnknownProvider):
		respondError(w, http.StatusBadRequest, "unknown_provider", err.Error())
	case errors.Is(err, checkout.ErrCheckoutInProgress):
		respondError(w, http.StatusConflict, "checkout_in_progress", err.Error())
	case payment.IsValidation(err):
		respondError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case res != nil && res.State == domain.CheckoutStateFailed:
		h.logger.Info("checkout payment failed",
			zap.String("session_id", sessionID),
			zap.String("checkout_id", res.CheckoutID),
			zap.Error(err))
		dto := newCheckoutResponse(res)
		dto.Error = err.Error()
		respondJSON(w, http.StatusPaymentRequired, dto)
	default:
		h.logger.Error("checkout failed", zap.String("session_id", sessionID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "checkout failed")
	}
}

// GET /api/v1/checkout/{checkout_id}
func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "checkout_id")
	attempt, err := h.checkout.Attempt(r.Context(), id)
	if errors.Is(err, checkout.ErrAttemptNotFound) || (err == nil && attempt.SessionID != getSessionIDFromContext(r.Context())) {
		respondError(w, http.StatusNotFound, "checkout_not_found", "checkout "+id+" not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load checkout attempt", zap.String("checkout_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load checkout")
		return
	}
	respondJSON(w, http.StatusOK, attempt)
}
