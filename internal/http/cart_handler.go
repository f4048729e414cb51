package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/fjod/furnistore/internal/cart"
	"github.com/fjod/furnistore/internal/catalog"
	"github.com/fjod/furnistore/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type CartHandler struct {
	sessions *cart.Sessions
	catalog  catalog.Catalog
	timeout  time.Duration
}

func NewCartHandler(sessions *cart.Sessions, c catalog.Catalog, timeout time.Duration) *CartHandler {
	return &CartHandler{
		sessions: sessions,
		catalog:  c,
		timeout:  timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity" validate:"required,min=0,max=99"`
}

type CartResponseDTO struct {
	Items    []domain.CartLineItem `json:"items"`
	Total    decimal.Decimal       `json:"total"`
	Currency string                `json:"currency"`
}

func newCartResponse(c *domain.Cart) CartResponseDTO {
	items := c.Items
	if items == nil {
		items = []domain.CartLineItem{}
	}
	return CartResponseDTO{
		Items:    items,
		Total:    c.Total(),
		Currency: domain.DefaultCurrency,
	}
}

func (h *CartHandler) controller(r *http.Request) *cart.Controller {
	return h.sessions.Get(r.Context(), getSessionIDFromContext(r.Context()))
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, newCartResponse(h.controller(r).Cart()))
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := decodeAndValidate(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}

	product, err := h.catalog.GetProduct(ctx, req.ProductID)
	if errors.Is(err, catalog.ErrProductNotFound) {
		respondError(w, http.StatusNotFound, "product_not_found", "product "+req.ProductID+" does not exist")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to look up product")
		return
	}

	c := h.controller(r).Add(ctx, *product)
	respondJSON(w, http.StatusCreated, newCartResponse(c))
}

// PUT /api/v1/cart/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := decodeAndValidate(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}

	c := h.controller(r).UpdateQuantity(r.Context(), productID, *req.Quantity)
	respondJSON(w, http.StatusOK, newCartResponse(c))
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	c := h.controller(r).Remove(r.Context(), productID)
	respondJSON(w, http.StatusOK, newCartResponse(c))
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	c := h.controller(r).Clear(r.Context())
	respondJSON(w, http.StatusOK, newCartResponse(c))
}

func respondDecodeError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		respondError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
	case errors.Is(err, errInvalidJSON):
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
	default:
		respondError(w, http.StatusBadRequest, "validation_failed", validationMessage(err))
	}
}
