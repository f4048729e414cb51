package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	ServiceName        string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
}

func newBaseRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(middleware.Compress(5))
	r.Use(MaxBodyMiddleware(cfg.MaxRequestBodySize))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func mountPayments(r chi.Router, h *PaymentHandler) {
	r.Route("/api/payments", func(r chi.Router) {
		r.Post("/stripe/intents", h.CreateStripeIntent)
		r.Post("/stripe/confirm", h.ConfirmStripeIntent)
		r.Post("/paypal/orders", h.CreatePayPalOrder)
		r.Post("/paypal/capture", h.CapturePayPalOrder)
	})
}

// NewStorefrontRouter serves the cart, checkout and catalog API. payments may be nil.
func NewStorefrontRouter(cfg RouterConfig, cart *CartHandler, checkout *CheckoutHandler, products *ProductHandler, payments *PaymentHandler) http.Handler {
	r := newBaseRouter(cfg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", products.List)
			r.Get("/{product_id}", products.Get)
		})

		r.Group(func(r chi.Router) {
			r.Use(SessionMiddleware)
			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cart.GetCart)
				r.Delete("/", cart.ClearCart)
				r.Post("/items", cart.AddItem)
				r.Put("/items/{product_id}", cart.UpdateQuantity)
				r.Delete("/items/{product_id}", cart.RemoveItem)
			})
			r.Post("/checkout", checkout.InitiateCheckout)
			r.Get("/checkout/{checkout_id}", checkout.GetCheckout)
		})
	})

	if payments != nil {
		mountPayments(r, payments)
	}
	return otelhttp.NewHandler(r, serviceName(cfg, "storefront"))
}

// NewPaymentsRouter serves only the payment routes.
func NewPaymentsRouter(cfg RouterConfig, payments *PaymentHandler) http.Handler {
	r := newBaseRouter(cfg)
	mountPayments(r, payments)
	return otelhttp.NewHandler(r, serviceName(cfg, "payments"))
}

func serviceName(cfg RouterConfig, fallback string) string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	return fallback
}
