package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/furnistore/internal/config"
	h "github.com/fjod/furnistore/internal/http"
	"github.com/fjod/furnistore/internal/payment"
	"github.com/fjod/furnistore/pkg/circuitbreaker"
	"github.com/fjod/furnistore/pkg/logger"
	"github.com/fjod/furnistore/pkg/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	l, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = l.Sync() }()
	zap.ReplaceGlobals(l)
	tracing.InstallPropagator()

	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	breaker := circuitbreaker.DefaultConfig()
	breaker.ConsecutiveFailures = cfg.Breaker.ConsecutiveFailures
	breaker.Timeout = cfg.Breaker.Timeout

	var adapters []payment.Adapter
	if cfg.Stripe.Enabled() {
		adapters = append(adapters, payment.NewGuarded(payment.NewStripeAdapter(payment.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			BaseURL:       cfg.Stripe.APIURL,
			PaymentMethod: cfg.Stripe.PaymentMethod,
			HTTPClient:    client,
		}), breaker, l))
	}
	if cfg.PayPal.Enabled() {
		adapters = append(adapters, payment.NewGuarded(payment.NewPayPalAdapter(payment.PayPalConfig{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			BaseURL:      cfg.PayPal.APIURL,
			HTTPClient:   client,
		}), breaker, l))
	}
	registry := payment.NewRegistry(adapters...)
	if len(registry.Providers()) == 0 {
		l.Warn("no payment provider configured, every route will answer 503")
	}

	router := h.NewPaymentsRouter(h.RouterConfig{
		ServiceName:        "payments",
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	}, h.NewPaymentHandler(registry, cfg.PaymentTimeout, l))

	srv := &http.Server{
		Addr:         ":" + cfg.PaymentsPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		l.Info("payments service listening", zap.String("port", cfg.PaymentsPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("shutting down payments service...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error("server forced to shutdown", zap.Error(err))
	}
	l.Info("payments service stopped")
}
