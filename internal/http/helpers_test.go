package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/furnistore/internal/cart"
	"github.com/fjod/furnistore/internal/catalog"
	"github.com/fjod/furnistore/internal/checkout"
	"github.com/fjod/furnistore/internal/domain"
	"github.com/fjod/furnistore/internal/payment"
	"github.com/fjod/furnistore/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	sessionA = "0b9c6f1e-6d1c-4e3b-9a57-1f1d2a3b4c5d"
	sessionB = "7f3e2d1c-0b9a-4876-a5b4-c3d2e1f0a9b8"
)

type fakeAdapter struct {
	provider   domain.Provider
	createErr  error
	confirmErr error
	status     string
	lastKey    string
	entered    chan struct{}
	release    chan struct{}
}

func (f *fakeAdapter) Provider() domain.Provider { return f.provider }

func (f *fakeAdapter) CreateIntent(_ context.Context, req payment.IntentRequest) (*domain.PaymentIntent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f.lastKey = req.IdempotencyKey
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &domain.PaymentIntent{
		Provider:     f.provider,
		ExternalID:   "ext-1",
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       "CREATED",
		ClientSecret: "secret-1",
		Raw:          json.RawMessage(`{"id":"ext-1","status":"CREATED","links":[]}`),
	}, nil
}

func (f *fakeAdapter) ConfirmIntent(_ context.Context, id string) (*payment.Confirmation, error) {
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	status := f.status
	if status == "" {
		status = "succeeded"
	}
	return &payment.Confirmation{
		ExternalID: id,
		Status:     status,
		Succeeded:  payment.Succeeded(f.provider, status),
		Raw:        json.RawMessage(`{"id":"` + id + `","status":"` + status + `"}`),
	}, nil
}

type testEnv struct {
	handler  http.Handler
	sessions *cart.Sessions
	ledger   *checkout.MemoryLedger
	store    *store.MemoryStore
}

func newTestEnv(t *testing.T, adapters ...payment.Adapter) *testEnv {
	t.Helper()
	return newTestEnvWithTimeouts(t, 5*time.Second, time.Second, adapters...)
}

// newTestEnvWithTimeouts builds the storefront with explicit router and handler
// timeouts. Zero disables a timeout, as REQUEST_TIMEOUT=0 does in production.
func newTestEnvWithTimeouts(t *testing.T, requestTimeout, handlerTimeout time.Duration, adapters ...payment.Adapter) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cat, err := catalog.NewSQLiteCatalog(":memory:")
	require.NoError(t, err)
	require.NoError(t, cat.RunMigrations())
	t.Cleanup(func() { _ = cat.Close() })

	ms := store.NewMemoryStore()
	sessions := cart.NewSessions(ms, logger)
	ledger := checkout.NewMemoryLedger()
	registry := payment.NewRegistry(adapters...)
	orchestrator := checkout.NewOrchestrator(registry, ledger, time.Second, logger)

	cfg := RouterConfig{RequestTimeout: requestTimeout, MaxRequestBodySize: 1 << 10}
	handler := NewStorefrontRouter(cfg,
		NewCartHandler(sessions, cat, handlerTimeout),
		NewCheckoutHandler(sessions, orchestrator, logger),
		NewProductHandler(cat, handlerTimeout),
		NewPaymentHandler(registry, time.Second, logger),
	)
	return &testEnv{handler: handler, sessions: sessions, ledger: ledger, store: ms}
}

func (e *testEnv) do(t *testing.T, method, path, sessionID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}
