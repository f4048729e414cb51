package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/fjod/furnistore/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stripeCall struct {
	form   url.Values
	header http.Header
}

func newStripeFake(t *testing.T, confirmStatus int, confirmBody string) (*httptest.Server, *stripeCall) {
	t.Helper()
	created := &stripeCall{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		created.form = r.PostForm
		created.header = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","amount":4500,"currency":"usd",
			"status":"requires_confirmation","client_secret":"pi_123_secret_abc"}`))
	})
	mux.HandleFunc("POST /v1/payment_intents/pi_123/confirm", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pm_card_visa", r.PostForm.Get("payment_method"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(confirmStatus)
		_, _ = w.Write([]byte(confirmBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, created
}

func newTestStripe(srv *httptest.Server) *StripeAdapter {
	return NewStripeAdapter(StripeConfig{
		SecretKey:     "sk_test_123",
		BaseURL:       srv.URL,
		PaymentMethod: "pm_card_visa",
		HTTPClient:    srv.Client(),
	})
}

func TestStripe_CreateIntent(t *testing.T) {
	srv, created := newStripeFake(t, http.StatusOK, `{}`)
	sut := newTestStripe(srv)

	intent, err := sut.CreateIntent(context.Background(), IntentRequest{
		Amount:         decimal.RequireFromString("45.00"),
		Currency:       "usd",
		IdempotencyKey: "attempt-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ExternalID)
	assert.Equal(t, "pi_123_secret_abc", intent.ClientSecret)
	assert.Equal(t, "requires_confirmation", intent.Status)
	assert.Equal(t, "USD", intent.Currency)
	assert.True(t, decimal.RequireFromString("45").Equal(intent.Amount))

	assert.Equal(t, "4500", created.form.Get("amount"))
	assert.Equal(t, "usd", created.form.Get("currency"))
	assert.Equal(t, "attempt-1", created.header.Get("Idempotency-Key"))
	assert.Equal(t, "Bearer sk_test_123", created.header.Get("Authorization"))
}

func TestStripe_ConfirmSucceeded(t *testing.T) {
	srv, _ := newStripeFake(t, http.StatusOK, `{"id":"pi_123","object":"payment_intent","status":"succeeded"}`)
	sut := newTestStripe(srv)

	conf, err := sut.ConfirmIntent(context.Background(), "pi_123")

	require.NoError(t, err)
	assert.True(t, conf.Succeeded)
	assert.Equal(t, "succeeded", conf.Status)
	assert.NotEmpty(t, conf.Raw)
}

func TestStripe_ConfirmNotYetSucceeded(t *testing.T) {
	srv, _ := newStripeFake(t, http.StatusOK, `{"id":"pi_123","object":"payment_intent","status":"requires_action"}`)
	sut := newTestStripe(srv)

	conf, err := sut.ConfirmIntent(context.Background(), "pi_123")

	require.NoError(t, err)
	assert.False(t, conf.Succeeded)
}

func TestStripe_ConfirmDeclined(t *testing.T) {
	srv, _ := newStripeFake(t, http.StatusPaymentRequired,
		`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`)
	sut := newTestStripe(srv)

	_, err := sut.ConfirmIntent(context.Background(), "pi_123")

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, domain.ProviderStripe, ue.Provider)
	assert.Equal(t, http.StatusPaymentRequired, ue.StatusCode)
	assert.Equal(t, "Your card was declined.", ue.Message)
	assert.False(t, ue.Temporary())
}

func TestStripe_RejectsBadInputWithoutCalling(t *testing.T) {
	sut := NewStripeAdapter(StripeConfig{SecretKey: "sk_test_123", BaseURL: "http://127.0.0.1:1"})

	_, err := sut.CreateIntent(context.Background(), IntentRequest{Amount: decimal.Zero})
	assert.True(t, IsValidation(err))

	_, err = sut.ConfirmIntent(context.Background(), "  ")
	assert.True(t, IsValidation(err))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(4500), toMinorUnits(decimal.RequireFromString("45"), "USD"))
	assert.Equal(t, int64(1999), toMinorUnits(decimal.RequireFromString("19.99"), "EUR"))
	assert.Equal(t, int64(500), toMinorUnits(decimal.RequireFromString("500"), "JPY"))
	assert.Equal(t, "19.99", fromMinorUnits(1999, "usd").String())
}
