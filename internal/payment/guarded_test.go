package payment

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/furnistore/internal/domain"
	"github.com/fjod/furnistore/pkg/circuitbreaker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubAdapter struct {
	calls atomic.Int32
	err   error
}

func (s *stubAdapter) Provider() domain.Provider { return domain.ProviderStripe }

func (s *stubAdapter) CreateIntent(_ context.Context, req IntentRequest) (*domain.PaymentIntent, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.PaymentIntent{Provider: domain.ProviderStripe, ExternalID: "pi_1", Amount: req.Amount}, nil
}

func (s *stubAdapter) ConfirmIntent(_ context.Context, id string) (*Confirmation, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &Confirmation{ExternalID: id, Status: stripeSucceeded, Succeeded: true}, nil
}

func testBreakerConfig() circuitbreaker.Config {
	return circuitbreaker.Config{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, ConsecutiveFailures: 3}
}

func TestGuarded_PassesThrough(t *testing.T) {
	stub := &stubAdapter{}
	sut := NewGuarded(stub, testBreakerConfig(), zaptest.NewLogger(t))

	intent, err := sut.CreateIntent(context.Background(), IntentRequest{Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ExternalID)

	conf, err := sut.ConfirmIntent(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.True(t, conf.Succeeded)
	assert.Equal(t, domain.ProviderStripe, sut.Provider())
}

func TestGuarded_OpensOnServerErrors(t *testing.T) {
	stub := &stubAdapter{err: &UpstreamError{Provider: domain.ProviderStripe, Op: "create_intent", StatusCode: http.StatusServiceUnavailable}}
	sut := NewGuarded(stub, testBreakerConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := sut.CreateIntent(ctx, IntentRequest{Amount: decimal.NewFromInt(5)})
		require.Error(t, err)
	}
	assert.Equal(t, "open", sut.BreakerState())

	_, err := sut.CreateIntent(ctx, IntentRequest{Amount: decimal.NewFromInt(5)})

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(3), stub.calls.Load())
}

func TestGuarded_DeclinesDoNotTrip(t *testing.T) {
	stub := &stubAdapter{err: &UpstreamError{Provider: domain.ProviderStripe, Op: "confirm_intent", StatusCode: http.StatusPaymentRequired}}
	sut := NewGuarded(stub, testBreakerConfig(), zaptest.NewLogger(t))

	for i := 0; i < 10; i++ {
		_, err := sut.ConfirmIntent(context.Background(), "pi_1")
		require.Error(t, err)
	}
	assert.Equal(t, "closed", sut.BreakerState())
	assert.Equal(t, int32(10), stub.calls.Load())
}

func TestRegistry(t *testing.T) {
	stripe := &stubAdapter{}
	sut := NewRegistry(stripe)

	got, ok := sut.Get(domain.ProviderStripe)
	require.True(t, ok)
	assert.Same(t, stripe, got)

	_, ok = sut.Get(domain.ProviderPayPal)
	assert.False(t, ok)
	assert.Equal(t, []domain.Provider{domain.ProviderStripe}, sut.Providers())
}
