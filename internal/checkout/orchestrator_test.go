package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/fjod/furnistore/internal/cart"
	"github.com/fjod/furnistore/internal/domain"
	"github.com/fjod/furnistore/internal/payment"
	"github.com/fjod/furnistore/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockAdapter struct {
	mu            sync.Mutex
	createErr     error
	confirmErr    error
	confirmStatus string
	block         bool
	entered       chan struct{}
	release       chan struct{}
	requests      []payment.IntentRequest
	confirmed     []string
}

func (m *mockAdapter) Provider() domain.Provider { return domain.ProviderStripe }

func (m *mockAdapter) CreateIntent(ctx context.Context, req payment.IntentRequest) (*domain.PaymentIntent, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.entered != nil {
		select {
		case m.entered <- struct{}{}:
		default:
		}
	}
	if m.release != nil {
		<-m.release
	}
	if m.block {
		<-ctx.Done()
		return nil, &payment.UpstreamError{Provider: domain.ProviderStripe, Op: "create_intent", Err: ctx.Err()}
	}
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &domain.PaymentIntent{
		Provider:     domain.ProviderStripe,
		ExternalID:   "pi_1",
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       "requires_confirmation",
		ClientSecret: "secret",
	}, nil
}

func (m *mockAdapter) ConfirmIntent(_ context.Context, id string) (*payment.Confirmation, error) {
	m.mu.Lock()
	m.confirmed = append(m.confirmed, id)
	m.mu.Unlock()
	if m.confirmErr != nil {
		return nil, m.confirmErr
	}
	status := m.confirmStatus
	if status == "" {
		status = "succeeded"
	}
	return &payment.Confirmation{ExternalID: id, Status: status, Succeeded: status == "succeeded"}, nil
}

type failingLedger struct{ *MemoryLedger }

func (failingLedger) CreateAttempt(context.Context, *domain.CheckoutAttempt) error {
	return errors.New("db down")
}

func (failingLedger) UpdateAttemptState(context.Context, string, domain.CheckoutState, string, string) error {
	return errors.New("db down")
}

func (failingLedger) CompleteAttempt(context.Context, string, []byte) error {
	return errors.New("db down")
}

func filledCart(t *testing.T) *cart.Controller {
	t.Helper()
	ctx := context.Background()
	c := cart.NewController(ctx, "s1", store.NewMemoryStore(), zaptest.NewLogger(t))
	chair := domain.Product{ID: "P1", Name: "Chair", Price: decimal.RequireFromString("10.00")}
	table := domain.Product{ID: "P2", Name: "Table", Price: decimal.RequireFromString("25.00")}
	c.Add(ctx, chair)
	c.Add(ctx, chair)
	c.Add(ctx, table)
	return c
}

func newSUT(t *testing.T, a payment.Adapter, l Ledger) *Orchestrator {
	return NewOrchestrator(payment.NewRegistry(a), l, time.Second, zaptest.NewLogger(t))
}

func TestCheckout_SuccessClearsCart(t *testing.T) {
	adapter := &mockAdapter{}
	ledger := NewMemoryLedger()
	sut := newSUT(t, adapter, ledger)
	c := filledCart(t)

	res, err := sut.Checkout(context.Background(), c, domain.ProviderStripe, "")

	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateCleared, res.State)
	assert.True(t, c.Cart().IsEmpty())
	assert.Equal(t, "pi_1", res.Intent.ExternalID)
	assert.True(t, res.Confirmation.Succeeded)

	require.Len(t, adapter.requests, 1)
	assert.True(t, decimal.RequireFromString("45.00").Equal(adapter.requests[0].Amount))
	assert.Equal(t, domain.DefaultCurrency, adapter.requests[0].Currency)
	assert.Equal(t, res.CheckoutID, adapter.requests[0].IdempotencyKey)
	assert.Equal(t, []string{"pi_1"}, adapter.confirmed)

	attempt, err := ledger.GetAttempt(context.Background(), res.CheckoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateCleared, attempt.State)
	assert.Equal(t, "pi_1", attempt.ExternalID)

	events, err := ledger.GetUnprocessedEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, res.CheckoutID, events[0].AggregateID)
	assert.Equal(t, domain.EventTypeCheckoutCompleted, events[0].EventType)

	var payload domain.CheckoutCompletedPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Len(t, payload.Items, 2)
	assert.True(t, decimal.RequireFromString("45").Equal(payload.TotalAmount))
}

func TestCheckout_CreateIntentFailureLeavesCartUnchanged(t *testing.T) {
	adapter := &mockAdapter{createErr: &payment.UpstreamError{
		Provider: domain.ProviderStripe, Op: "create_intent", StatusCode: http.StatusInternalServerError,
	}}
	ledger := NewMemoryLedger()
	sut := newSUT(t, adapter, ledger)
	c := filledCart(t)
	before := c.Cart()

	res, err := sut.Checkout(context.Background(), c, domain.ProviderStripe, "USD")

	var ue *payment.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, domain.CheckoutStateFailed, res.State)
	assert.Empty(t, adapter.confirmed)
	assert.Equal(t, before.Items, c.Cart().Items)

	attempt, err := ledger.GetAttempt(context.Background(), res.CheckoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateFailed, attempt.State)
	assert.NotEmpty(t, attempt.FailureReason)

	events, _ := ledger.GetUnprocessedEvents(context.Background(), 10)
	assert.Empty(t, events)
}

func TestCheckout_ConfirmFailureLeavesCartUnchanged(t *testing.T) {
	adapter := &mockAdapter{confirmErr: &payment.UpstreamError{
		Provider: domain.ProviderStripe, Op: "confirm_intent", StatusCode: http.StatusPaymentRequired, Message: "declined",
	}}
	sut := newSUT(t, adapter, NewMemoryLedger())
	c := filledCart(t)

	res, err := sut.Checkout(context.Background(), c, domain.ProviderStripe, "USD")

	require.Error(t, err)
	assert.True(t, payment.IsUpstream(err))
	assert.Equal(t, domain.CheckoutStateFailed, res.State)
	assert.Len(t, c.Cart().Items, 2)
}

func TestCheckout_NonSuccessStatusFails(t *testing.T) {
	adapter := &mockAdapter{confirmStatus: "requires_action"}
	sut := newSUT(t, adapter, NewMemoryLedger())
	c := filledCart(t)

	res, err := sut.Checkout(context.Background(), c, domain.ProviderStripe, "USD")

	assert.ErrorIs(t, err, payment.ErrPaymentNotCompleted)
	assert.Equal(t, domain.CheckoutStateFailed, res.State)
	assert.Equal(t, "requires_action", res.Confirmation.Status)
	assert.False(t, c.Cart().IsEmpty())
}

func TestCheckout_EmptyCartRejectedBeforeProvider(t *testing.T) {
	adapter := &mockAdapter{}
	sut := newSUT(t, adapter, NewMemoryLedger())
	c := cart.NewController(context.Background(), "s2", store.NewMemoryStore(), zaptest.NewLogger(t))

	res, err := sut.Checkout(context.Background(), c, domain.ProviderStripe, "USD")

	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.True(t, IsValidation(err))
	assert.Empty(t, adapter.requests)
}

func TestCheckout_UnknownProvider(t *testing.T) {
	sut := newSUT(t, &mockAdapter{}, NewMemoryLedger())

	_, err := sut.Checkout(context.Background(), filledCart(t), domain.ProviderPayPal, "USD")

	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestCheckout_LedgerFailureDoesNotChangeOutcome(t *testing.T) {
	sut := newSUT(t, &mockAdapter{}, failingLedger{NewMemoryLedger()})
	c := filledCart(t)

	res, err := sut.Checkout(context.Background(), c, domain.ProviderStripe, "USD")

	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateCleared, res.State)
	assert.True(t, c.Cart().IsEmpty())
}

func TestCheckout_PaymentTimeout(t *testing.T) {
	adapter := &mockAdapter{block: true}
	sut := NewOrchestrator(payment.NewRegistry(adapter), nil, 50*time.Millisecond, zaptest.NewLogger(t))
	c := filledCart(t)

	res, err := sut.Checkout(context.Background(), c, domain.ProviderStripe, "USD")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.CheckoutStateFailed, res.State)
	assert.False(t, c.Cart().IsEmpty())
}

func TestCheckout_ConcurrentSameSessionRejected(t *testing.T) {
	adapter := &mockAdapter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	sut := newSUT(t, adapter, NewMemoryLedger())
	c := filledCart(t)

	type outcome struct {
		res *Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := sut.Checkout(context.Background(), c, domain.ProviderStripe, "")
		first <- outcome{res, err}
	}()
	<-adapter.entered

	_, err := sut.Checkout(context.Background(), c, domain.ProviderStripe, "")
	require.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.True(t, IsValidation(err))

	close(adapter.release)
	got := <-first
	require.NoError(t, got.err)
	assert.Equal(t, domain.CheckoutStateCleared, got.res.State)
	adapter.mu.Lock()
	assert.Len(t, adapter.requests, 1)
	adapter.mu.Unlock()

	// the guard is released once the first checkout returns
	_, err = sut.Checkout(context.Background(), c, domain.ProviderStripe, "")
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestMemoryLedger_MarkEventAsProcessed(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.CreateAttempt(ctx, &domain.CheckoutAttempt{ID: "a1", State: domain.CheckoutStateConfirmed}))
	require.NoError(t, l.CompleteAttempt(ctx, "a1", []byte(`{}`)))

	events, err := l.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, l.MarkEventAsProcessed(ctx, events[0].ID))
	events, err = l.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	assert.ErrorIs(t, l.CompleteAttempt(ctx, "missing", nil), ErrAttemptNotFound)
}
