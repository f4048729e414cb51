package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fjod/furnistore/internal/domain"
	"github.com/fjod/furnistore/internal/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPaymentTimeout = 10 * time.Second
	ledgerTimeout         = 3 * time.Second
)

// Cart is the part of cart.Controller the orchestrator needs.
type Cart interface {
	SessionID() string
	Cart() *domain.Cart
	Clear(ctx context.Context) *domain.Cart
}

type Result struct {
	CheckoutID   string
	State        domain.CheckoutState
	Provider     domain.Provider
	Amount       decimal.Decimal
	Currency     string
	Intent       *domain.PaymentIntent
	Confirmation *payment.Confirmation
}

// Orchestrator drives a cart through Idle -> IntentCreated -> Confirmed -> Cleared.
// Any provider failure ends the attempt in Failed with the cart untouched.
type Orchestrator struct {
	payments *payment.Registry
	ledger   Ledger
	timeout  time.Duration
	logger   *zap.Logger

	// session IDs with a checkout running
	inFlight sync.Map
}

func NewOrchestrator(payments *payment.Registry, ledger Ledger, timeout time.Duration, l *zap.Logger) *Orchestrator {
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	if timeout <= 0 {
		timeout = DefaultPaymentTimeout
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &Orchestrator{payments: payments, ledger: ledger, timeout: timeout, logger: l.Named("checkout")}
}

func (o *Orchestrator) Checkout(ctx context.Context, cart Cart, provider domain.Provider, currency string) (*Result, error) {
	adapter, ok := o.payments.Get(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	sessionID := cart.SessionID()
	if _, busy := o.inFlight.LoadOrStore(sessionID, struct{}{}); busy {
		return nil, ErrCheckoutInProgress
	}
	defer o.inFlight.Delete(sessionID)

	snapshot := cart.Cart()
	amount := snapshot.Total()
	if snapshot.IsEmpty() || !amount.IsPositive() {
		return nil, ErrEmptyCart
	}
	currency = strings.ToUpper(currency)
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	now := time.Now().UTC()
	attempt := &domain.CheckoutAttempt{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Provider:  provider,
		Amount:    amount,
		Currency:  currency,
		State:     domain.CheckoutStateIdle,
		Items:     snapshot.Items,
		CreatedAt: now,
		UpdatedAt: now,
	}
	log := o.logger.With(
		zap.String("checkout_id", attempt.ID),
		zap.String("session_id", attempt.SessionID),
		zap.String("provider", provider.String()))
	o.record(ctx, log, "create attempt", func(c context.Context) error {
		return o.ledger.CreateAttempt(c, attempt)
	})

	result := &Result{CheckoutID: attempt.ID, State: attempt.State, Provider: provider, Amount: amount, Currency: currency}

	intent, err := o.createIntent(ctx, adapter, payment.IntentRequest{
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: attempt.ID,
	})
	if err != nil {
		o.fail(ctx, log, attempt, result, err)
		return result, fmt.Errorf("create payment intent: %w", err)
	}
	result.Intent = intent
	if err := o.transition(ctx, log, attempt, result, domain.CheckoutStateIntentCreated, intent.ExternalID, ""); err != nil {
		return result, err
	}

	conf, err := o.confirmIntent(ctx, adapter, intent.ExternalID)
	if err == nil && !conf.Succeeded {
		err = fmt.Errorf("%w: provider status %s", payment.ErrPaymentNotCompleted, conf.Status)
	}
	result.Confirmation = conf
	if err != nil {
		o.fail(ctx, log, attempt, result, err)
		return result, fmt.Errorf("confirm payment intent: %w", err)
	}
	if err := o.transition(ctx, log, attempt, result, domain.CheckoutStateConfirmed, "", ""); err != nil {
		return result, err
	}

	// payment is captured, so the cart is cleared even if the caller has gone away
	cart.Clear(context.WithoutCancel(ctx))
	if err := o.clear(ctx, log, attempt, result); err != nil {
		return result, err
	}

	log.Info("checkout completed", zap.String("external_id", intent.ExternalID), zap.String("amount", amount.String()))
	return result, nil
}

// Attempt returns the recorded attempt.
func (o *Orchestrator) Attempt(ctx context.Context, id string) (*domain.CheckoutAttempt, error) {
	return o.ledger.GetAttempt(ctx, id)
}

func (o *Orchestrator) createIntent(ctx context.Context, a payment.Adapter, req payment.IntentRequest) (*domain.PaymentIntent, error) {
	payCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return a.CreateIntent(payCtx, req)
}

func (o *Orchestrator) confirmIntent(ctx context.Context, a payment.Adapter, externalID string) (*payment.Confirmation, error) {
	payCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return a.ConfirmIntent(payCtx, externalID)
}

func (o *Orchestrator) transition(ctx context.Context, log *zap.Logger, a *domain.CheckoutAttempt, res *Result, to domain.CheckoutState, externalID, reason string) error {
	if !domain.CanTransitionTo(a.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, a.State, to)
	}
	a.State = to
	if externalID != "" {
		a.ExternalID = externalID
	}
	res.State = to
	o.record(ctx, log, "update state", func(c context.Context) error {
		return o.ledger.UpdateAttemptState(c, a.ID, to, externalID, reason)
	})
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, a *domain.CheckoutAttempt, res *Result, cause error) {
	log.Warn("checkout failed", zap.String("from", a.State.String()), zap.Error(cause))
	if err := o.transition(ctx, log, a, res, domain.CheckoutStateFailed, "", cause.Error()); err != nil {
		log.Error("could not mark checkout failed", zap.Error(err))
	}
}

func (o *Orchestrator) clear(ctx context.Context, log *zap.Logger, a *domain.CheckoutAttempt, res *Result) error {
	if !domain.CanTransitionTo(a.State, domain.CheckoutStateCleared) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, a.State, domain.CheckoutStateCleared)
	}
	a.State = domain.CheckoutStateCleared
	res.State = domain.CheckoutStateCleared

	payload, err := json.Marshal(a.CompletedPayload(time.Now().UTC()))
	if err != nil {
		log.Error("failed to marshal checkout payload", zap.Error(err))
		return nil
	}
	o.record(ctx, log, "complete attempt", func(c context.Context) error {
		return o.ledger.CompleteAttempt(c, a.ID, payload)
	})
	return nil
}

// record writes to the ledger. Ledger failures never change the checkout outcome.
func (o *Orchestrator) record(ctx context.Context, log *zap.Logger, op string, fn func(context.Context) error) {
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := fn(c); err != nil {
		log.Error("checkout ledger write failed", zap.String("op", op), zap.Error(err))
	}
}
