package payment

import (
	"context"
	"errors"

	"github.com/fjod/furnistore/internal/domain"
	"github.com/fjod/furnistore/pkg/circuitbreaker"
	"go.uber.org/zap"
)

// Guarded runs every call of the wrapped adapter through a circuit breaker.
// Only temporary upstream failures count against the breaker; declines and
// validation errors do not.
type Guarded struct {
	next    Adapter
	breaker *circuitbreaker.Breaker
}

func NewGuarded(next Adapter, cfg circuitbreaker.Config, l *zap.Logger) *Guarded {
	return &Guarded{
		next:    next,
		breaker: circuitbreaker.New("payment-"+next.Provider().String(), cfg, l, countsAsFailure),
	}
}

func countsAsFailure(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Temporary()
	}
	return false
}

func (g *Guarded) Provider() domain.Provider {
	return g.next.Provider()
}

func (g *Guarded) BreakerState() string {
	return g.breaker.State()
}

func (g *Guarded) CreateIntent(ctx context.Context, req IntentRequest) (*domain.PaymentIntent, error) {
	intent, err := circuitbreaker.Execute(g.breaker, func() (*domain.PaymentIntent, error) {
		return g.next.CreateIntent(ctx, req)
	})
	return intent, g.mapOpen("create_intent", err)
}

func (g *Guarded) ConfirmIntent(ctx context.Context, externalID string) (*Confirmation, error) {
	conf, err := circuitbreaker.Execute(g.breaker, func() (*Confirmation, error) {
		return g.next.ConfirmIntent(ctx, externalID)
	})
	return conf, g.mapOpen("confirm_intent", err)
}

func (g *Guarded) mapOpen(op string, err error) error {
	if err != nil && errors.Is(err, circuitbreaker.ErrOpen) {
		return &UpstreamError{Provider: g.Provider(), Op: op, Message: "provider temporarily unavailable", Err: err}
	}
	return err
}
