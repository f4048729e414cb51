package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/furnistore/internal/domain"
	"github.com/fjod/furnistore/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const saveTimeout = 2 * time.Second

// Controller owns the cart of one session. It is the only writer of that cart and
// mirrors every mutation to the store.
type Controller struct {
	sessionID string
	store     store.CartStore
	logger    *zap.Logger

	mu   sync.Mutex
	cart *domain.Cart
}

// NewController restores the session's cart from the store. A missing, corrupt or
// unreadable slot yields an empty cart; loading never fails.
func NewController(ctx context.Context, sessionID string, s store.CartStore, l *zap.Logger) *Controller {
	if l == nil {
		l = zap.NewNop()
	}
	c := &Controller{
		sessionID: sessionID,
		store:     s,
		logger:    l.With(zap.String("session_id", sessionID)),
	}
	c.cart = c.load(ctx)
	return c
}

func (c *Controller) load(ctx context.Context) *domain.Cart {
	loaded, err := c.store.Load(ctx, c.sessionID)
	switch {
	case err == nil:
		return loaded
	case errors.Is(err, store.ErrNotFound):
		return domain.NewCart()
	case errors.Is(err, store.ErrCorrupt):
		c.logger.Warn("discarding corrupt stored cart", zap.Error(err))
		return domain.NewCart()
	default:
		c.logger.Error("cart load failed, starting empty", zap.Error(err))
		return domain.NewCart()
	}
}

func (c *Controller) SessionID() string {
	return c.sessionID
}

// Add puts one unit of the product into the cart.
func (c *Controller) Add(ctx context.Context, p domain.Product) *domain.Cart {
	return c.mutate(ctx, "add", func(cart *domain.Cart) {
		cart.Add(p)
	})
}

// UpdateQuantity sets the quantity of a line. Zero or negative removes it; unknown products are ignored.
func (c *Controller) UpdateQuantity(ctx context.Context, productID string, quantity int) *domain.Cart {
	return c.mutate(ctx, "update_quantity", func(cart *domain.Cart) {
		cart.SetQuantity(productID, quantity)
	})
}

func (c *Controller) Remove(ctx context.Context, productID string) *domain.Cart {
	return c.mutate(ctx, "remove", func(cart *domain.Cart) {
		cart.Remove(productID)
	})
}

func (c *Controller) Clear(ctx context.Context) *domain.Cart {
	return c.mutate(ctx, "clear", func(cart *domain.Cart) {
		cart.Clear()
	})
}

// ClearIfUnchanged empties the cart only while it still holds exactly the given lines,
// so lines added after a paid snapshot was taken are never dropped.
func (c *Controller) ClearIfUnchanged(ctx context.Context, paid []domain.CartLineItem) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cart.IsEmpty() || !c.cart.Matches(paid) {
		return false
	}
	c.cart.Clear()
	c.persist(ctx, "clear_paid")
	return true
}

// Cart returns a copy of the current cart.
func (c *Controller) Cart() *domain.Cart {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cart.Clone()
}

func (c *Controller) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cart.Total()
}

func (c *Controller) mutate(ctx context.Context, op string, fn func(*domain.Cart)) *domain.Cart {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn(c.cart)
	c.persist(ctx, op)
	return c.cart.Clone()
}

// persist writes the full cart. Failures are logged only: the in-memory cart stays
// authoritative and the next mutation overwrites the slot again.
func (c *Controller) persist(ctx context.Context, op string) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	if err := c.store.Save(saveCtx, c.sessionID, c.cart); err != nil {
		c.logger.Error("cart save failed", zap.String("op", op), zap.Error(err))
	}
}
