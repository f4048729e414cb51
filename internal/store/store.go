package store

import (
	"context"
	"errors"

	"github.com/fjod/furnistore/internal/domain"
)

// CartStore persists one serialized cart per browsing session.
// The store holds a copy only; the in-memory cart owned by the controller is authoritative.
type CartStore interface {
	Load(ctx context.Context, sessionID string) (*domain.Cart, error)
	Save(ctx context.Context, sessionID string, cart *domain.Cart) error
}

var (
	ErrNotFound = errors.New("cart not found")
	// ErrCorrupt wraps deserialization failures of a stored cart.
	ErrCorrupt = errors.New("stored cart is corrupt")
)

func cartKey(sessionID string) string {
	return "cart:" + sessionID
}
