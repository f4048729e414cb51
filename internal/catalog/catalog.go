package catalog

import (
	"context"
	"errors"

	"github.com/fjod/furnistore/internal/domain"
)

var ErrProductNotFound = errors.New("product not found")

// Catalog supplies the product data a cart line snapshots when it is added.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, category string) ([]*domain.Product, error)
}
