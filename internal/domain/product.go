package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Variant     string          `json:"variant,omitempty"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Attributes returns the display metadata a cart line keeps for this product.
func (p Product) Attributes() Attributes {
	return Attributes{
		Name:    p.Name,
		Image:   p.ImageURL,
		Variant: p.Variant,
	}
}
