package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrDuplicateLineItem = errors.New("duplicate line item")
	ErrInvalidLineItem   = errors.New("invalid line item")
)

// Attributes is the product display metadata copied into a line item at add time.
type Attributes struct {
	Name    string `json:"name,omitempty"`
	Image   string `json:"image,omitempty"`
	Variant string `json:"variant,omitempty"`
}

// CartLineItem is one product in the cart. UnitPrice is a snapshot and does not follow catalog changes.
type CartLineItem struct {
	ProductID string          `json:"id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price"`
	Attributes
}

func (i CartLineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the order in progress. Items keep insertion order and hold at most one entry per product.
type Cart struct {
	Items []CartLineItem
}

func NewCart() *Cart {
	return &Cart{Items: []CartLineItem{}}
}

// Add merges the product into the cart: an existing line gets one more unit,
// otherwise a new line with quantity 1 is appended.
func (c *Cart) Add(p Product) {
	if i := c.indexOf(p.ID); i >= 0 {
		c.Items[i].Quantity++
		return
	}
	c.Items = append(c.Items, CartLineItem{
		ProductID:  p.ID,
		Quantity:   1,
		UnitPrice:  p.Price,
		Attributes: p.Attributes(),
	})
}

// SetQuantity replaces the quantity of a line. Quantities below 1 remove the line.
// Reports whether the product was in the cart.
func (c *Cart) SetQuantity(productID string, quantity int) bool {
	i := c.indexOf(productID)
	if i < 0 {
		return false
	}
	if quantity <= 0 {
		c.removeAt(i)
		return true
	}
	c.Items[i].Quantity = quantity
	return true
}

func (c *Cart) Remove(productID string) bool {
	i := c.indexOf(productID)
	if i < 0 {
		return false
	}
	c.removeAt(i)
	return true
}

func (c *Cart) Clear() {
	c.Items = []CartLineItem{}
}

func (c *Cart) Find(productID string) (CartLineItem, bool) {
	if i := c.indexOf(productID); i >= 0 {
		return c.Items[i], true
	}
	return CartLineItem{}, false
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Matches reports whether the cart holds exactly the given lines: same products,
// quantities and unit prices, in any order.
func (c *Cart) Matches(items []CartLineItem) bool {
	if len(c.Items) != len(items) {
		return false
	}
	for _, want := range items {
		got, ok := c.Find(want.ProductID)
		if !ok || got.Quantity != want.Quantity || !got.UnitPrice.Equal(want.UnitPrice) {
			return false
		}
	}
	return true
}

// Total is recomputed on every call and never cached.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Clone returns a deep copy safe to hand out to readers.
func (c *Cart) Clone() *Cart {
	items := make([]CartLineItem, len(c.Items))
	copy(items, c.Items)
	return &Cart{Items: items}
}

// Validate checks the invariants a restored cart must satisfy.
func (c *Cart) Validate() error {
	seen := make(map[string]struct{}, len(c.Items))
	for _, item := range c.Items {
		if item.ProductID == "" {
			return fmt.Errorf("%w: empty product id", ErrInvalidLineItem)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: product %s has quantity %d", ErrInvalidLineItem, item.ProductID, item.Quantity)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: product %s has negative price", ErrInvalidLineItem, item.ProductID)
		}
		if _, dup := seen[item.ProductID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateLineItem, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}
	return nil
}

// MarshalJSON writes the cart as a bare array of line items, the persisted layout.
func (c Cart) MarshalJSON() ([]byte, error) {
	items := c.Items
	if items == nil {
		items = []CartLineItem{}
	}
	return json.Marshal(items)
}

func (c *Cart) UnmarshalJSON(data []byte) error {
	var items []CartLineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	if items == nil {
		items = []CartLineItem{}
	}
	restored := Cart{Items: items}
	if err := restored.Validate(); err != nil {
		return err
	}
	*c = restored
	return nil
}

func (c *Cart) indexOf(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) removeAt(i int) {
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
}
