// Package cart holds an operator's uncommitted sale draft for one store.
// A Cart is not safe for concurrent use; each operator session owns its own.
package cart

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
)

// StockWarning is advisory. The commit re-checks stock authoritatively.
type StockWarning struct {
	ProductID string
	Requested int
	Available int
}

func (w StockWarning) String() string {
	return fmt.Sprintf("%s: %d in cart, %d known available", w.ProductID, w.Requested, w.Available)
}

type Cart struct {
	storeID string
	lines   []domain.CartLine
}

func New(storeID string) *Cart {
	return &Cart{storeID: storeID}
}

func (c *Cart) StoreID() string {
	return c.storeID
}

// AddLine adds quantity of product to the cart. A line for the same product
// at the same effective unit price is merged; otherwise a new line is
// appended. knownAvailable is the caller's latest stock reading; exceeding it
// yields a warning but the line is still added.
func (c *Cart) AddLine(product domain.Product, quantity int, unitPriceOverride *decimal.Decimal, knownAvailable int) (*StockWarning, error) {
	if product.ID == "" {
		return nil, fmt.Errorf("%w: product without id", domain.ErrInvalidRequest)
	}
	if quantity < 1 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}

	price := product.SellingPrice
	if unitPriceOverride != nil {
		price = *unitPriceOverride
	}
	if price.IsNegative() || !domain.WholeCents(price) {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidUnitPrice, price)
	}

	merged := false
	for i := range c.lines {
		if c.lines[i].ProductID == product.ID && c.lines[i].UnitPrice.Equal(price) {
			c.lines[i].Quantity += quantity
			merged = true
			break
		}
	}
	if !merged {
		c.lines = append(c.lines, domain.CartLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    quantity,
			UnitPrice:   price,
		})
	}

	if inCart := c.Quantity(product.ID); inCart > knownAvailable {
		return &StockWarning{ProductID: product.ID, Requested: inCart, Available: knownAvailable}, nil
	}
	return nil, nil
}

// RemoveLine drops every line for productID.
func (c *Cart) RemoveLine(productID string) {
	kept := c.lines[:0]
	for _, l := range c.lines {
		if l.ProductID != productID {
			kept = append(kept, l)
		}
	}
	c.lines = kept
}

// SetQuantity replaces the quantity held for productID. Zero or less removes
// the product. When the product sits on several price lines, the first line
// takes the quantity and the others are dropped.
func (c *Cart) SetQuantity(productID string, quantity int) error {
	first := -1
	for i, l := range c.lines {
		if l.ProductID == productID {
			first = i
			break
		}
	}
	if first < 0 {
		return fmt.Errorf("%w: %s", domain.ErrLineNotFound, productID)
	}
	if quantity <= 0 {
		c.RemoveLine(productID)
		return nil
	}

	line := c.lines[first]
	line.Quantity = quantity
	c.RemoveLine(productID)
	c.lines = append(c.lines, domain.CartLine{})
	copy(c.lines[first+1:], c.lines[first:])
	c.lines[first] = line
	return nil
}

// Quantity is the total quantity of productID across its lines.
func (c *Cart) Quantity(productID string) int {
	n := 0
	for _, l := range c.lines {
		if l.ProductID == productID {
			n += l.Quantity
		}
	}
	return n
}

func (c *Cart) Total() decimal.Decimal {
	return domain.SumLines(c.lines)
}

// Lines returns a copy of the cart lines in insertion order.
func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) Empty() bool {
	return len(c.lines) == 0
}

// Abandon discards the draft.
func (c *Cart) Abandon() {
	c.lines = nil
}
