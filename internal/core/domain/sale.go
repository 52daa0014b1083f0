package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type SaleType string

const (
	SaleTypeDirect           SaleType = "direct"
	SaleTypeInstallment      SaleType = "installment"
	SaleTypePartialPaid      SaleType = "partialPaid"
	SaleTypeDeliveredNotPaid SaleType = "deliveredNotPaid"
	SaleTypeTrade            SaleType = "trade"
)

// ParseSaleType accepts the wire names of the sale types.
func ParseSaleType(s string) (SaleType, error) {
	switch t := SaleType(s); t {
	case SaleTypeDirect, SaleTypeInstallment, SaleTypePartialPaid, SaleTypeDeliveredNotPaid, SaleTypeTrade:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSaleType, s)
}

// Deferred reports whether the sale type allows paying less than the total.
func (t SaleType) Deferred() bool {
	return t != SaleTypeDirect
}

type SaleStatus string

const (
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusCancelled SaleStatus = "cancelled"
)

// CartLine is one product line of a cart, and after commit an immutable
// snapshot inside a Sale.
type CartLine struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Validate checks the per-line invariants.
func (l CartLine) Validate() error {
	if l.ProductID == "" {
		return fmt.Errorf("%w: line without product", ErrInvalidRequest)
	}
	if l.Quantity < 1 {
		return fmt.Errorf("%w: %s quantity %d", ErrInvalidQuantity, l.ProductID, l.Quantity)
	}
	if l.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: %s unit price %s", ErrInvalidUnitPrice, l.ProductID, l.UnitPrice)
	}
	if !WholeCents(l.UnitPrice) {
		return fmt.Errorf("%w: %s unit price %s has sub-cent digits", ErrInvalidUnitPrice, l.ProductID, l.UnitPrice)
	}
	return nil
}

// WholeCents reports whether d has no digits below the cent. The ledger
// stores money with two decimals.
func WholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// SumLines returns Σ LineTotal.
func SumLines(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

// Sale is the committed transaction record. Only Status, CancellationReason,
// CancelledAt and PendingRestock change after commit, and only once the sale
// is cancelled.
type Sale struct {
	ID                 string
	IdempotencyToken   string
	StoreID            string
	VendorID           string
	Customer           *Customer
	Items              []CartLine
	SaleType           SaleType
	TotalAmount        decimal.Decimal
	PaidAmount         decimal.Decimal
	Status             SaleStatus
	Deadline           *time.Time
	CancellationReason string
	CreatedAt          time.Time
	CancelledAt        *time.Time
	// PendingRestock holds the quantities per product a cancelled sale has
	// not yet returned to stock.
	PendingRestock map[string]int
}

// DeriveStatus maps the payment state of an uncancelled sale to its status.
func DeriveStatus(paid, total decimal.Decimal) SaleStatus {
	if paid.GreaterThanOrEqual(total) {
		return SaleStatusCompleted
	}
	return SaleStatusPending
}

// Balance is the amount still owed.
func (s *Sale) Balance() decimal.Decimal {
	return s.TotalAmount.Sub(s.PaidAmount)
}

func (s *Sale) Cancelled() bool {
	return s.Status == SaleStatusCancelled
}

// Validate checks the committed-sale invariants.
func (s *Sale) Validate() error {
	if len(s.Items) == 0 {
		return fmt.Errorf("%w: sale %s has no items", ErrInvariantViolation, s.ID)
	}
	for _, l := range s.Items {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("%w: sale %s: %v", ErrInvariantViolation, s.ID, err)
		}
	}
	if sum := SumLines(s.Items); !s.TotalAmount.Equal(sum) {
		return fmt.Errorf("%w: sale %s total %s != line sum %s", ErrInvariantViolation, s.ID, s.TotalAmount, sum)
	}
	if s.PaidAmount.IsNegative() || s.PaidAmount.GreaterThan(s.TotalAmount) {
		return fmt.Errorf("%w: sale %s paid %s outside [0, %s]", ErrInvariantViolation, s.ID, s.PaidAmount, s.TotalAmount)
	}
	if !WholeCents(s.PaidAmount) {
		return fmt.Errorf("%w: sale %s paid %s has sub-cent digits", ErrInvariantViolation, s.ID, s.PaidAmount)
	}
	if s.Cancelled() {
		return nil
	}
	if len(s.PendingRestock) > 0 {
		return fmt.Errorf("%w: sale %s has pending restock without being cancelled", ErrInvariantViolation, s.ID)
	}
	if want := DeriveStatus(s.PaidAmount, s.TotalAmount); s.Status != want {
		return fmt.Errorf("%w: sale %s status %s, expected %s", ErrInvariantViolation, s.ID, s.Status, want)
	}
	if s.PaidAmount.LessThan(s.TotalAmount) && s.Deadline == nil {
		return fmt.Errorf("%w: sale %s owes %s without deadline", ErrInvariantViolation, s.ID, s.Balance())
	}
	return nil
}

// ReservedQuantities aggregates quantities per product. Multiple lines for
// the same product at different prices reserve as one.
func ReservedQuantities(lines []CartLine) map[string]int {
	out := make(map[string]int, len(lines))
	for _, l := range lines {
		out[l.ProductID] += l.Quantity
	}
	return out
}

// SaleCommitted is published after a successful commit.
type SaleCommitted struct {
	SaleID      string          `json:"saleId"`
	StoreID     string          `json:"storeId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CommittedAt time.Time       `json:"committedAt"`
}
