// Package payment resolves how much of a sale is paid up front and whether
// the remainder needs a deadline.
package payment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
)

// Policy is the default rule for one sale type.
type Policy struct {
	DefaultRatio decimal.Decimal
	Overridable  bool
}

var policies = map[domain.SaleType]Policy{
	domain.SaleTypeDirect:           {DefaultRatio: decimal.NewFromInt(1), Overridable: false},
	domain.SaleTypePartialPaid:      {DefaultRatio: decimal.RequireFromString("0.80"), Overridable: true},
	domain.SaleTypeInstallment:      {DefaultRatio: decimal.Zero, Overridable: true},
	domain.SaleTypeDeliveredNotPaid: {DefaultRatio: decimal.Zero, Overridable: false},
	domain.SaleTypeTrade:            {DefaultRatio: decimal.Zero, Overridable: true},
}

// PolicyFor returns the rule for t.
func PolicyFor(t domain.SaleType) (Policy, error) {
	p, ok := policies[t]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", domain.ErrInvalidSaleType, t)
	}
	return p, nil
}

type Resolution struct {
	SaleType         domain.SaleType
	Total            decimal.Decimal
	PaidAmount       decimal.Decimal
	DeadlineRequired bool
}

// Resolve computes the paid amount for a sale of the given type and total.
// Overrides are ignored for types that are not overridable.
func Resolve(t domain.SaleType, total decimal.Decimal, override *decimal.Decimal) (Resolution, error) {
	p, err := PolicyFor(t)
	if err != nil {
		return Resolution{}, err
	}
	if total.IsNegative() {
		return Resolution{}, fmt.Errorf("%w: negative total %s", domain.ErrInvalidPaymentAmount, total)
	}

	paid := total
	if !p.DefaultRatio.Equal(decimal.NewFromInt(1)) {
		paid = total.Mul(p.DefaultRatio).Round(2)
	}
	if p.Overridable && override != nil {
		if override.IsNegative() || override.GreaterThan(total) {
			return Resolution{}, fmt.Errorf("%w: %s outside [0, %s]", domain.ErrInvalidPaymentAmount, override, total)
		}
		if !domain.WholeCents(*override) {
			return Resolution{}, fmt.Errorf("%w: %s has sub-cent digits", domain.ErrInvalidPaymentAmount, override)
		}
		paid = *override
	}

	return Resolution{
		SaleType:         t,
		Total:            total,
		PaidAmount:       paid,
		DeadlineRequired: paid.LessThan(total),
	}, nil
}

// CheckDeadline fails with ErrDeadlineRequired when the resolution owes a
// balance and no deadline was supplied.
func (r Resolution) CheckDeadline(deadline *time.Time) error {
	if r.DeadlineRequired && deadline == nil {
		return fmt.Errorf("%w: %s sale owes %s", domain.ErrDeadlineRequired, r.SaleType, r.Total.Sub(r.PaidAmount))
	}
	return nil
}

// DefaultDeadline is the caller-side policy for filling in a missing
// deadline. It is never applied by Resolve.
func DefaultDeadline(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, days)
}
