package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Chrimika/electro-shop-control/internal/core/cart"
	"github.com/Chrimika/electro-shop-control/internal/core/domain"
	"github.com/Chrimika/electro-shop-control/internal/core/payment"
	"github.com/Chrimika/electro-shop-control/internal/core/service"
)

// CommitInput is the transport-neutral form of a commit call.
type CommitInput struct {
	IdempotencyToken string
	StoreID          string
	VendorID         string
	Customer         *domain.Customer
	Lines            []LineInput
	SaleType         string
	PaidAmount       string
	Deadline         string
}

type LineInput struct {
	ProductID string
	Quantity  int
	UnitPrice string
}

// Options are caller-level sale policies applied by the front doors.
type Options struct {
	// DefaultDeadlineDays fills a missing deadline when the payment owes a
	// balance. Zero leaves the deadline to the operator.
	DefaultDeadlineDays int
	Now                 func() time.Time
}

// salesFlow answers replays from the ledger, otherwise builds the cart,
// resolves payment and commits, in that order.
type salesFlow struct {
	svc  *service.SaleService
	opts Options
}

func newSalesFlow(svc *service.SaleService, opts Options) salesFlow {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return salesFlow{svc: svc, opts: opts}
}

func (f salesFlow) commit(ctx context.Context, in CommitInput) (*domain.Sale, []cart.StockWarning, error) {
	// a replay answers from the ledger even if the catalog changed since
	if existing, err := f.svc.FindByToken(ctx, in.IdempotencyToken); err != nil || existing != nil {
		return existing, nil, err
	}

	saleType, err := domain.ParseSaleType(in.SaleType)
	if err != nil {
		return nil, nil, err
	}

	c := f.svc.BuildCart(in.StoreID)
	var warnings []cart.StockWarning
	for _, line := range in.Lines {
		price, err := parseDecimal(line.UnitPrice, domain.ErrInvalidUnitPrice)
		if err != nil {
			return nil, nil, err
		}
		warning, err := f.svc.AddProduct(ctx, c, line.ProductID, line.Quantity, price)
		if err != nil {
			return nil, nil, err
		}
		if warning != nil {
			warnings = append(warnings, *warning)
		}
	}

	override, err := parseDecimal(in.PaidAmount, domain.ErrInvalidPaymentAmount)
	if err != nil {
		return nil, nil, err
	}
	res, err := f.svc.ResolvePayment(saleType, c.Total(), override)
	if err != nil {
		return nil, nil, err
	}

	deadline, err := parseTime(in.Deadline)
	if err != nil {
		return nil, nil, err
	}
	if deadline == nil && res.DeadlineRequired && f.opts.DefaultDeadlineDays > 0 {
		d := payment.DefaultDeadline(f.opts.Now().UTC(), f.opts.DefaultDeadlineDays)
		deadline = &d
	}
	if !c.Empty() {
		if err := res.CheckDeadline(deadline); err != nil {
			return nil, nil, err
		}
	}

	sale, err := f.svc.CommitCart(ctx, c, service.CommitRequest{
		VendorID:         in.VendorID,
		Customer:         in.Customer,
		SaleType:         saleType,
		PaidAmount:       res.PaidAmount,
		Deadline:         deadline,
		IdempotencyToken: in.IdempotencyToken,
	})
	if err != nil {
		return nil, nil, err
	}
	return sale, warnings, nil
}

func parseDecimal(s string, invalid error) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", invalid, s)
	}
	return &d, nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%w: deadline %q is not RFC 3339", domain.ErrInvalidRequest, s)
	}
	return &t, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
