package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Chrimika/electro-shop-control/internal/core/cart"
	"github.com/Chrimika/electro-shop-control/internal/core/domain"
	"github.com/Chrimika/electro-shop-control/internal/core/payment"
	"github.com/Chrimika/electro-shop-control/internal/port"
)

var tracer = otel.Tracer("github.com/Chrimika/electro-shop-control/internal/core/service")

// Config holds the per-call timeouts of the blocking collaborators.
type Config struct {
	ReserveTimeout      time.Duration
	LedgerTimeout       time.Duration
	NotifyTimeout       time.Duration
	CompensationTimeout time.Duration
	// Retry drives CommitWithRetry and compensation releases.
	Retry RetryConfig
	Now   func() time.Time
}

func DefaultConfig() Config {
	return Config{
		ReserveTimeout:      2 * time.Second,
		LedgerTimeout:       5 * time.Second,
		NotifyTimeout:       3 * time.Second,
		CompensationTimeout: 2 * time.Second,
		Retry:               DefaultRetryConfig(),
		Now:                 time.Now,
	}
}

// Dependencies are the collaborators of SaleService. Guard and Notifier are
// optional.
type Dependencies struct {
	Inventory port.InventoryStore
	Ledger    port.SaleLedger
	Catalog   port.Catalog
	Guard     port.TokenGuard
	Notifier  port.Notifier
}

// SaleService is the only path that creates sales and mutates stock. It
// holds no state between calls.
type SaleService struct {
	inventory port.InventoryStore
	ledger    port.SaleLedger
	catalog   port.Catalog
	guard     port.TokenGuard
	notifier  port.Notifier
	cfg       Config
}

func NewSaleService(deps Dependencies, cfg Config) *SaleService {
	def := DefaultConfig()
	if cfg.ReserveTimeout <= 0 {
		cfg.ReserveTimeout = def.ReserveTimeout
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = def.LedgerTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = def.CompensationTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &SaleService{
		inventory: deps.Inventory,
		ledger:    deps.Ledger,
		catalog:   deps.Catalog,
		guard:     deps.Guard,
		notifier:  deps.Notifier,
		cfg:       cfg,
	}
}

// CommitRequest is a finalized cart plus the resolved payment terms.
type CommitRequest struct {
	StoreID          string
	VendorID         string
	Customer         *domain.Customer
	Lines            []domain.CartLine
	SaleType         domain.SaleType
	PaidAmount       decimal.Decimal
	Deadline         *time.Time
	IdempotencyToken string
}

// validate returns the sale total or the first validation failure.
func (r CommitRequest) validate() (decimal.Decimal, error) {
	if len(r.Lines) == 0 {
		return decimal.Zero, domain.ErrEmptyCart
	}
	for _, l := range r.Lines {
		if err := l.Validate(); err != nil {
			return decimal.Zero, err
		}
	}
	if _, err := payment.PolicyFor(r.SaleType); err != nil {
		return decimal.Zero, err
	}

	total := domain.SumLines(r.Lines)
	if r.PaidAmount.IsNegative() || r.PaidAmount.GreaterThan(total) {
		return decimal.Zero, fmt.Errorf("%w: paid %s outside [0, %s]", domain.ErrInvalidPaymentAmount, r.PaidAmount, total)
	}
	if !domain.WholeCents(r.PaidAmount) {
		return decimal.Zero, fmt.Errorf("%w: paid %s has sub-cent digits", domain.ErrInvalidPaymentAmount, r.PaidAmount)
	}
	if !r.SaleType.Deferred() && !r.PaidAmount.Equal(total) {
		return decimal.Zero, fmt.Errorf("%w: %s sale must be paid in full (%s)", domain.ErrInvalidPaymentAmount, r.SaleType, total)
	}
	if r.PaidAmount.LessThan(total) && r.Deadline == nil {
		return decimal.Zero, fmt.Errorf("%w: %s sale owes %s", domain.ErrDeadlineRequired, r.SaleType, total.Sub(r.PaidAmount))
	}
	return total, nil
}

type reservation struct {
	ProductID string
	Quantity  int
}

// reservationPlan aggregates the lines per product in ascending product
// order, so overlapping commits always contend in the same sequence.
func reservationPlan(lines []domain.CartLine) []reservation {
	return planFromQuantities(domain.ReservedQuantities(lines))
}

func planFromQuantities(qty map[string]int) []reservation {
	plan := make([]reservation, 0, len(qty))
	for id, q := range qty {
		plan = append(plan, reservation{ProductID: id, Quantity: q})
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].ProductID < plan[j].ProductID })
	return plan
}

// BuildCart starts an empty draft for storeID.
func (s *SaleService) BuildCart(storeID string) *cart.Cart {
	return cart.New(storeID)
}

// AddProduct looks productID up in the catalog, reads the advisory stock
// figure and adds the line to c.
func (s *SaleService) AddProduct(ctx context.Context, c *cart.Cart, productID string, quantity int, unitPriceOverride *decimal.Decimal) (*cart.StockWarning, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, storageErr("get product "+productID, err)
	}

	available, err := s.inventory.Peek(ctx, c.StoreID(), productID)
	if err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) {
			log.Printf("sales: FATAL %v", err)
			return nil, err
		}
		// advisory only; skip the warning rather than fail the edit
		log.Printf("sales: peek %s/%s failed: %v", c.StoreID(), productID, err)
		available = math.MaxInt
	}

	return c.AddLine(product, quantity, unitPriceOverride, available)
}

// ResolvePayment applies the payment policy of saleType to total.
func (s *SaleService) ResolvePayment(saleType domain.SaleType, total decimal.Decimal, override *decimal.Decimal) (payment.Resolution, error) {
	return payment.Resolve(saleType, total, override)
}

// CommitCart commits the lines of c and discards the draft on success.
func (s *SaleService) CommitCart(ctx context.Context, c *cart.Cart, req CommitRequest) (*domain.Sale, error) {
	req.StoreID = c.StoreID()
	req.Lines = c.Lines()

	sale, err := s.Commit(ctx, req)
	if err != nil {
		return nil, err
	}
	c.Abandon()
	return sale, nil
}

// Commit turns req into a durable sale. Stock for every line is reserved or
// none is. A retry with the same idempotency token returns the sale created
// by the first successful attempt.
func (s *SaleService) Commit(ctx context.Context, req CommitRequest) (sale *domain.Sale, err error) {
	ctx, span := tracer.Start(ctx, "SaleService.Commit", trace.WithAttributes(
		attribute.String("sale.store_id", req.StoreID),
		attribute.String("sale.idempotency_token", req.IdempotencyToken),
		attribute.String("sale.type", string(req.SaleType)),
		attribute.Int("sale.lines", len(req.Lines)),
	))
	defer func() { endSpan(span, err) }()

	if req.IdempotencyToken == "" || req.StoreID == "" || req.VendorID == "" {
		return nil, fmt.Errorf("%w: store, vendor and idempotency token are required", domain.ErrInvalidRequest)
	}

	if existing, err := s.FindByToken(ctx, req.IdempotencyToken); err != nil || existing != nil {
		if existing != nil {
			span.SetAttributes(attribute.Bool("sale.deduplicated", true))
		}
		return existing, err
	}

	total, err := req.validate()
	if err != nil {
		return nil, err
	}

	if s.guard != nil {
		owner := uuid.NewString()
		ok, err := s.guard.Acquire(ctx, req.IdempotencyToken, owner)
		if err != nil {
			return nil, storageErr("acquire commit guard", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrCommitInProgress, req.IdempotencyToken)
		}
		defer s.releaseGuard(ctx, req.IdempotencyToken, owner)

		// the previous holder may have committed between the lookup and the claim
		if existing, err := s.FindByToken(ctx, req.IdempotencyToken); err != nil || existing != nil {
			if existing != nil {
				span.SetAttributes(attribute.Bool("sale.deduplicated", true))
			}
			return existing, err
		}
	}

	reserved, err := s.reserve(ctx, req.StoreID, reservationPlan(req.Lines))
	if err != nil {
		return nil, err
	}

	items := make([]domain.CartLine, len(req.Lines))
	copy(items, req.Lines)
	var customer *domain.Customer
	if req.Customer != nil {
		c := *req.Customer
		customer = &c
	}
	var deadline *time.Time
	if req.Deadline != nil && req.PaidAmount.LessThan(total) {
		d := req.Deadline.UTC()
		deadline = &d
	}

	draft := domain.Sale{
		IdempotencyToken: req.IdempotencyToken,
		StoreID:          req.StoreID,
		VendorID:         req.VendorID,
		Customer:         customer,
		Items:            items,
		SaleType:         req.SaleType,
		TotalAmount:      total,
		PaidAmount:       req.PaidAmount,
		Status:           domain.DeriveStatus(req.PaidAmount, total),
		Deadline:         deadline,
		CreatedAt:        s.cfg.Now().UTC(),
	}
	if err := draft.Validate(); err != nil {
		log.Printf("sales: FATAL %v", err)
		return nil, s.compensateErr(ctx, req.StoreID, reserved, err)
	}

	saved, committed, err := s.persist(ctx, draft, reserved)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("sale.id", saved.ID), attribute.String("sale.status", string(saved.Status)))

	if committed {
		log.Printf("sales: committed sale %s store=%s total=%s status=%s", saved.ID, saved.StoreID, saved.TotalAmount, saved.Status)
		s.notify(saved)
	}
	return saved, nil
}

// CommitWithRetry retries transient failures of Commit with the same token.
func (s *SaleService) CommitWithRetry(ctx context.Context, req CommitRequest) (*domain.Sale, error) {
	var sale *domain.Sale
	err := retry(ctx, s.cfg.Retry, domain.IsRetryable, func(ctx context.Context) error {
		var err error
		sale, err = s.Commit(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// GetSale reads a committed sale.
func (s *SaleService) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()

	sale, err := s.ledger.FindByID(ctx, saleID)
	if err != nil {
		return nil, storageErr("find sale "+saleID, err)
	}
	return sale, nil
}

// Stock is the advisory stock reading for one product.
func (s *SaleService) Stock(ctx context.Context, storeID, productID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReserveTimeout)
	defer cancel()

	n, err := s.inventory.Peek(ctx, storeID, productID)
	if err != nil {
		return 0, storageErr("peek stock", err)
	}
	return n, nil
}

// FindByToken returns the sale committed under an idempotency token, or nil
// when there is none.
func (s *SaleService) FindByToken(ctx context.Context, token string) (*domain.Sale, error) {
	if token == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()

	sale, err := s.ledger.FindByIdempotencyToken(ctx, token)
	if err != nil {
		return nil, storageErr("lookup idempotency token", err)
	}
	return sale, nil
}

func (s *SaleService) releaseGuard(ctx context.Context, token, owner string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer cancel()

	if err := s.guard.Release(ctx, token, owner); err != nil {
		// the claim expires by TTL
		log.Printf("sales: release commit guard %s: %v", token, err)
	}
}

// reserve takes every reservation of plan or none of them.
func (s *SaleService) reserve(ctx context.Context, storeID string, plan []reservation) ([]reservation, error) {
	done := make([]reservation, 0, len(plan))
	for _, r := range plan {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.ReserveTimeout)
		res, err := s.inventory.TryReserve(rctx, storeID, r.ProductID, r.Quantity)
		cancel()

		if err != nil {
			if errors.Is(err, domain.ErrInvariantViolation) {
				log.Printf("sales: FATAL reserve %s/%s: %v", storeID, r.ProductID, err)
				return nil, s.compensateErr(ctx, storeID, done, err)
			}
			// The outcome of this call is unknown, so it is not released:
			// releasing a decrement that never happened would oversell.
			log.Printf("sales: CRITICAL reservation %s/%s qty=%d outcome unknown, needs reconciliation: %v",
				storeID, r.ProductID, r.Quantity, err)
			return nil, s.compensateErr(ctx, storeID, done, storageErr("reserve "+r.ProductID, err))
		}

		if !res.Reserved {
			return nil, s.compensateErr(ctx, storeID, done, &domain.InsufficientStockError{
				ProductID: r.ProductID,
				Requested: r.Quantity,
				Available: res.Available,
			})
		}
		done = append(done, r)
	}
	return done, nil
}

// persist appends the sale. committed is false when the returned sale was
// written by a concurrent attempt carrying the same token.
func (s *SaleService) persist(ctx context.Context, draft domain.Sale, reserved []reservation) (sale *domain.Sale, committed bool, err error) {
	lctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	saved, err := s.ledger.Append(lctx, draft)
	cancel()
	if err == nil {
		return saved, true, nil
	}

	token := draft.IdempotencyToken
	vctx, vcancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LedgerTimeout)
	defer vcancel()

	if errors.Is(err, domain.ErrDuplicateToken) {
		if cerr := s.compensate(ctx, draft.StoreID, reserved); cerr != nil {
			return nil, false, cerr
		}
		winner, lookupErr := s.ledger.FindByIdempotencyToken(vctx, token)
		if lookupErr != nil || winner == nil {
			return nil, false, storageErr("lookup winning sale", errors.Join(err, lookupErr))
		}
		return winner, false, nil
	}

	landed, lookupErr := s.ledger.FindByIdempotencyToken(vctx, token)
	switch {
	case lookupErr != nil:
		log.Printf("sales: CRITICAL ledger write for token %s unverifiable, keeping reservations %v for reconciliation: append: %v, lookup: %v",
			token, reserved, err, lookupErr)
		return nil, false, storageErr("append sale", err)
	case landed != nil:
		log.Printf("sales: ledger write for token %s reported %v but landed as %s", token, err, landed.ID)
		return landed, true, nil
	}

	return nil, false, s.compensateErr(ctx, draft.StoreID, reserved, storageErr("append sale", err))
}

// compensateErr releases reserved and returns cause, or the compensation
// failure if stock could not be restored.
func (s *SaleService) compensateErr(ctx context.Context, storeID string, reserved []reservation, cause error) error {
	if err := s.compensate(ctx, storeID, reserved); err != nil {
		return fmt.Errorf("%w (while handling: %v)", err, cause)
	}
	return cause
}

// compensate releases reservations in reverse order on a context detached
// from the caller, retrying each release.
func (s *SaleService) compensate(ctx context.Context, storeID string, reserved []reservation) error {
	_, err := s.releaseAll(ctx, storeID, reserved)
	return err
}

// releaseAll is compensate that also reports the reservations it could not
// release.
func (s *SaleService) releaseAll(ctx context.Context, storeID string, reserved []reservation) ([]reservation, error) {
	if len(reserved) == 0 {
		return nil, nil
	}
	base := context.WithoutCancel(ctx)

	var (
		failed    []error
		remaining []reservation
	)
	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		err := retry(base, s.cfg.Retry, always, func(ctx context.Context) error {
			rctx, cancel := context.WithTimeout(ctx, s.cfg.CompensationTimeout)
			defer cancel()
			return s.inventory.Release(rctx, storeID, r.ProductID, r.Quantity)
		})
		if err != nil {
			log.Printf("sales: CRITICAL release %s/%s qty=%d failed: %v", storeID, r.ProductID, r.Quantity, err)
			failed = append(failed, fmt.Errorf("%s qty=%d: %w", r.ProductID, r.Quantity, err))
			remaining = append(remaining, r)
		}
	}

	if len(failed) > 0 {
		return remaining, fmt.Errorf("%w: %w", domain.ErrCompensationFailed, errors.Join(failed...))
	}
	return nil, nil
}

func (s *SaleService) notify(sale *domain.Sale) {
	if s.notifier == nil {
		return
	}

	event := domain.SaleCommitted{
		SaleID:      sale.ID,
		StoreID:     sale.StoreID,
		TotalAmount: sale.TotalAmount,
		CommittedAt: sale.CreatedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
		defer cancel()

		if err := s.notifier.PublishSaleCommitted(ctx, event); err != nil {
			log.Printf("sales: notify sale %s failed: %v", event.SaleID, err)
		}
	}()
}

// storageErr wraps err with op. Errors outside the domain taxonomy are
// reported as ErrStorageUnavailable.
func storageErr(op string, err error) error {
	if domain.KindOf(err) != domain.KindUnknown {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.kind", domain.KindOf(err).String()))
	}
	span.End()
}
