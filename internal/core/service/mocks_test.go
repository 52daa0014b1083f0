package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
	"github.com/Chrimika/electro-shop-control/internal/port"
)

const testStore = "store-1"

var errConnReset = errors.New("connection reset by peer")

// Mock InventoryStore
type mockInventory struct {
	mu    sync.Mutex
	stock map[string]int

	reserveCalls []reservation
	releaseCalls []reservation

	// reserveErr fails TryReserve for a product without touching the counter.
	reserveErr map[string]error
	// ambiguousReserve applies the decrement and then reports an error.
	ambiguousReserve map[string]bool
	// releaseFailures fails that many Release calls; negative fails all.
	releaseFailures int
	peekErr         error
}

func newMockInventory(stock map[string]int) *mockInventory {
	m := &mockInventory{
		stock:            make(map[string]int),
		reserveErr:       make(map[string]error),
		ambiguousReserve: make(map[string]bool),
	}
	for product, qty := range stock {
		m.stock[invKey(testStore, product)] = qty
	}
	return m
}

func invKey(storeID, productID string) string {
	return storeID + "/" + productID
}

func (m *mockInventory) TryReserve(ctx context.Context, storeID, productID string, quantity int) (port.ReserveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reserveCalls = append(m.reserveCalls, reservation{ProductID: productID, Quantity: quantity})
	if err := m.reserveErr[productID]; err != nil {
		return port.ReserveResult{}, err
	}

	key := invKey(storeID, productID)
	current := m.stock[key]
	if current < quantity {
		return port.ReserveResult{Reserved: false, Available: current}, nil
	}
	m.stock[key] = current - quantity
	if m.ambiguousReserve[productID] {
		return port.ReserveResult{}, errConnReset
	}
	return port.ReserveResult{Reserved: true, Available: current - quantity}, nil
}

func (m *mockInventory) Release(ctx context.Context, storeID, productID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.releaseFailures != 0 {
		if m.releaseFailures > 0 {
			m.releaseFailures--
		}
		return errConnReset
	}
	m.releaseCalls = append(m.releaseCalls, reservation{ProductID: productID, Quantity: quantity})
	m.stock[invKey(storeID, productID)] += quantity
	return nil
}

func (m *mockInventory) Peek(ctx context.Context, storeID, productID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.peekErr != nil {
		return 0, m.peekErr
	}
	return m.stock[invKey(storeID, productID)], nil
}

func (m *mockInventory) get(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[invKey(testStore, productID)]
}

// Mock SaleLedger
type mockLedger struct {
	mu      sync.Mutex
	sales   map[string]*domain.Sale
	byToken map[string]string
	nextID  int

	appendCalls int
	// appendErr fails Append without writing; appendErrOnce clears it after one use.
	appendErr     error
	appendErrOnce bool
	// appendLandsThenErr writes the sale and then reports this error.
	appendLandsThenErr error
	// racer is written under the same token just before Append checks it.
	racer *domain.Sale

	lookupErr error
	// failLookupsAfterAppend makes token lookups fail once Append ran.
	failLookupsAfterAppend bool
	appended               bool

	markErr          error
	markLandsThenErr bool
	reopenErr        error
	claimCalls       int
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		sales:   make(map[string]*domain.Sale),
		byToken: make(map[string]string),
	}
}

func (m *mockLedger) store(sale domain.Sale) *domain.Sale {
	m.nextID++
	sale.ID = fmt.Sprintf("sale-%d", m.nextID)
	stored := copySale(&sale)
	m.sales[sale.ID] = stored
	m.byToken[sale.IdempotencyToken] = sale.ID
	return copySale(stored)
}

func (m *mockLedger) FindByIdempotencyToken(ctx context.Context, token string) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lookupErr != nil && (!m.failLookupsAfterAppend || m.appended) {
		return nil, m.lookupErr
	}
	id, ok := m.byToken[token]
	if !ok {
		return nil, nil
	}
	return copySale(m.sales[id]), nil
}

func (m *mockLedger) Append(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendCalls++
	m.appended = true
	if m.racer != nil {
		m.store(*m.racer)
		m.racer = nil
	}
	if err := m.appendErr; err != nil {
		if m.appendErrOnce {
			m.appendErr = nil
		}
		return nil, err
	}
	if _, ok := m.byToken[sale.IdempotencyToken]; ok {
		return nil, domain.ErrDuplicateToken
	}

	saved := m.store(sale)
	if m.appendLandsThenErr != nil {
		return nil, m.appendLandsThenErr
	}
	return saved, nil
}

func (m *mockLedger) FindByID(ctx context.Context, id string) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sale, ok := m.sales[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSaleNotFound, id)
	}
	return copySale(sale), nil
}

func (m *mockLedger) MarkCancelled(ctx context.Context, id, reason string, at time.Time) (*domain.Sale, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sale, ok := m.sales[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", domain.ErrSaleNotFound, id)
	}
	if m.markErr != nil && !m.markLandsThenErr {
		return nil, false, m.markErr
	}
	if sale.Cancelled() {
		return copySale(sale), false, nil
	}

	at = at.UTC()
	sale.Status = domain.SaleStatusCancelled
	sale.CancellationReason = reason
	sale.CancelledAt = &at
	sale.PendingRestock = domain.ReservedQuantities(sale.Items)
	if m.markErr != nil {
		return nil, false, m.markErr
	}
	return copySale(sale), true, nil
}

func (m *mockLedger) ClaimRestock(ctx context.Context, id string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.claimCalls++
	sale, ok := m.sales[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSaleNotFound, id)
	}
	pending := sale.PendingRestock
	sale.PendingRestock = nil
	if pending == nil {
		pending = map[string]int{}
	}
	return pending, nil
}

func (m *mockLedger) ReopenRestock(ctx context.Context, id string, pending map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reopenErr != nil {
		return m.reopenErr
	}
	sale, ok := m.sales[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSaleNotFound, id)
	}
	if sale.PendingRestock == nil {
		sale.PendingRestock = make(map[string]int, len(pending))
	}
	for product, qty := range pending {
		sale.PendingRestock[product] += qty
	}
	return nil
}

func (m *mockLedger) pendingRestock(id string) map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySale(m.sales[id]).PendingRestock
}

func (m *mockLedger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sales)
}

func copySale(s *domain.Sale) *domain.Sale {
	out := *s
	out.Items = append([]domain.CartLine(nil), s.Items...)
	if s.PendingRestock != nil {
		out.PendingRestock = make(map[string]int, len(s.PendingRestock))
		for product, qty := range s.PendingRestock {
			out.PendingRestock[product] = qty
		}
	}
	return &out
}

// Mock Catalog
type mockCatalog map[string]domain.Product

func (m mockCatalog) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	p, ok := m[productID]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	return p, nil
}

// Mock TokenGuard
type mockGuard struct {
	mu   sync.Mutex
	held map[string]string
	// takeover hands a fresh claim to this owner right after Acquire, as if
	// the first claim expired mid-commit.
	takeover string
}

func newMockGuard() *mockGuard {
	return &mockGuard{held: make(map[string]string)}
}

func (g *mockGuard) Acquire(ctx context.Context, token, owner string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.held[token]; ok {
		return false, nil
	}
	g.held[token] = owner
	if g.takeover != "" {
		g.held[token] = g.takeover
	}
	return true, nil
}

func (g *mockGuard) Release(ctx context.Context, token, owner string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[token] == owner {
		delete(g.held, token)
	}
	return nil
}

func (g *mockGuard) owner(token string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held[token]
}

func (g *mockGuard) isHeld(token string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[token]
	return ok
}

// Mock Notifier
type mockNotifier struct {
	events chan domain.SaleCommitted
	err    error
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{events: make(chan domain.SaleCommitted, 100)}
}

func (n *mockNotifier) PublishSaleCommitted(ctx context.Context, event domain.SaleCommitted) error {
	n.events <- event
	return n.err
}

func (n *mockNotifier) wait(t *testing.T) domain.SaleCommitted {
	t.Helper()
	select {
	case e := <-n.events:
		return e
	case <-time.After(time.Second):
		t.Fatal("no sale committed event")
		return domain.SaleCommitted{}
	}
}

func (n *mockNotifier) expectNone(t *testing.T) {
	t.Helper()
	select {
	case e := <-n.events:
		t.Fatalf("unexpected event for sale %s", e.SaleID)
	case <-time.After(50 * time.Millisecond):
	}
}

var (
	testNow = time.Date(2026, 10, 14, 9, 30, 0, 123456789, time.UTC)

	products = mockCatalog{
		"fridge": {ID: "fridge", Name: "Fridge", SellingPrice: decimal.RequireFromString("800")},
		"radio":  {ID: "radio", Name: "Radio", SellingPrice: decimal.RequireFromString("25.50")},
		"tv":     {ID: "tv", Name: "TV 55", SellingPrice: decimal.RequireFromString("500")},
	}
)

type fixture struct {
	svc      *SaleService
	inv      *mockInventory
	ledger   *mockLedger
	guard    *mockGuard
	notifier *mockNotifier
}

func newFixture(stock map[string]int) *fixture {
	f := &fixture{
		inv:      newMockInventory(stock),
		ledger:   newMockLedger(),
		guard:    newMockGuard(),
		notifier: newMockNotifier(),
	}
	f.svc = NewSaleService(Dependencies{
		Inventory: f.inv,
		Ledger:    f.ledger,
		Catalog:   products,
		Guard:     f.guard,
		Notifier:  f.notifier,
	}, Config{
		Retry: RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 2,
		},
		Now: func() time.Time { return testNow },
	})
	return f
}

func line(productID string, qty int) domain.CartLine {
	p := products[productID]
	return domain.CartLine{ProductID: p.ID, ProductName: p.Name, Quantity: qty, UnitPrice: p.SellingPrice}
}

func directRequest(token string, lines ...domain.CartLine) CommitRequest {
	return CommitRequest{
		StoreID:          testStore,
		VendorID:         "vendor-1",
		Lines:            lines,
		SaleType:         domain.SaleTypeDirect,
		PaidAmount:       domain.SumLines(lines),
		IdempotencyToken: token,
	}
}
