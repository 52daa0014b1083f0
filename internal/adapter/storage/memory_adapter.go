package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
	"github.com/Chrimika/electro-shop-control/internal/port"
)

// MemoryInventory is a process-local InventoryStore for development and tests.
type MemoryInventory struct {
	mu     sync.Mutex
	counts map[domain.InventoryKey]int
}

var _ port.InventoryStore = (*MemoryInventory)(nil)

func NewMemoryInventory() *MemoryInventory {
	return &MemoryInventory{counts: make(map[domain.InventoryKey]int)}
}

func (m *MemoryInventory) TryReserve(_ context.Context, storeID, productID string, quantity int) (port.ReserveResult, error) {
	if quantity < 1 {
		return port.ReserveResult{}, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := domain.InventoryKey{StoreID: storeID, ProductID: productID}
	current := m.counts[key]
	if current < 0 {
		return port.ReserveResult{}, fmt.Errorf("%w: %s/%s is %d", domain.ErrInvariantViolation, storeID, productID, current)
	}
	if current < quantity {
		return port.ReserveResult{Reserved: false, Available: current}, nil
	}
	m.counts[key] = current - quantity
	return port.ReserveResult{Reserved: true, Available: current - quantity}, nil
}

func (m *MemoryInventory) Release(_ context.Context, storeID, productID string, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[domain.InventoryKey{StoreID: storeID, ProductID: productID}] += quantity
	return nil
}

func (m *MemoryInventory) Peek(_ context.Context, storeID, productID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.counts[domain.InventoryKey{StoreID: storeID, ProductID: productID}]
	if n < 0 {
		return 0, fmt.Errorf("%w: %s/%s is %d", domain.ErrInvariantViolation, storeID, productID, n)
	}
	return n, nil
}

func (m *MemoryInventory) SetStock(_ context.Context, storeID, productID string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[domain.InventoryKey{StoreID: storeID, ProductID: productID}] = quantity
	return nil
}

// MemoryLedger is a process-local SaleLedger. Stored sales are copied on the
// way in and out so callers never share them.
type MemoryLedger struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Sale
	byToken map[string]string
}

var _ port.SaleLedger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byID:    make(map[string]*domain.Sale),
		byToken: make(map[string]string),
	}
}

func (m *MemoryLedger) Append(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.IdempotencyToken == "" || len(sale.Items) == 0 {
		return nil, fmt.Errorf("%w: sale without token or items", domain.ErrInvalidRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byToken[sale.IdempotencyToken]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateToken, sale.IdempotencyToken)
	}
	sale.ID = uuid.NewString()
	stored := cloneSale(&sale)
	m.byID[sale.ID] = stored
	m.byToken[sale.IdempotencyToken] = sale.ID
	return cloneSale(stored), nil
}

func (m *MemoryLedger) FindByIdempotencyToken(_ context.Context, token string) (*domain.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byToken[token]
	if !ok {
		return nil, nil
	}
	return cloneSale(m.byID[id]), nil
}

func (m *MemoryLedger) FindByID(_ context.Context, id string) (*domain.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sale, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSaleNotFound, id)
	}
	return cloneSale(sale), nil
}

func (m *MemoryLedger) MarkCancelled(_ context.Context, id, reason string, at time.Time) (*domain.Sale, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sale, ok := m.byID[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", domain.ErrSaleNotFound, id)
	}
	if sale.Cancelled() {
		return cloneSale(sale), false, nil
	}

	at = at.UTC()
	sale.Status = domain.SaleStatusCancelled
	sale.CancellationReason = reason
	sale.CancelledAt = &at
	sale.PendingRestock = domain.ReservedQuantities(sale.Items)
	return cloneSale(sale), true, nil
}

func (m *MemoryLedger) ClaimRestock(_ context.Context, id string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sale, ok := m.byID[id]
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

func (m *MemoryLedger) ReopenRestock(_ context.Context, id string, pending map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sale, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSaleNotFound, id)
	}
	if !sale.Cancelled() {
		return fmt.Errorf("%w: restock reopened on active sale %s", domain.ErrInvariantViolation, id)
	}
	sale.PendingRestock = mergeRestock(sale.PendingRestock, pending)
	return nil
}

// mergeRestock adds the quantities of extra to pending.
func mergeRestock(pending, extra map[string]int) map[string]int {
	if len(extra) == 0 {
		return pending
	}
	if pending == nil {
		pending = make(map[string]int, len(extra))
	}
	for id, q := range extra {
		pending[id] += q
	}
	return pending
}

// Len is the number of stored sales.
func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func cloneSale(s *domain.Sale) *domain.Sale {
	if s == nil {
		return nil
	}
	out := *s
	out.Items = append([]domain.CartLine(nil), s.Items...)
	if s.Customer != nil {
		c := *s.Customer
		out.Customer = &c
	}
	if s.Deadline != nil {
		d := *s.Deadline
		out.Deadline = &d
	}
	if s.CancelledAt != nil {
		c := *s.CancelledAt
		out.CancelledAt = &c
	}
	if s.PendingRestock != nil {
		out.PendingRestock = make(map[string]int, len(s.PendingRestock))
		for id, q := range s.PendingRestock {
			out.PendingRestock[id] = q
		}
	}
	return &out
}

// MemoryCatalog is a process-local Catalog.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

var _ port.Catalog = (*MemoryCatalog)(nil)

func NewMemoryCatalog(products ...domain.Product) *MemoryCatalog {
	c := &MemoryCatalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *MemoryCatalog) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[productID]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	return p, nil
}

func (c *MemoryCatalog) UpsertProduct(_ context.Context, p domain.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
	return nil
}

// DeleteProduct removes a product; committed sales keep their snapshot.
func (c *MemoryCatalog) DeleteProduct(_ context.Context, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, productID)
	return nil
}

// MemoryTokenGuard is a process-local TokenGuard.
type MemoryTokenGuard struct {
	mu   sync.Mutex
	held map[string]string
}

var _ port.TokenGuard = (*MemoryTokenGuard)(nil)

func NewMemoryTokenGuard() *MemoryTokenGuard {
	return &MemoryTokenGuard{held: make(map[string]string)}
}

func (g *MemoryTokenGuard) Acquire(_ context.Context, token, owner string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.held[token]; ok {
		return false, nil
	}
	g.held[token] = owner
	return true, nil
}

func (g *MemoryTokenGuard) Release(_ context.Context, token, owner string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[token] == owner {
		delete(g.held, token)
	}
	return nil
}
