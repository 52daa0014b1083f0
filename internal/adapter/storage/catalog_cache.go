package storage

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
	"github.com/Chrimika/electro-shop-control/internal/port"
)

type cachedProduct struct {
	product   domain.Product
	expiresAt time.Time
}

// CachedCatalog is a cache-aside wrapper around a Catalog. Concurrent misses
// for the same product collapse into one upstream read. Prices are only a
// cart-line default, so a short staleness window is acceptable.
type CachedCatalog struct {
	next  port.Catalog
	ttl   time.Duration
	group singleflight.Group

	mu    sync.RWMutex
	items map[string]cachedProduct
}

var _ port.Catalog = (*CachedCatalog)(nil)

func NewCachedCatalog(next port.Catalog, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{
		next:  next,
		ttl:   ttl,
		items: make(map[string]cachedProduct),
	}
}

func (c *CachedCatalog) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if p, ok := c.get(productID); ok {
		return p, nil
	}

	v, err, _ := c.group.Do(productID, func() (interface{}, error) {
		if p, ok := c.get(productID); ok {
			return p, nil
		}
		p, err := c.next.GetProduct(ctx, productID)
		if err != nil {
			return domain.Product{}, err
		}
		c.set(p)
		return p, nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return v.(domain.Product), nil
}

// Invalidate drops a cached product, e.g. after a price change.
func (c *CachedCatalog) Invalidate(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, productID)
}

func (c *CachedCatalog) get(productID string) (domain.Product, bool) {
	c.mu.RLock()
	item, ok := c.items[productID]
	c.mu.RUnlock()
	if !ok || time.Now().After(item.expiresAt) {
		return domain.Product{}, false
	}
	return item.product, true
}

func (c *CachedCatalog) set(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[p.ID] = cachedProduct{product: p, expiresAt: time.Now().Add(c.ttl)}
}
