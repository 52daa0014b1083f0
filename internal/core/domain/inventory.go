package domain

import "time"

// InventoryCounter is the stock held by one store for one product.
type InventoryCounter struct {
	StoreID   string
	ProductID string
	Quantity  int
	Version   int // optimistic locking
	UpdatedAt time.Time
}

// InventoryKey identifies an InventoryCounter.
type InventoryKey struct {
	StoreID   string
	ProductID string
}
