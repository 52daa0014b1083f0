package port

import "context"

// ReserveResult reports the outcome of a conditional decrement. Available is
// the counter value observed when the reservation was refused.
type ReserveResult struct {
	Reserved  bool
	Available int
}

type InventoryStore interface {
	// TryReserve atomically decrements (storeID, productID) by quantity only
	// if the counter holds at least quantity
	TryReserve(ctx context.Context, storeID, productID string, quantity int) (ReserveResult, error)

	// Release restores quantity (compensation for a reservation)
	Release(ctx context.Context, storeID, productID string, quantity int) error

	// Peek reads the counter for advisory checks; missing counters read as zero
	Peek(ctx context.Context, storeID, productID string) (int, error)
}

type TokenGuard interface {
	// Acquire claims token for one in-flight commit on behalf of owner,
	// returns false if already held
	Acquire(ctx context.Context, token, owner string) (bool, error)

	// Release frees the claim if owner still holds it
	Release(ctx context.Context, token, owner string) error
}
