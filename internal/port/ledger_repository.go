package port

import (
	"context"
	"time"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
)

type SaleLedger interface {
	// FindByIdempotencyToken returns nil, nil when no sale carries token
	FindByIdempotencyToken(ctx context.Context, token string) (*domain.Sale, error)

	// Append persists a new sale and assigns its ID. Returns domain.ErrDuplicateToken
	// if a sale with the same idempotency token exists
	Append(ctx context.Context, sale domain.Sale) (*domain.Sale, error)

	// FindByID returns domain.ErrSaleNotFound for unknown ids
	FindByID(ctx context.Context, id string) (*domain.Sale, error)

	// MarkCancelled moves a non-cancelled sale to cancelled and records its
	// reserved quantities as pending restock in the same write. changed is
	// false when the sale was already cancelled
	MarkCancelled(ctx context.Context, id, reason string, at time.Time) (sale *domain.Sale, changed bool, err error)

	// ClaimRestock takes and clears the pending restock of a sale. It returns
	// an empty map when nothing is pending; two callers never get the same
	// quantities
	ClaimRestock(ctx context.Context, id string) (map[string]int, error)

	// ReopenRestock adds quantities that could not be returned to stock back
	// to the pending restock of a sale
	ReopenRestock(ctx context.Context, id string, pending map[string]int) error
}
