package port

import (
	"context"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
)

type Catalog interface {
	// GetProduct returns domain.ErrProductNotFound for unknown ids
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
}
