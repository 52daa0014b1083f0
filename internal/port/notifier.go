package port

import (
	"context"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
)

type Notifier interface {
	PublishSaleCommitted(ctx context.Context, event domain.SaleCommitted) error
}
