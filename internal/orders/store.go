package orders

import (
	"context"
	"time"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// UpdateFunc mutates an order in place and reports whether it changed.
// Unchanged orders are not written back.
type UpdateFunc func(o *domain.Order) (bool, error)

// Store persists orders. Orders are never deleted; cancellation is a status.
type Store interface {
	Create(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id string) (*domain.Order, error)
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	ListByOwner(ctx context.Context, owner domain.CartOwner) ([]domain.Order, error)
	// ListStale returns orders still awaiting payment that were created before the cutoff.
	ListStale(ctx context.Context, before time.Time) ([]domain.Order, error)
	// Update applies fn under a per-order lock and returns the resulting order.
	Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Order, error)
}
