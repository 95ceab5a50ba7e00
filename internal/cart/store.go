package cart

import (
	"context"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// UpdateFunc receives the current lines of a cart and returns the lines to
// store. Returning an empty slice deletes the cart. Returning an error
// aborts the update without writing.
type UpdateFunc func(lines []domain.CartLine) ([]domain.CartLine, error)

// Store persists carts keyed by owner. Implementations must apply Update
// atomically for a single owner.
type Store interface {
	Load(ctx context.Context, owner domain.CartOwner) ([]domain.CartLine, error)
	Update(ctx context.Context, owner domain.CartOwner, fn UpdateFunc) error
	// Take removes the cart and returns what it held. A missing cart yields nil.
	Take(ctx context.Context, owner domain.CartOwner) ([]domain.CartLine, error)
	Delete(ctx context.Context, owner domain.CartOwner) error
}
