package inventory

import (
	"context"
	"time"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// Ledger is the single source of truth for available quantity per unit.
// All mutations of a unit are serialized; different units never block each other.
// A failed Reserve returns a *domain.StockError, which matches domain.ErrInsufficientStock.
type Ledger interface {
	Reserve(ctx context.Context, orderID string, unitID domain.UnitID, quantity int) (*domain.Reservation, error)
	// Release is idempotent for already released reservations.
	Release(ctx context.Context, reservationID string) error
	// Commit is idempotent for already committed reservations.
	Commit(ctx context.Context, reservationID string) error
	Adjust(ctx context.Context, unitID domain.UnitID, delta int) (*domain.StockLevel, error)
	GetStock(ctx context.Context, unitID domain.UnitID) (*domain.StockLevel, error)
	ListAll(ctx context.Context) ([]domain.StockLevel, error)
	ListActiveBefore(ctx context.Context, before time.Time) ([]domain.Reservation, error)
}
