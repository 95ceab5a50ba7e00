package inventory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

type unitEntry struct {
	mu    sync.Mutex
	stock domain.StockLevel
}

// MemoryLedger keeps stock in process. Each unit has its own mutex, so
// reservations on disjoint units proceed in parallel.
type MemoryLedger struct {
	mu    sync.RWMutex
	units map[domain.UnitID]*unitEntry

	resMu        sync.Mutex
	reservations map[string]*domain.Reservation

	now func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		units:        make(map[domain.UnitID]*unitEntry),
		reservations: make(map[string]*domain.Reservation),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; used by tests and the sweeper's grace window checks.
func (l *MemoryLedger) WithClock(now func() time.Time) *MemoryLedger {
	l.now = now
	return l
}

func (l *MemoryLedger) entry(unitID domain.UnitID, create bool) *unitEntry {
	l.mu.RLock()
	e, ok := l.units[unitID]
	l.mu.RUnlock()
	if ok || !create {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.units[unitID]; ok {
		return e
	}
	e = &unitEntry{stock: domain.StockLevel{UnitID: unitID}}
	l.units[unitID] = e
	return e
}

func (l *MemoryLedger) Reserve(ctx context.Context, orderID string, unitID domain.UnitID, quantity int) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := l.entry(unitID, false)
	if e == nil {
		return nil, &domain.StockError{Units: []domain.UnitID{unitID}}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stock.Available < quantity {
		return nil, &domain.StockError{Units: []domain.UnitID{unitID}}
	}

	now := l.now()
	e.stock.Available -= quantity
	e.stock.Reserved += quantity
	e.stock.Version++
	e.stock.UpdatedAt = now

	res := &domain.Reservation{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		UnitID:    unitID,
		Quantity:  quantity,
		Status:    domain.ReservationActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	l.resMu.Lock()
	l.reservations[res.ID] = res
	l.resMu.Unlock()

	out := *res
	return &out, nil
}

func (l *MemoryLedger) lookup(reservationID string) (domain.UnitID, error) {
	l.resMu.Lock()
	defer l.resMu.Unlock()
	res, ok := l.reservations[reservationID]
	if !ok {
		return "", domain.ErrReservationNotFound
	}
	return res.UnitID, nil
}

// close moves an active reservation to status and applies the stock effect
// under the unit lock. Closing to the status it already has is a no-op.
func (l *MemoryLedger) close(reservationID string, status domain.ReservationStatus) error {
	unitID, err := l.lookup(reservationID)
	if err != nil {
		return err
	}

	e := l.entry(unitID, false)
	e.mu.Lock()
	defer e.mu.Unlock()

	l.resMu.Lock()
	res := l.reservations[reservationID]
	current := res.Status
	if current == domain.ReservationActive {
		res.Status = status
		res.UpdatedAt = l.now()
	}
	l.resMu.Unlock()

	switch current {
	case status:
		return nil
	case domain.ReservationActive:
	default:
		return fmt.Errorf("%w: %s is %s", domain.ErrReservationClosed, reservationID, current)
	}

	if status == domain.ReservationReleased {
		e.stock.Available += res.Quantity
	}
	e.stock.Reserved -= res.Quantity
	e.stock.Version++
	e.stock.UpdatedAt = l.now()
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, reservationID string) error {
	return l.close(reservationID, domain.ReservationReleased)
}

func (l *MemoryLedger) Commit(_ context.Context, reservationID string) error {
	return l.close(reservationID, domain.ReservationCommitted)
}

func (l *MemoryLedger) Adjust(_ context.Context, unitID domain.UnitID, delta int) (*domain.StockLevel, error) {
	e := l.entry(unitID, delta >= 0)
	if e == nil {
		return nil, &domain.StockError{Units: []domain.UnitID{unitID}}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stock.Available+delta < 0 {
		return nil, &domain.StockError{Units: []domain.UnitID{unitID}}
	}
	e.stock.Available += delta
	e.stock.Version++
	e.stock.UpdatedAt = l.now()

	out := e.stock
	return &out, nil
}

func (l *MemoryLedger) GetStock(_ context.Context, unitID domain.UnitID) (*domain.StockLevel, error) {
	e := l.entry(unitID, false)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.stock
	return &out, nil
}

func (l *MemoryLedger) ListAll(_ context.Context) ([]domain.StockLevel, error) {
	l.mu.RLock()
	entries := make([]*unitEntry, 0, len(l.units))
	for _, e := range l.units {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	items := make([]domain.StockLevel, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		items = append(items, e.stock)
		e.mu.Unlock()
	}
	slices.SortFunc(items, func(a, b domain.StockLevel) int {
		return strings.Compare(string(a.UnitID), string(b.UnitID))
	})
	return items, nil
}

func (l *MemoryLedger) ListActiveBefore(_ context.Context, before time.Time) ([]domain.Reservation, error) {
	l.resMu.Lock()
	defer l.resMu.Unlock()

	var out []domain.Reservation
	for _, res := range l.reservations {
		if res.Status == domain.ReservationActive && res.CreatedAt.Before(before) {
			out = append(out, *res)
		}
	}
	slices.SortFunc(out, func(a, b domain.Reservation) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}
