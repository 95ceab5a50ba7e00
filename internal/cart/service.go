package cart

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// Service applies cart operations. It never consults inventory; availability
// is checked at checkout.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) update(ctx context.Context, owner domain.CartOwner, fn UpdateFunc) ([]domain.CartLine, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var result []domain.CartLine
	err := s.store.Update(ctx, owner, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		next, err := fn(lines)
		if err != nil {
			return nil, err
		}
		result = next
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(result), nil
}

// AddLine increases the quantity of an existing line or appends a new one.
func (s *Service) AddLine(ctx context.Context, owner domain.CartOwner, unitID domain.UnitID, quantity int) ([]domain.CartLine, error) {
	if quantity <= 0 || unitID == "" {
		return nil, fmt.Errorf("%w: %d of %q", domain.ErrInvalidQuantity, quantity, unitID)
	}

	lines, err := s.update(ctx, owner, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		return addTo(lines, unitID, quantity, s.now()), nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "cart line added", "owner", owner.String(), "unit_id", unitID, "quantity", quantity)
	return lines, nil
}

// UpdateLine sets the absolute quantity of a line. Zero removes it.
func (s *Service) UpdateLine(ctx context.Context, owner domain.CartOwner, unitID domain.UnitID, quantity int) ([]domain.CartLine, error) {
	if quantity < 0 || unitID == "" {
		return nil, fmt.Errorf("%w: %d of %q", domain.ErrInvalidQuantity, quantity, unitID)
	}
	if quantity == 0 {
		return s.RemoveLine(ctx, owner, unitID)
	}

	return s.update(ctx, owner, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		i := slices.IndexFunc(lines, func(l domain.CartLine) bool { return l.UnitID == unitID })
		if i < 0 {
			return append(lines, domain.CartLine{UnitID: unitID, Quantity: quantity, AddedAt: s.now()}), nil
		}
		lines[i].Quantity = quantity
		return lines, nil
	})
}

func (s *Service) RemoveLine(ctx context.Context, owner domain.CartOwner, unitID domain.UnitID) ([]domain.CartLine, error) {
	return s.update(ctx, owner, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		return slices.DeleteFunc(lines, func(l domain.CartLine) bool { return l.UnitID == unitID }), nil
	})
}

// Merge folds the session cart into the user cart and discards it. The
// session cart is taken atomically first, so a replayed merge finds nothing
// left to add.
func (s *Service) Merge(ctx context.Context, session, user domain.CartOwner) ([]domain.CartLine, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if session.IsUser() || !user.IsUser() {
		return nil, fmt.Errorf("%w: merge goes from a session into a user", domain.ErrInvalidOwner)
	}

	taken, err := s.store.Take(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("taking session cart: %w", err)
	}

	if len(taken) == 0 {
		return s.Snapshot(ctx, user)
	}

	lines, err := s.update(ctx, user, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		for _, l := range taken {
			lines = addTo(lines, l.UnitID, l.Quantity, l.AddedAt)
		}
		return lines, nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to merge session cart, session lines dropped",
			"error", err, "session", session.String(), "user", user.String(), "lines", len(taken))
		return nil, fmt.Errorf("merging into user cart: %w", err)
	}

	s.logger.InfoContext(ctx, "session cart merged", "session", session.String(), "user", user.String(), "lines", len(taken))
	return lines, nil
}

// Snapshot returns the lines in insertion order.
func (s *Service) Snapshot(ctx context.Context, owner domain.CartOwner) ([]domain.CartLine, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	lines, err := s.store.Load(ctx, owner)
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return lines, nil
}

func (s *Service) Clear(ctx context.Context, owner domain.CartOwner) error {
	return s.store.Delete(ctx, owner)
}

// Deduct removes the quantities of a checked-out snapshot from the cart.
// Lines added or raised after the snapshot keep the difference.
func (s *Service) Deduct(ctx context.Context, owner domain.CartOwner, bought []domain.CartLine) error {
	_, err := s.update(ctx, owner, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		for _, b := range bought {
			i := slices.IndexFunc(lines, func(l domain.CartLine) bool { return l.UnitID == b.UnitID })
			if i < 0 {
				continue
			}
			lines[i].Quantity -= b.Quantity
		}
		return slices.DeleteFunc(lines, func(l domain.CartLine) bool { return l.Quantity <= 0 }), nil
	})
	return err
}

func addTo(lines []domain.CartLine, unitID domain.UnitID, quantity int, at time.Time) []domain.CartLine {
	i := slices.IndexFunc(lines, func(l domain.CartLine) bool { return l.UnitID == unitID })
	if i >= 0 {
		lines[i].Quantity += quantity
		return lines
	}
	return append(lines, domain.CartLine{UnitID: unitID, Quantity: quantity, AddedAt: at})
}
