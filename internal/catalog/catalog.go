// Package catalog adapts the catalog collaborator, the read-only oracle for
// current unit prices and tracking flags.
package catalog

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// Catalog resolves units by id. Lookup fails with domain.ErrUnitNotFound
// when any requested unit is unknown.
type Catalog interface {
	Lookup(ctx context.Context, ids []domain.UnitID) (map[domain.UnitID]domain.SellableUnit, error)
}

func missingError(ids []domain.UnitID, found map[domain.UnitID]domain.SellableUnit) error {
	var missing []domain.UnitID
	for _, id := range ids {
		if _, ok := found[id]; !ok && !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %v", domain.ErrUnitNotFound, missing)
}

// Static serves a fixed set of units. Used for local runs and tests.
type Static struct {
	mu    sync.RWMutex
	units map[domain.UnitID]domain.SellableUnit
}

func NewStatic(units ...domain.SellableUnit) *Static {
	s := &Static{units: make(map[domain.UnitID]domain.SellableUnit, len(units))}
	for _, u := range units {
		s.units[u.ID] = u
	}
	return s
}

// Set adds or reprices a unit.
func (s *Static) Set(u domain.SellableUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[u.ID] = u
}

func (s *Static) Lookup(_ context.Context, ids []domain.UnitID) (map[domain.UnitID]domain.SellableUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.UnitID]domain.SellableUnit, len(ids))
	for _, id := range ids {
		if u, ok := s.units[id]; ok {
			out[id] = u
		}
	}
	if err := missingError(ids, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseStatic builds a Static catalog from a comma separated list of
// id:price entries. A third field "untracked" marks units that hold no stock.
func ParseStatic(spec string) (*Static, error) {
	s := NewStatic()
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
			return nil, fmt.Errorf("catalog entry %q: want id:price[:untracked]", entry)
		}
		price, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || price < 0 {
			return nil, fmt.Errorf("catalog entry %q: invalid price", entry)
		}

		unit := domain.SellableUnit{ID: domain.UnitID(parts[0]), Price: price, Tracked: true}
		if len(parts) == 3 {
			if parts[2] != "untracked" {
				return nil, fmt.Errorf("catalog entry %q: unknown flag %q", entry, parts[2])
			}
			unit.Tracked = false
		}
		s.Set(unit)
	}
	return s, nil
}
