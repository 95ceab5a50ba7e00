package orders

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

type MemoryStore struct {
	mu       sync.Mutex
	byID     map[string]*domain.Order
	byNumber map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*domain.Order),
		byNumber: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	if _, ok := s.byNumber[o.Number]; ok {
		return fmt.Errorf("order number %s already exists", o.Number)
	}
	s.byID[o.ID] = o.Clone()
	s.byNumber[o.Number] = o.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (s *MemoryStore) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	s.mu.Lock()
	id, ok := s.byNumber[number]
	s.mu.Unlock()
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) ListByOwner(_ context.Context, owner domain.CartOwner) ([]domain.Order, error) {
	return s.filter(func(o *domain.Order) bool {
		return o.Owner == owner || (owner.IsUser() && o.UserID == owner.ID)
	}), nil
}

func (s *MemoryStore) ListStale(_ context.Context, before time.Time) ([]domain.Order, error) {
	return s.filter(func(o *domain.Order) bool {
		return o.FulfillmentStatus == domain.FulfillmentPending &&
			o.PaymentStatus != domain.PaymentPaid &&
			o.CreatedAt.Before(before)
	}), nil
}

func (s *MemoryStore) filter(keep func(o *domain.Order) bool) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []domain.Order{}
	for _, o := range s.byID {
		if keep(o) {
			out = append(out, *o.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

func (s *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}

	next := current.Clone()
	changed, err := fn(next)
	if err != nil {
		return nil, err
	}
	if changed {
		s.byID[id] = next.Clone()
	}
	return s.byID[id].Clone(), nil
}
