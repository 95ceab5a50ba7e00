package cart

import (
	"context"
	"slices"
	"sync"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

type MemoryStore struct {
	mu    sync.Mutex
	carts map[string][]domain.CartLine
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string][]domain.CartLine)}
}

func (s *MemoryStore) Load(_ context.Context, owner domain.CartOwner) ([]domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.carts[owner.Key()]), nil
}

func (s *MemoryStore) Update(_ context.Context, owner domain.CartOwner, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(slices.Clone(s.carts[owner.Key()]))
	if err != nil {
		return err
	}
	if len(next) == 0 {
		delete(s.carts, owner.Key())
		return nil
	}
	s.carts[owner.Key()] = slices.Clone(next)
	return nil
}

func (s *MemoryStore) Take(_ context.Context, owner domain.CartOwner) ([]domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, ok := s.carts[owner.Key()]
	if !ok {
		return nil, nil
	}
	delete(s.carts, owner.Key())
	return lines, nil
}

func (s *MemoryStore) Delete(_ context.Context, owner domain.CartOwner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, owner.Key())
	return nil
}
