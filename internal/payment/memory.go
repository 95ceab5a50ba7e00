package payment

import (
	"context"
	"slices"
	"sync"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

type MemoryIntentStore struct {
	mu      sync.Mutex
	intents map[string]*domain.PaymentIntent
	byOrder map[string][]string
}

func NewMemoryIntentStore() *MemoryIntentStore {
	return &MemoryIntentStore{
		intents: make(map[string]*domain.PaymentIntent),
		byOrder: make(map[string][]string),
	}
}

func (s *MemoryIntentStore) Create(_ context.Context, in *domain.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byOrder[in.OrderID] {
		if !s.intents[id].Status.IsTerminal() {
			return domain.ErrDuplicateIntent
		}
	}

	c := *in
	s.intents[in.ID] = &c
	s.byOrder[in.OrderID] = append(s.byOrder[in.OrderID], in.ID)
	return nil
}

func (s *MemoryIntentStore) Get(_ context.Context, id string) (*domain.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.intents[id]
	if !ok {
		return nil, domain.ErrIntentNotFound
	}
	c := *in
	return &c, nil
}

func (s *MemoryIntentStore) GetByProcessorID(_ context.Context, processorID string) (*domain.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range s.intents {
		if processorID != "" && in.ProcessorID == processorID {
			c := *in
			return &c, nil
		}
	}
	return nil, domain.ErrIntentNotFound
}

func (s *MemoryIntentStore) ListByOrder(_ context.Context, orderID string) ([]domain.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.PaymentIntent, 0, len(s.byOrder[orderID]))
	for _, id := range s.byOrder[orderID] {
		out = append(out, *s.intents[id])
	}
	slices.SortStableFunc(out, func(a, b domain.PaymentIntent) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *MemoryIntentStore) Update(_ context.Context, id string, fn IntentUpdateFunc) (*domain.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.intents[id]
	if !ok {
		return nil, domain.ErrIntentNotFound
	}

	next := *current
	changed, err := fn(&next)
	if err != nil {
		return nil, err
	}
	if changed {
		*current = next
	}
	c := *current
	return &c, nil
}
