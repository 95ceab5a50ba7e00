package payment

import (
	"context"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// IntentUpdateFunc mutates an intent in place and reports whether it changed.
type IntentUpdateFunc func(in *domain.PaymentIntent) (bool, error)

// IntentStore persists payment intents as an append-only history per order.
// Create fails with domain.ErrDuplicateIntent while another intent of the
// same order is not terminal.
type IntentStore interface {
	Create(ctx context.Context, in *domain.PaymentIntent) error
	Get(ctx context.Context, id string) (*domain.PaymentIntent, error)
	GetByProcessorID(ctx context.Context, processorID string) (*domain.PaymentIntent, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentIntent, error)
	Update(ctx context.Context, id string, fn IntentUpdateFunc) (*domain.PaymentIntent, error)
}
