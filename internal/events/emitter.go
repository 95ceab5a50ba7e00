// Package events delivers order domain events to the notification
// collaborator. Delivery is fire-and-forget: emitters log failures and never
// return them to the transaction that produced the event.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

type Emitter interface {
	Emit(ctx context.Context, event domain.OrderEvent)
}

// LogEmitter only logs events. Used when no broker is configured.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(ctx context.Context, event domain.OrderEvent) {
	e.logger.InfoContext(ctx, "order event",
		"type", event.Type, "order_id", event.OrderID, "order_number", event.OrderNumber)
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (r *Recorder) Emit(_ context.Context, event domain.OrderEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *Recorder) Events() []domain.OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.OrderEvent(nil), r.events...)
}

// Count returns how many events of type t were emitted for the order.
func (r *Recorder) Count(t domain.EventType, orderID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t && e.OrderID == orderID {
			n++
		}
	}
	return n
}
