package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// Publisher is satisfied by *messaging.Producer.
type Publisher interface {
	Publish(ctx context.Context, key, eventType string, event any) error
}

type queued struct {
	span  trace.SpanContext
	event domain.OrderEvent
}

// KafkaEmitter queues events and publishes them from a background goroutine
// so a slow broker never delays checkout or settlement. Events that do not
// fit in the queue are dropped and logged.
type KafkaEmitter struct {
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan queued
	done   chan struct{}
}

func NewKafkaEmitter(publisher Publisher, logger *slog.Logger, buffer int, timeout time.Duration) *KafkaEmitter {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	e := &KafkaEmitter{
		publisher: publisher,
		logger:    logger,
		timeout:   timeout,
		queue:     make(chan queued, buffer),
		done:      make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *KafkaEmitter) Emit(ctx context.Context, event domain.OrderEvent) {
	item := queued{span: trace.SpanContextFromContext(ctx), event: event}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.logger.WarnContext(ctx, "event emitter closed, dropping event",
			"type", event.Type, "order_id", event.OrderID)
		return
	}
	select {
	case e.queue <- item:
	default:
		e.logger.ErrorContext(ctx, "event queue full, dropping event",
			"type", event.Type, "order_id", event.OrderID)
	}
}

func (e *KafkaEmitter) run() {
	defer close(e.done)
	for item := range e.queue {
		ctx := trace.ContextWithSpanContext(context.Background(), item.span)
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		err := e.publisher.Publish(ctx, item.event.OrderID, string(item.event.Type), item.event)
		cancel()
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to publish order event",
				"error", err, "type", item.event.Type, "order_id", item.event.OrderID)
			continue
		}
		e.logger.DebugContext(ctx, "order event published",
			"type", item.event.Type, "order_id", item.event.OrderID)
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
// Events emitted after Close are dropped.
func (e *KafkaEmitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
