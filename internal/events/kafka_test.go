package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

type fakePublisher struct {
	mu    sync.Mutex
	calls []string
	err   error
	block chan struct{}
}

func (p *fakePublisher) Publish(_ context.Context, key, eventType string, _ any) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, eventType+"/"+key)
	return p.err
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKafkaEmitter_PublishesInOrder(t *testing.T) {
	pub := &fakePublisher{}
	e := NewKafkaEmitter(pub, discard(), 10, time.Second)

	e.Emit(context.Background(), domain.OrderEvent{Type: domain.EventOrderCreated, OrderID: "o1"})
	e.Emit(context.Background(), domain.OrderEvent{Type: domain.EventOrderPaid, OrderID: "o1"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Close(ctx))

	assert.Equal(t, []string{"OrderCreated/o1", "OrderPaid/o1"}, pub.published())
}

func TestKafkaEmitter_FailuresAreSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker unavailable")}
	e := NewKafkaEmitter(pub, discard(), 10, time.Second)

	e.Emit(context.Background(), domain.OrderEvent{Type: domain.EventOrderCancelled, OrderID: "o1"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Close(ctx))
	assert.Len(t, pub.published(), 1)
}

func TestKafkaEmitter_DropsWhenFull(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	e := NewKafkaEmitter(pub, discard(), 1, time.Second)

	for range 5 {
		e.Emit(context.Background(), domain.OrderEvent{Type: domain.EventOrderCreated, OrderID: "o"})
	}
	close(pub.block)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Close(ctx))

	// One in flight, one buffered; the rest were dropped.
	assert.LessOrEqual(t, len(pub.published()), 2)
}

func TestKafkaEmitter_EmitAfterClose(t *testing.T) {
	pub := &fakePublisher{}
	e := NewKafkaEmitter(pub, discard(), 10, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Close(ctx))
	require.NoError(t, e.Close(ctx))

	assert.NotPanics(t, func() {
		e.Emit(context.Background(), domain.OrderEvent{Type: domain.EventOrderPaid, OrderID: "late"})
	})
	assert.Empty(t, pub.published())
}

func TestRecorder_Count(t *testing.T) {
	var r Recorder
	r.Emit(context.Background(), domain.OrderEvent{Type: domain.EventOrderPaid, OrderID: "a"})
	r.Emit(context.Background(), domain.OrderEvent{Type: domain.EventOrderPaid, OrderID: "b"})

	assert.Equal(t, 1, r.Count(domain.EventOrderPaid, "a"))
	assert.Equal(t, 0, r.Count(domain.EventOrderCancelled, "a"))
	assert.Len(t, r.Events(), 2)
}
