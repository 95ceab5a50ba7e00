// Package sweep reconciles state that a crashed or abandoned checkout can
// leave behind.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
	"github.com/joao-fontenele/storefront-checkout/internal/orders"
	"github.com/joao-fontenele/storefront-checkout/internal/telemetry"
)

type Ledger interface {
	ListActiveBefore(ctx context.Context, before time.Time) ([]domain.Reservation, error)
	Release(ctx context.Context, reservationID string) error
	Commit(ctx context.Context, reservationID string) error
}

type Orders interface {
	Get(ctx context.Context, id string) (*domain.Order, error)
	ListStale(ctx context.Context, before time.Time) ([]domain.Order, error)
	Cancel(ctx context.Context, id, reason string, decision orders.RefundDecision) (*domain.Order, error)
}

type Config struct {
	// Grace is how long a reservation may stay active without a persisted order.
	Grace time.Duration
	// StaleAfter is how long an order may wait for payment before it is cancelled.
	StaleAfter time.Duration
	Interval   time.Duration
}

const staleReason = "payment not completed in time"

// Result counts what a single pass did.
type Result struct {
	Released  int
	Committed int
	Cancelled int
}

type Sweeper struct {
	ledger  Ledger
	orders  Orders
	cfg     Config
	logger  *slog.Logger
	tracer  trace.Tracer
	actions metric.Int64Counter
	now     func() time.Time
}

func New(ledger Ledger, orderService Orders, cfg Config, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	const scope = "storefront/sweep"
	return &Sweeper{
		ledger:  ledger,
		orders:  orderService,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer(scope),
		actions: telemetry.Counter(scope, "storefront.sweep.actions", "Reservations and orders repaired by the sweeper"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "sweeper started",
		"interval", s.cfg.Interval, "grace", s.cfg.Grace, "stale_after", s.cfg.StaleAfter)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce cancels stale orders first, so their reservations are returned
// through cancellation, then settles any reservation still left open past
// the grace window.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "sweep.SweepOnce")
	defer span.End()

	var res Result
	now := s.now()

	stale, err := s.orders.ListStale(ctx, now.Add(-s.cfg.StaleAfter))
	if err != nil {
		return res, err
	}
	for _, o := range stale {
		if _, err := s.orders.Cancel(ctx, o.ID, staleReason, orders.RefundUndecided); err != nil {
			s.logger.ErrorContext(ctx, "failed to cancel stale order", "error", err, "order_id", o.ID)
			continue
		}
		res.Cancelled++
		s.logger.InfoContext(ctx, "stale order cancelled", "order_id", o.ID, "order_number", o.Number, "created_at", o.CreatedAt)
	}

	reservations, err := s.ledger.ListActiveBefore(ctx, now.Add(-s.cfg.Grace))
	if err != nil {
		return res, err
	}
	for _, r := range reservations {
		s.settle(ctx, r, &res)
	}

	s.actions.Add(ctx, int64(res.Cancelled), metric.WithAttributes(attribute.String("action", "cancel_order")))
	s.actions.Add(ctx, int64(res.Released), metric.WithAttributes(attribute.String("action", "release")))
	s.actions.Add(ctx, int64(res.Committed), metric.WithAttributes(attribute.String("action", "commit")))
	span.SetAttributes(
		attribute.Int("sweep.cancelled", res.Cancelled),
		attribute.Int("sweep.released", res.Released),
		attribute.Int("sweep.committed", res.Committed),
	)
	return res, nil
}

// settle decides the fate of an old active reservation from its order:
// no order or an unpaid cancelled one releases it, a paid order commits it,
// an order still awaiting payment keeps it.
func (s *Sweeper) settle(ctx context.Context, r domain.Reservation, res *Result) {
	o, err := s.orders.Get(ctx, r.OrderID)
	if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
		s.logger.ErrorContext(ctx, "failed to load order for reservation", "error", err, "reservation_id", r.ID, "order_id", r.OrderID)
		return
	}

	paid := o != nil && (o.PaymentStatus == domain.PaymentPaid || o.PaymentStatus == domain.PaymentRefunded)
	switch {
	case o == nil, o.FulfillmentStatus == domain.FulfillmentCancelled && !paid:
		if err := s.ledger.Release(ctx, r.ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to release orphaned reservation", "error", err, "reservation_id", r.ID)
			return
		}
		res.Released++
		s.logger.InfoContext(ctx, "orphaned reservation released",
			"reservation_id", r.ID, "order_id", r.OrderID, "unit_id", r.UnitID, "quantity", r.Quantity)
	case paid:
		if err := s.ledger.Commit(ctx, r.ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to commit paid reservation", "error", err, "reservation_id", r.ID)
			return
		}
		res.Committed++
		s.logger.InfoContext(ctx, "paid reservation committed", "reservation_id", r.ID, "order_id", r.OrderID)
	}
}
