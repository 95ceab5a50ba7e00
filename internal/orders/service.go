package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// Ledger is the slice of the inventory ledger that order cancellation needs.
type Ledger interface {
	Release(ctx context.Context, reservationID string) error
	Adjust(ctx context.Context, unitID domain.UnitID, delta int) (*domain.StockLevel, error)
}

// EventEmitter delivers domain events. Delivery failures are the emitter's
// concern and never reach the caller.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.OrderEvent)
}

// RefundDecision is made by the payment collaborator when a paid order is
// cancelled. This service only records it.
type RefundDecision string

const (
	RefundUndecided RefundDecision = ""
	RefundIssued    RefundDecision = "issued"
	RefundDeclined  RefundDecision = "declined"
)

type Service struct {
	store  Store
	ledger Ledger
	events EventEmitter
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewService(store Store, ledger Ledger, events EventEmitter, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
		events: events,
		logger: logger,
		tracer: otel.Tracer("storefront/orders"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return s.store.GetByNumber(ctx, number)
}

func (s *Service) ListByOwner(ctx context.Context, owner domain.CartOwner) ([]domain.Order, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	return s.store.ListByOwner(ctx, owner)
}

// ListStale returns orders created before the cutoff that are still waiting for payment.
func (s *Service) ListStale(ctx context.Context, before time.Time) ([]domain.Order, error) {
	return s.store.ListStale(ctx, before)
}

// Transition applies a single action. The boolean reports whether the order
// changed; a repeated action that already took effect returns false and no error.
func (s *Service) Transition(ctx context.Context, id string, action Action) (*domain.Order, bool, error) {
	var applied bool
	o, err := s.store.Update(ctx, id, func(o *domain.Order) (bool, error) {
		changed, err := Apply(o, action, s.now())
		applied = changed
		return changed, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("%s on order %s: %w", action, id, err)
	}

	if applied {
		s.logger.InfoContext(ctx, "order transitioned",
			"order_id", o.ID, "action", action,
			"fulfillment_status", o.FulfillmentStatus, "payment_status", o.PaymentStatus)
	}
	return o, applied, nil
}

var fulfillmentActions = map[domain.FulfillmentStatus]Action{
	domain.FulfillmentProcessing: ActionStartProcessing,
	domain.FulfillmentShipped:    ActionShip,
	domain.FulfillmentDelivered:  ActionDeliver,
}

// AdvanceFulfillment moves a paid order along PROCESSING, SHIPPED, DELIVERED.
func (s *Service) AdvanceFulfillment(ctx context.Context, id string, target domain.FulfillmentStatus) (*domain.Order, error) {
	action, ok := fulfillmentActions[target]
	if !ok {
		o, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &domain.TransitionError{Action: "advance to " + string(target), Fulfillment: o.FulfillmentStatus, Payment: o.PaymentStatus}
	}

	o, _, err := s.Transition(ctx, id, action)
	return o, err
}

// Cancel moves the order to CANCELLED and gives its stock back. Reservations
// of an unpaid order are released; stock of a paid order was already
// committed and is restocked. A paid order needs a refund decision.
// Cancelling an already cancelled order changes nothing.
func (s *Service) Cancel(ctx context.Context, id, reason string, decision RefundDecision) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.Cancel", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.refund_decision", string(decision)),
	))
	defer span.End()

	var (
		cancelled bool
		wasPaid   bool
	)
	o, err := s.store.Update(ctx, id, func(o *domain.Order) (bool, error) {
		if o.FulfillmentStatus == domain.FulfillmentConfirmed && decision == RefundUndecided {
			return false, domain.ErrRefundDecisionRequired
		}

		wasPaid = o.FulfillmentStatus == domain.FulfillmentConfirmed
		now := s.now()
		changed, err := Apply(o, ActionCancel, now)
		if err != nil || !changed {
			return false, err
		}

		o.CancelReason = reason
		if wasPaid && decision == RefundIssued {
			if _, err := Apply(o, ActionRefund, now); err != nil {
				return false, err
			}
		}
		cancelled = true
		return true, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("cancel order %s: %w", id, err)
	}
	if !cancelled {
		return o, nil
	}

	// The order is cancelled at this point; stock and notification run
	// detached from the request.
	ctx = context.WithoutCancel(ctx)
	s.returnStock(ctx, o, wasPaid)
	s.events.Emit(ctx, domain.NewOrderEvent(domain.EventOrderCancelled, o, s.now()))

	s.logger.InfoContext(ctx, "order cancelled",
		"order_id", o.ID, "order_number", o.Number, "reason", reason,
		"refund_decision", decision, "payment_status", o.PaymentStatus)
	return o, nil
}

func (s *Service) returnStock(ctx context.Context, o *domain.Order, committed bool) {
	for _, ref := range o.Reservations {
		if !committed {
			err := s.ledger.Release(ctx, ref.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, domain.ErrReservationClosed) {
				s.logger.ErrorContext(ctx, "failed to release reservation",
					"error", err, "order_id", o.ID, "reservation_id", ref.ID)
				continue
			}
			// Committed by a capture that raced the cancellation.
		}

		if _, err := s.ledger.Adjust(ctx, ref.UnitID, ref.Quantity); err != nil {
			s.logger.ErrorContext(ctx, "failed to restock cancelled order",
				"error", err, "order_id", o.ID, "unit_id", ref.UnitID, "quantity", ref.Quantity)
		}
	}
}
