package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
	"github.com/joao-fontenele/storefront-checkout/internal/orders"
	"github.com/joao-fontenele/storefront-checkout/internal/telemetry"
)

const DefaultMaxAttempts = 3

// OrderService is the part of the order service the orchestrator drives.
type OrderService interface {
	Get(ctx context.Context, id string) (*domain.Order, error)
	Transition(ctx context.Context, id string, action orders.Action) (*domain.Order, bool, error)
	Cancel(ctx context.Context, id, reason string, decision orders.RefundDecision) (*domain.Order, error)
}

type Ledger interface {
	Commit(ctx context.Context, reservationID string) error
}

// Orchestrator bridges orders and the processor's intent lifecycle. It is
// the only writer of the PAID and FAILED payment statuses.
type Orchestrator struct {
	intents     IntentStore
	processor   Processor
	orders      OrderService
	ledger      Ledger
	events      orders.EventEmitter
	logger      *slog.Logger
	maxAttempts int

	inflight singleflight.Group
	tracer   trace.Tracer
	outcomes metric.Int64Counter
	now      func() time.Time
}

func NewOrchestrator(intents IntentStore, processor Processor, orderService OrderService, ledger Ledger, events orders.EventEmitter, maxAttempts int, logger *slog.Logger) *Orchestrator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Orchestrator{
		intents:     intents,
		processor:   processor,
		orders:      orderService,
		ledger:      ledger,
		events:      events,
		logger:      logger,
		maxAttempts: maxAttempts,
		tracer:      otel.Tracer("storefront/payment"),
		outcomes:    telemetry.Counter("storefront/payment", "storefront.payment.outcomes", "Settled payment intents by outcome"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateIntent opens a new payment attempt for a PENDING order. An order
// whose previous attempt failed is moved back to payment PENDING first.
func (o *Orchestrator) CreateIntent(ctx context.Context, orderID string) (*domain.PaymentIntent, error) {
	ctx, span := o.tracer.Start(ctx, "payment.CreateIntent", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	intent, err := o.createIntent(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.intent_id", intent.ID))
	return intent, nil
}

func (o *Orchestrator) createIntent(ctx context.Context, orderID string) (*domain.PaymentIntent, error) {
	order, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.FulfillmentStatus != domain.FulfillmentPending ||
		(order.PaymentStatus != domain.PaymentPending && order.PaymentStatus != domain.PaymentFailed) {
		return nil, &domain.TransitionError{Action: "create_intent", Fulfillment: order.FulfillmentStatus, Payment: order.PaymentStatus}
	}

	now := o.now()
	intent := &domain.PaymentIntent{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Amount:    order.Totals.Total,
		Currency:  order.Currency,
		Status:    domain.IntentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.intents.Create(ctx, intent); err != nil {
		return nil, fmt.Errorf("order %s: %w", order.ID, err)
	}

	if order.PaymentStatus == domain.PaymentFailed {
		if _, _, err := o.orders.Transition(ctx, order.ID, orders.ActionRetryPayment); err != nil {
			o.abandon(ctx, intent.ID, "order not retryable")
			return nil, err
		}
	}

	processorID, err := o.processor.CreateIntent(ctx, CreateRequest{
		IdempotencyKey: intent.ID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		Metadata: map[string]string{
			"order_id":     order.ID,
			"order_number": order.Number,
			"intent_id":    intent.ID,
		},
	})
	if err != nil {
		o.abandon(ctx, intent.ID, err.Error())
		return nil, fmt.Errorf("creating processor intent for order %s: %w", order.ID, err)
	}

	intent, err = o.intents.Update(ctx, intent.ID, func(in *domain.PaymentIntent) (bool, error) {
		in.ProcessorID = processorID
		in.UpdatedAt = o.now()
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "payment intent created",
		"intent_id", intent.ID, "order_id", order.ID, "processor_id", processorID, "amount", intent.Amount)
	return intent, nil
}

// abandon cancels an intent that never reached the processor so the order
// can open a new one.
func (o *Orchestrator) abandon(ctx context.Context, intentID, reason string) {
	_, err := o.intents.Update(context.WithoutCancel(ctx), intentID, func(in *domain.PaymentIntent) (bool, error) {
		if in.Status.IsTerminal() {
			return false, nil
		}
		in.Status = domain.IntentCanceled
		in.FailureReason = reason
		in.UpdatedAt = o.now()
		return true, nil
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to cancel payment intent", "error", err, "intent_id", intentID)
	}
}

// Confirm forwards the payment method to the processor and settles the
// result. Concurrent confirmations of one intent share a single processor
// call. Confirming an intent that already succeeded returns it unchanged.
func (o *Orchestrator) Confirm(ctx context.Context, intentID, methodRef string) (*domain.PaymentIntent, error) {
	ctx, span := o.tracer.Start(ctx, "payment.Confirm", trace.WithAttributes(attribute.String("payment.intent_id", intentID)))
	defer span.End()

	v, err, shared := o.inflight.Do(intentID, func() (any, error) {
		return o.confirm(context.WithoutCancel(ctx), intentID, methodRef)
	})
	span.SetAttributes(attribute.Bool("payment.shared", shared))

	intent, _ := v.(*domain.PaymentIntent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return intent, err
	}
	return intent, nil
}

func (o *Orchestrator) confirm(ctx context.Context, intentID, methodRef string) (*domain.PaymentIntent, error) {
	var claimed bool
	intent, err := o.intents.Update(ctx, intentID, func(in *domain.PaymentIntent) (bool, error) {
		if in.Status != domain.IntentPending || in.ProcessorID == "" {
			return false, nil
		}
		in.Status = domain.IntentProcessing
		in.MethodRef = methodRef
		in.UpdatedAt = o.now()
		claimed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if !claimed {
		switch intent.Status {
		case domain.IntentSucceeded:
			return o.settle(ctx, intent.ID, StatusSucceeded, "")
		case domain.IntentFailed:
			return intent, fmt.Errorf("%w: %s", domain.ErrProcessorRejected, intent.FailureReason)
		case domain.IntentCanceled:
			return intent, fmt.Errorf("intent %s is canceled: %w", intent.ID, domain.ErrInvalidTransition)
		default:
			// Another confirmation is in flight or the processor asked for more time.
			return intent, nil
		}
	}

	result, err := o.processor.Confirm(ctx, intent.ProcessorID, methodRef)
	switch {
	case errors.Is(err, domain.ErrProcessorRejected):
		result = Result{Status: StatusPaymentFailed, FailureReason: err.Error()}
	case err != nil:
		o.release(ctx, intent.ID)
		return intent, fmt.Errorf("confirming intent %s: %w", intent.ID, err)
	}

	return o.settle(ctx, intent.ID, result.Status, result.FailureReason)
}

// release puts a claimed intent back to pending after the processor could
// not be reached, so the caller may confirm again.
func (o *Orchestrator) release(ctx context.Context, intentID string) {
	_, err := o.intents.Update(ctx, intentID, func(in *domain.PaymentIntent) (bool, error) {
		if in.Status != domain.IntentProcessing {
			return false, nil
		}
		in.Status = domain.IntentPending
		in.UpdatedAt = o.now()
		return true, nil
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to reopen payment intent", "error", err, "intent_id", intentID)
	}
}

// HandleProcessorEvent applies an asynchronous status notification from the
// processor. Duplicate and out-of-order notifications are harmless.
func (o *Orchestrator) HandleProcessorEvent(ctx context.Context, processorID, status, reason string) (*domain.PaymentIntent, error) {
	intent, err := o.intents.GetByProcessorID(ctx, processorID)
	if err != nil {
		return nil, err
	}

	// Settled directly, never joined with an in-flight Confirm, so the
	// notified status is always applied.
	return o.settle(context.WithoutCancel(ctx), intent.ID, status, reason)
}

// settle records a processor outcome on the intent and drives the order.
// A terminal intent keeps its first outcome.
func (o *Orchestrator) settle(ctx context.Context, intentID, status, reason string) (*domain.PaymentIntent, error) {
	target := MapStatus(status)

	var changed bool
	intent, err := o.intents.Update(ctx, intentID, func(in *domain.PaymentIntent) (bool, error) {
		if in.Status.IsTerminal() || in.Status == target {
			return false, nil
		}
		in.Status = target
		in.FailureReason = reason
		in.UpdatedAt = o.now()
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	switch intent.Status {
	case domain.IntentSucceeded:
		if err := o.onSucceeded(ctx, intent); err != nil {
			return intent, err
		}
		return intent, nil
	case domain.IntentFailed:
		if changed {
			if err := o.onFailed(ctx, intent); err != nil {
				return intent, err
			}
		}
		return intent, fmt.Errorf("%w: %s", domain.ErrProcessorRejected, intent.FailureReason)
	default:
		return intent, nil
	}
}

// onSucceeded captures the order. Only the call that actually moved the
// order to PAID commits stock and emits OrderPaid.
func (o *Orchestrator) onSucceeded(ctx context.Context, intent *domain.PaymentIntent) error {
	order, applied, err := o.orders.Transition(ctx, intent.OrderID, orders.ActionCapturePayment)
	if errors.Is(err, domain.ErrInvalidTransition) {
		o.logger.ErrorContext(ctx, "payment succeeded for an order that can no longer be paid, refund required",
			"error", err, "intent_id", intent.ID, "order_id", intent.OrderID, "amount", intent.Amount)
		o.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "orphaned_capture")))
		return nil
	}
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	for _, ref := range order.Reservations {
		if err := o.ledger.Commit(ctx, ref.ID); err != nil {
			o.logger.ErrorContext(ctx, "failed to commit reservation",
				"error", err, "order_id", order.ID, "reservation_id", ref.ID)
		}
	}

	o.events.Emit(ctx, domain.NewOrderEvent(domain.EventOrderPaid, order, o.now()))
	o.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "paid")))
	o.logger.InfoContext(ctx, "order paid", "order_id", order.ID, "order_number", order.Number, "intent_id", intent.ID)
	return nil
}

// onFailed records the failure on the order and cancels it once the retry
// budget is spent. Reservations stay in place until then.
func (o *Orchestrator) onFailed(ctx context.Context, intent *domain.PaymentIntent) error {
	o.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))

	order, _, err := o.orders.Transition(ctx, intent.OrderID, orders.ActionPaymentFailed)
	if errors.Is(err, domain.ErrInvalidTransition) {
		o.logger.WarnContext(ctx, "payment failure for an order no longer awaiting payment",
			"intent_id", intent.ID, "order_id", intent.OrderID)
		return nil
	}
	if err != nil {
		return err
	}

	o.logger.InfoContext(ctx, "payment failed",
		"order_id", order.ID, "intent_id", intent.ID, "attempt", order.PaymentFailures, "reason", intent.FailureReason)

	if order.PaymentFailures < o.maxAttempts {
		return nil
	}

	reason := "payment failed " + strconv.Itoa(order.PaymentFailures) + " times"
	if _, err := o.orders.Cancel(ctx, order.ID, reason, orders.RefundUndecided); err != nil {
		return fmt.Errorf("cancelling order %s after payment failures: %w", order.ID, err)
	}
	o.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "cancelled")))
	return nil
}

func (o *Orchestrator) Get(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	return o.intents.Get(ctx, intentID)
}

func (o *Orchestrator) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentIntent, error) {
	return o.intents.ListByOrder(ctx, orderID)
}
