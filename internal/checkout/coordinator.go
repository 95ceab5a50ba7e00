package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/storefront-checkout/internal/catalog"
	"github.com/joao-fontenele/storefront-checkout/internal/domain"
	"github.com/joao-fontenele/storefront-checkout/internal/orders"
	"github.com/joao-fontenele/storefront-checkout/internal/telemetry"
)

type Cart interface {
	Snapshot(ctx context.Context, owner domain.CartOwner) ([]domain.CartLine, error)
	Deduct(ctx context.Context, owner domain.CartOwner, bought []domain.CartLine) error
}

type Ledger interface {
	Reserve(ctx context.Context, orderID string, unitID domain.UnitID, quantity int) (*domain.Reservation, error)
	Release(ctx context.Context, reservationID string) error
}

type OrderStore interface {
	Create(ctx context.Context, o *domain.Order) error
}

type Payments interface {
	CreateIntent(ctx context.Context, orderID string) (*domain.PaymentIntent, error)
	Confirm(ctx context.Context, intentID, methodRef string) (*domain.PaymentIntent, error)
}

type Request struct {
	Owner            domain.CartOwner
	Email            string
	ShippingAddress  domain.Address
	BillingAddress   domain.Address
	Tax              int64
	Shipping         int64
	Discount         int64
	PaymentMethodRef string
}

// Receipt is returned once the order exists. Intent is nil when the payment
// step failed; the order then stays PENDING and payment can be retried.
type Receipt struct {
	Order  *domain.Order         `json:"order"`
	Intent *domain.PaymentIntent `json:"payment_intent,omitempty"`
}

// Coordinator runs checkout: reserve stock, snapshot prices, persist the
// order, clear the cart and open payment. Until the order is persisted any
// failure, including cancellation of ctx, releases every reservation taken.
type Coordinator struct {
	cart     Cart
	catalog  catalog.Catalog
	ledger   Ledger
	orders   OrderStore
	payments Payments
	events   orders.EventEmitter
	numbers  *snowflake.Node
	currency string
	logger   *slog.Logger

	tracer   trace.Tracer
	outcomes metric.Int64Counter
	short    metric.Int64Counter
	duration metric.Float64Histogram
	now      func() time.Time
}

type Config struct {
	Currency string
	// NodeID distinguishes order number generators across instances (0-1023).
	NodeID int64
}

func NewCoordinator(cfg Config, cart Cart, cat catalog.Catalog, ledger Ledger, store OrderStore, payments Payments, events orders.EventEmitter, logger *slog.Logger) (*Coordinator, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("order number generator: %w", err)
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}

	const scope = "storefront/checkout"
	return &Coordinator{
		cart:     cart,
		catalog:  cat,
		ledger:   ledger,
		orders:   store,
		payments: payments,
		events:   events,
		numbers:  node,
		currency: cfg.Currency,
		logger:   logger,
		tracer:   otel.Tracer(scope),
		outcomes: telemetry.Counter(scope, "storefront.checkout.outcomes", "Checkout attempts by outcome"),
		short:    telemetry.Counter(scope, "storefront.checkout.reservation_failures", "Units that could not be reserved"),
		duration: telemetry.Histogram(scope, "storefront.checkout.duration", "Checkout latency", "s"),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (c *Coordinator) Checkout(ctx context.Context, req Request) (*Receipt, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "checkout.Checkout", trace.WithAttributes(attribute.String("cart.owner", req.Owner.Key())))
	defer span.End()

	receipt, err := c.checkout(ctx, req)

	outcome := outcomeOf(receipt, err)
	c.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	c.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	span.SetAttributes(attribute.String("checkout.outcome", outcome))
	if receipt != nil {
		span.SetAttributes(attribute.String("order.id", receipt.Order.ID), attribute.String("order.number", receipt.Order.Number))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return receipt, err
}

func outcomeOf(receipt *Receipt, err error) string {
	switch {
	case err == nil:
		return "created"
	case receipt != nil:
		return "created_payment_pending"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func (c *Coordinator) checkout(ctx context.Context, req Request) (*Receipt, error) {
	if err := req.Owner.Validate(); err != nil {
		return nil, err
	}

	lines, err := c.cart.Snapshot(ctx, req.Owner)
	if err != nil {
		return nil, fmt.Errorf("reading cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	ids := make([]domain.UnitID, len(lines))
	for i, l := range lines {
		ids[i] = l.UnitID
	}
	units, err := c.catalog.Lookup(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("looking up cart units: %w", err)
	}

	orderID := uuid.NewString()
	refs, err := c.reserve(ctx, orderID, lines, units)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		c.rollback(ctx, orderID, refs)
		return nil, err
	}

	order := c.buildOrder(orderID, req, lines, units, refs)
	if err := c.orders.Create(ctx, order); err != nil {
		c.rollback(ctx, orderID, refs)
		return nil, fmt.Errorf("persisting order: %w", err)
	}

	// From here on the order exists; losing the request must not lose it.
	ctx = context.WithoutCancel(ctx)
	c.logger.InfoContext(ctx, "order created",
		"order_id", order.ID, "order_number", order.Number, "owner", req.Owner.String(),
		"lines", len(order.Lines), "total", order.Totals.Total)

	if err := c.cart.Deduct(ctx, req.Owner, lines); err != nil {
		c.logger.ErrorContext(ctx, "failed to clear checked-out lines from cart", "error", err, "owner", req.Owner.String())
	}
	c.events.Emit(ctx, domain.NewOrderEvent(domain.EventOrderCreated, order, c.now()))

	receipt := &Receipt{Order: order}
	intent, err := c.payments.CreateIntent(ctx, order.ID)
	if err != nil {
		c.logger.WarnContext(ctx, "order created without payment intent", "error", err, "order_id", order.ID)
		return receipt, fmt.Errorf("order %s created, payment not started: %w", order.Number, err)
	}
	receipt.Intent = intent

	if req.PaymentMethodRef == "" {
		return receipt, nil
	}
	confirmed, err := c.payments.Confirm(ctx, intent.ID, req.PaymentMethodRef)
	if confirmed != nil {
		receipt.Intent = confirmed
	}
	if err != nil {
		return receipt, fmt.Errorf("order %s created, payment not completed: %w", order.Number, err)
	}
	return receipt, nil
}

// reserve takes stock for every tracked line in ascending unit order, so two
// checkouts sharing units always lock them in the same sequence. It keeps
// going after a shortage to name every short unit, then rolls back.
func (c *Coordinator) reserve(ctx context.Context, orderID string, lines []domain.CartLine, units map[domain.UnitID]domain.SellableUnit) ([]domain.ReservationRef, error) {
	sorted := slices.Clone(lines)
	slices.SortFunc(sorted, func(a, b domain.CartLine) int {
		return strings.Compare(string(a.UnitID), string(b.UnitID))
	})

	var (
		refs  []domain.ReservationRef
		short []domain.UnitID
	)
	for _, line := range sorted {
		if !units[line.UnitID].Tracked {
			continue
		}
		if err := ctx.Err(); err != nil {
			c.rollback(ctx, orderID, refs)
			return nil, err
		}

		res, err := c.ledger.Reserve(ctx, orderID, line.UnitID, line.Quantity)
		var stockErr *domain.StockError
		switch {
		case errors.As(err, &stockErr):
			short = append(short, stockErr.Units...)
			continue
		case err != nil:
			c.rollback(ctx, orderID, refs)
			return nil, fmt.Errorf("reserving %s: %w", line.UnitID, err)
		}
		refs = append(refs, res.Ref())
	}

	if len(short) > 0 {
		c.rollback(ctx, orderID, refs)
		c.short.Add(ctx, int64(len(short)))
		return nil, &domain.StockError{Units: short}
	}
	return refs, nil
}

// rollback releases reservations even when ctx is already cancelled.
// Anything it fails to release is left to the sweeper.
func (c *Coordinator) rollback(ctx context.Context, orderID string, refs []domain.ReservationRef) {
	ctx = context.WithoutCancel(ctx)
	for _, ref := range refs {
		if err := c.ledger.Release(ctx, ref.ID); err != nil {
			c.logger.ErrorContext(ctx, "failed to release reservation during rollback",
				"error", err, "order_id", orderID, "reservation_id", ref.ID)
		}
	}
}

func (c *Coordinator) buildOrder(id string, req Request, lines []domain.CartLine, units map[domain.UnitID]domain.SellableUnit, refs []domain.ReservationRef) *domain.Order {
	orderLines := make([]domain.OrderLine, len(lines))
	for i, l := range lines {
		orderLines[i] = domain.OrderLine{
			UnitID:    l.UnitID,
			Quantity:  l.Quantity,
			UnitPrice: units[l.UnitID].Price,
		}
	}

	billing := req.BillingAddress
	if billing == (domain.Address{}) {
		billing = req.ShippingAddress
	}

	now := c.now()
	o := &domain.Order{
		ID:                id,
		Number:            "SF-" + strings.ToUpper(c.numbers.Generate().Base36()),
		Owner:             req.Owner,
		Email:             req.Email,
		Lines:             orderLines,
		ShippingAddress:   req.ShippingAddress,
		BillingAddress:    billing,
		Currency:          c.currency,
		Totals:            domain.ComputeTotals(orderLines, req.Tax, req.Shipping, req.Discount),
		Reservations:      refs,
		FulfillmentStatus: domain.FulfillmentPending,
		PaymentStatus:     domain.PaymentPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.Owner.IsUser() {
		o.UserID = req.Owner.ID
	}
	return o
}
