package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-checkout/internal/cart"
	"github.com/joao-fontenele/storefront-checkout/internal/catalog"
	"github.com/joao-fontenele/storefront-checkout/internal/domain"
	"github.com/joao-fontenele/storefront-checkout/internal/events"
	"github.com/joao-fontenele/storefront-checkout/internal/inventory"
	"github.com/joao-fontenele/storefront-checkout/internal/orders"
	"github.com/joao-fontenele/storefront-checkout/internal/payment"
)

// countingLedger records every call that reaches the ledger.
type countingLedger struct {
	inventory.Ledger
	reserves atomic.Int32
	releases atomic.Int32
	// afterReserve runs after each successful reservation.
	afterReserve func()
}

func (l *countingLedger) Reserve(ctx context.Context, orderID string, unitID domain.UnitID, quantity int) (*domain.Reservation, error) {
	l.reserves.Add(1)
	res, err := l.Ledger.Reserve(ctx, orderID, unitID, quantity)
	if err == nil && l.afterReserve != nil {
		l.afterReserve()
	}
	return res, err
}

func (l *countingLedger) Release(ctx context.Context, reservationID string) error {
	l.releases.Add(1)
	return l.Ledger.Release(ctx, reservationID)
}

type env struct {
	carts       *cart.Service
	catalog     *catalog.Static
	ledger      *inventory.MemoryLedger
	counting    *countingLedger
	orderStore  *orders.MemoryStore
	orders      *orders.Service
	processor   *payment.SimulatedProcessor
	events      *events.Recorder
	coordinator *Coordinator
}

func newEnv(t *testing.T, stock map[domain.UnitID]int) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	e := &env{
		carts: cart.NewService(cart.NewMemoryStore(), logger),
		catalog: catalog.NewStatic(
			domain.SellableUnit{ID: "A", Price: 1000, Tracked: true},
			domain.SellableUnit{ID: "B", Price: 2000, Tracked: true},
			domain.SellableUnit{ID: "C", Price: 500, Tracked: true},
			domain.SellableUnit{ID: "SETUP", Price: 4900},
		),
		ledger:     inventory.NewMemoryLedger(),
		orderStore: orders.NewMemoryStore(),
		processor:  payment.NewSimulatedProcessor(),
		events:     &events.Recorder{},
	}
	e.counting = &countingLedger{Ledger: e.ledger}
	e.orders = orders.NewService(e.orderStore, e.ledger, e.events, logger)

	policy := payment.RetryPolicy{MaxTries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, AttemptTimeout: time.Second}
	orch := payment.NewOrchestrator(payment.NewMemoryIntentStore(), payment.NewRetryingProcessor(e.processor, policy, logger),
		e.orders, e.ledger, e.events, 3, logger)

	coordinator, err := NewCoordinator(Config{Currency: "EUR", NodeID: 1}, e.carts, e.catalog, e.counting, e.orderStore, orch, e.events, logger)
	require.NoError(t, err)
	e.coordinator = coordinator

	for unit, qty := range stock {
		_, err := e.ledger.Adjust(ctx, unit, qty)
		require.NoError(t, err)
	}
	return e
}

func (e *env) add(t *testing.T, owner domain.CartOwner, unit domain.UnitID, qty int) {
	t.Helper()
	_, err := e.carts.AddLine(context.Background(), owner, unit, qty)
	require.NoError(t, err)
}

func (e *env) available(t *testing.T, unit domain.UnitID) int {
	t.Helper()
	s, err := e.ledger.GetStock(context.Background(), unit)
	require.NoError(t, err)
	return s.Available
}

func request(owner domain.CartOwner) Request {
	return Request{
		Owner: owner,
		Email: "buyer@example.com",
		ShippingAddress: domain.Address{
			Name: "Ada", Line1: "1 Main St", City: "Lisbon", PostalCode: "1000-001", Country: "PT",
		},
		Tax:      230,
		Shipping: 500,
		Discount: 100,
	}
}

func TestCheckout_Success(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[domain.UnitID]int{"A": 5, "B": 5})
	user := domain.UserOwner("u1")
	e.add(t, user, "B", 1)
	e.add(t, user, "A", 2)
	e.add(t, user, "SETUP", 1)

	receipt, err := e.coordinator.Checkout(ctx, request(user))
	require.NoError(t, err)

	o := receipt.Order
	assert.True(t, strings.HasPrefix(o.Number, "SF-"))
	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, "EUR", o.Currency)
	assert.Equal(t, domain.FulfillmentPending, o.FulfillmentStatus)
	assert.Equal(t, domain.PaymentPending, o.PaymentStatus)
	assert.Equal(t, o.ShippingAddress, o.BillingAddress)

	require.Len(t, o.Lines, 3)
	assert.Equal(t, domain.UnitID("B"), o.Lines[0].UnitID, "lines keep cart order")
	assert.Equal(t, int64(2000+2*1000+4900), o.Totals.Subtotal)
	assert.Equal(t, o.Totals.Subtotal+230+500-100, o.Totals.Total)

	assert.Len(t, o.Reservations, 2, "untracked units are not reserved")
	assert.Equal(t, 3, e.available(t, "A"))
	assert.Equal(t, 4, e.available(t, "B"))

	require.NotNil(t, receipt.Intent)
	assert.Equal(t, domain.IntentPending, receipt.Intent.Status)
	assert.Equal(t, o.Totals.Total, receipt.Intent.Amount)

	lines, err := e.carts.Snapshot(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Equal(t, 1, e.events.Count(domain.EventOrderCreated, o.ID))

	stored, err := e.orders.GetByNumber(ctx, o.Number)
	require.NoError(t, err)
	assert.Equal(t, o.ID, stored.ID)
}

func TestCheckout_PricesAreSnapshotted(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[domain.UnitID]int{"A": 5})
	user := domain.UserOwner("u1")
	e.add(t, user, "A", 1)

	receipt, err := e.coordinator.Checkout(ctx, request(user))
	require.NoError(t, err)

	e.catalog.Set(domain.SellableUnit{ID: "A", Price: 9999, Tracked: true})

	stored, err := e.orders.Get(ctx, receipt.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored.Lines[0].UnitPrice)
}

func TestCheckout_WithPaymentMethod(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[domain.UnitID]int{"A": 5})
	user := domain.UserOwner("u1")
	e.add(t, user, "A", 2)

	req := request(user)
	req.PaymentMethodRef = payment.MethodSucceeds
	receipt, err := e.coordinator.Checkout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentSucceeded, receipt.Intent.Status)

	o, err := e.orders.Get(ctx, receipt.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, domain.FulfillmentConfirmed, o.FulfillmentStatus)

	stock, err := e.ledger.GetStock(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 3, stock.Available)
	assert.Equal(t, 0, stock.Reserved)
}

func TestCheckout_EmptyCart(t *testing.T) {
	e := newEnv(t, map[domain.UnitID]int{"A": 5})

	_, err := e.coordinator.Checkout(context.Background(), request(domain.SessionOwner("guest")))
	require.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Zero(t, e.counting.reserves.Load())
	assert.Zero(t, e.counting.releases.Load())
	assert.Equal(t, 5, e.available(t, "A"))
}

func TestCheckout_ShortLineRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[domain.UnitID]int{"A": 5, "B": 2, "C": 9})
	user := domain.UserOwner("u1")
	e.add(t, user, "A", 2)
	e.add(t, user, "B", 3)
	e.add(t, user, "C", 4)

	_, err := e.coordinator.Checkout(ctx, request(user))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var stockErr *domain.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, []domain.UnitID{"B"}, stockErr.Units)

	assert.Equal(t, 5, e.available(t, "A"))
	assert.Equal(t, 2, e.available(t, "B"))
	assert.Equal(t, 9, e.available(t, "C"))

	lines, err := e.carts.Snapshot(ctx, user)
	require.NoError(t, err)
	assert.Len(t, lines, 3, "cart survives a failed checkout")

	list, err := e.orders.ListByOwner(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCheckout_NamesEveryShortUnit(t *testing.T) {
	e := newEnv(t, map[domain.UnitID]int{"A": 1, "B": 1, "C": 1})
	user := domain.UserOwner("u1")
	e.add(t, user, "C", 2)
	e.add(t, user, "A", 2)
	e.add(t, user, "B", 1)

	_, err := e.coordinator.Checkout(context.Background(), request(user))

	var stockErr *domain.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, []domain.UnitID{"A", "C"}, stockErr.Units)
	assert.Equal(t, 1, e.available(t, "B"))
}

func TestCheckout_ConcurrentBuyersOfTheSameUnit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[domain.UnitID]int{"A": 5})
	u1, u2 := domain.UserOwner("U1"), domain.UserOwner("U2")
	e.add(t, u1, "A", 3)
	e.add(t, u2, "A", 3)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, owner := range []domain.CartOwner{u1, u2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.coordinator.Checkout(ctx, request(owner))
		}()
	}
	wg.Wait()

	var succeeded, failed int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var stockErr *domain.StockError
		require.ErrorAs(t, err, &stockErr)
		assert.True(t, stockErr.Has("A"))
		failed++
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, e.available(t, "A"))
}

func TestCheckout_CancelledRequestReleasesReservations(t *testing.T) {
	e := newEnv(t, map[domain.UnitID]int{"A": 5, "B": 5})
	user := domain.UserOwner("u1")
	e.add(t, user, "A", 1)
	e.add(t, user, "B", 1)

	ctx, cancel := context.WithCancel(context.Background())
	e.counting.afterReserve = cancel

	_, err := e.coordinator.Checkout(ctx, request(user))
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 5, e.available(t, "A"))
	assert.Equal(t, 5, e.available(t, "B"))
	assert.Equal(t, int32(1), e.counting.releases.Load())

	list, err := e.orders.ListByOwner(context.Background(), user)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCheckout_PaymentOutageKeepsOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[domain.UnitID]int{"A": 5})
	user := domain.UserOwner("u1")
	e.add(t, user, "A", 1)
	e.processor.FailNext(10)

	receipt, err := e.coordinator.Checkout(ctx, request(user))
	require.ErrorIs(t, err, domain.ErrProcessorUnavailable)
	require.NotNil(t, receipt)
	assert.Nil(t, receipt.Intent)

	o, err := e.orders.Get(ctx, receipt.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentPending, o.FulfillmentStatus)
	assert.Equal(t, 4, e.available(t, "A"))
}

func TestCheckout_UnknownUnit(t *testing.T) {
	e := newEnv(t, nil)
	user := domain.UserOwner("u1")
	e.add(t, user, "GHOST", 1)

	_, err := e.coordinator.Checkout(context.Background(), request(user))
	require.ErrorIs(t, err, domain.ErrUnitNotFound)
	assert.Zero(t, e.counting.reserves.Load())
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, "created", outcomeOf(&Receipt{}, nil))
	assert.Equal(t, "created_payment_pending", outcomeOf(&Receipt{}, errors.New("x")))
	assert.Equal(t, "empty_cart", outcomeOf(nil, domain.ErrEmptyCart))
	assert.Equal(t, "insufficient_stock", outcomeOf(nil, &domain.StockError{Units: []domain.UnitID{"A"}}))
	assert.Equal(t, "cancelled", outcomeOf(nil, context.Canceled))
}

func TestCheckout_KeepsLinesAddedDuringCheckout(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[domain.UnitID]int{"A": 5, "C": 5})
	user := domain.UserOwner("u1")
	e.add(t, user, "A", 2)

	var once sync.Once
	e.counting.afterReserve = func() {
		once.Do(func() {
			e.add(t, user, "A", 1)
			e.add(t, user, "C", 3)
		})
	}

	receipt, err := e.coordinator.Checkout(ctx, request(user))
	require.NoError(t, err)
	require.Len(t, receipt.Order.Lines, 1)
	assert.Equal(t, 2, receipt.Order.Lines[0].Quantity)

	lines, err := e.carts.Snapshot(ctx, user)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, domain.UnitID("A"), lines[0].UnitID)
	assert.Equal(t, 1, lines[0].Quantity)
	assert.Equal(t, domain.UnitID("C"), lines[1].UnitID)
	assert.Equal(t, 3, lines[1].Quantity)
}
