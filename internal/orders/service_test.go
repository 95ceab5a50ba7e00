package orders

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
	"github.com/joao-fontenele/storefront-checkout/internal/events"
	"github.com/joao-fontenele/storefront-checkout/internal/inventory"
)

type fixture struct {
	store   *MemoryStore
	ledger  *inventory.MemoryLedger
	events  *events.Recorder
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  NewMemoryStore(),
		ledger: inventory.NewMemoryLedger(),
		events: &events.Recorder{},
	}
	f.service = NewService(f.store, f.ledger, f.events, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := f.ledger.Adjust(context.Background(), "A", 10)
	require.NoError(t, err)
	return f
}

// placeOrder reserves qty of A and stores a PENDING order referencing it.
func (f *fixture) placeOrder(t *testing.T, owner domain.CartOwner, qty int) *domain.Order {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()

	res, err := f.ledger.Reserve(ctx, id, "A", qty)
	require.NoError(t, err)

	now := time.Now().UTC()
	lines := []domain.OrderLine{{UnitID: "A", Quantity: qty, UnitPrice: 1500}}
	o := &domain.Order{
		ID:                id,
		Number:            "SF-" + id[:8],
		Owner:             owner,
		Email:             "buyer@example.com",
		Lines:             lines,
		Currency:          "USD",
		Totals:            domain.ComputeTotals(lines, 0, 0, 0),
		Reservations:      []domain.ReservationRef{res.Ref()},
		FulfillmentStatus: domain.FulfillmentPending,
		PaymentStatus:     domain.PaymentPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if owner.IsUser() {
		o.UserID = owner.ID
	}
	require.NoError(t, f.store.Create(ctx, o))
	return o
}

func (f *fixture) available(t *testing.T) int {
	t.Helper()
	stock, err := f.ledger.GetStock(context.Background(), "A")
	require.NoError(t, err)
	return stock.Available
}

func TestService_CancelPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.placeOrder(t, domain.UserOwner("u1"), 3)
	require.Equal(t, 7, f.available(t))

	cancelled, err := f.service.Cancel(ctx, o.ID, "changed my mind", RefundUndecided)
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentCancelled, cancelled.FulfillmentStatus)
	assert.Equal(t, "changed my mind", cancelled.CancelReason)
	assert.Equal(t, 10, f.available(t))

	again, err := f.service.Cancel(ctx, o.ID, "again", RefundUndecided)
	require.NoError(t, err)
	assert.Equal(t, "changed my mind", again.CancelReason)
	assert.Equal(t, 10, f.available(t))
	assert.Equal(t, 1, f.events.Count(domain.EventOrderCancelled, o.ID))
}

func TestService_CancelConfirmed(t *testing.T) {
	ctx := context.Background()

	confirmed := func(t *testing.T, f *fixture) *domain.Order {
		t.Helper()
		o := f.placeOrder(t, domain.UserOwner("u1"), 2)
		_, applied, err := f.service.Transition(ctx, o.ID, ActionCapturePayment)
		require.NoError(t, err)
		require.True(t, applied)
		require.NoError(t, f.ledger.Commit(ctx, o.Reservations[0].ID))
		return o
	}

	t.Run("requires a refund decision", func(t *testing.T) {
		f := newFixture(t)
		o := confirmed(t, f)

		_, err := f.service.Cancel(ctx, o.ID, "fraud", RefundUndecided)
		require.ErrorIs(t, err, domain.ErrRefundDecisionRequired)

		current, err := f.service.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.FulfillmentConfirmed, current.FulfillmentStatus)
		assert.Equal(t, 0, f.events.Count(domain.EventOrderCancelled, o.ID))
	})

	t.Run("issued refund is recorded and stock returns", func(t *testing.T) {
		f := newFixture(t)
		o := confirmed(t, f)
		require.Equal(t, 8, f.available(t))

		cancelled, err := f.service.Cancel(ctx, o.ID, "out of region", RefundIssued)
		require.NoError(t, err)
		assert.Equal(t, domain.FulfillmentCancelled, cancelled.FulfillmentStatus)
		assert.Equal(t, domain.PaymentRefunded, cancelled.PaymentStatus)
		assert.Equal(t, 10, f.available(t))
	})

	t.Run("declined refund keeps payment", func(t *testing.T) {
		f := newFixture(t)
		o := confirmed(t, f)

		cancelled, err := f.service.Cancel(ctx, o.ID, "policy", RefundDeclined)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPaid, cancelled.PaymentStatus)
	})
}

func TestService_CancelShippedIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.placeOrder(t, domain.UserOwner("u1"), 1)

	_, _, err := f.service.Transition(ctx, o.ID, ActionCapturePayment)
	require.NoError(t, err)
	for _, target := range []domain.FulfillmentStatus{domain.FulfillmentProcessing, domain.FulfillmentShipped} {
		_, err := f.service.AdvanceFulfillment(ctx, o.ID, target)
		require.NoError(t, err)
	}

	_, err = f.service.Cancel(ctx, o.ID, "too late", RefundIssued)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	current, err := f.service.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentShipped, current.FulfillmentStatus)
	assert.Equal(t, domain.PaymentPaid, current.PaymentStatus)
}

func TestService_AdvanceFulfillment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.placeOrder(t, domain.UserOwner("u1"), 1)

	_, err := f.service.AdvanceFulfillment(ctx, o.ID, domain.FulfillmentProcessing)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.service.AdvanceFulfillment(ctx, o.ID, domain.FulfillmentCancelled)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.service.AdvanceFulfillment(ctx, "missing", domain.FulfillmentShipped)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestService_ListByOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.placeOrder(t, domain.UserOwner("u1"), 1)
	f.placeOrder(t, domain.UserOwner("u1"), 1)
	f.placeOrder(t, domain.SessionOwner("guest"), 1)

	mine, err := f.service.ListByOwner(ctx, domain.UserOwner("u1"))
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	guest, err := f.service.ListByOwner(ctx, domain.SessionOwner("guest"))
	require.NoError(t, err)
	assert.Len(t, guest, 1)
}
