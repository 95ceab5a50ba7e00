package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `
	id, number, owner_kind, owner_id, COALESCE(user_id, ''), email,
	shipping_address, billing_address, currency,
	subtotal, tax, shipping, discount, total, reservations,
	fulfillment_status, payment_status, payment_failures, cancel_reason,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                 domain.Order
		shipping, billing []byte
		reservations      []byte
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.Owner.Kind, &o.Owner.ID, &o.UserID, &o.Email,
		&shipping, &billing, &o.Currency,
		&o.Totals.Subtotal, &o.Totals.Tax, &o.Totals.Shipping, &o.Totals.Discount, &o.Totals.Total, &reservations,
		&o.FulfillmentStatus, &o.PaymentStatus, &o.PaymentFailures, &o.CancelReason,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decoding shipping address: %w", err)
	}
	if err := json.Unmarshal(billing, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("decoding billing address: %w", err)
	}
	if err := json.Unmarshal(reservations, &o.Reservations); err != nil {
		return nil, fmt.Errorf("decoding reservations: %w", err)
	}
	return &o, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	billing, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return err
	}
	refs := o.Reservations
	if refs == nil {
		refs = []domain.ReservationRef{}
	}
	reservations, err := json.Marshal(refs)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, number, owner_kind, owner_id, user_id, email,
			shipping_address, billing_address, currency,
			subtotal, tax, shipping, discount, total, reservations,
			fulfillment_status, payment_status, payment_failures, cancel_reason,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, o.ID, o.Number, o.Owner.Kind, o.Owner.ID, nullable(o.UserID), o.Email,
		shipping, billing, o.Currency,
		o.Totals.Subtotal, o.Totals.Tax, o.Totals.Shipping, o.Totals.Discount, o.Totals.Total, reservations,
		o.FulfillmentStatus, o.PaymentStatus, o.PaymentFailures, o.CancelReason,
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	for i, line := range o.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, position, unit_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, o.ID, i, line.UnitID, line.Quantity, line.UnitPrice)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, r.db, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.getOne(ctx, r.db, `SELECT `+orderColumns+` FROM orders WHERE number = $1`, number)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *OrderRepository) getOne(ctx context.Context, q querier, query string, arg any) (*domain.Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	orders := []*domain.Order{o}
	if err := r.loadLines(ctx, q, orders); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) ListByOwner(ctx context.Context, owner domain.CartOwner) ([]domain.Order, error) {
	userID := ""
	if owner.IsUser() {
		userID = owner.ID
	}
	return r.list(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE (owner_kind = $1 AND owner_id = $2) OR ($3 <> '' AND user_id = $3)
		ORDER BY created_at DESC
	`, owner.Kind, owner.ID, userID)
}

func (r *OrderRepository) ListStale(ctx context.Context, before time.Time) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE fulfillment_status = 'PENDING' AND payment_status <> 'PAID' AND created_at < $1
		ORDER BY created_at
	`, before)
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadLines(ctx, r.db, orders); err != nil {
		return nil, err
	}

	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, *o)
	}
	return out, nil
}

func (r *OrderRepository) loadLines(ctx context.Context, q querier, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[string]*domain.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		o.Lines = []domain.OrderLine{}
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT order_id, unit_id, quantity, unit_price
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var orderID string
		var line domain.OrderLine
		if err := rows.Scan(&orderID, &line.UnitID, &line.Quantity, &line.UnitPrice); err != nil {
			return err
		}
		o := byID[orderID]
		o.Lines = append(o.Lines, line)
	}

	return rows.Err()
}

// Update locks the row with SELECT ... FOR UPDATE so concurrent transitions
// of one order are serialized.
func (r *OrderRepository) Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := r.getOne(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}

	changed, err := fn(o)
	if err != nil {
		return nil, err
	}
	if !changed {
		return o, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET fulfillment_status = $2, payment_status = $3, payment_failures = $4,
			cancel_reason = $5, updated_at = $6
		WHERE id = $1
	`, o.ID, o.FulfillmentStatus, o.PaymentStatus, o.PaymentFailures, o.CancelReason, o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return o, nil
}
