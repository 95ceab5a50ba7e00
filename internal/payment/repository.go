package payment

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// uniqueViolation is the PostgreSQL error code raised by the partial unique
// index that allows one non-terminal intent per order.
const uniqueViolation = "23505"

type IntentRepository struct {
	db *sql.DB
}

func NewIntentRepository(db *sql.DB) *IntentRepository {
	return &IntentRepository{db: db}
}

const intentColumns = `
	id, order_id, COALESCE(processor_id, ''), amount, currency, status,
	method_ref, failure_reason, created_at, updated_at`

func scanIntent(row interface{ Scan(...any) error }) (*domain.PaymentIntent, error) {
	var in domain.PaymentIntent
	err := row.Scan(&in.ID, &in.OrderID, &in.ProcessorID, &in.Amount, &in.Currency, &in.Status,
		&in.MethodRef, &in.FailureReason, &in.CreatedAt, &in.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func (r *IntentRepository) Create(ctx context.Context, in *domain.PaymentIntent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_intents (id, order_id, processor_id, amount, currency, status, method_ref, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, in.ID, in.OrderID, sql.NullString{String: in.ProcessorID, Valid: in.ProcessorID != ""},
		in.Amount, in.Currency, in.Status, in.MethodRef, in.FailureReason, in.CreatedAt, in.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return domain.ErrDuplicateIntent
	}
	return err
}

func (r *IntentRepository) Get(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	return scanIntent(r.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id))
}

func (r *IntentRepository) GetByProcessorID(ctx context.Context, processorID string) (*domain.PaymentIntent, error) {
	return scanIntent(r.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE processor_id = $1`, processorID))
}

func (r *IntentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentIntent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE order_id = $1
		ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []domain.PaymentIntent{}
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

func (r *IntentRepository) Update(ctx context.Context, id string, fn IntentUpdateFunc) (*domain.PaymentIntent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	in, err := scanIntent(tx.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	changed, err := fn(in)
	if err != nil {
		return nil, err
	}
	if !changed {
		return in, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payment_intents
		SET processor_id = $2, status = $3, method_ref = $4, failure_reason = $5, updated_at = $6
		WHERE id = $1
	`, in.ID, sql.NullString{String: in.ProcessorID, Valid: in.ProcessorID != ""},
		in.Status, in.MethodRef, in.FailureReason, in.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return in, nil
}
