package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// PostgresLedger stores stock in inventory_records. Every mutation is a single
// guarded UPDATE that bumps version, so the row lock serializes writers per unit.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (r *PostgresLedger) ListAll(ctx context.Context) ([]domain.StockLevel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT unit_id, available, reserved, version, updated_at
		FROM inventory_records
		ORDER BY unit_id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []domain.StockLevel
	for rows.Next() {
		var stock domain.StockLevel
		if err := rows.Scan(&stock.UnitID, &stock.Available, &stock.Reserved, &stock.Version, &stock.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, stock)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (r *PostgresLedger) GetStock(ctx context.Context, unitID domain.UnitID) (*domain.StockLevel, error) {
	stock := &domain.StockLevel{}

	err := r.db.QueryRowContext(ctx, `
		SELECT unit_id, available, reserved, version, updated_at
		FROM inventory_records
		WHERE unit_id = $1
	`, unitID).Scan(&stock.UnitID, &stock.Available, &stock.Reserved, &stock.Version, &stock.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return stock, nil
}

func (r *PostgresLedger) Reserve(ctx context.Context, orderID string, unitID domain.UnitID, quantity int) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE inventory_records
		SET available = available - $2, reserved = reserved + $2, version = version + 1, updated_at = NOW()
		WHERE unit_id = $1 AND available >= $2
	`, unitID, quantity)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rowsAffected == 0 {
		return nil, &domain.StockError{Units: []domain.UnitID{unitID}}
	}

	res := &domain.Reservation{
		ID:       uuid.New().String(),
		OrderID:  orderID,
		UnitID:   unitID,
		Quantity: quantity,
		Status:   domain.ReservationActive,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO reservations (id, order_id, unit_id, quantity, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`, res.ID, res.OrderID, res.UnitID, res.Quantity, res.Status).Scan(&res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return res, nil
}

func (r *PostgresLedger) Release(ctx context.Context, reservationID string) error {
	return r.close(ctx, reservationID, domain.ReservationReleased, `
		UPDATE inventory_records
		SET available = available + $2, reserved = reserved - $2, version = version + 1, updated_at = NOW()
		WHERE unit_id = $1
	`)
}

func (r *PostgresLedger) Commit(ctx context.Context, reservationID string) error {
	return r.close(ctx, reservationID, domain.ReservationCommitted, `
		UPDATE inventory_records
		SET reserved = reserved - $2, version = version + 1, updated_at = NOW()
		WHERE unit_id = $1
	`)
}

func (r *PostgresLedger) close(ctx context.Context, reservationID string, status domain.ReservationStatus, stockUpdate string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var unitID domain.UnitID
	var quantity int
	err = tx.QueryRowContext(ctx, `
		UPDATE reservations SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING unit_id, quantity
	`, reservationID, status).Scan(&unitID, &quantity)
	if errors.Is(err, sql.ErrNoRows) {
		var current domain.ReservationStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM reservations WHERE id = $1`, reservationID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrReservationNotFound
		}
		if err != nil {
			return err
		}
		if current == status {
			return nil
		}
		return fmt.Errorf("%w: %s is %s", domain.ErrReservationClosed, reservationID, current)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, stockUpdate, unitID, quantity); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PostgresLedger) Adjust(ctx context.Context, unitID domain.UnitID, delta int) (*domain.StockLevel, error) {
	stock := &domain.StockLevel{}

	var row *sql.Row
	if delta >= 0 {
		row = r.db.QueryRowContext(ctx, `
			INSERT INTO inventory_records (unit_id, available, reserved, version, updated_at)
			VALUES ($1, $2, 0, 1, NOW())
			ON CONFLICT (unit_id) DO UPDATE
			SET available = inventory_records.available + EXCLUDED.available,
				version = inventory_records.version + 1,
				updated_at = NOW()
			RETURNING unit_id, available, reserved, version, updated_at
		`, unitID, delta)
	} else {
		row = r.db.QueryRowContext(ctx, `
			UPDATE inventory_records
			SET available = available + $2, version = version + 1, updated_at = NOW()
			WHERE unit_id = $1 AND available + $2 >= 0
			RETURNING unit_id, available, reserved, version, updated_at
		`, unitID, delta)
	}

	err := row.Scan(&stock.UnitID, &stock.Available, &stock.Reserved, &stock.Version, &stock.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.StockError{Units: []domain.UnitID{unitID}}
	}
	if err != nil {
		return nil, err
	}

	return stock, nil
}

func (r *PostgresLedger) ListActiveBefore(ctx context.Context, before time.Time) ([]domain.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, unit_id, quantity, status, created_at, updated_at
		FROM reservations
		WHERE status = 'active' AND created_at < $1
		ORDER BY created_at
	`, before)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.ID, &res.OrderID, &res.UnitID, &res.Quantity, &res.Status, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}

	return out, rows.Err()
}
