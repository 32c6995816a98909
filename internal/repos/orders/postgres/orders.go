package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/homestage/creditcore/internal/repos/orders"
)

var _ orders.Orders = (*ordersRepo)(nil)

type ordersRepo struct{ db *sql.DB }

func New(db *sql.DB) *ordersRepo {
	return &ordersRepo{db: db}
}

func (r *ordersRepo) Insert(tx *sql.Tx, userID string, creditsUsed int64, paymentRef *string) (string, error) {
	var id string

	err := tx.QueryRow(`
		INSERT INTO orders (user_id, status, credits_used, payment_ref)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, userID, orders.StatusPending, creditsUsed, paymentRef).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert order: %w", err)
	}

	return id, nil
}

func (r *ordersRepo) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, credits_used, payment_ref, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, orderID)

	return scanOrder(row)
}

// GetForUpdate locks the order row for the rest of the transaction. Lifecycle
// transitions take this lock first so the API path and the sweeper cannot
// both act on the same order.
func (r *ordersRepo) GetForUpdate(tx *sql.Tx, orderID string) (*orders.Order, error) {
	row := tx.QueryRow(`
		SELECT id, user_id, status, credits_used, payment_ref, created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID)

	return scanOrder(row)
}

func (r *ordersRepo) UpdateStatus(tx *sql.Tx, orderID string, from, to orders.Status) (bool, error) {
	res, err := tx.Exec(`
		UPDATE orders
		SET status = $3, updated_at = now()
		WHERE id = $1
		  AND status = $2
	`, orderID, from, to)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected == 1, nil
}

func (r *ordersRepo) SetPaymentRef(tx *sql.Tx, orderID, ref string) error {
	res, err := tx.Exec(`
		UPDATE orders
		SET payment_ref = $2, updated_at = now()
		WHERE id = $1
	`, orderID, ref)
	if err != nil {
		return fmt.Errorf("set payment ref: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return orders.ErrOrderNotFound
	}

	return nil
}

func (r *ordersRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]orders.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, status, credits_used, payment_ref, created_at, updated_at
		FROM orders
		WHERE status = $1
		  AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, orders.StatusProcessing, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale orders: %w", err)
	}
	defer rows.Close()

	var stale []orders.Order

	for rows.Next() {
		var o orders.Order

		err = rows.Scan(&o.ID, &o.UserID, &o.Status, &o.CreditsUsed, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}

		stale = append(stale, o)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate stale orders: %w", err)
	}

	return stale, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*orders.Order, error) {
	var o orders.Order

	err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.CreditsUsed, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, orders.ErrOrderNotFound
		}

		return nil, fmt.Errorf("scan order: %w", err)
	}

	return &o, nil
}
