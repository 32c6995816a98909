package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/homestage/creditcore/internal/repos/ledger"
)

var _ ledger.Ledger = (*ledgerRepo)(nil)

type ledgerRepo struct{ db *sql.DB }

func New(db *sql.DB) *ledgerRepo {
	return &ledgerRepo{db: db}
}

func (r *ledgerRepo) Insert(tx *sql.Tx, entry ledger.Entry) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (user_id, delta, reason, order_id, balance_after)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.UserID, entry.Delta, entry.Reason, entry.OrderID, entry.BalanceAfter)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	return nil
}

func (r *ledgerRepo) DeductionExists(ctx context.Context, orderID string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM ledger_entries
			WHERE order_id = $1 AND delta < 0
		)
	`, orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check deduction exists: %w", err)
	}

	return exists, nil
}

func (r *ledgerRepo) DeductionExistsTx(tx *sql.Tx, orderID string) (bool, error) {
	var exists bool

	err := tx.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM ledger_entries
			WHERE order_id = $1 AND delta < 0
		)
	`, orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check deduction exists: %w", err)
	}

	return exists, nil
}

// ListByUser returns the newest entries first.
func (r *ledgerRepo) ListByUser(ctx context.Context, userID string, limit int) ([]ledger.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, delta, reason, order_id, balance_after, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry

	for rows.Next() {
		var e ledger.Entry

		err = rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.OrderID, &e.BalanceAfter, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}

		entries = append(entries, e)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}

	return entries, nil
}
