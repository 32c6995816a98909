package accounts

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/homestage/creditcore/internal/repos/accounts"
)

// LockAndGetBalance takes the account row lock (FOR UPDATE). Concurrent
// callers for the same user serialize here; the second reads the first's
// committed balance, never a stale one.
func (r *accountsRepo) LockAndGetBalance(tx *sql.Tx, userID string) (int64, error) {
	var balance int64

	err := tx.QueryRow(`
		SELECT balance
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, accounts.ErrAccountNotFound
		}

		return 0, fmt.Errorf("lock/get balance: %w", err)
	}

	return balance, nil
}
