package accounts

import (
	"database/sql"
	"fmt"

	"github.com/homestage/creditcore/internal/repos/accounts"
)

// SetBalance writes an absolute balance computed by the caller while it holds
// the row lock from LockAndGetBalance.
func (r *accountsRepo) SetBalance(tx *sql.Tx, userID string, balance int64) error {
	res, err := tx.Exec(`
		UPDATE accounts
		SET balance = $2
		WHERE user_id = $1
	`, userID, balance)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return accounts.ErrAccountNotFound
	}

	return nil
}
