package accounts

import (
	"database/sql"
	"fmt"
)

// EnsureExists creates the account row with a zero balance if the user has
// never held credits before. Accounts are created lazily on the first credit
// event and never deleted.
func (r *accountsRepo) EnsureExists(tx *sql.Tx, userID string) error {
	_, err := tx.Exec(`
		INSERT INTO accounts (user_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}

	return nil
}
