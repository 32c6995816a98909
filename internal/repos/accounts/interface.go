package accounts

import (
	"context"
	"database/sql"
	"errors"
)

var ErrInsufficientCredits = errors.New("insufficient credits")
var ErrAccountNotFound = errors.New("account not found")

// Accounts persists per-user credit balances. Balances are mutated only
// through the credits service, which serializes writers via LockAndGetBalance.
type Accounts interface {
	EnsureExists(tx *sql.Tx, userID string) error
	GetBalance(ctx context.Context, userID string) (int64, error)
	LockAndGetBalance(tx *sql.Tx, userID string) (int64, error)
	SetBalance(tx *sql.Tx, userID string, balance int64) error
}
