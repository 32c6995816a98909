package ledger

import (
	"context"
	"database/sql"
	"time"
)

// Entry is one immutable balance change. Replaying a user's entries in id
// order and summing deltas from zero must equal the account's current balance.
type Entry struct {
	ID           int64
	UserID       string
	Delta        int64
	Reason       string
	OrderID      *string
	BalanceAfter int64
	CreatedAt    time.Time
}

type Ledger interface {
	Insert(tx *sql.Tx, entry Entry) error
	// DeductionExists reports whether a negative-delta entry has been written
	// for the given order (the "was this order already charged" check).
	DeductionExists(ctx context.Context, orderID string) (bool, error)
	DeductionExistsTx(tx *sql.Tx, orderID string) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error)
}
