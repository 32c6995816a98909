package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrOrderNotFound = errors.New("order not found")

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Order struct {
	ID          string
	UserID      string
	Status      Status
	CreditsUsed int64
	PaymentRef  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Orders interface {
	Insert(tx *sql.Tx, userID string, creditsUsed int64, paymentRef *string) (string, error)
	Get(ctx context.Context, orderID string) (*Order, error)
	GetForUpdate(tx *sql.Tx, orderID string) (*Order, error)
	// UpdateStatus transitions orderID from one status to another and bumps
	// updated_at. It reports false when the order is not currently in the
	// `from` status, so transitions never overwrite a concurrent writer.
	UpdateStatus(tx *sql.Tx, orderID string, from, to Status) (bool, error)
	SetPaymentRef(tx *sql.Tx, orderID, ref string) error
	// ListStale returns processing orders whose updated_at is older than the
	// cutoff, oldest first.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
}
