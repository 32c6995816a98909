package payments

import (
	"context"
	"errors"
)

type State string

const (
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StatePending   State = "pending"
)

// PaymentStatus is the provider's current view of one payment reference.
// EventID is the dedup key recorded in external_events before any effect is
// applied.
type PaymentStatus struct {
	State   State
	EventID string
}

var (
	// ErrProviderUnavailable is transient: the order stays processing and the
	// next sweep retries.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrPaymentNotFound means the provider has no record of the reference.
	ErrPaymentNotFound = errors.New("payment not found")
)

// Provider answers "what actually happened to this payment" during
// reconciliation.
type Provider interface {
	GetPaymentStatus(ctx context.Context, ref string) (PaymentStatus, error)
}
