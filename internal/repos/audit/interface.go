package audit

import (
	"context"
	"time"
)

type Event struct {
	ID        int64
	OrderID   string
	Action    string
	CreatedAt time.Time
}

// Audit is the repair trail the sweeper writes for operator inspection.
type Audit interface {
	Insert(ctx context.Context, orderID, action string) error
	ListByOrder(ctx context.Context, orderID string) ([]Event, error)
}
