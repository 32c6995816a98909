// Package notify is the outbound alerting sink. The core never sends email
// itself; it emits structured events the operator-facing glue consumes.
package notify

import (
	"context"
	"log/slog"
	"time"
)

const (
	KindRepair     = "repair"
	KindEscalation = "escalation"
	KindSummary    = "sweep_summary"
)

type Event struct {
	Kind    string    `json:"kind"`
	OrderID string    `json:"order_id,omitempty"`
	Action  string    `json:"action,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

var _ Notifier = (*LogNotifier)(nil)

// LogNotifier is the single-instance default: events land in the structured
// log where the operator already looks.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev Event) error {
	slog.Info("notification",
		"kind", ev.Kind,
		"order_id", ev.OrderID,
		"action", ev.Action,
		"message", ev.Message,
	)

	return nil
}
