package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultSubject = "creditcore.alerts"

var _ Notifier = (*NATSNotifier)(nil)

// NATSNotifier publishes events as JSON to a subject so alerting consumers
// (email glue, dashboards) subscribe instead of polling audit tables.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url, nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &NATSNotifier{conn: conn, subject: subject}, nil
}

func (n *NATSNotifier) Notify(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = n.conn.Publish(n.subject, data)
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	return nil
}

// Close drains the connection so queued notifications are flushed.
func (n *NATSNotifier) Close() error {
	err := n.conn.Drain()
	if err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}

	return nil
}
