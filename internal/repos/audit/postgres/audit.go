package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/homestage/creditcore/internal/repos/audit"
)

var _ audit.Audit = (*auditRepo)(nil)

type auditRepo struct{ db *sql.DB }

func New(db *sql.DB) *auditRepo {
	return &auditRepo{db: db}
}

func (r *auditRepo) Insert(ctx context.Context, orderID, action string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (order_id, action)
		VALUES ($1, $2)
	`, orderID, action)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	return nil
}

func (r *auditRepo) ListByOrder(ctx context.Context, orderID string) ([]audit.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, action, created_at
		FROM audit_events
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var evs []audit.Event

	for rows.Next() {
		var ev audit.Event

		err = rows.Scan(&ev.ID, &ev.OrderID, &ev.Action, &ev.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		evs = append(evs, ev)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return evs, nil
}
