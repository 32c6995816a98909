package events

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/homestage/creditcore/internal/repos/events"
	"github.com/jackc/pgx/v5/pgconn"
)

var _ events.Events = (*eventsRepo)(nil)

type eventsRepo struct{ db *sql.DB }

func New(db *sql.DB) *eventsRepo {
	return &eventsRepo{db: db}
}

func (r *eventsRepo) Insert(tx *sql.Tx, id, eventType string) error {
	_, err := tx.Exec(`
		INSERT INTO external_events (id, type)
		VALUES ($1, $2)
	`, id, eventType)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" { // unique_violation
				return events.ErrDuplicateEvent
			}
		}

		return fmt.Errorf("insert external event: %w", err)
	}

	return nil
}
