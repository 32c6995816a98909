package events

import (
	"database/sql"
	"errors"
)

// ErrDuplicateEvent signals the event id was already recorded. Callers treat
// it as "effect already applied" and move on; it is never surfaced as a
// failure.
var ErrDuplicateEvent = errors.New("duplicate external event")

// Events records externally-sourced event ids (payment provider callbacks,
// reconciliation passes) so each is applied at most once.
type Events interface {
	Insert(tx *sql.Tx, id, eventType string) error
}
