package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/homestage/creditcore/internal/infra/pgutils"
	"github.com/homestage/creditcore/internal/repos/accounts"
	pgaccounts "github.com/homestage/creditcore/internal/repos/accounts/postgres"
	"github.com/homestage/creditcore/internal/repos/ledger"
	pgledger "github.com/homestage/creditcore/internal/repos/ledger/postgres"
	"github.com/jackc/pgx/v5/pgconn"
)

// Well-known ledger reasons. Free-form reasons are allowed for admin grants;
// these two are load-bearing: cancellation looks for a prior deduction before
// issuing a refund.
const (
	ReasonDeduction = "deduction"
	ReasonRefund    = "refund"
)

// ErrConflict marks a transient serialization failure; the whole operation is
// safe to retry.
var ErrConflict = errors.New("conflicting concurrent update")

// Service is the only path allowed to mutate an account balance. Every
// successful call writes the new balance and exactly one ledger entry inside
// one transaction, serialized per user through the account row lock.
type Service struct {
	db       *sql.DB
	accounts accounts.Accounts
	ledger   ledger.Ledger
}

func New(db *sql.DB) *Service {
	return &Service{
		db:       db,
		accounts: pgaccounts.New(db),
		ledger:   pgledger.New(db),
	}
}

// ApplyDelta adjusts the user's balance by delta in its own transaction.
// A delta that would take the balance below zero fails with
// accounts.ErrInsufficientCredits and writes nothing.
func (s *Service) ApplyDelta(ctx context.Context, userID string, delta int64, reason string, orderID *string) (int64, error) {
	var newBalance int64

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error

		newBalance, err = s.ApplyDeltaInTx(tx, userID, delta, reason, orderID)

		return err
	})
	if err != nil {
		if isSerializationFailure(err) {
			return 0, fmt.Errorf("apply delta: %w", ErrConflict)
		}

		return 0, fmt.Errorf("apply delta: %w", err)
	}

	return newBalance, nil
}

// ApplyDeltaInTx is ApplyDelta composed into a caller-owned transaction, for
// flows that must keep a balance change and another write atomic (order
// creation, cancellation refunds). The caller's commit or rollback covers
// both.
func (s *Service) ApplyDeltaInTx(tx *sql.Tx, userID string, delta int64, reason string, orderID *string) (int64, error) {
	if delta == 0 {
		return 0, fmt.Errorf("zero delta for user %s", userID)
	}

	err := s.accounts.EnsureExists(tx, userID)
	if err != nil {
		return 0, fmt.Errorf("ensure account: %w", err)
	}

	balance, err := s.accounts.LockAndGetBalance(tx, userID)
	if err != nil {
		return 0, fmt.Errorf("lock and get balance: %w", err)
	}

	newBalance := balance + delta
	if newBalance < 0 {
		return 0, fmt.Errorf("balance %d, delta %d: %w", balance, delta, accounts.ErrInsufficientCredits)
	}

	err = s.accounts.SetBalance(tx, userID, newBalance)
	if err != nil {
		return 0, fmt.Errorf("set balance: %w", err)
	}

	err = s.ledger.Insert(tx, ledger.Entry{
		UserID:       userID,
		Delta:        delta,
		Reason:       reason,
		OrderID:      orderID,
		BalanceAfter: newBalance,
	})
	if err != nil {
		return 0, fmt.Errorf("append ledger entry: %w", err)
	}

	return newBalance, nil
}

// GetBalance returns the user's balance. A user with no account yet simply
// has zero credits; accounts are created lazily on the first credit event.
func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	balance, err := s.accounts.GetBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return 0, nil
		}

		return 0, fmt.Errorf("get balance: %w", err)
	}

	return balance, nil
}

// GetLedger returns the user's most recent ledger entries.
func (s *Service) GetLedger(ctx context.Context, userID string, limit int) ([]ledger.Entry, error) {
	entries, err := s.ledger.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("get ledger: %w", err)
	}

	return entries, nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return true
	}

	return false
}
