package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/homestage/creditcore/internal/infra/pgutils"
	"github.com/homestage/creditcore/internal/repos/ledger"
	pgledger "github.com/homestage/creditcore/internal/repos/ledger/postgres"
	"github.com/homestage/creditcore/internal/repos/orders"
	pgorders "github.com/homestage/creditcore/internal/repos/orders/postgres"
	"github.com/homestage/creditcore/internal/services/credits"
)

// ErrInvalidTransition is returned for a status change the state machine does
// not permit (completing a pending order, cancelling a completed one).
var ErrInvalidTransition = errors.New("invalid order status transition")

// Service drives the order state machine:
//
//	pending -> processing -> {completed, cancelled}
//
// Terminal states are never overwritten. Credit deductions and their
// compensating refunds go through the credits service inside the same
// transaction as the status change.
type Service struct {
	db      *sql.DB
	orders  orders.Orders
	ledger  ledger.Ledger
	credits *credits.Service
}

func New(db *sql.DB, creditsSvc *credits.Service) *Service {
	return &Service{
		db:      db,
		orders:  pgorders.New(db),
		ledger:  pgledger.New(db),
		credits: creditsSvc,
	}
}

// Create inserts a pending order and, when creditsUsed > 0, deducts the
// credits in the same transaction. An insufficient balance rolls the whole
// thing back, so a rejected checkout leaves neither an order nor a ledger
// entry. The order advances to processing as soon as funding is attached
// (credits deducted or a payment session referenced); with neither it stays
// pending until AttachPaymentRef.
func (s *Service) Create(ctx context.Context, userID string, creditsUsed int64, paymentRef *string) (*orders.Order, error) {
	if creditsUsed < 0 {
		return nil, fmt.Errorf("negative creditsUsed %d", creditsUsed)
	}

	var created *orders.Order

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		orderID, err := s.orders.Insert(tx, userID, creditsUsed, paymentRef)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		if creditsUsed > 0 {
			_, err = s.credits.ApplyDeltaInTx(tx, userID, -creditsUsed, credits.ReasonDeduction, &orderID)
			if err != nil {
				return fmt.Errorf("deduct credits: %w", err)
			}
		}

		if creditsUsed > 0 || paymentRef != nil {
			ok, err := s.orders.UpdateStatus(tx, orderID, orders.StatusPending, orders.StatusProcessing)
			if err != nil {
				return fmt.Errorf("advance to processing: %w", err)
			}
			if !ok {
				return fmt.Errorf("advance to processing: %w", ErrInvalidTransition)
			}
		}

		created, err = s.orders.GetForUpdate(tx, orderID)
		if err != nil {
			return fmt.Errorf("reload order: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	return created, nil
}

// AttachPaymentRef records the provider session for an order created before
// the session existed, and advances pending -> processing.
func (s *Service) AttachPaymentRef(ctx context.Context, orderID, ref string) (*orders.Order, error) {
	var updated *orders.Order

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		o, err := s.orders.GetForUpdate(tx, orderID)
		if err != nil {
			return err
		}

		if o.Status.Terminal() {
			return fmt.Errorf("order %s is %s: %w", orderID, o.Status, ErrInvalidTransition)
		}

		err = s.orders.SetPaymentRef(tx, orderID, ref)
		if err != nil {
			return fmt.Errorf("set payment ref: %w", err)
		}

		if o.Status == orders.StatusPending {
			_, err = s.orders.UpdateStatus(tx, orderID, orders.StatusPending, orders.StatusProcessing)
			if err != nil {
				return fmt.Errorf("advance to processing: %w", err)
			}
		}

		updated, err = s.orders.GetForUpdate(tx, orderID)
		if err != nil {
			return fmt.Errorf("reload order: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("attach payment ref: %w", err)
	}

	return updated, nil
}

// MarkCompleted transitions processing -> completed. Completing an
// already-completed order is a no-op, so a live confirmation callback and the
// sweeper can both report success without conflict.
func (s *Service) MarkCompleted(ctx context.Context, orderID string) error {
	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		o, err := s.orders.GetForUpdate(tx, orderID)
		if err != nil {
			return err
		}

		switch o.Status {
		case orders.StatusCompleted:
			return nil
		case orders.StatusProcessing:
			ok, err := s.orders.UpdateStatus(tx, orderID, orders.StatusProcessing, orders.StatusCompleted)
			if err != nil {
				return fmt.Errorf("update status: %w", err)
			}
			if !ok {
				return fmt.Errorf("order %s moved concurrently: %w", orderID, ErrInvalidTransition)
			}

			return nil
		default:
			return fmt.Errorf("order %s is %s: %w", orderID, o.Status, ErrInvalidTransition)
		}
	})
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	return nil
}

// Settle drives a confirmed order to completed, backfilling the credit
// deduction if it was never written. The deduction check, the backfill, and
// the status flip share one transaction under the order lock, so a concurrent
// cancellation cannot slip between them and strand a deduction on a cancelled
// order. Settling an already-completed order is a no-op.
func (s *Service) Settle(ctx context.Context, orderID string) error {
	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		o, err := s.orders.GetForUpdate(tx, orderID)
		if err != nil {
			return err
		}

		switch o.Status {
		case orders.StatusCompleted:
			return nil
		case orders.StatusProcessing:
			// fall through
		default:
			return fmt.Errorf("order %s is %s: %w", orderID, o.Status, ErrInvalidTransition)
		}

		if o.CreditsUsed > 0 {
			deducted, err := s.ledger.DeductionExistsTx(tx, orderID)
			if err != nil {
				return fmt.Errorf("check deduction: %w", err)
			}

			if !deducted {
				_, err = s.credits.ApplyDeltaInTx(tx, o.UserID, -o.CreditsUsed, credits.ReasonDeduction, &orderID)
				if err != nil {
					return fmt.Errorf("backfill deduction: %w", err)
				}
			}
		}

		ok, err := s.orders.UpdateStatus(tx, orderID, orders.StatusProcessing, orders.StatusCompleted)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if !ok {
			return fmt.Errorf("order %s moved concurrently: %w", orderID, ErrInvalidTransition)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("settle: %w", err)
	}

	return nil
}

// MarkCancelled transitions processing -> cancelled. If the order already
// deducted credits, the compensating refund is applied in the same
// transaction before the status flips, so a cancelled order never leaves a
// net deduction outstanding. Cancelling an already-cancelled order is a
// no-op.
func (s *Service) MarkCancelled(ctx context.Context, orderID string) error {
	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		o, err := s.orders.GetForUpdate(tx, orderID)
		if err != nil {
			return err
		}

		switch o.Status {
		case orders.StatusCancelled:
			return nil
		case orders.StatusProcessing:
			if o.CreditsUsed > 0 {
				deducted, err := s.ledger.DeductionExistsTx(tx, orderID)
				if err != nil {
					return fmt.Errorf("check deduction: %w", err)
				}

				if deducted {
					_, err = s.credits.ApplyDeltaInTx(tx, o.UserID, o.CreditsUsed, credits.ReasonRefund, &orderID)
					if err != nil {
						return fmt.Errorf("refund credits: %w", err)
					}
				}
			}

			ok, err := s.orders.UpdateStatus(tx, orderID, orders.StatusProcessing, orders.StatusCancelled)
			if err != nil {
				return fmt.Errorf("update status: %w", err)
			}
			if !ok {
				return fmt.Errorf("order %s moved concurrently: %w", orderID, ErrInvalidTransition)
			}

			return nil
		default:
			return fmt.Errorf("order %s is %s: %w", orderID, o.Status, ErrInvalidTransition)
		}
	})
	if err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}

	return nil
}

// Get returns the order without locking it.
func (s *Service) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	return o, nil
}
