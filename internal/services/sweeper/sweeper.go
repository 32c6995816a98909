// Package sweeper repairs orders left in an indeterminate state by crashed or
// abandoned checkouts. It is scheduled out of process (cron) and owns no
// state; every run re-derives the stuck set from the orders table.
package sweeper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sethvargo/go-retry"

	"github.com/homestage/creditcore/internal/notify"
	"github.com/homestage/creditcore/internal/payments"
	"github.com/homestage/creditcore/internal/repos/audit"
	pgaudit "github.com/homestage/creditcore/internal/repos/audit/postgres"
	"github.com/homestage/creditcore/internal/repos/events"
	pgevents "github.com/homestage/creditcore/internal/repos/events/postgres"
	"github.com/homestage/creditcore/internal/repos/ledger"
	pgledger "github.com/homestage/creditcore/internal/repos/ledger/postgres"
	"github.com/homestage/creditcore/internal/repos/orders"
	pgorders "github.com/homestage/creditcore/internal/repos/orders/postgres"
	"github.com/homestage/creditcore/internal/services/checkout"
)

// Audit actions written for each repair.
const (
	ActionCompletedBySweep = "completed_by_sweep"
	ActionCancelledBySweep = "cancelled_by_sweep"
	ActionCancelledOrphan  = "cancelled_orphan"
)

// Summary is all a caller learns about a sweep. Per-order failures are
// isolated, logged, and counted; they never abort the batch or propagate.
type Summary struct {
	Checked  int
	Repaired int
	Failed   int
}

type Config struct {
	// BatchLimit caps how many stuck orders one run picks up.
	BatchLimit int
	// QueryTimeout bounds each provider status call. A timed-out call is
	// transient: the order stays processing for the next run.
	QueryTimeout time.Duration
	// EscalateFactor: orders stale past staleness*EscalateFactor raise an
	// operator escalation in addition to the normal handling.
	EscalateFactor int
}

func (c Config) withDefaults() Config {
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.EscalateFactor <= 1 {
		c.EscalateFactor = 4
	}

	return c
}

type Service struct {
	db       *sql.DB
	orders   orders.Orders
	ledger   ledger.Ledger
	events   events.Events
	audit    audit.Audit
	checkout *checkout.Service
	provider payments.Provider
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time
}

func New(db *sql.DB, checkoutSvc *checkout.Service, provider payments.Provider, notifier notify.Notifier, cfg Config) *Service {
	return &Service{
		db:       db,
		orders:   pgorders.New(db),
		ledger:   pgledger.New(db),
		events:   pgevents.New(db),
		audit:    pgaudit.New(db),
		checkout: checkoutSvc,
		provider: provider,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// Sweep scans orders stuck in processing for longer than staleness and drives
// each to a terminal state where ground truth allows. The returned error
// covers only run-level failures (the stuck set could not be listed);
// everything per-order lands in the summary.
func (s *Service) Sweep(ctx context.Context, staleness time.Duration) (Summary, error) {
	cutoff := s.now().Add(-staleness)

	stale, err := s.orders.ListStale(ctx, cutoff, s.cfg.BatchLimit)
	if err != nil {
		return Summary{}, fmt.Errorf("list stale orders: %w", err)
	}

	var summary Summary
	var orderErrs *multierror.Error

	escalateCutoff := s.now().Add(-staleness * time.Duration(s.cfg.EscalateFactor))

	for _, o := range stale {
		summary.Checked++

		if o.UpdatedAt.Before(escalateCutoff) {
			s.notify(ctx, notify.Event{
				Kind:    notify.KindEscalation,
				OrderID: o.ID,
				Message: fmt.Sprintf("order stuck in processing since %s", o.UpdatedAt.Format(time.RFC3339)),
			})
		}

		repaired, err := s.sweepOne(ctx, o)
		if err != nil {
			summary.Failed++
			orderErrs = multierror.Append(orderErrs, fmt.Errorf("order %s: %w", o.ID, err))

			continue
		}

		if repaired {
			summary.Repaired++
		}
	}

	if orderErrs.ErrorOrNil() != nil {
		slog.Error("sweep finished with per-order failures",
			"checked", summary.Checked,
			"repaired", summary.Repaired,
			"failed", summary.Failed,
			"errors", orderErrs.Error(),
		)
	}

	s.notify(ctx, notify.Event{
		Kind: notify.KindSummary,
		Message: fmt.Sprintf("sweep checked=%d repaired=%d failed=%d",
			summary.Checked, summary.Repaired, summary.Failed),
	})

	return summary, nil
}

// sweepOne repairs a single stuck order. It reports whether a repair was
// applied; leaving a still-pending payment untouched is success without
// repair.
func (s *Service) sweepOne(ctx context.Context, o orders.Order) (bool, error) {
	if o.PaymentRef != nil {
		return s.sweepPaid(ctx, o, *o.PaymentRef)
	}

	return s.sweepCreditOnly(ctx, o)
}

func (s *Service) sweepPaid(ctx context.Context, o orders.Order, ref string) (bool, error) {
	status, err := s.queryProvider(ctx, ref)
	if err != nil {
		if errors.Is(err, payments.ErrPaymentNotFound) {
			// The provider never saw this reference; nothing will ever
			// confirm it.
			return true, s.cancel(ctx, o, ActionCancelledBySweep)
		}

		// Transient: leave the order processing for the next run.
		return false, fmt.Errorf("query provider: %w", err)
	}

	switch status.State {
	case payments.StateSucceeded:
		return true, s.completePaid(ctx, o, status.EventID)
	case payments.StateFailed:
		return true, s.cancel(ctx, o, ActionCancelledBySweep)
	default:
		// Still pending at the provider; it may resolve on a later sweep.
		return false, nil
	}
}

// completePaid applies the confirmed payment: record the provider event id
// (duplicate means a callback already applied it), then settle through the
// checkout service, which backfills a missing deduction and completes under
// one order lock. A cancellation racing the settle loses cleanly: it either
// commits first (settle rejects the terminal state) or waits for the lock.
func (s *Service) completePaid(ctx context.Context, o orders.Order, eventID string) error {
	err := s.recordEvent(ctx, eventID, "payment_succeeded")
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}

	err = s.checkout.Settle(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("settle order: %w", err)
	}

	s.recordRepair(ctx, o.ID, ActionCompletedBySweep)

	return nil
}

func (s *Service) cancel(ctx context.Context, o orders.Order, action string) error {
	err := s.checkout.MarkCancelled(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}

	s.recordRepair(ctx, o.ID, action)

	return nil
}

// sweepCreditOnly resolves orders with no payment reference. If the deduction
// landed the work was funded and only the status write was lost, so complete.
// With no ledger entry there is no external source of truth to confirm
// intent; the conservative default is to cancel rather than leave an
// ambiguous state.
func (s *Service) sweepCreditOnly(ctx context.Context, o orders.Order) (bool, error) {
	deducted, err := s.ledger.DeductionExists(ctx, o.ID)
	if err != nil {
		return false, fmt.Errorf("check deduction: %w", err)
	}

	if deducted {
		err = s.checkout.MarkCompleted(ctx, o.ID)
		if err != nil {
			return false, fmt.Errorf("mark completed: %w", err)
		}

		s.recordRepair(ctx, o.ID, ActionCompletedBySweep)

		return true, nil
	}

	err = s.cancel(ctx, o, ActionCancelledOrphan)
	if err != nil {
		return false, err
	}

	s.notify(ctx, notify.Event{
		Kind:    notify.KindRepair,
		OrderID: o.ID,
		Action:  ActionCancelledOrphan,
		Message: "credit-only order cancelled with no deduction on record",
	})

	return true, nil
}

// queryProvider wraps the status call in a bounded timeout and a couple of
// constant-backoff retries, so one network blip does not spend a whole sweep
// cycle on an order.
func (s *Service) queryProvider(ctx context.Context, ref string) (payments.PaymentStatus, error) {
	var status payments.PaymentStatus

	backoff := retry.WithMaxRetries(2, retry.NewConstant(500*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()

		st, err := s.provider.GetPaymentStatus(callCtx, ref)
		if err != nil {
			if errors.Is(err, payments.ErrProviderUnavailable) || errors.Is(err, context.DeadlineExceeded) {
				return retry.RetryableError(err)
			}

			return err
		}

		status = st

		return nil
	})
	if err != nil {
		return payments.PaymentStatus{}, err
	}

	return status, nil
}

// recordEvent inserts the provider event id, treating a duplicate as already
// applied.
func (s *Service) recordEvent(ctx context.Context, eventID, eventType string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	err = s.events.Insert(tx, eventID, eventType)
	if err != nil {
		_ = tx.Rollback()

		if errors.Is(err, events.ErrDuplicateEvent) {
			return nil
		}

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit event: %w", err)
	}

	return nil
}

// recordRepair writes the audit trail entry and repair notification.
// Best-effort: the repair itself already committed.
func (s *Service) recordRepair(ctx context.Context, orderID, action string) {
	err := s.audit.Insert(ctx, orderID, action)
	if err != nil {
		slog.Error("failed to write audit event", "order_id", orderID, "action", action, "error", err)
	}

	s.notify(ctx, notify.Event{
		Kind:    notify.KindRepair,
		OrderID: orderID,
		Action:  action,
		Message: "order repaired by reconciliation sweep",
	})
}

func (s *Service) notify(ctx context.Context, ev notify.Event) {
	ev.At = s.now()

	err := s.notifier.Notify(ctx, ev)
	if err != nil {
		slog.Error("failed to send notification", "kind", ev.Kind, "order_id", ev.OrderID, "error", err)
	}
}
