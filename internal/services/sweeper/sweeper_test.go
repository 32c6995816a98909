package sweeper

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/homestage/creditcore/internal/infra/pgtestutil"
	"github.com/homestage/creditcore/internal/notify"
	"github.com/homestage/creditcore/internal/payments"
	"github.com/homestage/creditcore/internal/repos/orders"
	"github.com/homestage/creditcore/internal/services/checkout"
	"github.com/homestage/creditcore/internal/services/credits"
)

type fakeProvider struct {
	statuses map[string]payments.PaymentStatus
	errs     map[string]error
}

func (f *fakeProvider) GetPaymentStatus(_ context.Context, ref string) (payments.PaymentStatus, error) {
	if err, ok := f.errs[ref]; ok {
		return payments.PaymentStatus{}, err
	}

	return f.statuses[ref], nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureNotifier) Notify(_ context.Context, ev notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, ev)

	return nil
}

func (c *captureNotifier) byKind(kind string) []notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []notify.Event
	for _, ev := range c.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}

	return out
}

type fixture struct {
	db       *sql.DB
	credits  *credits.Service
	checkout *checkout.Service
	provider *fakeProvider
	notifier *captureNotifier
	sweeper  *Service
}

func newFixture(t *testing.T) (*fixture, func()) {
	t.Helper()

	db, cleanup := pgtestutil.NewTestDB(t)

	creditsSvc := credits.New(db)
	checkoutSvc := checkout.New(db, creditsSvc)
	provider := &fakeProvider{
		statuses: make(map[string]payments.PaymentStatus),
		errs:     make(map[string]error),
	}
	notifier := &captureNotifier{}

	svc := New(db, checkoutSvc, provider, notifier, Config{
		QueryTimeout: 2 * time.Second,
	})

	return &fixture{
		db:       db,
		credits:  creditsSvc,
		checkout: checkoutSvc,
		provider: provider,
		notifier: notifier,
		sweeper:  svc,
	}, cleanup
}

// age pushes the order's updated_at into the past so a sweep picks it up.
func (f *fixture) age(t *testing.T, orderID string, by time.Duration) {
	t.Helper()

	_, err := f.db.Exec(`
		UPDATE orders SET updated_at = now() - make_interval(secs => $2) WHERE id = $1
	`, orderID, by.Seconds())
	if err != nil {
		t.Fatalf("age order: %v", err)
	}
}

func (f *fixture) orderStatus(t *testing.T, orderID string) orders.Status {
	t.Helper()

	o, err := f.checkout.Get(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}

	return o.Status
}

func (f *fixture) auditActions(t *testing.T, orderID string) []string {
	t.Helper()

	rows, err := f.db.Query(`SELECT action FROM audit_events WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	defer rows.Close()

	var actions []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			t.Fatalf("scan audit: %v", err)
		}
		actions = append(actions, a)
	}

	return actions
}

// Crash before the payment callback: provider says succeeded, credits were
// never deducted. The sweep backfills the deduction and completes.
func TestSweep_PaidSucceeded_BackfillsDeduction(t *testing.T) {
	t.Parallel()

	f, cleanup := newFixture(t)
	defer cleanup()

	ctx := context.Background()

	_, err := f.credits.ApplyDelta(ctx, "user-1", 5, "grant", nil)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	ref := "pi_1"

	// Payment-funded order that also consumes 2 credits, but the deduction
	// was lost with the crash: create it without the credit leg.
	o, err := f.checkout.Create(ctx, "user-1", 0, &ref)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = f.db.Exec(`UPDATE orders SET credits_used = 2 WHERE id = $1`, o.ID)
	if err != nil {
		t.Fatalf("set credits_used: %v", err)
	}

	f.age(t, o.ID, 2*time.Hour)
	f.provider.statuses[ref] = payments.PaymentStatus{State: payments.StateSucceeded, EventID: "evt_pi_1"}

	summary, err := f.sweeper.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if summary.Checked != 1 || summary.Repaired != 1 || summary.Failed != 0 {
		t.Fatalf("summary: %+v", summary)
	}

	if got := f.orderStatus(t, o.ID); got != orders.StatusCompleted {
		t.Fatalf("status: want completed, got %s", got)
	}

	balance, err := f.credits.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 3 {
		t.Fatalf("balance: want 3, got %d", balance)
	}

	actions := f.auditActions(t, o.ID)
	if len(actions) != 1 || actions[0] != ActionCompletedBySweep {
		t.Fatalf("audit actions: %v", actions)
	}
}

// The provider already confirmed via a callback that recorded the event id
// and deducted the credits, but the status write was lost. The duplicate
// event insert is a no-op and the deduction is not applied twice.
func TestSweep_PaidSucceeded_EventAlreadyRecorded(t *testing.T) {
	t.Parallel()

	f, cleanup := newFixture(t)
	defer cleanup()

	ctx := context.Background()

	_, err := f.credits.ApplyDelta(ctx, "user-1", 5, "grant", nil)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	ref := "pi_2"

	o, err := f.checkout.Create(ctx, "user-1", 2, &ref)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.db.Exec(`INSERT INTO external_events (id, type) VALUES ('evt_pi_2', 'payment_succeeded')`)
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}

	f.age(t, o.ID, 2*time.Hour)
	f.provider.statuses[ref] = payments.PaymentStatus{State: payments.StateSucceeded, EventID: "evt_pi_2"}

	summary, err := f.sweeper.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.Repaired != 1 {
		t.Fatalf("summary: %+v", summary)
	}

	if got := f.orderStatus(t, o.ID); got != orders.StatusCompleted {
		t.Fatalf("status: want completed, got %s", got)
	}

	// Only the original deduction; the sweep must not charge again.
	balance, err := f.credits.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 3 {
		t.Fatalf("balance: want 3, got %d", balance)
	}
}

// Definitive provider failure cancels the order and refunds the deduction.
func TestSweep_PaidFailed_CancelsAndRefunds(t *testing.T) {
	t.Parallel()

	f, cleanup := newFixture(t)
	defer cleanup()

	ctx := context.Background()

	_, err := f.credits.ApplyDelta(ctx, "user-1", 5, "grant", nil)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	ref := "pi_3"

	o, err := f.checkout.Create(ctx, "user-1", 5, &ref)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.age(t, o.ID, 2*time.Hour)
	f.provider.statuses[ref] = payments.PaymentStatus{State: payments.StateFailed, EventID: "evt_pi_3"}

	summary, err := f.sweeper.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.Repaired != 1 {
		t.Fatalf("summary: %+v", summary)
	}

	if got := f.orderStatus(t, o.ID); got != orders.StatusCancelled {
		t.Fatalf("status: want cancelled, got %s", got)
	}

	balance, err := f.credits.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 5 {
		t.Fatalf("balance after refund: want 5, got %d", balance)
	}
}

// Still-pending at the provider: leave untouched, it may resolve later.
func TestSweep_PaidPending_LeftUntouched(t *testing.T) {
	t.Parallel()

	f, cleanup := newFixture(t)
	defer cleanup()

	ctx := context.Background()

	ref := "pi_4"

	o, err := f.checkout.Create(ctx, "user-1", 0, &ref)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.age(t, o.ID, 2*time.Hour)
	f.provider.statuses[ref] = payments.PaymentStatus{State: payments.StatePending, EventID: "evt_pi_4"}

	summary, err := f.sweeper.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if summary.Checked != 1 || summary.Repaired != 0 || summary.Failed != 0 {
		t.Fatalf("summary: %+v", summary)
	}

	if got := f.orderStatus(t, o.ID); got != orders.StatusProcessing {
		t.Fatalf("status: want processing, got %s", got)
	}
}

// Transient provider outage: the order stays processing for the next run and
// counts as failed, not repaired.
func TestSweep_ProviderUnavailable_Transient(t *testing.T) {
	t.Parallel()

	f, cleanup := newFixture(t)
	defer cleanup()

	ctx := context.Background()

	ref := "pi_5"

	o, err := f.checkout.Create(ctx, "user-1", 0, &ref)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.age(t, o.ID, 2*time.Hour)
	f.provider.errs[ref] = payments.ErrProviderUnavailable

	summary, err := f.sweeper.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if summary.Failed != 1 || summary.Repaired != 0 {
		t.Fatalf("summary: %+v", summary)
	}

	if got := f.orderStatus(t, o.ID); got != orders.StatusProcessing {
		t.Fatalf("status: want processing, got %s", got)
	}
}

// Credit-only order whose deduction landed but whose status write was lost:
// complete without re-deducting.
func TestSweep_CreditOnly_DeductionExists_Completes(t *testing.T) {
	t.Parallel()

	f, cleanup := newFixture(t)
	defer cleanup()

	ctx := context.Background()

	_, err := f.credits.ApplyDelta(ctx, "user-1", 5, "grant", nil)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	o, err := f.checkout.Create(ctx, "user-1", 5, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.age(t, o.ID, 2*time.Hour)

	summary, err := f.sweeper.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.Repaired != 1 {
		t.Fatalf("summary: %+v", summary)
	}

	if got := f.orderStatus(t, o.ID); got != orders.StatusCompleted {
		t.Fatalf("status: want completed, got %s", got)
	}

	balance, err := f.credits.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance: want 0 (no re-deduction), got %d", balance)
	}
}

// Credit-only order with no ledger entry: no source of truth confirms intent,
// so the conservative repair is cancellation, flagged to the operator.
func TestSweep_CreditOnly_Orphan_Cancelled(t *testing.T) {
	t.Parallel()

	f, cleanup := newFixture(t)
	defer cleanup()

	ctx := context.Background()

	o, err := f.checkout.Create(ctx, "user-1", 0, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Simulate the crashed flow: processing with credits_used set but no
	// deduction written.
	_, err = f.db.Exec(`UPDATE orders SET status = 'processing', credits_used = 5 WHERE id = $1`, o.ID)
	if err != nil {
		t.Fatalf("force processing: %v", err)
	}

	f.age(t, o.ID, 2*time.Hour)

	summary, err := f.sweeper.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.Repaired != 1 {
		t.Fatalf("summary: %+v", summary)
	}

	if got := f.orderStatus(t, o.ID); got != orders.StatusCancelled {
		t.Fatalf("status: want cancelled, got %s", got)
	}

	// No deduction existed, so cancellation must not fabricate a refund.
	balance, err := f.credits.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance: want 0, got %d", balance)
	}

	actions := f.auditActions(t, o.ID)
	if len(actions) != 1 || actions[0] != ActionCancelledOrphan {
		t.Fatalf("audit actions: %v", actions)
	}

	repairs := f.notifier.byKind(notify.KindRepair)
	if len(repairs) == 0 {
		t.Fatal("expected orphan cancellation notification")
	}
}

// An order stuck far past the staleness threshold raises an operator
// escalation even when the automated decision stays conservative.
func TestSweep_EscalatesVeryStaleOrders(t *testing.T) {
	t.Parallel()

	f, cleanup := newFixture(t)
	defer cleanup()

	ctx := context.Background()

	ref := "pi_stuck"

	o, err := f.checkout.Create(ctx, "user-1", 0, &ref)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Default escalate factor is 4; 5h past a 1h threshold qualifies.
	f.age(t, o.ID, 5*time.Hour)
	f.provider.statuses[ref] = payments.PaymentStatus{State: payments.StatePending, EventID: "evt_stuck"}

	_, err = f.sweeper.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}

	escalations := f.notifier.byKind(notify.KindEscalation)
	if len(escalations) != 1 {
		t.Fatalf("escalations: want 1, got %d", len(escalations))
	}
	if escalations[0].OrderID != o.ID {
		t.Fatalf("escalation order: want %s, got %s", o.ID, escalations[0].OrderID)
	}

	if got := f.orderStatus(t, o.ID); got != orders.StatusProcessing {
		t.Fatalf("status: want processing, got %s", got)
	}
}

// One broken order must not stop the rest of the batch from being repaired.
func TestSweep_IsolatesPerOrderFailures(t *testing.T) {
	t.Parallel()

	f, cleanup := newFixture(t)
	defer cleanup()

	ctx := context.Background()

	badRef := "pi_down"

	bad, err := f.checkout.Create(ctx, "user-1", 0, &badRef)
	if err != nil {
		t.Fatalf("create bad: %v", err)
	}
	f.age(t, bad.ID, 3*time.Hour)
	f.provider.errs[badRef] = payments.ErrProviderUnavailable

	goodRef := "pi_ok"

	good, err := f.checkout.Create(ctx, "user-2", 0, &goodRef)
	if err != nil {
		t.Fatalf("create good: %v", err)
	}
	f.age(t, good.ID, 2*time.Hour)
	f.provider.statuses[goodRef] = payments.PaymentStatus{State: payments.StateSucceeded, EventID: "evt_ok"}

	summary, err := f.sweeper.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if summary.Checked != 2 || summary.Repaired != 1 || summary.Failed != 1 {
		t.Fatalf("summary: %+v", summary)
	}

	if got := f.orderStatus(t, good.ID); got != orders.StatusCompleted {
		t.Fatalf("good order: want completed, got %s", got)
	}
	if got := f.orderStatus(t, bad.ID); got != orders.StatusProcessing {
		t.Fatalf("bad order: want processing, got %s", got)
	}

	summaries := f.notifier.byKind(notify.KindSummary)
	if len(summaries) != 1 {
		t.Fatalf("summary notifications: want 1, got %d", len(summaries))
	}
}
