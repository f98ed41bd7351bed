package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bollette/internal/core"
	"bollette/internal/log"
	"bollette/internal/similarity"
	"bollette/internal/storage"
)

func testLogger() *log.Logger {
	return log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

type capturedEvents struct {
	cleared []BillClearedEvent
}

func (c *capturedEvents) PublishBillCleared(_ context.Context, ev BillClearedEvent) error {
	c.cleared = append(c.cleared, ev)
	return nil
}

func seedPattern(t *testing.T, s storage.Store, due core.Date) core.RecurringPattern {
	t.Helper()
	p := core.RecurringPattern{
		ID:             "pat-netflix",
		Name:           "Netflix",
		Amount:         core.Money{Cents: 1599},
		Frequency:      core.Monthly,
		NextOccurrence: due,
		Status:         core.StatusActive,
	}
	require.NoError(t, s.SavePattern(context.Background(), p))
	return p
}

func seedBill(t *testing.T, s storage.Store, id string, p core.RecurringPattern, due core.Date) core.BillInstance {
	t.Helper()
	b := core.BillInstance{
		ID:         id,
		Name:       p.Name,
		Amount:     p.Amount,
		DueDate:    due,
		Status:     core.BillPending,
		PatternID:  p.ID,
		Recurrence: p.Frequency,
	}
	require.NoError(t, s.InsertBill(context.Background(), b))
	return b
}

func TestReconcileFullFlow(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	events := &capturedEvents{}
	r := NewReconciler(store, similarity.NewEngine(), testLogger(), events)

	due := core.NewDate(2025, 3, 15)
	p := seedPattern(t, store, due)
	bill := seedBill(t, store, "bill-1", p, due)

	tx := core.Transaction{
		ID:     "tx-1",
		Name:   "NETFLIX.COM",
		Amount: core.Money{Cents: -1599},
		Date:   core.NewDate(2025, 3, 14),
	}

	summary, err := r.Reconcile(ctx, []core.Transaction{tx}, []core.BillInstance{bill}, time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Cleared)
	assert.Equal(t, 1, summary.Advanced)
	assert.Equal(t, 1, summary.Generated)
	require.Len(t, summary.Details, 1)
	assert.Equal(t, 100, summary.Details[0].Confidence)

	paid, err := store.GetBill(ctx, "bill-1")
	require.NoError(t, err)
	assert.True(t, paid.Paid)
	assert.Equal(t, "tx-1", paid.TransactionID)
	assert.Equal(t, int64(1599), paid.PaidAmount.Cents)

	got, err := store.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.NextOccurrence.SameDay(core.NewDate(2025, 4, 15)))

	next, err := store.GetBill(ctx, summary.Details[0].GeneratedBillID)
	require.NoError(t, err)
	assert.True(t, next.DueDate.SameDay(core.NewDate(2025, 4, 15)))
	assert.False(t, next.Paid)

	require.Len(t, events.cleared, 1)
	assert.Equal(t, "bill-1", events.cleared[0].BillID)
}

func TestReconcileIdempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := NewReconciler(store, similarity.NewEngine(), testLogger(), nil)

	due := core.NewDate(2025, 3, 15)
	p := seedPattern(t, store, due)
	bill := seedBill(t, store, "bill-1", p, due)
	tx := core.Transaction{ID: "tx-1", Name: "Netflix", Amount: core.Money{Cents: 1599}, Date: due}
	now := time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC)

	first, err := r.Reconcile(ctx, []core.Transaction{tx}, []core.BillInstance{bill}, now)
	require.NoError(t, err)
	require.Equal(t, 1, first.Cleared)

	// Re-running with the same stale inputs must not double anything.
	second, err := r.Reconcile(ctx, []core.Transaction{tx}, []core.BillInstance{bill}, now)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Cleared)
	assert.Equal(t, 0, second.Advanced)
	assert.Equal(t, 0, second.Generated)

	got, err := store.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.NextOccurrence.SameDay(core.NewDate(2025, 4, 15)))

	unpaid, err := store.ListUnpaidBills(ctx)
	require.NoError(t, err)
	assert.Len(t, unpaid, 1)
}

func TestReconcileBelowThresholdIgnored(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := NewReconciler(store, similarity.NewEngine(), testLogger(), nil)

	due := core.NewDate(2025, 3, 15)
	p := seedPattern(t, store, due)
	bill := seedBill(t, store, "bill-1", p, due)

	// Only the name matches: wrong amount, date far off.
	tx := core.Transaction{ID: "tx-1", Name: "Netflix", Amount: core.Money{Cents: 9900}, Date: core.NewDate(2025, 1, 2)}

	summary, err := r.Reconcile(ctx, []core.Transaction{tx}, []core.BillInstance{bill}, time.Now())
	require.NoError(t, err)
	assert.Zero(t, summary.Cleared)
	assert.Empty(t, summary.Details)

	got, err := store.GetBill(ctx, "bill-1")
	require.NoError(t, err)
	assert.False(t, got.Paid)
}

func TestReconcileTieBreaksOnEarliestDue(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := NewReconciler(store, similarity.NewEngine(), testLogger(), nil)

	p := seedPattern(t, store, core.NewDate(2025, 3, 15))
	older := seedBill(t, store, "bill-feb", p, core.NewDate(2025, 3, 14))
	newer := seedBill(t, store, "bill-mar", p, core.NewDate(2025, 3, 16))

	tx := core.Transaction{ID: "tx-1", Name: "Netflix", Amount: core.Money{Cents: 1599}, Date: core.NewDate(2025, 3, 15)}

	summary, err := r.Reconcile(ctx, []core.Transaction{tx}, []core.BillInstance{newer, older}, time.Now())
	require.NoError(t, err)
	require.Len(t, summary.Details, 1)
	assert.Equal(t, "bill-feb", summary.Details[0].BillID)
}

func TestReconcileMonthEndGeneration(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := NewReconciler(store, similarity.NewEngine(), testLogger(), nil)

	due := core.NewDate(2025, 1, 31)
	p := seedPattern(t, store, due)
	bill := seedBill(t, store, "bill-1", p, due)
	tx := core.Transaction{ID: "tx-1", Name: "Netflix", Amount: core.Money{Cents: 1599}, Date: due}

	summary, err := r.Reconcile(ctx, []core.Transaction{tx}, []core.BillInstance{bill}, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Generated)

	next, err := store.GetBill(ctx, summary.Details[0].GeneratedBillID)
	require.NoError(t, err)
	assert.Equal(t, "2025-02-28", next.DueDate.ISO())
}

func TestReconcileUnpaidCapBlocksGeneration(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := NewReconciler(store, similarity.NewEngine(), testLogger(), nil)

	due := core.NewDate(2025, 3, 15)
	p := seedPattern(t, store, due)
	bill := seedBill(t, store, "bill-1", p, due)
	seedBill(t, store, "bill-extra-1", p, core.NewDate(2025, 1, 15))
	seedBill(t, store, "bill-extra-2", p, core.NewDate(2025, 2, 15))

	tx := core.Transaction{ID: "tx-1", Name: "Netflix", Amount: core.Money{Cents: 1599}, Date: due}

	summary, err := r.Reconcile(ctx, []core.Transaction{tx}, []core.BillInstance{bill}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Cleared)
	assert.Equal(t, 0, summary.Generated)
}

func TestReconcileEndDateRetiresPattern(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := NewReconciler(store, similarity.NewEngine(), testLogger(), nil)

	due := core.NewDate(2025, 3, 15)
	p := seedPattern(t, store, due)
	p.EndDate = core.NewDate(2025, 3, 31)
	require.NoError(t, store.SavePattern(ctx, p))
	bill := seedBill(t, store, "bill-1", p, due)

	tx := core.Transaction{ID: "tx-1", Name: "Netflix", Amount: core.Money{Cents: 1599}, Date: due}

	summary, err := r.Reconcile(ctx, []core.Transaction{tx}, []core.BillInstance{bill}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Cleared)
	assert.Equal(t, 0, summary.Generated)

	got, err := store.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusEnded, got.Status)
}

func TestReconcileInvalidTransactionReported(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := NewReconciler(store, similarity.NewEngine(), testLogger(), nil)

	due := core.NewDate(2025, 3, 15)
	p := seedPattern(t, store, due)
	bill := seedBill(t, store, "bill-1", p, due)

	bad := core.Transaction{ID: "tx-bad", Name: "", Amount: core.Money{Cents: 1599}, Date: due}
	good := core.Transaction{ID: "tx-good", Name: "Netflix", Amount: core.Money{Cents: 1599}, Date: due}

	summary, err := r.Reconcile(ctx, []core.Transaction{bad, good}, []core.BillInstance{bill}, time.Now())
	require.NoError(t, err)
	assert.Len(t, summary.Invalid, 1)
	assert.Equal(t, 1, summary.Cleared)
}

func TestGenerateDue(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := NewReconciler(store, similarity.NewEngine(), testLogger(), nil)

	due := core.NewDate(2025, 3, 15)
	seedPattern(t, store, due)
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	n, err := r.GenerateDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Second pass finds the instance and generates nothing.
	n, err = r.GenerateDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	unpaid, err := store.ListUnpaidBills(ctx)
	require.NoError(t, err)
	require.Len(t, unpaid, 1)
	assert.True(t, unpaid[0].DueDate.SameDay(due))
}

func TestGenerateDueSkipsPausedAndFuture(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := NewReconciler(store, similarity.NewEngine(), testLogger(), nil)

	now := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	paused := seedPattern(t, store, core.NewDate(2025, 3, 10))
	paused.ID = "pat-paused"
	paused.Status = core.StatusPaused
	require.NoError(t, store.SavePattern(ctx, paused))

	future := seedPattern(t, store, core.NewDate(2025, 3, 10))
	future.ID = "pat-future"
	future.NextOccurrence = core.NewDate(2025, 6, 1)
	require.NoError(t, store.SavePattern(ctx, future))

	n, err := r.GenerateDue(ctx, now)
	require.NoError(t, err)
	// Only the original active pattern from seedPattern qualifies.
	assert.Equal(t, 1, n)
}

func TestBillServiceUnmarkPayment(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := NewBillService(store, testLogger())

	p := seedPattern(t, store, core.NewDate(2025, 3, 15))
	seedBill(t, store, "bill-1", p, core.NewDate(2025, 3, 15))
	_, err := store.MarkBillPaid(ctx, "bill-1", "tx-1", core.Money{Cents: 1599}, core.NewDate(2025, 3, 14))
	require.NoError(t, err)

	require.NoError(t, svc.UnmarkPayment(ctx, "bill-1"))
	// Unmarking an unpaid bill is a no-op.
	require.NoError(t, svc.UnmarkPayment(ctx, "bill-1"))

	got, err := store.GetBill(ctx, "bill-1")
	require.NoError(t, err)
	assert.False(t, got.Paid)
	assert.Empty(t, got.TransactionID)
}

func TestBillServicePauseResumeAndEnd(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := NewBillService(store, testLogger())

	p := seedPattern(t, store, core.NewDate(2025, 3, 15))
	seedBill(t, store, "bill-1", p, core.NewDate(2025, 3, 15))

	status, err := svc.PauseResume(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaused, status)

	status, err = svc.PauseResume(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, status)

	require.NoError(t, svc.EndPattern(ctx, p.ID))

	// Ended is terminal: the toggle is rejected, re-ending is a no-op.
	_, err = svc.PauseResume(ctx, p.ID)
	assert.Error(t, err)
	assert.NoError(t, svc.EndPattern(ctx, p.ID))

	// Cascade removed the unpaid instance.
	_, err = store.GetBill(ctx, "bill-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
