package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bollette/internal/core"
)

func testPattern(id string) core.RecurringPattern {
	return core.RecurringPattern{
		ID:             id,
		Name:           "Netflix",
		Amount:         core.Money{Cents: 1599},
		Frequency:      core.Monthly,
		NextOccurrence: core.NewDate(2025, 3, 15),
		Status:         core.StatusActive,
	}
}

func testBill(id, patternID string, due core.Date) core.BillInstance {
	return core.BillInstance{
		ID:        id,
		Name:      "Netflix",
		Amount:    core.Money{Cents: 1599},
		DueDate:   due,
		Status:    core.BillPending,
		PatternID: patternID,
	}
}

func TestMemoryStorePatternRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SavePattern(ctx, testPattern("p1")))

	got, err := s.GetPattern(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Netflix", got.Name)

	_, err = s.GetPattern(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreAdvancePattern(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SavePattern(ctx, testPattern("p1")))

	from := core.NewDate(2025, 3, 15)
	to := core.NewDate(2025, 4, 15)

	require.NoError(t, s.AdvancePattern(ctx, "p1", from, to))

	got, err := s.GetPattern(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.NextOccurrence.SameDay(to))

	// Second advance from the old date must fail: another run won.
	err = s.AdvancePattern(ctx, "p1", from, core.NewDate(2025, 5, 15))
	assert.ErrorIs(t, err, ErrStale)

	err = s.AdvancePattern(ctx, "missing", from, to)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreAdvanceClearsFailedFlag(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := testPattern("p1")
	p.LastPaymentFailed = true
	require.NoError(t, s.SavePattern(ctx, p))

	require.NoError(t, s.AdvancePattern(ctx, "p1", p.NextOccurrence, core.NewDate(2025, 4, 15)))

	got, err := s.GetPattern(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, got.LastPaymentFailed)
}

func TestMemoryStoreMarkBillPaidIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InsertBill(ctx, testBill("b1", "p1", core.NewDate(2025, 3, 15))))

	changed, err := s.MarkBillPaid(ctx, "b1", "tx1", core.Money{Cents: 1599}, core.NewDate(2025, 3, 14))
	require.NoError(t, err)
	assert.True(t, changed)

	// Marking again is a no-op, not an error.
	changed, err = s.MarkBillPaid(ctx, "b1", "tx2", core.Money{Cents: 1599}, core.NewDate(2025, 3, 15))
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := s.GetBill(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "tx1", got.TransactionID)
	assert.Equal(t, core.BillPaid, got.Status)
}

func TestMemoryStoreUnmarkBillPaid(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InsertBill(ctx, testBill("b1", "p1", core.NewDate(2025, 3, 15))))

	_, err := s.MarkBillPaid(ctx, "b1", "tx1", core.Money{Cents: 1599}, core.NewDate(2025, 3, 14))
	require.NoError(t, err)

	require.NoError(t, s.UnmarkBillPaid(ctx, "b1"))

	got, err := s.GetBill(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, got.Paid)
	assert.Empty(t, got.TransactionID)
	assert.Equal(t, core.BillPending, got.Status)
}

func TestMemoryStoreEndPatternCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SavePattern(ctx, testPattern("p1")))
	require.NoError(t, s.InsertBill(ctx, testBill("b1", "p1", core.NewDate(2025, 3, 15))))
	require.NoError(t, s.InsertBill(ctx, testBill("b2", "p1", core.NewDate(2025, 4, 15))))
	require.NoError(t, s.InsertBill(ctx, testBill("b3", "other", core.NewDate(2025, 3, 15))))

	_, err := s.MarkBillPaid(ctx, "b1", "tx1", core.Money{Cents: 1599}, core.NewDate(2025, 3, 14))
	require.NoError(t, err)

	require.NoError(t, s.EndPattern(ctx, "p1"))

	got, err := s.GetPattern(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusEnded, got.Status)

	// Paid history survives, unpaid child is gone, other patterns untouched.
	_, err = s.GetBill(ctx, "b1")
	assert.NoError(t, err)
	_, err = s.GetBill(ctx, "b2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetBill(ctx, "b3")
	assert.NoError(t, err)
}

func TestMemoryStoreBillExists(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	due := core.NewDate(2025, 3, 15)
	require.NoError(t, s.InsertBill(ctx, testBill("b1", "p1", due)))

	exists, err := s.BillExists(ctx, "p1", due)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.BillExists(ctx, "p1", core.NewDate(2025, 4, 15))
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = s.BillExists(ctx, "p2", due)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStoreCountUnpaidForPattern(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InsertBill(ctx, testBill("b1", "p1", core.NewDate(2025, 3, 15))))
	require.NoError(t, s.InsertBill(ctx, testBill("b2", "p1", core.NewDate(2025, 4, 15))))

	n, err := s.CountUnpaidForPattern(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.MarkBillPaid(ctx, "b1", "tx1", core.Money{Cents: 1599}, core.NewDate(2025, 3, 14))
	require.NoError(t, err)

	n, err = s.CountUnpaidForPattern(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
