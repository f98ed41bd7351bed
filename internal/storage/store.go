// Package storage persists recurring patterns and bill instances. The
// Store interface is the document-store boundary the reconciliation
// core needs: read-all-matching, write-one, and equality-filtered
// existence checks. No multi-document transactions are assumed; the
// conditional AdvancePattern write is the only optimistic primitive.
package storage

import (
	"context"
	"errors"

	"bollette/internal/core"
)

var (
	// ErrNotFound reports a missing document.
	ErrNotFound = errors.New("not found")
	// ErrStale reports a conditional write whose precondition no
	// longer holds, typically because another run already advanced
	// the pattern. Callers treat it as a skip, not a failure.
	ErrStale = errors.New("stale state")
)

type Store interface {
	GetPattern(ctx context.Context, id string) (core.RecurringPattern, error)
	ListPatterns(ctx context.Context) ([]core.RecurringPattern, error)
	SavePattern(ctx context.Context, p core.RecurringPattern) error
	// AdvancePattern moves NextOccurrence from `from` to `to` only if
	// the stored value still equals `from`; otherwise ErrStale.
	AdvancePattern(ctx context.Context, id string, from, to core.Date) error
	SetPatternStatus(ctx context.Context, id string, status core.PatternStatus) error
	// EndPattern marks the pattern ended and cascades deletion to its
	// unpaid children. Paid children are preserved as history.
	EndPattern(ctx context.Context, id string) error

	GetBill(ctx context.Context, id string) (core.BillInstance, error)
	ListUnpaidBills(ctx context.Context) ([]core.BillInstance, error)
	InsertBill(ctx context.Context, b core.BillInstance) error
	// MarkBillPaid is idempotent: marking an already-paid bill is a
	// no-op reported via the boolean.
	MarkBillPaid(ctx context.Context, billID, txID string, paidAmount core.Money, paidDate core.Date) (bool, error)
	UnmarkBillPaid(ctx context.Context, billID string) error
	// BillExists is the equality-filtered existence check guarding
	// duplicate generation.
	BillExists(ctx context.Context, patternID string, due core.Date) (bool, error)
	CountUnpaidForPattern(ctx context.Context, patternID string) (int, error)
}
