// Package services coordinates the reconciliation flow: matching
// external transactions to unpaid bills, clearing them, advancing the
// owning patterns and generating the next instances. Every mutating
// step is guarded so the whole pass can be re-run after a crash or a
// retried call and converge to the same end state.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bollette/internal/core"
	"bollette/internal/log"
	"bollette/internal/schedule"
	"bollette/internal/similarity"
	"bollette/internal/storage"
)

// MinMatchConfidence is the acceptance threshold for a
// transaction-to-bill match: two of the three criteria.
const MinMatchConfidence = 67

// ErrRunInProgress reports that another reconciliation pass holds the
// process-local run lock. The lock only avoids wasted concurrent work;
// the store-level guards are what keep re-runs safe.
var ErrRunInProgress = errors.New("reconciliation run already in progress")

// BillClearedEvent is published after a bill is marked paid by a
// matched transaction.
type BillClearedEvent struct {
	BillID        string `json:"bill_id"`
	BillName      string `json:"bill_name"`
	PatternID     string `json:"pattern_id,omitempty"`
	TransactionID string `json:"transaction_id"`
	AmountCents   int64  `json:"amount_cents"`
	PaidDate      string `json:"paid_date"`
	Confidence    int    `json:"confidence"`
}

// EventPublisher receives cleared-bill notifications. Implementations
// must tolerate duplicate events because the reconciliation pass has
// at-least-once semantics.
type EventPublisher interface {
	PublishBillCleared(ctx context.Context, ev BillClearedEvent) error
}

// MatchDetail records the outcome of one accepted transaction match.
type MatchDetail struct {
	TransactionID   string
	BillID          string
	Confidence      int
	Cleared         bool
	Advanced        bool
	GeneratedBillID string
	SkipReason      string
}

// Summary aggregates one reconciliation pass.
type Summary struct {
	Cleared   int
	Advanced  int
	Generated int
	Details   []MatchDetail
	Invalid   []string // per-record validation failures, batch never aborts
}

// Reconciler matches transactions to unpaid bills and applies the
// payment side effects through the store.
type Reconciler struct {
	store  storage.Store
	engine *similarity.Engine
	logger *log.Logger
	events EventPublisher // optional

	runMu sync.Mutex
}

func NewReconciler(store storage.Store, engine *similarity.Engine, logger *log.Logger, events EventPublisher) *Reconciler {
	return &Reconciler{
		store:  store,
		engine: engine,
		logger: logger.WithComponent(log.ComponentReconcile),
		events: events,
	}
}

// Reconcile matches every transaction against the unpaid bills and,
// for each accepted match, marks the bill paid, advances the owning
// pattern and generates the next instance. Single bad records are
// reported in the summary, never fatal to the batch.
func (r *Reconciler) Reconcile(ctx context.Context, txs []core.Transaction, bills []core.BillInstance, now time.Time) (Summary, error) {
	if !r.runMu.TryLock() {
		return Summary{}, ErrRunInProgress
	}
	defer r.runMu.Unlock()

	summary := Summary{}
	r.logger.InfoContext(ctx, "Reconciliation started",
		"transactions", len(txs),
		"unpaid_bills", len(bills))

	claimed := make(map[string]bool, len(bills))

	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			summary.Invalid = append(summary.Invalid, fmt.Sprintf("transaction %s: %v", tx.ID, err))
			continue
		}

		best, ok := r.bestMatch(tx, bills, claimed)
		if !ok {
			// No match is an empty result, not an error.
			continue
		}
		claimed[best.bill.ID] = true

		detail := MatchDetail{
			TransactionID: tx.ID,
			BillID:        best.bill.ID,
			Confidence:    best.result.Confidence,
		}
		r.applyMatch(ctx, tx, best.bill, now, &detail, &summary)
		summary.Details = append(summary.Details, detail)
	}

	r.logger.InfoContext(ctx, "Reconciliation complete",
		"cleared", summary.Cleared,
		"advanced", summary.Advanced,
		"generated", summary.Generated,
		"invalid", len(summary.Invalid))
	return summary, nil
}

type candidate struct {
	bill   core.BillInstance
	result similarity.MatchResult
}

// bestMatch picks the highest-confidence unclaimed bill for a
// transaction. Ties break toward the earliest due date because oldest
// unpaid first matches real payment order.
func (r *Reconciler) bestMatch(tx core.Transaction, bills []core.BillInstance, claimed map[string]bool) (candidate, bool) {
	var candidates []candidate
	for _, b := range bills {
		if b.Paid || claimed[b.ID] {
			continue
		}
		if err := b.Validate(); err != nil {
			continue
		}
		res := r.engine.Transaction(tx, b)
		if res.Confidence >= MinMatchConfidence {
			candidates = append(candidates, candidate{bill: b, result: res})
		}
	}
	if len(candidates) == 0 {
		return candidate{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].result.Confidence != candidates[j].result.Confidence {
			return candidates[i].result.Confidence > candidates[j].result.Confidence
		}
		return candidates[i].bill.DueDate.Before(candidates[j].bill.DueDate.Time)
	})
	return candidates[0], true
}

// applyMatch runs the three guarded steps for one accepted match. Each
// step is individually idempotent; a skip in one never blocks the next.
func (r *Reconciler) applyMatch(ctx context.Context, tx core.Transaction, bill core.BillInstance, now time.Time, detail *MatchDetail, summary *Summary) {
	fields := log.NewFields().
		WithBill(bill.ID, bill.Name, bill.Amount.Cents).
		WithPattern(bill.PatternID)
	fields[log.FieldTxID] = tx.ID
	fields[log.FieldConfidence] = detail.Confidence

	// Step 1: mark paid. Already-paid is a no-op, not a failure.
	changed, err := r.store.MarkBillPaid(ctx, bill.ID, tx.ID, tx.Amount.Abs(), tx.Date)
	if err != nil {
		detail.SkipReason = "mark paid failed"
		r.logger.ErrorContext(ctx, "Failed to mark bill paid",
			fields.WithOperation(log.OpMarkPaid).WithError(err).ToSlice()...)
		return
	}
	if changed {
		detail.Cleared = true
		summary.Cleared++
		r.logger.InfoContext(ctx, "Bill cleared by transaction",
			fields.WithOperation(log.OpMarkPaid).ToSlice()...)
		r.publishCleared(ctx, tx, bill, detail.Confidence)
	} else {
		r.logger.InfoContext(ctx, "Bill already paid, skipping",
			fields.WithOperation(log.OpMarkPaid).ToSlice()...)
	}

	if bill.PatternID == "" {
		return
	}

	pattern, err := r.store.GetPattern(ctx, bill.PatternID)
	if err != nil {
		detail.SkipReason = "pattern lookup failed"
		r.logger.ErrorContext(ctx, "Failed to load pattern",
			fields.WithOperation(log.OpAdvance).WithError(err).ToSlice()...)
		return
	}
	if pattern.Frequency == core.OneTime {
		return
	}
	if schedule.DeriveStatus(pattern, now) == core.StatusEnded {
		// The end date passed; persist the retirement instead of
		// advancing a dead schedule.
		if pattern.Status != core.StatusEnded {
			if err := r.store.SetPatternStatus(ctx, pattern.ID, core.StatusEnded); err != nil {
				r.logger.ErrorContext(ctx, "Failed to end expired pattern",
					fields.WithError(err).ToSlice()...)
			}
		}
		return
	}

	next, err := schedule.AdvancePattern(pattern, bill.DueDate)
	if err != nil {
		detail.SkipReason = "advance computation failed"
		r.logger.ErrorContext(ctx, "Failed to compute next occurrence",
			fields.WithOperation(log.OpAdvance).WithError(err).ToSlice()...)
		return
	}

	// Step 2: conditional advance. ErrStale means another run already
	// moved the pattern; skip rather than double-advance.
	err = r.store.AdvancePattern(ctx, pattern.ID, bill.DueDate, next)
	switch {
	case errors.Is(err, storage.ErrStale):
		// Another run owns the advance and the generation after it.
		fields[log.FieldSkipReason] = "stale state"
		r.logger.InfoContext(ctx, "Pattern already advanced, skipping",
			fields.WithOperation(log.OpAdvance).ToSlice()...)
		return
	case err != nil:
		detail.SkipReason = "advance failed"
		r.logger.ErrorContext(ctx, "Failed to advance pattern",
			fields.WithOperation(log.OpAdvance).WithError(err).ToSlice()...)
		return
	default:
		detail.Advanced = true
		summary.Advanced++
	}

	// Past the end date the pattern retires instead of regenerating.
	if !pattern.EndDate.IsZero() && next.After(pattern.EndDate.Time) {
		if err := r.store.SetPatternStatus(ctx, pattern.ID, core.StatusEnded); err != nil {
			r.logger.ErrorContext(ctx, "Failed to end expired pattern",
				fields.WithError(err).ToSlice()...)
		}
		return
	}

	// Step 3: generate the next instance, guarded by the existence
	// check. The check is the correctness mechanism, not the run lock.
	generatedID, err := r.generateNext(ctx, pattern, next)
	if err != nil {
		detail.SkipReason = "generation failed"
		r.logger.ErrorContext(ctx, "Failed to generate next bill",
			fields.WithOperation(log.OpGenerate).WithError(err).ToSlice()...)
		return
	}
	if generatedID != "" {
		detail.GeneratedBillID = generatedID
		summary.Generated++
	}
}

// generateNext inserts one new instance at the given due date unless
// one already exists or the pattern has hit its unpaid cap. Returns
// the new bill id, or empty when generation was skipped.
func (r *Reconciler) generateNext(ctx context.Context, p core.RecurringPattern, due core.Date) (string, error) {
	exists, err := r.store.BillExists(ctx, p.ID, due)
	if err != nil {
		return "", fmt.Errorf("existence check: %w", err)
	}
	if exists {
		r.logger.InfoContext(ctx, "Bill already generated, skipping",
			log.FieldPatternID, p.ID,
			log.FieldDueDate, due.ISO(),
			log.FieldSkipReason, "duplicate due date")
		return "", nil
	}

	unpaid, err := r.store.CountUnpaidForPattern(ctx, p.ID)
	if err != nil {
		return "", fmt.Errorf("count unpaid: %w", err)
	}
	if unpaid >= core.MaxUnpaidPerPattern {
		r.logger.WarnContext(ctx, "Unpaid cap reached, not generating",
			log.FieldPatternID, p.ID,
			"unpaid", unpaid)
		return "", nil
	}

	bill := core.BillInstance{
		ID:         uuid.New().String(),
		Name:       p.Name,
		Amount:     p.Amount,
		DueDate:    due,
		Status:     core.BillPending,
		PatternID:  p.ID,
		Recurrence: p.Frequency,
	}
	if err := r.store.InsertBill(ctx, bill); err != nil {
		return "", fmt.Errorf("insert generated bill: %w", err)
	}
	r.logger.InfoContext(ctx, "Generated next bill instance",
		log.FieldBillID, bill.ID,
		log.FieldPatternID, p.ID,
		log.FieldDueDate, due.ISO())
	return bill.ID, nil
}

func (r *Reconciler) publishCleared(ctx context.Context, tx core.Transaction, bill core.BillInstance, confidence int) {
	if r.events == nil {
		return
	}
	ev := BillClearedEvent{
		BillID:        bill.ID,
		BillName:      bill.Name,
		PatternID:     bill.PatternID,
		TransactionID: tx.ID,
		AmountCents:   tx.Amount.Abs().Cents,
		PaidDate:      tx.Date.ISO(),
		Confidence:    confidence,
	}
	if err := r.events.PublishBillCleared(ctx, ev); err != nil {
		// Events are best effort; the store is the source of truth.
		r.logger.WarnContext(ctx, "Failed to publish cleared event",
			log.FieldBillID, bill.ID,
			log.FieldError, err.Error())
	}
}

// GenerateDue is the bulk generation pass: every active pattern whose
// next occurrence has arrived gets its instance, guarded the same way
// as post-payment generation. Safe to re-run.
func (r *Reconciler) GenerateDue(ctx context.Context, now time.Time) (int, error) {
	patterns, err := r.store.ListPatterns(ctx)
	if err != nil {
		return 0, fmt.Errorf("list patterns: %w", err)
	}

	generated := 0
	for _, p := range patterns {
		if schedule.DeriveStatus(p, now) != core.StatusActive {
			continue
		}
		if p.NextOccurrence.After(now) {
			continue
		}
		if !p.MonthActive(p.NextOccurrence.Month()) {
			continue
		}
		id, err := r.generateNext(ctx, p, p.NextOccurrence)
		if err != nil {
			r.logger.ErrorContext(ctx, "Bulk generation failed for pattern",
				log.FieldPatternID, p.ID,
				log.FieldError, err.Error())
			continue
		}
		if id != "" {
			generated++
		}
	}

	r.logger.InfoContext(ctx, "Bulk generation complete",
		"patterns", len(patterns),
		"generated", generated)
	return generated, nil
}
