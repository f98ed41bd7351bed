package services

import (
	"context"
	"fmt"
	"time"

	"bollette/internal/core"
	"bollette/internal/log"
	"bollette/internal/schedule"
	"bollette/internal/storage"
)

// BillService exposes the manual bill and pattern operations that sit
// outside the automated reconciliation pass.
type BillService struct {
	store  storage.Store
	logger *log.Logger
}

func NewBillService(store storage.Store, logger *log.Logger) *BillService {
	return &BillService{
		store:  store,
		logger: logger.WithComponent(log.ComponentReconcile),
	}
}

// UnmarkPayment reverts a mistaken clearing. The owning pattern's
// schedule is left where it is: it only ever moves forward, and the
// next reconciliation pass will find the bill unpaid again.
func (s *BillService) UnmarkPayment(ctx context.Context, billID string) error {
	bill, err := s.store.GetBill(ctx, billID)
	if err != nil {
		return err
	}
	if !bill.Paid {
		return nil
	}
	if err := s.store.UnmarkBillPaid(ctx, billID); err != nil {
		return fmt.Errorf("unmark payment: %w", err)
	}
	s.logger.InfoContext(ctx, "Payment unmarked",
		log.FieldBillID, billID,
		log.FieldTxID, bill.TransactionID,
		log.FieldOperation, log.OpUnmarkPaid)
	return nil
}

// PauseResume toggles a pattern between active and paused, validating
// the transition against the lifecycle table.
func (s *BillService) PauseResume(ctx context.Context, patternID string) (core.PatternStatus, error) {
	p, err := s.store.GetPattern(ctx, patternID)
	if err != nil {
		return "", err
	}
	target := core.StatusPaused
	if p.Status == core.StatusPaused {
		target = core.StatusActive
	}
	if _, err := schedule.Transition(p.Status, target); err != nil {
		return "", err
	}
	if err := s.store.SetPatternStatus(ctx, patternID, target); err != nil {
		return "", err
	}
	return target, nil
}

// EndPattern retires a pattern permanently. Unpaid generated instances
// are removed with it; paid history stays.
func (s *BillService) EndPattern(ctx context.Context, patternID string) error {
	p, err := s.store.GetPattern(ctx, patternID)
	if err != nil {
		return err
	}
	if _, err := schedule.Transition(p.Status, core.StatusEnded); err != nil {
		return err
	}
	return s.store.EndPattern(ctx, patternID)
}

// Overview is the display projection of one pattern: derived status
// plus the recorded next due date. Pure with respect to the store, it
// never writes.
type Overview struct {
	Pattern core.RecurringPattern
	Status  core.PatternStatus
	NextDue core.Date
	Overdue bool
}

// ListOverview annotates every pattern for display. The stored
// NextOccurrence is never rolled forward here; an overdue unpaid
// obligation keeps showing its original due date.
func (s *BillService) ListOverview(ctx context.Context, now time.Time) ([]Overview, error) {
	patterns, err := s.store.ListPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	out := make([]Overview, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, Overview{
			Pattern: p,
			Status:  schedule.DeriveStatus(p, now),
			NextDue: p.NextOccurrence,
			Overdue: !p.NextOccurrence.After(now) && p.Status == core.StatusActive,
		})
	}
	return out, nil
}
