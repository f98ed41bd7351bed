package storage

import (
	"context"
	"fmt"
	"sync"

	"bollette/internal/core"
)

// MemoryStore is the in-memory Store used by tests and the memory
// backend. Documents are copied in and out; callers never share state
// with the store.
type MemoryStore struct {
	mu       sync.Mutex
	patterns map[string]core.RecurringPattern
	bills    map[string]core.BillInstance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patterns: make(map[string]core.RecurringPattern),
		bills:    make(map[string]core.BillInstance),
	}
}

func (s *MemoryStore) GetPattern(_ context.Context, id string) (core.RecurringPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	if !ok {
		return core.RecurringPattern{}, fmt.Errorf("pattern %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) ListPatterns(_ context.Context) ([]core.RecurringPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.RecurringPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryStore) SavePattern(_ context.Context, p core.RecurringPattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[p.ID] = p
	return nil
}

func (s *MemoryStore) AdvancePattern(_ context.Context, id string, from, to core.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	if !ok {
		return fmt.Errorf("pattern %s: %w", id, ErrNotFound)
	}
	if !p.NextOccurrence.SameDay(from) {
		return fmt.Errorf("pattern %s next occurrence is %s, not %s: %w", id, p.NextOccurrence.ISO(), from.ISO(), ErrStale)
	}
	p.NextOccurrence = to
	p.LastPaymentFailed = false
	s.patterns[id] = p
	return nil
}

func (s *MemoryStore) SetPatternStatus(_ context.Context, id string, status core.PatternStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	if !ok {
		return fmt.Errorf("pattern %s: %w", id, ErrNotFound)
	}
	p.Status = status
	s.patterns[id] = p
	return nil
}

func (s *MemoryStore) EndPattern(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	if !ok {
		return fmt.Errorf("pattern %s: %w", id, ErrNotFound)
	}
	p.Status = core.StatusEnded
	s.patterns[id] = p
	for billID, b := range s.bills {
		if b.PatternID == id && !b.Paid {
			delete(s.bills, billID)
		}
	}
	return nil
}

func (s *MemoryStore) GetBill(_ context.Context, id string) (core.BillInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[id]
	if !ok {
		return core.BillInstance{}, fmt.Errorf("bill %s: %w", id, ErrNotFound)
	}
	return b, nil
}

func (s *MemoryStore) ListUnpaidBills(_ context.Context) ([]core.BillInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.BillInstance
	for _, b := range s.bills {
		if !b.Paid {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertBill(_ context.Context, b core.BillInstance) error {
	if err := b.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bills[b.ID]; exists {
		return fmt.Errorf("bill %s already exists", b.ID)
	}
	s.bills[b.ID] = b
	return nil
}

func (s *MemoryStore) MarkBillPaid(_ context.Context, billID, txID string, paidAmount core.Money, paidDate core.Date) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[billID]
	if !ok {
		return false, fmt.Errorf("bill %s: %w", billID, ErrNotFound)
	}
	if b.Paid {
		return false, nil
	}
	b.Paid = true
	b.Status = core.BillPaid
	b.TransactionID = txID
	b.PaidAmount = paidAmount
	b.PaidDate = paidDate
	s.bills[billID] = b
	return true, nil
}

func (s *MemoryStore) UnmarkBillPaid(_ context.Context, billID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[billID]
	if !ok {
		return fmt.Errorf("bill %s: %w", billID, ErrNotFound)
	}
	b.Paid = false
	b.Status = core.BillPending
	b.TransactionID = ""
	b.PaidAmount = core.Money{}
	b.PaidDate = core.Date{}
	s.bills[billID] = b
	return nil
}

func (s *MemoryStore) BillExists(_ context.Context, patternID string, due core.Date) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bills {
		if b.PatternID == patternID && b.DueDate.SameDay(due) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) CountUnpaidForPattern(_ context.Context, patternID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.bills {
		if b.PatternID == patternID && !b.Paid {
			n++
		}
	}
	return n, nil
}

var _ Store = (*MemoryStore)(nil)
