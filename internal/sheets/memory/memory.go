package memory

import (
	"context"
	"fmt"
	"sync"

	"bollette/internal/sheets"
)

// Store is the in-memory ClearedWriter used by tests and local runs
// without Google credentials.
type Store struct {
	mu    sync.Mutex
	items []sheets.ClearedRecord
}

func New() *Store {
	return &Store{}
}

// Append stores the record and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, rec sheets.ClearedRecord) (string, error) {
	if rec.Name == "" {
		return "", fmt.Errorf("cleared record missing name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, rec)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// Records returns a copy of everything appended so far.
func (s *Store) Records() []sheets.ClearedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sheets.ClearedRecord(nil), s.items...)
}

var _ sheets.ClearedWriter = (*Store)(nil)
