package memory

import (
	"context"
	"testing"

	"bollette/internal/sheets"
)

func TestAppendAndRecords(t *testing.T) {
	s := New()

	ref, err := s.Append(context.Background(), sheets.ClearedRecord{
		PaidDate:    "2025-03-14",
		Name:        "Netflix",
		AmountCents: 1599,
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if ref != "mem:1" {
		t.Errorf("Append() ref = %q, want mem:1", ref)
	}

	recs := s.Records()
	if len(recs) != 1 {
		t.Fatalf("Records() len = %d, want 1", len(recs))
	}
	if recs[0].Name != "Netflix" {
		t.Errorf("Records()[0].Name = %q, want Netflix", recs[0].Name)
	}
}

func TestAppendRejectsEmptyName(t *testing.T) {
	s := New()
	if _, err := s.Append(context.Background(), sheets.ClearedRecord{PaidDate: "2025-03-14"}); err == nil {
		t.Error("Append() should reject a record without a name")
	}
}
