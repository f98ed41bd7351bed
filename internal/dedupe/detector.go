// Package dedupe finds bill records that describe the same obligation.
// Two caller-selected modes exist: exact-key for bulk cleanup of
// generated instances, and fuzzy pairwise for human-facing duplicate
// reports. The modes are intentionally not unified; they answer
// different questions.
package dedupe

import (
	"fmt"
	"strings"

	"bollette/internal/core"
	"bollette/internal/similarity"
)

type (
	// Group is one set of records judged to be the same obligation.
	// Keep is the first member in input order; Remove are the rest.
	// Groups are a transient report, never persisted.
	Group struct {
		Keep   core.BillInstance
		Remove []core.BillInstance
	}

	// ItemError reports one record rejected before matching.
	ItemError struct {
		Index int
		Err   error
	}

	// Report carries the groups plus flat statistics.
	Report struct {
		Groups     []Group
		Kept       int
		Duplicates int
		Total      int
		Invalid    []ItemError
	}

	// Detector runs the fuzzy mode; the exact-key mode needs no state.
	Detector struct {
		engine *similarity.Engine
	}
)

func NewDetector(engine *similarity.Engine) *Detector {
	return &Detector{engine: engine}
}

// Key builds the canonical identity of a bill for exact-key dedup.
// Stable under case and surrounding-whitespace changes to the name.
func Key(b core.BillInstance) string {
	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(b.Name)),
		b.Amount.Dollars(),
		b.DueDate.ISO(),
		strings.ToLower(string(b.Recurrence)),
		b.PatternID,
	}, "|")
}

// ExactKey performs single-pass first-wins dedup on the canonical key.
// Deterministic regardless of input order beyond first-wins, and
// idempotent: running it on its own kept set changes nothing.
func ExactKey(bills []core.BillInstance) *Report {
	r := &Report{Total: len(bills)}
	byKey := make(map[string]int, len(bills))
	for i, b := range bills {
		if err := b.Validate(); err != nil {
			r.Invalid = append(r.Invalid, ItemError{Index: i, Err: err})
			continue
		}
		key := Key(b)
		if gi, seen := byKey[key]; seen {
			r.Groups[gi].Remove = append(r.Groups[gi].Remove, b)
			r.Duplicates++
			continue
		}
		byKey[key] = len(r.Groups)
		r.Groups = append(r.Groups, Group{Keep: b})
		r.Kept++
	}
	return r
}

// Fuzzy performs O(n²) pairwise comparison with the bill-strict
// profile. For each unprocessed record, every later unprocessed record
// that is pairwise a duplicate of it joins its group.
func (d *Detector) Fuzzy(bills []core.BillInstance) *Report {
	r := &Report{Total: len(bills)}
	processed := make([]bool, len(bills))

	for i, b := range bills {
		if processed[i] {
			continue
		}
		if err := b.Validate(); err != nil {
			r.Invalid = append(r.Invalid, ItemError{Index: i, Err: err})
			processed[i] = true
			continue
		}
		g := Group{Keep: b}
		for j := i + 1; j < len(bills); j++ {
			if processed[j] {
				continue
			}
			if bills[j].Validate() != nil {
				continue // reported when its own turn comes
			}
			if _, dup := d.engine.Bills(b, bills[j]); dup {
				g.Remove = append(g.Remove, bills[j])
				processed[j] = true
				r.Duplicates++
			}
		}
		processed[i] = true
		r.Groups = append(r.Groups, g)
		r.Kept++
	}
	return r
}

// Summary renders the statistics as one sentence for display.
func (r *Report) Summary() string {
	s := fmt.Sprintf("kept %d of %d bills, removed %d duplicates", r.Kept, r.Total, r.Duplicates)
	if len(r.Invalid) > 0 {
		s += fmt.Sprintf(" (%d invalid records skipped)", len(r.Invalid))
	}
	return s
}

// DuplicateGroups returns only the groups that actually contain
// removals, for report rendering.
func (r *Report) DuplicateGroups() []Group {
	var out []Group
	for _, g := range r.Groups {
		if len(g.Remove) > 0 {
			out = append(out, g)
		}
	}
	return out
}
