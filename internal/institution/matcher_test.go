package institution

import (
	"testing"
)

var accounts = []Account{
	{ID: "acc-1", Name: "Bank of America"},
	{ID: "acc-2", Name: "Wells Fargo Bank, N.A."},
	{ID: "acc-3", Name: "Hometown Credit Union"},
	{ID: "acc-4", Name: "JPMorgan Chase"},
}

func TestExactMatchAfterNormalization(t *testing.T) {
	m := NewMatcher()
	cases := []string{
		"Bank of America",
		"bank of america",
		"Bank of America, N.A.",
	}
	for _, raw := range cases {
		got := m.Resolve(raw, accounts, nil)
		if !got.Matched || got.AccountID != "acc-1" || got.Confidence != 100 || got.Method != MethodExact {
			t.Fatalf("Resolve(%q) = %+v", raw, got)
		}
	}
}

func TestCustomMappingBeatsAlias(t *testing.T) {
	m := NewMatcher()
	custom := map[string]string{"BoFA": "Wells Fargo"}
	got := m.Resolve("BoFA", accounts, custom)
	if got.Method != MethodCustom || got.AccountID != "acc-2" || got.Confidence != 95 {
		t.Fatalf("custom mapping should win: %+v", got)
	}
}

func TestBuiltinAlias(t *testing.T) {
	m := NewMatcher()
	cases := []struct {
		raw     string
		account string
	}{
		{"BoFA", "acc-1"},
		{"chase", "acc-4"},
	}
	for _, tc := range cases {
		got := m.Resolve(tc.raw, accounts, nil)
		if got.Method != MethodAlias || got.AccountID != tc.account || got.Confidence != 90 {
			t.Fatalf("Resolve(%q) = %+v", tc.raw, got)
		}
	}
}

func TestFuzzyFallbackBounds(t *testing.T) {
	m := NewMatcher()
	got := m.Resolve("Hometown CU Checking", accounts, nil)
	if !got.Matched || got.Method != MethodFuzzy {
		t.Fatalf("expected fuzzy match, got %+v", got)
	}
	if got.Confidence < MinFuzzyConfidence || got.Confidence >= 90 {
		t.Fatalf("fuzzy confidence %d outside [70, 90)", got.Confidence)
	}
}

func TestConfidenceOrdering(t *testing.T) {
	m := NewMatcher()
	exact := m.Resolve("Wells Fargo", accounts, nil)
	custom := m.Resolve("my main bank", accounts, map[string]string{"my main bank": "Wells Fargo"})
	alias := m.Resolve("wf", accounts, nil)
	fuzzy := m.Resolve("Hometown CU", accounts, nil)

	if exact.Confidence != 100 || custom.Confidence != 95 || alias.Confidence != 90 {
		t.Fatalf("ordering broken: exact=%d custom=%d alias=%d", exact.Confidence, custom.Confidence, alias.Confidence)
	}
	if !fuzzy.Matched || fuzzy.Confidence < 70 || fuzzy.Confidence >= 90 {
		t.Fatalf("fuzzy = %+v", fuzzy)
	}
}

func TestNoMatch(t *testing.T) {
	m := NewMatcher()
	got := m.Resolve("Completely Unrelated Merchant", accounts, nil)
	if got.Matched || got.Method != MethodNone {
		t.Fatalf("expected no match, got %+v", got)
	}
	if got := m.Resolve("  ", accounts, nil); got.Matched {
		t.Fatalf("blank name matched: %+v", got)
	}
}

func TestBatchPartition(t *testing.T) {
	m := NewMatcher()
	records := []Record{
		{ID: "r1", Institution: "Bank of America"},
		{ID: "r2", Institution: "BoFA"},
		{ID: "r3", Institution: "Some Unknown Lender"},
	}
	matched, unmatched := m.Batch(records, accounts, nil)
	if len(matched) != 2 || len(unmatched) != 1 {
		t.Fatalf("matched=%d unmatched=%d", len(matched), len(unmatched))
	}
	if unmatched[0].Record.ID != "r3" {
		t.Fatalf("wrong record unmatched: %+v", unmatched[0])
	}
}

func TestResolutionMemoized(t *testing.T) {
	m := NewMatcher()
	first := m.Resolve("Bank of America", accounts, nil)
	second := m.Resolve("Bank of America", accounts, nil)
	if first != second {
		t.Fatalf("memoized result differs: %+v vs %+v", first, second)
	}
	if m.resolved.Size() == 0 {
		t.Fatal("resolution was not cached")
	}
}
