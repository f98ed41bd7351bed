// Package similarity is the single home for the fuzzy comparison rules
// used by duplicate detection, institution matching and transaction
// reconciliation. Callers pick a profile (template-tolerant or
// bill-strict) instead of re-deriving the algorithm per call site.
package similarity

import (
	"math"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"bollette/internal/core"
)

// Template profile weights. The composite is used when comparing two
// recurring templates, where amounts are approximations and drift.
const (
	weightName      = 40
	weightAmount    = 30
	weightFrequency = 15
	weightCategory  = 10
	weightDate      = 5
)

// Bill-strict tolerances. Concrete bills carry exact dollar figures, so
// the fuzzy bands of the template profile do not apply.
const (
	BillAmountToleranceCents = 100 // $1.00 absolute
	BillDateToleranceDays    = 3
)

// nameMatchThreshold is the minimum NameScore treated as a boolean
// name match by the strict profile.
const nameMatchThreshold = 80

const aliasFamilyScore = 95

// merchantFamilies maps normalized merchant spellings to a family key.
// Two names resolving to the same family are the same payee even when
// edit distance says otherwise ("nflx" vs "netflix").
var merchantFamilies = map[string]string{
	"netflix":         "netflix",
	"netflixinc":      "netflix",
	"netflixcom":      "netflix",
	"nflx":            "netflix",
	"spotify":         "spotify",
	"spotifyusa":      "spotify",
	"spotifyab":       "spotify",
	"amazon":          "amazon",
	"amazonprime":     "amazon",
	"amazoncom":       "amazon",
	"amzn":            "amazon",
	"hulu":            "hulu",
	"hulullc":         "hulu",
	"disneyplus":      "disney",
	"disney":          "disney",
	"comcast":         "comcast",
	"xfinity":         "comcast",
	"verizon":         "verizon",
	"verizonwireless": "verizon",
	"vzwrlss":         "verizon",
	"attwireless":     "att",
	"attbill":         "att",
}

type (
	// Engine computes normalized similarity scores. The zero value is
	// not usable; construct with NewEngine.
	Engine struct {
		families map[string]string
	}

	// TemplateRecord is the comparable projection of a recurring
	// template used by the composite score.
	TemplateRecord struct {
		Name      string
		Category  string
		Amount    core.Money
		Frequency core.Frequency
		Date      core.Date
	}

	// TemplateScore breaks the composite down per criterion.
	TemplateScore struct {
		Total          int
		Name           int
		Amount         int
		Date           int
		FrequencyMatch bool
		CategoryMatch  bool
	}

	// BillCriteria is the per-criterion breakdown of the strict
	// profile used for bill dedup.
	BillCriteria struct {
		Name      bool
		Amount    bool
		Date      bool
		Frequency bool
	}

	// MatchResult pairs one transaction with one bill candidate.
	// Confidence is 0-100 with a per-criterion boolean breakdown.
	MatchResult struct {
		BillID     string
		Confidence int
		Name       bool
		Amount     bool
		Date       bool
	}
)

func NewEngine() *Engine {
	return &Engine{families: merchantFamilies}
}

// Normalize case-folds and strips every non-alphanumeric rune.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NameScore scores two payee names 0-100.
func (e *Engine) NameScore(a, b string) int {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 100
	}
	if fa, ok := e.families[na]; ok {
		if fb, ok := e.families[nb]; ok && fa == fb {
			return aliasFamilyScore
		}
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		short, long := len(na), len(nb)
		if short > long {
			short, long = long, short
		}
		return 80 + (20*short)/long
	}
	dist := levenshtein.ComputeDistance(na, nb)
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	score := 100 - (100*dist)/maxLen
	if score < 0 {
		score = 0
	}
	return score
}

// NamesMatch is the boolean form used by the strict profile.
func (e *Engine) NamesMatch(a, b string) bool {
	return e.NameScore(a, b) >= nameMatchThreshold
}

// AmountScore scores two amounts 0-100 by percentage difference.
func AmountScore(a, b core.Money) int {
	ca, cb := a.Abs().Cents, b.Abs().Cents
	if ca == cb {
		return 100
	}
	maxC := ca
	if cb > maxC {
		maxC = cb
	}
	if maxC == 0 {
		return 0
	}
	diff := ca - cb
	if diff < 0 {
		diff = -diff
	}
	pct := float64(diff) / float64(maxC) * 100
	switch {
	case pct <= 5:
		return 95
	case pct <= 10:
		return 85
	case pct <= 20:
		return 70
	default:
		score := 70 - int(pct-20)
		if score < 0 {
			score = 0
		}
		return score
	}
}

// DateScore scores two dates 0-100. Same day-of-month counts as a full
// match because monthly obligations recur on the same calendar day.
func DateScore(a, b core.Date) int {
	if a.Day() == b.Day() {
		return 100
	}
	switch days := a.DaysApart(b); {
	case days <= 3:
		return 80
	case days <= 7:
		return 60
	default:
		return 0
	}
}

// Template compares two recurring templates with the weighted
// composite. Tolerant of price drift; used for template dedup.
func (e *Engine) Template(a, b TemplateRecord) TemplateScore {
	s := TemplateScore{
		Name:           e.NameScore(a.Name, b.Name),
		Amount:         AmountScore(a.Amount, b.Amount),
		Date:           DateScore(a.Date, b.Date),
		FrequencyMatch: a.Frequency == b.Frequency,
		CategoryMatch:  a.Category != "" && strings.EqualFold(a.Category, b.Category),
	}
	total := s.Name*weightName + s.Amount*weightAmount + s.Date*weightDate
	if s.FrequencyMatch {
		total += 100 * weightFrequency
	}
	if s.CategoryMatch {
		total += 100 * weightCategory
	}
	s.Total = total / 100
	return s
}

// Bills applies the strict profile to two concrete bills. A pair is a
// duplicate only when every criterion holds.
func (e *Engine) Bills(a, b core.BillInstance) (BillCriteria, bool) {
	c := BillCriteria{
		Name:      e.NamesMatch(a.Name, b.Name),
		Amount:    amountWithin(a.Amount, b.Amount, BillAmountToleranceCents),
		Date:      a.DueDate.DaysApart(b.DueDate) <= BillDateToleranceDays,
		Frequency: a.Recurrence == b.Recurrence,
	}
	return c, c.Name && c.Amount && c.Date && c.Frequency
}

// Transaction scores one external transaction against one unpaid bill
// using the strict tolerances. Confidence is the share of satisfied
// criteria: two of three is 67, all three is 100.
func (e *Engine) Transaction(tx core.Transaction, bill core.BillInstance) MatchResult {
	r := MatchResult{BillID: bill.ID}
	for _, name := range bill.Names() {
		if e.NamesMatch(tx.Name, name) {
			r.Name = true
			break
		}
	}
	r.Amount = amountWithin(tx.Amount, bill.Amount, BillAmountToleranceCents)
	r.Date = tx.Date.DaysApart(bill.DueDate) <= BillDateToleranceDays

	matched := 0
	for _, ok := range []bool{r.Name, r.Amount, r.Date} {
		if ok {
			matched++
		}
	}
	r.Confidence = int(math.Round(float64(matched) / 3 * 100))
	return r
}

func amountWithin(a, b core.Money, toleranceCents int64) bool {
	diff := a.Abs().Cents - b.Abs().Cents
	if diff < 0 {
		diff = -diff
	}
	return diff <= toleranceCents
}
