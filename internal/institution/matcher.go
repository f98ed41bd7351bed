// Package institution resolves free-text institution names to known
// financial accounts through a fixed matching cascade: exact match,
// user-defined mapping, built-in alias table, fuzzy fallback.
package institution

import (
	"sort"
	"strings"
	"time"

	"bollette/internal/cache"
)

type Method string

const (
	MethodExact  Method = "exact"
	MethodCustom Method = "custom_mapping"
	MethodAlias  Method = "builtin_alias"
	MethodFuzzy  Method = "fuzzy"
	MethodNone   Method = "none"
)

// MinFuzzyConfidence is the acceptance floor for the fuzzy fallback.
// Fuzzy scores are additionally capped below the built-in alias tier.
const (
	MinFuzzyConfidence = 70
	maxFuzzyConfidence = 89
)

type (
	// Account is a known financial account, as this package needs it.
	Account struct {
		ID   string
		Name string
	}

	// Match is the outcome of one resolution attempt.
	Match struct {
		Matched    bool
		AccountID  string
		Confidence int
		Method     Method
	}

	// Record is one imported row carrying a free-text institution name.
	Record struct {
		ID          string
		Institution string
	}

	// BatchResult pairs a record with its resolution.
	BatchResult struct {
		Record Record
		Match  Match
	}

	// Matcher runs the cascade. Resolutions are memoized in an LRU so
	// bulk imports do not re-resolve the same spelling repeatedly; TTL
	// keeps entries from outliving account or mapping edits for long.
	Matcher struct {
		resolved *cache.LRU[Match]
	}
)

// genericSuffixes are banking filler words stripped before comparison.
var genericSuffixes = map[string]bool{
	"bank":      true,
	"federal":   true,
	"national":  true,
	"na":        true,
	"credit":    true,
	"union":     true,
	"financial": true,
	"fcu":       true,
	"inc":       true,
	"corp":      true,
	"co":        true,
}

// builtinAliases maps common legacy spellings to canonical institution
// names. Keys are normalized forms.
var builtinAliases = map[string]string{
	"bofa":       "Bank of America",
	"boa":        "Bank of America",
	"bankofamer": "Bank of America",
	"wf":         "Wells Fargo",
	"wellsfargo": "Wells Fargo",
	"chase":      "JPMorgan Chase",
	"jpmorgan":   "JPMorgan Chase",
	"citi":       "Citibank",
	"citibank":   "Citibank",
	"usbank":     "US Bank",
	"usb":        "US Bank",
	"pnc":        "PNC",
	"navyfed":    "Navy Federal",
	"nfcu":       "Navy Federal",
	"cap1":       "Capital One",
	"capone":     "Capital One",
	"capitalone": "Capital One",
}

func NewMatcher() *Matcher {
	return &Matcher{resolved: cache.NewLRU[Match](512, 15*time.Minute)}
}

// normalize lowercases, strips punctuation, and drops generic banking
// suffix words, returning the remaining tokens.
func normalize(s string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	var tokens []string
	for _, tok := range strings.Fields(b.String()) {
		// Single letters are punctuation debris ("N.A." -> "n", "a").
		if len(tok) > 1 && !genericSuffixes[tok] {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func normalizeJoined(s string) string {
	return strings.Join(normalize(s), "")
}

// Resolve runs the cascade for one raw name. First hit wins: exact
// (100), custom mapping (95), built-in alias (90), fuzzy (score, only
// accepted at 70 or above).
func (m *Matcher) Resolve(raw string, accounts []Account, custom map[string]string) Match {
	cacheKey := raw + "|" + fingerprint(accounts, custom)
	if hit, ok := m.resolved.Get(cacheKey); ok {
		return hit
	}
	match := m.resolve(raw, accounts, custom)
	m.resolved.Set(cacheKey, match)
	return match
}

func (m *Matcher) resolve(raw string, accounts []Account, custom map[string]string) Match {
	norm := normalizeJoined(raw)
	if norm == "" {
		return Match{Method: MethodNone}
	}

	for _, acc := range accounts {
		if normalizeJoined(acc.Name) == norm {
			return Match{Matched: true, AccountID: acc.ID, Confidence: 100, Method: MethodExact}
		}
	}

	for from, to := range custom {
		if normalizeJoined(from) != norm {
			continue
		}
		if acc, ok := findAccount(accounts, to); ok {
			return Match{Matched: true, AccountID: acc.ID, Confidence: 95, Method: MethodCustom}
		}
	}

	if canonical, ok := builtinAliases[norm]; ok {
		if acc, ok := findAccount(accounts, canonical); ok {
			return Match{Matched: true, AccountID: acc.ID, Confidence: 90, Method: MethodAlias}
		}
	}

	best := Match{Method: MethodNone}
	rawTokens := normalize(raw)
	for _, acc := range accounts {
		score := fuzzyScore(rawTokens, norm, acc.Name)
		if score > best.Confidence {
			best = Match{AccountID: acc.ID, Confidence: score, Method: MethodFuzzy}
		}
	}
	if best.Confidence >= MinFuzzyConfidence {
		best.Matched = true
		return best
	}
	return Match{Method: MethodNone}
}

// Batch partitions records into matched and unmatched; unmatched rows
// are routed to a manual-resolution step outside this package.
func (m *Matcher) Batch(records []Record, accounts []Account, custom map[string]string) (matched, unmatched []BatchResult) {
	for _, rec := range records {
		res := BatchResult{Record: rec, Match: m.Resolve(rec.Institution, accounts, custom)}
		if res.Match.Matched {
			matched = append(matched, res)
		} else {
			unmatched = append(unmatched, res)
		}
	}
	return matched, unmatched
}

// fuzzyScore combines word overlap with a substring heuristic, capped
// below the built-in alias tier so cascade ordering stays observable
// in the confidence value.
func fuzzyScore(rawTokens []string, rawJoined, accountName string) int {
	accTokens := normalize(accountName)
	accJoined := strings.Join(accTokens, "")
	if len(rawTokens) == 0 || len(accTokens) == 0 {
		return 0
	}

	common := 0
	accSet := make(map[string]bool, len(accTokens))
	for _, t := range accTokens {
		accSet[t] = true
	}
	for _, t := range rawTokens {
		if accSet[t] {
			common++
		}
	}
	maxTokens := len(rawTokens)
	if len(accTokens) > maxTokens {
		maxTokens = len(accTokens)
	}
	score := common * 100 / maxTokens

	if score < 85 && (strings.Contains(accJoined, rawJoined) || strings.Contains(rawJoined, accJoined)) {
		score = 85
	}
	if score > maxFuzzyConfidence {
		score = maxFuzzyConfidence
	}
	return score
}

func findAccount(accounts []Account, name string) (Account, bool) {
	want := normalizeJoined(name)
	for _, acc := range accounts {
		if normalizeJoined(acc.Name) == want {
			return acc, true
		}
	}
	return Account{}, false
}

// fingerprint keys the memoization cache on the account set and custom
// mapping so edits invalidate prior resolutions.
func fingerprint(accounts []Account, custom map[string]string) string {
	var b strings.Builder
	for _, a := range accounts {
		b.WriteString(a.ID)
		b.WriteByte(';')
	}
	b.WriteByte('#')
	keys := make([]string, 0, len(custom))
	for k := range custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(custom[k])
		b.WriteByte(';')
	}
	return b.String()
}
