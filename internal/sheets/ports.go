// Package sheets exports cleared bills to an external ledger sheet for
// household review. Adapters implement the outbound port below.
package sheets

import (
	"context"
)

// ClearedRecord is one exported row: a bill cleared by a matched
// transaction.
type ClearedRecord struct {
	PaidDate      string // YYYY-MM-DD
	Name          string
	AmountCents   int64
	TransactionID string
	PatternID     string
	Confidence    int
}

// Ports for outbound adapters.
type (
	ClearedWriter interface {
		Append(ctx context.Context, rec ClearedRecord) (rowRef string, err error)
	}
)
