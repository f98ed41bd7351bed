// Package feed reads external bank transactions for reconciliation.
// The only implementation is a CSV export reader; the Reader interface
// keeps the services layer independent of the source format.
package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"bollette/internal/core"
)

// Reader provides transactions inside a bounded recent window.
type Reader interface {
	Transactions(ctx context.Context, from, to core.Date) ([]core.Transaction, error)
}

// CSVReader reads bank-export CSV files with the columns
// id,name,amount,date,account_id. Amounts are decimal dollars, dates
// are YYYY-MM-DD.
type CSVReader struct {
	path string
}

func NewCSVReader(path string) *CSVReader {
	return &CSVReader{path: path}
}

// Transactions reads every record whose date falls inside [from, to].
// Malformed rows fail the read; a bank export with broken rows needs a
// human, not a silent skip.
func (r *CSVReader) Transactions(ctx context.Context, from, to core.Date) ([]core.Transaction, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open transaction feed %s: %w", r.path, err)
	}
	defer file.Close()
	return parse(ctx, file, from, to)
}

func parse(ctx context.Context, src io.Reader, from, to core.Date) ([]core.Transaction, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1

	// Skip header
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("read feed header: %w", err)
	}

	var txs []core.Transaction
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read feed record: %w", err)
		}
		if len(record) < 4 {
			return nil, fmt.Errorf("feed line %d: expected at least 4 columns, got %d", line, len(record))
		}

		amount, err := parseCents(record[2])
		if err != nil {
			return nil, fmt.Errorf("feed line %d: parse amount %q: %w", line, record[2], err)
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(record[3]))
		if err != nil {
			return nil, fmt.Errorf("feed line %d: parse date %q: %w", line, record[3], err)
		}

		tx := core.Transaction{
			ID:     strings.TrimSpace(record[0]),
			Name:   strings.TrimSpace(record[1]),
			Amount: amount,
			Date:   core.DateOf(date),
		}
		if len(record) > 4 {
			tx.AccountID = strings.TrimSpace(record[4])
		}
		if tx.Date.Before(from.Time) || tx.Date.After(to.Time) {
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// parseCents converts a decimal dollar string to cents without going
// through float64, so -15.99 is exactly -1599.
func parseCents(s string) (core.Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.Money{}, fmt.Errorf("empty amount")
	}
	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac := s, "0"
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	switch len(frac) {
	case 0:
		frac = "00"
	case 1:
		frac += "0"
	case 2:
	default:
		return core.Money{}, fmt.Errorf("more than two decimal places")
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return core.Money{}, err
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return core.Money{}, err
	}
	cents := w*100 + f
	if negative {
		cents = -cents
	}
	return core.Money{Cents: cents}, nil
}
