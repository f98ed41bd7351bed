package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bollette/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository implements Store on a local SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const patternColumns = `id, name, amount_cents, category, frequency, next_occurrence, status, account_id, active_months, end_date, last_payment_failed`

func (r *SQLiteRepository) GetPattern(ctx context.Context, id string) (core.RecurringPattern, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM recurring_patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringPattern{}, fmt.Errorf("pattern %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.RecurringPattern{}, fmt.Errorf("get pattern: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) ListPatterns(ctx context.Context) ([]core.RecurringPattern, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+patternColumns+` FROM recurring_patterns ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) SavePattern(ctx context.Context, p core.RecurringPattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_patterns (`+patternColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			amount_cents = excluded.amount_cents,
			category = excluded.category,
			frequency = excluded.frequency,
			next_occurrence = excluded.next_occurrence,
			status = excluded.status,
			account_id = excluded.account_id,
			active_months = excluded.active_months,
			end_date = excluded.end_date,
			last_payment_failed = excluded.last_payment_failed`,
		p.ID, p.Name, p.Amount.Cents, p.Category, string(p.Frequency),
		p.NextOccurrence.ISO(), string(p.Status), p.AccountID,
		joinMonths(p.ActiveMonths), dateOrEmpty(p.EndDate), boolToInt(p.LastPaymentFailed))
	if err != nil {
		return fmt.Errorf("save pattern: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) AdvancePattern(ctx context.Context, id string, from, to core.Date) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_patterns
		SET next_occurrence = ?, last_payment_failed = 0
		WHERE id = ? AND next_occurrence = ?`,
		to.ISO(), id, from.ISO())
	if err != nil {
		return fmt.Errorf("advance pattern: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance pattern: %w", err)
	}
	if n == 0 {
		if _, err := r.GetPattern(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("pattern %s already advanced past %s: %w", id, from.ISO(), ErrStale)
	}
	slog.InfoContext(ctx, "Pattern advanced",
		"pattern_id", id,
		"from", from.ISO(),
		"to", to.ISO())
	return nil
}

func (r *SQLiteRepository) SetPatternStatus(ctx context.Context, id string, status core.PatternStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE recurring_patterns SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set pattern status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pattern %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) EndPattern(ctx context.Context, id string) error {
	if err := r.SetPatternStatus(ctx, id, core.StatusEnded); err != nil {
		return err
	}
	// Cascade: unpaid children go, paid history stays.
	res, err := r.db.ExecContext(ctx, `DELETE FROM bill_instances WHERE pattern_id = ? AND paid = 0`, id)
	if err != nil {
		return fmt.Errorf("cascade delete unpaid bills: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.InfoContext(ctx, "Pattern ended",
		"pattern_id", id,
		"unpaid_bills_removed", n)
	return nil
}

const billColumns = `id, name, amount_cents, due_date, status, paid, paid_date, paid_amount_cents, transaction_id, pattern_id, recurrence, aliases`

func (r *SQLiteRepository) GetBill(ctx context.Context, id string) (core.BillInstance, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+billColumns+` FROM bill_instances WHERE id = ?`, id)
	b, err := scanBill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BillInstance{}, fmt.Errorf("bill %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.BillInstance{}, fmt.Errorf("get bill: %w", err)
	}
	return b, nil
}

func (r *SQLiteRepository) ListUnpaidBills(ctx context.Context) ([]core.BillInstance, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+billColumns+` FROM bill_instances WHERE paid = 0 ORDER BY due_date`)
	if err != nil {
		return nil, fmt.Errorf("list unpaid bills: %w", err)
	}
	defer rows.Close()

	var out []core.BillInstance
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) InsertBill(ctx context.Context, b core.BillInstance) error {
	if err := b.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bill_instances (`+billColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Amount.Cents, b.DueDate.ISO(), string(b.Status),
		boolToInt(b.Paid), dateOrEmpty(b.PaidDate), b.PaidAmount.Cents,
		b.TransactionID, b.PatternID, string(b.Recurrence), strings.Join(b.Aliases, ","))
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}
	slog.InfoContext(ctx, "Bill saved",
		"bill_id", b.ID,
		"name", b.Name,
		"amount_cents", b.Amount.Cents,
		"due_date", b.DueDate.ISO())
	return nil
}

func (r *SQLiteRepository) MarkBillPaid(ctx context.Context, billID, txID string, paidAmount core.Money, paidDate core.Date) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bill_instances
		SET paid = 1, status = ?, transaction_id = ?, paid_amount_cents = ?, paid_date = ?
		WHERE id = ? AND paid = 0`,
		string(core.BillPaid), txID, paidAmount.Cents, paidDate.ISO(), billID)
	if err != nil {
		return false, fmt.Errorf("mark bill paid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark bill paid: %w", err)
	}
	if n == 0 {
		if _, err := r.GetBill(ctx, billID); err != nil {
			return false, err
		}
		return false, nil // already paid
	}
	return true, nil
}

func (r *SQLiteRepository) UnmarkBillPaid(ctx context.Context, billID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bill_instances
		SET paid = 0, status = ?, transaction_id = '', paid_amount_cents = 0, paid_date = ''
		WHERE id = ?`,
		string(core.BillPending), billID)
	if err != nil {
		return fmt.Errorf("unmark bill paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("bill %s: %w", billID, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) BillExists(ctx context.Context, patternID string, due core.Date) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM bill_instances WHERE pattern_id = ? AND due_date = ? LIMIT 1`,
		patternID, due.ISO()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bill exists: %w", err)
	}
	return true, nil
}

func (r *SQLiteRepository) CountUnpaidForPattern(ctx context.Context, patternID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bill_instances WHERE pattern_id = ? AND paid = 0`,
		patternID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unpaid: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (core.RecurringPattern, error) {
	var (
		p                            core.RecurringPattern
		freq, status, next, end, mon string
		failed                       int
	)
	err := row.Scan(&p.ID, &p.Name, &p.Amount.Cents, &p.Category, &freq, &next, &status, &p.AccountID, &mon, &end, &failed)
	if err != nil {
		return p, err
	}
	p.Frequency = core.Frequency(freq)
	p.Status = core.PatternStatus(status)
	p.NextOccurrence = parseDate(next)
	p.EndDate = parseDate(end)
	p.ActiveMonths = splitMonths(mon)
	p.LastPaymentFailed = failed != 0
	return p, nil
}

func scanBill(row rowScanner) (core.BillInstance, error) {
	var (
		b                                 core.BillInstance
		status, due, paidDate, alias, rec string
		paid                              int
	)
	err := row.Scan(&b.ID, &b.Name, &b.Amount.Cents, &due, &status, &paid, &paidDate, &b.PaidAmount.Cents, &b.TransactionID, &b.PatternID, &rec, &alias)
	if err != nil {
		return b, err
	}
	b.Status = core.BillStatus(status)
	b.DueDate = parseDate(due)
	b.PaidDate = parseDate(paidDate)
	b.Paid = paid != 0
	b.Recurrence = core.Frequency(rec)
	if alias != "" {
		b.Aliases = strings.Split(alias, ",")
	}
	return b, nil
}

func parseDate(s string) core.Date {
	if s == "" {
		return core.Date{}
	}
	y, _ := strconv.Atoi(s[:4])
	m, _ := strconv.Atoi(s[5:7])
	d, _ := strconv.Atoi(s[8:10])
	return core.NewDate(y, m, d)
}

func dateOrEmpty(d core.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.ISO()
}

func joinMonths(months []int) string {
	if len(months) == 0 {
		return ""
	}
	parts := make([]string, len(months))
	for i, m := range months {
		parts[i] = strconv.Itoa(m)
	}
	return strings.Join(parts, ",")
}

func splitMonths(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		if m, err := strconv.Atoi(part); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteRepository)(nil)
