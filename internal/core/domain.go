package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Weekly    Frequency = "weekly"
	Biweekly  Frequency = "bi-weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Annually  Frequency = "annually"
	OneTime   Frequency = "one-time"
)

const (
	StatusActive PatternStatus = "active"
	StatusPaused PatternStatus = "paused"
	StatusEnded  PatternStatus = "ended"
	StatusFailed PatternStatus = "failed"
)

const (
	BillPending BillStatus = "pending"
	BillPaid    BillStatus = "paid"
	BillSkipped BillStatus = "skipped"
)

// MaxUnpaidPerPattern bounds how many generated-but-unpaid instances a
// single pattern may accumulate before generation refuses to add more.
const MaxUnpaidPerPattern = 2

type (
	Frequency string

	PatternStatus string

	BillStatus string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// RecurringPattern is the template for a repeating obligation.
	// NextOccurrence always points at the due date of the most recently
	// generated, still-unpaid bill instance; it moves only on a payment
	// event, never on a read.
	RecurringPattern struct {
		ID                string
		Name              string
		Amount            Money
		Category          string
		Frequency         Frequency
		NextOccurrence    Date
		Status            PatternStatus
		AccountID         string // optional linked account
		ActiveMonths      []int  // optional subset of months (1-12); empty means all
		EndDate           Date   // optional; zero means open-ended
		LastPaymentFailed bool
	}

	// BillInstance is one concrete obligation due on one date.
	BillInstance struct {
		ID            string
		Name          string
		Amount        Money
		DueDate       Date
		Status        BillStatus
		Paid          bool
		PaidDate      Date
		PaidAmount    Money
		TransactionID string
		PatternID     string // empty for one-off bills
		Recurrence    Frequency
		Aliases       []string // merchant-name variants for matching
	}

	// Transaction is an external bank record, read-only to this core.
	Transaction struct {
		ID        string
		Name      string
		Amount    Money
		Date      Date
		AccountID string
	}
)

var (
	ErrEmptyName        = errors.New("empty name")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrZeroDate         = errors.New("date cannot be zero")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrInvalidMonths    = errors.New("active months must be between 1 and 12")
)

// ValidFrequencies lists every supported frequency, in display order.
var ValidFrequencies = []Frequency{Weekly, Biweekly, Monthly, Quarterly, Annually, OneTime}

func (f Frequency) Valid() bool {
	for _, v := range ValidFrequencies {
		if f == v {
			return true
		}
	}
	return false
}

// NewDate creates a Date at midnight UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to midnight UTC.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrZeroDate
	}
	return nil
}

// ISO returns the date formatted as YYYY-MM-DD.
func (d Date) ISO() string {
	return d.Format("2006-01-02")
}

// SameDay reports whether both dates fall on the same calendar day.
func (d Date) SameDay(o Date) bool {
	return d.Year() == o.Year() && d.Month() == o.Month() && d.Day() == o.Day()
}

// DaysApart returns the absolute whole-day distance between two dates.
func (d Date) DaysApart(o Date) int {
	diff := d.Sub(o.Time)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Abs returns the absolute value, for comparing signed transaction
// amounts against always-positive bill amounts.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents}
	}
	return m
}

// Dollars renders the amount with two decimals, no currency symbol.
func (m Money) Dollars() string {
	c := m.Cents
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

func (p RecurringPattern) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	if err := p.Amount.Validate(); err != nil {
		return err
	}
	if !p.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	if err := p.NextOccurrence.Validate(); err != nil {
		return err
	}
	for _, m := range p.ActiveMonths {
		if m < 1 || m > 12 {
			return ErrInvalidMonths
		}
	}
	return nil
}

// MonthActive reports whether the given month participates in the
// pattern's schedule. An empty subset means every month is active.
func (p RecurringPattern) MonthActive(month time.Month) bool {
	if len(p.ActiveMonths) == 0 {
		return true
	}
	for _, m := range p.ActiveMonths {
		if time.Month(m) == month {
			return true
		}
	}
	return false
}

func (b BillInstance) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return ErrEmptyName
	}
	if err := b.Amount.Validate(); err != nil {
		return err
	}
	if err := b.DueDate.Validate(); err != nil {
		return err
	}
	return nil
}

// Names returns the bill name plus every merchant alias, for matching.
func (b BillInstance) Names() []string {
	return append([]string{b.Name}, b.Aliases...)
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrEmptyName
	}
	if t.Amount.Cents == 0 {
		return ErrInvalidAmount
	}
	return t.Date.Validate()
}
