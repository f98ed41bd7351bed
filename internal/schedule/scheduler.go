// Package schedule computes when a recurring obligation is due next.
// Every function takes its reference time as a parameter; nothing in
// this package reads the ambient clock.
package schedule

import (
	"fmt"
	"time"

	"bollette/internal/core"
)

// Stepper advances a due date by exactly one period. Month-based
// steppers clamp the day to the target month's last day when the
// original day does not exist there (Jan 31 -> Feb 28).
type Stepper interface {
	Step(d time.Time) time.Time
}

type daysStepper int

func (n daysStepper) Step(d time.Time) time.Time {
	return d.AddDate(0, 0, int(n))
}

type monthsStepper int

func (n monthsStepper) Step(d time.Time) time.Time {
	return addMonthsClamped(d, int(n))
}

type yearsStepper struct{}

func (yearsStepper) Step(d time.Time) time.Time {
	return addMonthsClamped(d, 12)
}

var steppers = map[core.Frequency]Stepper{
	core.Weekly:    daysStepper(7),
	core.Biweekly:  daysStepper(14),
	core.Monthly:   monthsStepper(1),
	core.Quarterly: monthsStepper(3),
	core.Annually:  yearsStepper{},
}

// ForFrequency returns the stepper for a frequency. One-time
// obligations have no stepper.
func ForFrequency(f core.Frequency) (Stepper, error) {
	s, ok := steppers[f]
	if !ok {
		return nil, fmt.Errorf("no stepper for frequency %q", f)
	}
	return s, nil
}

// addMonthsClamped adds n calendar months keeping the day-of-month,
// clamped to the target month's last day. time.AddDate is not used for
// the day component because it overflows (Jan 31 + 1 month = Mar 3).
func addMonthsClamped(d time.Time, n int) time.Time {
	year, month, day := d.Date()
	target := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, d.Location())
	if last := lastDayOfMonth(target); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, 0, 0, 0, 0, d.Location())
}

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// Project returns the first occurrence after now, starting from the
// last known occurrence. Pure and repeatable: calling it twice with
// the same inputs returns the same date. It must never be used to roll
// forward an overdue-but-unpaid due date; the stored NextOccurrence
// stays put until a payment clears it.
func Project(last core.Date, f core.Frequency, now time.Time) (core.Date, error) {
	if f == core.OneTime {
		return last, nil
	}
	s, err := ForFrequency(f)
	if err != nil {
		return core.Date{}, err
	}
	next := s.Step(last.Time)
	for !next.After(now) {
		next = s.Step(next)
	}
	return core.DateOf(next), nil
}

// AdvanceAfterPayment steps forward exactly one period from the due
// date that was just paid, never from today. Paying three days late
// still yields the next date one period after the original schedule.
func AdvanceAfterPayment(paidDue core.Date, f core.Frequency) (core.Date, error) {
	s, err := ForFrequency(f)
	if err != nil {
		return core.Date{}, err
	}
	return core.DateOf(s.Step(paidDue.Time)), nil
}

// AdvancePattern is AdvanceAfterPayment plus the pattern's
// active-months subset: months outside the subset are stepped over.
// The iteration cap guards against a subset that is empty in practice
// for the frequency.
func AdvancePattern(p core.RecurringPattern, paidDue core.Date) (core.Date, error) {
	next, err := AdvanceAfterPayment(paidDue, p.Frequency)
	if err != nil {
		return core.Date{}, err
	}
	s, _ := ForFrequency(p.Frequency)
	for i := 0; i < 24 && !p.MonthActive(next.Month()); i++ {
		next = core.DateOf(s.Step(next.Time))
	}
	if !p.MonthActive(next.Month()) {
		return core.Date{}, fmt.Errorf("no active month reachable for pattern %s", p.ID)
	}
	return next, nil
}
