package schedule

import (
	"fmt"
	"time"

	"bollette/internal/core"
)

// failedGraceDays is how far past due an obligation must be, with a
// failed last payment attempt, before its derived status is Failed.
const failedGraceDays = 7

// ErrIllegalTransition is wrapped by Transition for rejected moves.
var ErrIllegalTransition = fmt.Errorf("illegal status transition")

// transitions is the closed set of legal lifecycle moves. Ended is
// terminal: resuming an ended pattern requires creating a new one.
var transitions = map[core.PatternStatus]map[core.PatternStatus]bool{
	core.StatusActive: {
		core.StatusPaused: true,
		core.StatusEnded:  true,
		core.StatusFailed: true,
	},
	core.StatusPaused: {
		core.StatusActive: true,
		core.StatusEnded:  true,
	},
	core.StatusFailed: {
		core.StatusActive: true,
		core.StatusEnded:  true,
	},
	core.StatusEnded: {},
}

// Transition validates a lifecycle move, returning the new status.
func Transition(from, to core.PatternStatus) (core.PatternStatus, error) {
	if from == to {
		return to, nil
	}
	if allowed, ok := transitions[from]; !ok || !allowed[to] {
		return from, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return to, nil
}

// DeriveStatus computes the pattern's effective status at the given
// reference time. User-set Paused is sticky; an end date in the past
// forces Ended; Failed requires both a failed last payment attempt and
// more than seven days past due.
func DeriveStatus(p core.RecurringPattern, now time.Time) core.PatternStatus {
	if p.Status == core.StatusEnded {
		return core.StatusEnded
	}
	if !p.EndDate.IsZero() && p.EndDate.Before(now) {
		return core.StatusEnded
	}
	if p.Status == core.StatusPaused {
		return core.StatusPaused
	}
	if p.LastPaymentFailed && !p.NextOccurrence.IsZero() {
		overdue := now.Sub(p.NextOccurrence.Time)
		if overdue > failedGraceDays*24*time.Hour {
			return core.StatusFailed
		}
	}
	return core.StatusActive
}
