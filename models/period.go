// ABOUTME: Period-end date computation and labels for periodic reviews
// ABOUTME: One explicit switch per review kind keeps the four rules colocated
package models

import (
	"fmt"
	"time"
)

// ReminderDate returns the calendar reminder date for the review: the last
// day of its period. Returns nil for completed reviews and for kinds that
// are not reviews. The quarter end is derived solely from the period start
// (last day of start month + 2); a separately stored quarter number is never
// consulted because it can disagree with the start date around timezone
// boundaries.
func (r *Review) ReminderDate() *time.Time {
	if r.Completed {
		return nil
	}

	start := r.PeriodStart
	var end time.Time

	switch r.Kind {
	case SyncableWeeklyReview:
		end = start.AddDate(0, 0, 6)
	case SyncableMonthlyReview:
		// Day 0 of the next month is the last day of this one.
		end = time.Date(start.Year(), start.Month()+1, 0, 0, 0, 0, 0, start.Location())
	case SyncableQuarterlyReview:
		end = time.Date(start.Year(), start.Month()+3, 0, 0, 0, 0, 0, start.Location())
	case SyncableYearlyReview:
		end = time.Date(start.Year(), time.December, 31, 0, 0, 0, 0, start.Location())
	default:
		return nil
	}

	return &end
}

// PeriodLabel returns a human-readable label for the review's period.
func (r *Review) PeriodLabel() string {
	start := r.PeriodStart

	switch r.Kind {
	case SyncableWeeklyReview:
		return "Week of " + start.Format("Jan 2, 2006")
	case SyncableMonthlyReview:
		return start.Format("January 2006")
	case SyncableQuarterlyReview:
		quarter := (int(start.Month())-1)/3 + 1
		return fmt.Sprintf("Q%d %d", quarter, start.Year())
	case SyncableYearlyReview:
		return start.Format("2006")
	default:
		return ""
	}
}

// KindLabel returns the display name for a review kind, e.g. "Monthly".
func (k SyncableKind) KindLabel() string {
	switch k {
	case SyncableWeeklyReview:
		return "Weekly"
	case SyncableMonthlyReview:
		return "Monthly"
	case SyncableQuarterlyReview:
		return "Quarterly"
	case SyncableYearlyReview:
		return "Yearly"
	case SyncableGoal:
		return "Goal"
	default:
		return string(k)
	}
}
