package domain

import "time"

// FallbackSprintWorkingDays stands in for the sprint length whenever the
// window is missing or degenerate. Returning 0 would poison every
// downstream rate with a zero-length sprint.
const FallbackSprintWorkingDays = 10

// WorkingDays counts Monday-Friday dates in the half-open interval
// [start, end). A zero bound or start >= end yields the fallback.
func WorkingDays(start, end time.Time) int {
	if start.IsZero() || end.IsZero() {
		return FallbackSprintWorkingDays
	}
	start = DateOnly(start)
	end = DateOnly(end)
	if !start.Before(end) {
		return FallbackSprintWorkingDays
	}
	return weekdaysBetween(start, end)
}

// weekdaysBetween counts weekdays in [start, end) with no fallback. Both
// bounds must already be date-only.
func weekdaysBetween(start, end time.Time) int {
	count := 0
	for current := start; current.Before(end); current = current.AddDate(0, 0, 1) {
		switch current.Weekday() {
		case time.Saturday, time.Sunday:
		default:
			count++
		}
	}
	return count
}
