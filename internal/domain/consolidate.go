package domain

import "time"

// ConsolidateTimeOff totals working days off per person within a sprint
// window. Record bounds are inclusive; the window is half-open. Records
// outside the window contribute nothing, and multiple records for the same
// name sum together, so the result is independent of input order.
func ConsolidateTimeOff(records []TimeOffRecord, window SprintWindow) map[string]int {
	totals := make(map[string]int, len(records))

	windowStart := DateOnly(window.Start)
	windowEnd := DateOnly(window.End)

	for _, record := range records {
		if record.EmployeeName == "" || record.StartDate.IsZero() || record.EndDate.IsZero() {
			continue
		}

		// The inclusive record end becomes exclusive so it intersects
		// uniformly with the half-open sprint window.
		recordStart := DateOnly(record.StartDate)
		recordEnd := DateOnly(record.EndDate).AddDate(0, 0, 1)

		overlapStart := laterOf(recordStart, windowStart)
		overlapEnd := earlierOf(recordEnd, windowEnd)
		if !overlapStart.Before(overlapEnd) {
			continue
		}

		days := weekdaysBetween(overlapStart, overlapEnd)
		if days == 0 {
			continue
		}
		totals[record.EmployeeName] += days
	}

	return totals
}

// HolidayWorkingDays counts distinct weekday holidays inside the window.
// Weekend holidays cost no capacity, and duplicate dates collapse.
func HolidayWorkingDays(holidays []Holiday, window SprintWindow) int {
	windowStart := DateOnly(window.Start)
	windowEnd := DateOnly(window.End)

	seen := make(map[time.Time]bool, len(holidays))
	count := 0
	for _, holiday := range holidays {
		date := DateOnly(holiday.Date)
		if date.Before(windowStart) || !date.Before(windowEnd) {
			continue
		}
		if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			continue
		}
		if seen[date] {
			continue
		}
		seen[date] = true
		count++
	}
	return count
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
