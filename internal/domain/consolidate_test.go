package domain

import "testing"

func record(name, start, end string) TimeOffRecord {
	return TimeOffRecord{
		EmployeeName: name,
		StartDate:    date(start),
		EndDate:      date(end),
		Type:         "timeOff",
	}
}

func janSprintWindow() SprintWindow {
	// Mon 2024-01-01 through Mon 2024-01-15 exclusive: 10 working days.
	return SprintWindow{Start: date("2024-01-01"), End: date("2024-01-15")}
}

func TestConsolidateTimeOffOverlapVariants(t *testing.T) {
	window := janSprintWindow()

	cases := []struct {
		name   string
		record TimeOffRecord
		want   int
	}{
		{name: "fully inside", record: record("Alice", "2024-01-02", "2024-01-04"), want: 3},
		{name: "fully before window", record: record("Bob", "2023-12-18", "2023-12-22"), want: 0},
		{name: "fully after window", record: record("Bob", "2024-01-15", "2024-01-19"), want: 0},
		{name: "straddles window start", record: record("Carol", "2023-12-28", "2024-01-02"), want: 2},
		{name: "straddles window end", record: record("Dave", "2024-01-12", "2024-01-17"), want: 1},
		{name: "spans whole sprint", record: record("Erin", "2023-12-25", "2024-01-20"), want: 10},
		{name: "weekend only", record: record("Frank", "2024-01-06", "2024-01-07"), want: 0},
		{name: "single inclusive day", record: record("Grace", "2024-01-08", "2024-01-08"), want: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			totals := ConsolidateTimeOff([]TimeOffRecord{tc.record}, window)
			if got := totals[tc.record.EmployeeName]; got != tc.want {
				t.Fatalf("consolidated days = %d, want %d", got, tc.want)
			}
			if tc.want == 0 {
				if _, present := totals[tc.record.EmployeeName]; present {
					t.Fatalf("zero-contribution record must not appear in totals")
				}
			}
		})
	}
}

func TestConsolidateTimeOffSpanningRecordMatchesSprintWorkingDays(t *testing.T) {
	window := janSprintWindow()
	totals := ConsolidateTimeOff([]TimeOffRecord{record("Erin", "2023-12-01", "2024-02-01")}, window)

	sprintDays := WorkingDays(window.Start, window.End)
	if totals["Erin"] != sprintDays {
		t.Fatalf("spanning record = %d days, want sprint working days %d", totals["Erin"], sprintDays)
	}
}

func TestConsolidateTimeOffSumsMultipleRecordsPerPerson(t *testing.T) {
	window := janSprintWindow()
	totals := ConsolidateTimeOff([]TimeOffRecord{
		record("Alice", "2024-01-02", "2024-01-03"),
		record("Alice", "2024-01-10", "2024-01-10"),
		record("Bob", "2024-01-04", "2024-01-04"),
	}, window)

	if totals["Alice"] != 3 {
		t.Fatalf("Alice = %d days, want 3", totals["Alice"])
	}
	if totals["Bob"] != 1 {
		t.Fatalf("Bob = %d days, want 1", totals["Bob"])
	}
}

func TestConsolidateTimeOffIsOrderIndependent(t *testing.T) {
	window := janSprintWindow()
	records := []TimeOffRecord{
		record("Alice", "2024-01-02", "2024-01-03"),
		record("Bob", "2023-12-28", "2024-01-05"),
		record("Alice", "2024-01-10", "2024-01-12"),
		record("Carol", "2024-01-08", "2024-01-20"),
	}
	reversed := make([]TimeOffRecord, len(records))
	for i, entry := range records {
		reversed[len(records)-1-i] = entry
	}

	forward := ConsolidateTimeOff(records, window)
	backward := ConsolidateTimeOff(reversed, window)

	if len(forward) != len(backward) {
		t.Fatalf("order changed result size: %d vs %d", len(forward), len(backward))
	}
	for name, days := range forward {
		if backward[name] != days {
			t.Fatalf("order changed total for %s: %d vs %d", name, days, backward[name])
		}
	}
}

func TestConsolidateTimeOffSkipsIncompleteRecords(t *testing.T) {
	window := janSprintWindow()
	totals := ConsolidateTimeOff([]TimeOffRecord{
		{EmployeeName: "", StartDate: date("2024-01-02"), EndDate: date("2024-01-03")},
		{EmployeeName: "Alice", EndDate: date("2024-01-03")},
		{EmployeeName: "Bob", StartDate: date("2024-01-02")},
	}, window)

	if len(totals) != 0 {
		t.Fatalf("incomplete records produced totals: %v", totals)
	}
}

func TestHolidayWorkingDays(t *testing.T) {
	window := janSprintWindow()
	holidays := []Holiday{
		{Name: "New Year", Date: date("2024-01-01")},
		{Name: "Duplicate New Year", Date: date("2024-01-01")},
		{Name: "Weekend Holiday", Date: date("2024-01-06")},
		{Name: "Outside Window", Date: date("2024-02-01")},
		{Name: "Mid Sprint", Date: date("2024-01-10")},
	}

	if got := HolidayWorkingDays(holidays, window); got != 2 {
		t.Fatalf("HolidayWorkingDays = %d, want 2", got)
	}
}
