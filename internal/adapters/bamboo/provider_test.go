package bamboo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sprintscope/backend/internal/domain"
)

const whosOutBody = `[
	{"type": "timeOff", "name": "Jane Doe", "employeeId": 17, "start": "2024-01-03", "end": "2024-01-05"},
	{"type": "holiday", "name": "New Year", "start": "2024-01-01", "end": "2024-01-01"},
	{"type": "holiday", "name": "Winter Break", "start": "2024-01-08", "end": "2024-01-09"},
	{"type": "timeOff", "name": "", "start": "2024-01-10", "end": "2024-01-10"},
	{"type": "timeOff", "name": "Bad Dates", "start": "soon", "end": "later"}
]`

func testServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Provider) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, NewProviderWithBaseURL(server.URL, "secret-key", server.Client())
}

func janWindow() domain.SprintWindow {
	return domain.SprintWindow{
		Start: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestNewProviderRequiresCredentials(t *testing.T) {
	if _, err := NewProvider(domain.BambooCredentials{}, nil); !errors.Is(err, domain.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestTimeOffFiltersHolidaysAndBadEntries(t *testing.T) {
	var gotAuth string
	var gotQuery string
	_, provider := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(whosOutBody))
	})

	records, err := provider.TimeOff(context.Background(), janWindow())
	if err != nil {
		t.Fatalf("TimeOff: %v", err)
	}
	if gotAuth == "" {
		t.Fatal("expected basic auth header")
	}
	if gotQuery != "end=2024-01-14&start=2024-01-01" {
		t.Fatalf("unexpected query: %s", gotQuery)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].EmployeeName != "Jane Doe" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if got := records[0].EndDate.Format(domain.DateLayout); got != "2024-01-05" {
		t.Fatalf("end date = %s", got)
	}
	if records[1].EmployeeName != "Unknown" {
		t.Fatalf("nameless entry should default to Unknown, got %q", records[1].EmployeeName)
	}
}

func TestHolidaysExpandsMultiDayEntries(t *testing.T) {
	_, provider := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(whosOutBody))
	})

	holidays, err := provider.Holidays(context.Background(), janWindow())
	if err != nil {
		t.Fatalf("Holidays: %v", err)
	}
	if len(holidays) != 3 {
		t.Fatalf("expected 3 holiday dates, got %d", len(holidays))
	}
	if holidays[0].Name != "New Year" {
		t.Fatalf("unexpected holiday: %+v", holidays[0])
	}
	if got := holidays[2].Date.Format(domain.DateLayout); got != "2024-01-09" {
		t.Fatalf("second break day = %s", got)
	}
}

func TestWhosOutServerErrorIsTransient(t *testing.T) {
	_, provider := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if _, err := provider.TimeOff(context.Background(), janWindow()); !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestWhosOutFeedIsFetchedOncePerWindow(t *testing.T) {
	requests := 0
	_, provider := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(whosOutBody))
	})

	if _, err := provider.TimeOff(context.Background(), janWindow()); err != nil {
		t.Fatalf("TimeOff: %v", err)
	}
	if _, err := provider.Holidays(context.Background(), janWindow()); err != nil {
		t.Fatalf("Holidays: %v", err)
	}
	if requests != 1 {
		t.Fatalf("requests = %d, want 1 shared fetch for the pair", requests)
	}

	febWindow := domain.SprintWindow{
		Start: time.Date(2024, time.February, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, time.February, 19, 0, 0, 0, 0, time.UTC),
	}
	if _, err := provider.TimeOff(context.Background(), febWindow); err != nil {
		t.Fatalf("TimeOff feb: %v", err)
	}
	if requests != 2 {
		t.Fatalf("requests = %d, want a fresh fetch for a new window", requests)
	}
}

func TestWhosOutFailureIsNotCached(t *testing.T) {
	failures := 1
	_, provider := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if failures > 0 {
			failures--
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(whosOutBody))
	})

	if _, err := provider.TimeOff(context.Background(), janWindow()); !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	records, err := provider.TimeOff(context.Background(), janWindow())
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("retry must reach the recovered feed")
	}
}
