package domain

import (
	"errors"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

const (
	SprintStateActive = "active"
	SprintStateFuture = "future"
	SprintStateClosed = "closed"
)

const (
	StatusOver     = "over"
	StatusUnder    = "under"
	StatusOnTarget = "on_target"
)

const (
	// DefaultTeamSize is assumed when no member selection is configured.
	DefaultTeamSize = 5

	// TrailingSprintCount is how far back velocity history reaches.
	TrailingSprintCount = 6
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrNotConfigured = errors.New("not configured")
	ErrTransient     = errors.New("transient fetch failure")
)

type Board struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ProjectKey  string `json:"projectKey"`
	ProjectName string `json:"projectName"`
}

type Sprint struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	StartDate time.Time `json:"startDate"`
	// EndDate is exclusive for working-day math.
	EndDate time.Time `json:"endDate"`
	Goal    string    `json:"goal"`
}

type Contributor struct {
	AccountID    string  `json:"accountId"`
	DisplayName  string  `json:"displayName"`
	Email        string  `json:"email"`
	AvatarURL    string  `json:"avatarUrl,omitempty"`
	PointsPerDay float64 `json:"pointsPerDay"`
}

// TimeOffRecord covers a closed date range: both bounds are inclusive,
// matching the upstream who's-out feed.
type TimeOffRecord struct {
	EmployeeName string    `json:"employeeName"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	Type         string    `json:"type"`
}

type Holiday struct {
	Name string    `json:"name"`
	Date time.Time `json:"date"`
}

// SprintWindow is the half-open interval [Start, End) of a sprint.
type SprintWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type CapacitySnapshot struct {
	Window   SprintWindow    `json:"window"`
	TimeOff  []TimeOffRecord `json:"timeOff"`
	Holidays []Holiday       `json:"holidays"`
	TeamSize int             `json:"teamSize"`

	WorkingDays         int     `json:"workingDays"`
	TotalPersonDays     int     `json:"totalPersonDays"`
	HolidayDays         int     `json:"holidayDays"`
	PTODays             int     `json:"ptoDays"`
	AvailablePersonDays int     `json:"availablePersonDays"`
	AdjustmentFactor    float64 `json:"adjustmentFactor"`
}

type PersonImpact struct {
	Name         string  `json:"name"`
	DaysOff      int     `json:"daysOff"`
	ResolvedRate float64 `json:"resolvedRate"`
	PointsLost   float64 `json:"pointsLost"`
}

type VelocityProjection struct {
	ExpectedVelocity  float64        `json:"expectedVelocity"`
	ProjectedVelocity float64        `json:"projectedVelocity"`
	TotalPointsLost   float64        `json:"totalPointsLost"`
	HolidayImpact     float64        `json:"holidayImpact"`
	PerPersonImpact   []PersonImpact `json:"perPersonImpact"`
	UnmatchedNames    []string       `json:"unmatchedNames,omitempty"`
}

type SprintVelocity struct {
	SprintID        int     `json:"sprintId"`
	SprintName      string  `json:"sprintName"`
	CompletedPoints float64 `json:"completedPoints"`
}

// VelocityHistory is the trailing-sprint throughput a velocity provider
// derives for a board.
type VelocityHistory struct {
	Sprints          []SprintVelocity `json:"sprints"`
	AverageVelocity  float64          `json:"averageVelocity"`
	TeamPointsPerDay float64          `json:"teamPointsPerDay"`
	Contributors     []Contributor    `json:"contributors"`
}

type PlanningMetrics struct {
	SprintID       int     `json:"sprintId"`
	Committed      int     `json:"committed"`
	Completed      int     `json:"completed"`
	CompletionRate float64 `json:"completionRate"`
	PlannedPoints  float64 `json:"plannedPoints"`
}

type Selection struct {
	BoardID          int           `json:"boardId"`
	MemberAccountIDs []string      `json:"memberAccountIds"`
	ManualMembers    []Contributor `json:"manualMembers"`
}

type JiraCredentials struct {
	Server string `json:"server"`
	Email  string `json:"email"`
	Token  string `json:"token"`
}

type BambooCredentials struct {
	Subdomain string `json:"subdomain"`
	Token     string `json:"token"`
}

type Credentials struct {
	Jira   JiraCredentials   `json:"jira"`
	Bamboo BambooCredentials `json:"bamboo"`
}

func (c JiraCredentials) Configured() bool {
	return strings.TrimSpace(c.Server) != "" &&
		strings.TrimSpace(c.Email) != "" &&
		strings.TrimSpace(c.Token) != ""
}

func (c BambooCredentials) Configured() bool {
	return strings.TrimSpace(c.Subdomain) != "" && strings.TrimSpace(c.Token) != ""
}

func ValidateSprintState(value string) error {
	switch value {
	case SprintStateActive, SprintStateFuture, SprintStateClosed:
		return nil
	default:
		return ErrValidation
	}
}

func ParseDate(value string) (time.Time, error) {
	parsed, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, ErrValidation
	}
	return parsed, nil
}

// ParseTimestamp accepts the timestamp shapes the upstream trackers emit,
// from full RFC 3339 with offset down to a bare date.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	layouts := []string{
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05-0700",
		time.RFC3339,
		"2006-01-02T15:04:05.000",
		"2006-01-02T15:04:05",
		DateLayout,
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, ErrValidation
}

// DateOnly truncates a timestamp to midnight UTC so calendar arithmetic
// never mixes wall-clock components into day counts.
func DateOnly(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
}
