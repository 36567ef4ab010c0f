package ports

import (
	"context"

	"sprintscope/backend/internal/domain"
)

// SprintProvider exposes the board/sprint surface of the tracker.
type SprintProvider interface {
	ListBoards(ctx context.Context) ([]domain.Board, error)
	ListSprints(ctx context.Context, boardID int, states []string) ([]domain.Sprint, error)
}

// MemberProvider lists the people who worked on a board recently.
type MemberProvider interface {
	ProjectMembers(ctx context.Context, boardID int) ([]domain.Contributor, error)
}

// VelocityProvider derives trailing-sprint throughput for a board.
type VelocityProvider interface {
	VelocityHistory(ctx context.Context, boardID int) (domain.VelocityHistory, error)
}

// TimeOffProvider returns raw time-off records and company holidays for a
// date window. Both lists are unfiltered; consolidation happens in domain.
type TimeOffProvider interface {
	TimeOff(ctx context.Context, window domain.SprintWindow) ([]domain.TimeOffRecord, error)
	Holidays(ctx context.Context, window domain.SprintWindow) ([]domain.Holiday, error)
}

// PlanningMetricsProvider returns sprint-scoped planning figures.
type PlanningMetricsProvider interface {
	PlanningMetrics(ctx context.Context, boardID, sprintID int) (domain.PlanningMetrics, error)
}

// SelectionStore persists per-board member selections between sessions.
type SelectionStore interface {
	GetSelection(ctx context.Context, boardID int) (domain.Selection, error)
	PutSelection(ctx context.Context, selection domain.Selection) error
}

// CredentialStore persists third-party credentials locally. Absent
// credentials are not an error; callers inspect Configured().
type CredentialStore interface {
	Credentials(ctx context.Context) (domain.Credentials, error)
	SaveCredentials(ctx context.Context, credentials domain.Credentials) error
	ClearJira(ctx context.Context) error
	ClearBamboo(ctx context.Context) error
	Clear(ctx context.Context) error
}

type Telemetry interface {
	Record(name string, attributes map[string]string)
}
