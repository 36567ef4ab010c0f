package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"

	"sprintscope/backend/internal/domain"
	"sprintscope/backend/internal/ports"
)

type State string

const (
	StateIdle                State = "IDLE"
	StateLoadingBase         State = "LOADING_BASE"
	StateLoadingSprintDetail State = "LOADING_SPRINT_DETAIL"
	StateReady               State = "READY"
)

// selectionSource tracks who picked the current sprint. An auto-loaded
// selection is consumed exactly once: the first reselection of the same
// sprint is a no-op, anything after that is user-driven and refetches.
type selectionSource int

const (
	selectionNone selectionSource = iota
	selectionAutoLoaded
	selectionUser
)

// Snapshot is the orchestrator's externally visible state. Slices are
// replaced wholesale on mutation, never appended to in place, so a copy
// taken under the lock stays consistent.
type Snapshot struct {
	State          State                    `json:"state"`
	BoardID        int                      `json:"boardId"`
	Sprints        []domain.Sprint          `json:"sprints"`
	Members        []domain.Contributor     `json:"members"`
	Velocity       domain.VelocityHistory   `json:"velocity"`
	Selection      domain.Selection         `json:"selection"`
	SelectedSprint *domain.Sprint           `json:"selectedSprint,omitempty"`
	Metrics        *domain.PlanningMetrics  `json:"metrics,omitempty"`
	Capacity       *domain.CapacitySnapshot `json:"capacity,omitempty"`
	// LastError carries the most recent transient fetch failure without
	// blocking the rest of the snapshot.
	LastError string `json:"lastError,omitempty"`
}

type Orchestrator struct {
	sprints    ports.SprintProvider
	members    ports.MemberProvider
	velocity   ports.VelocityProvider
	timeOff    ports.TimeOffProvider
	metrics    ports.PlanningMetricsProvider
	selections ports.SelectionStore
	telemetry  ports.Telemetry

	mu         sync.Mutex
	generation uint64
	source     selectionSource
	snapshot   Snapshot
}

func New(
	sprints ports.SprintProvider,
	members ports.MemberProvider,
	velocity ports.VelocityProvider,
	timeOff ports.TimeOffProvider,
	metrics ports.PlanningMetricsProvider,
	selections ports.SelectionStore,
	telemetry ports.Telemetry,
) (*Orchestrator, error) {
	if sprints == nil || members == nil || velocity == nil || timeOff == nil || metrics == nil {
		return nil, fmt.Errorf("new orchestrator: all providers are required")
	}
	if selections == nil {
		return nil, fmt.Errorf("new orchestrator: selection store is required")
	}
	if telemetry == nil {
		return nil, fmt.Errorf("new orchestrator: telemetry is required")
	}
	return &Orchestrator{
		sprints:    sprints,
		members:    members,
		velocity:   velocity,
		timeOff:    timeOff,
		metrics:    metrics,
		selections: selections,
		telemetry:  telemetry,
		snapshot:   Snapshot{State: StateIdle},
	}, nil
}

// Snapshot returns a copy of the current orchestration state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot
}

// Run performs a full orchestration for a board: base data in parallel,
// sprint auto-selection, then sprint detail. A newer Run or SelectSprint
// invalidates this one entirely; stale results are dropped silently.
func (o *Orchestrator) Run(ctx context.Context, boardID int) error {
	o.mu.Lock()
	o.generation++
	generation := o.generation
	o.source = selectionNone
	o.snapshot = Snapshot{State: StateLoadingBase, BoardID: boardID}
	o.mu.Unlock()

	// Selections are read once per run; later writes trigger a new run
	// instead of mutating this one mid-flight.
	selection, err := o.selections.GetSelection(ctx, boardID)
	if err != nil {
		log.WithFields(log.Fields{"board": boardID, "error": err}).Warn("selection load failed, continuing unselected")
		selection = domain.Selection{BoardID: boardID}
	}

	base := o.fetchBase(ctx, boardID)
	selected := autoSelectSprint(base.sprints)

	if !o.apply(ctx, generation, func(snapshot *Snapshot) {
		snapshot.Sprints = base.sprints
		snapshot.Members = base.members
		snapshot.Velocity = base.velocity
		snapshot.Selection = selection
		snapshot.LastError = base.transientError
		if selected != nil {
			snapshot.SelectedSprint = selected
			snapshot.State = StateLoadingSprintDetail
			o.source = selectionAutoLoaded
		} else {
			snapshot.State = StateReady
		}
	}) {
		return nil
	}

	o.telemetry.Record("orchestration.base_loaded", map[string]string{"board": strconv.Itoa(boardID)})

	if selected == nil {
		return nil
	}

	return o.loadSprintDetail(ctx, generation, boardID, *selected, selection)
}

// SelectSprint reacts to a sprint selection. If the orchestrator itself
// just auto-selected this sprint the marker is consumed and nothing is
// fetched; a genuine user-driven reselection re-enters detail loading
// only, reusing the base data already in the snapshot.
func (o *Orchestrator) SelectSprint(ctx context.Context, sprintID int) error {
	o.mu.Lock()
	if o.source == selectionAutoLoaded &&
		o.snapshot.SelectedSprint != nil &&
		o.snapshot.SelectedSprint.ID == sprintID {
		o.source = selectionUser
		o.mu.Unlock()
		return nil
	}

	var target *domain.Sprint
	for i := range o.snapshot.Sprints {
		if o.snapshot.Sprints[i].ID == sprintID {
			sprint := o.snapshot.Sprints[i]
			target = &sprint
			break
		}
	}
	if target == nil {
		o.mu.Unlock()
		return fmt.Errorf("select sprint %d: %w", sprintID, domain.ErrNotFound)
	}

	o.generation++
	generation := o.generation
	o.source = selectionUser
	boardID := o.snapshot.BoardID
	selection := o.snapshot.Selection
	o.snapshot.SelectedSprint = target
	o.snapshot.Metrics = nil
	o.snapshot.Capacity = nil
	o.snapshot.State = StateLoadingSprintDetail
	o.mu.Unlock()

	return o.loadSprintDetail(ctx, generation, boardID, *target, selection)
}

type baseResult struct {
	sprints        []domain.Sprint
	members        []domain.Contributor
	velocity       domain.VelocityHistory
	transientError string
}

// fetchBase issues the three base fetches concurrently and jointly awaits
// them. Each one fails independently, degrading to an empty dataset.
func (o *Orchestrator) fetchBase(ctx context.Context, boardID int) baseResult {
	var (
		result baseResult
		failMu sync.Mutex
		wg     sync.WaitGroup
	)

	fail := func(what string, err error) {
		log.WithFields(log.Fields{"board": boardID, "fetch": what, "error": err}).Warn("base fetch failed")
		failMu.Lock()
		result.transientError = what + ": " + err.Error()
		failMu.Unlock()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		sprints, err := o.sprints.ListSprints(ctx, boardID, []string{domain.SprintStateActive, domain.SprintStateFuture})
		if err != nil {
			fail("sprints", err)
			return
		}
		result.sprints = sprints
	}()
	go func() {
		defer wg.Done()
		members, err := o.members.ProjectMembers(ctx, boardID)
		if err != nil {
			fail("members", err)
			return
		}
		result.members = members
	}()
	go func() {
		defer wg.Done()
		velocity, err := o.velocity.VelocityHistory(ctx, boardID)
		if err != nil {
			fail("velocity", err)
			return
		}
		result.velocity = velocity
	}()
	wg.Wait()

	return result
}

func (o *Orchestrator) loadSprintDetail(ctx context.Context, generation uint64, boardID int, sprint domain.Sprint, selection domain.Selection) error {
	window := domain.SprintWindow{Start: sprint.StartDate, End: sprint.EndDate}
	teamSize := selectionTeamSize(selection)

	var (
		metrics       *domain.PlanningMetrics
		capacity      *domain.CapacitySnapshot
		metricsErr    error
		capacityErr   error
		detailWait    sync.WaitGroup
		timeOffRecs   []domain.TimeOffRecord
		holidayRecs   []domain.Holiday
		timeOffFailed error
	)

	detailWait.Add(2)
	go func() {
		defer detailWait.Done()
		fetched, err := o.metrics.PlanningMetrics(ctx, boardID, sprint.ID)
		if err != nil {
			metricsErr = err
			return
		}
		metrics = &fetched
	}()
	go func() {
		defer detailWait.Done()
		records, err := o.timeOff.TimeOff(ctx, window)
		if err != nil {
			timeOffFailed = err
		} else {
			timeOffRecs = records
		}
		holidays, err := o.timeOff.Holidays(ctx, window)
		if err != nil {
			if timeOffFailed == nil {
				timeOffFailed = err
			}
		} else {
			holidayRecs = holidays
		}
		if timeOffFailed != nil && timeOffRecs == nil && holidayRecs == nil {
			capacityErr = timeOffFailed
			return
		}
		snapshot := domain.BuildCapacitySnapshot(window, timeOffRecs, holidayRecs, teamSize)
		capacity = &snapshot
	}()
	detailWait.Wait()

	if !o.apply(ctx, generation, func(snapshot *Snapshot) {
		snapshot.Metrics = metrics
		snapshot.Capacity = capacity
		snapshot.State = StateReady
		switch {
		case metricsErr != nil:
			// Non-fatal: metrics stay nil and the failure is surfaced.
			snapshot.LastError = "planning metrics: " + metricsErr.Error()
		case capacityErr != nil:
			snapshot.LastError = "capacity: " + capacityErr.Error()
		}
	}) {
		return nil
	}

	o.telemetry.Record("orchestration.ready", map[string]string{
		"board":  strconv.Itoa(boardID),
		"sprint": strconv.Itoa(sprint.ID),
	})
	return nil
}

// apply runs a state mutation only if this orchestration is still current.
// The generation check is the cancellation flag: a newer run or a context
// cancellation means the result is stale and must be discarded.
func (o *Orchestrator) apply(ctx context.Context, generation uint64, mutate func(*Snapshot)) bool {
	if ctx.Err() != nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != generation {
		return false
	}
	mutate(&o.snapshot)
	return true
}

// autoSelectSprint prefers an active sprint; otherwise the future sprint
// with the earliest start date.
func autoSelectSprint(sprints []domain.Sprint) *domain.Sprint {
	for _, sprint := range sprints {
		if sprint.State == domain.SprintStateActive {
			selected := sprint
			return &selected
		}
	}

	var futures []domain.Sprint
	for _, sprint := range sprints {
		if sprint.State == domain.SprintStateFuture {
			futures = append(futures, sprint)
		}
	}
	if len(futures) == 0 {
		return nil
	}
	sort.Slice(futures, func(i, j int) bool {
		return futures[i].StartDate.Before(futures[j].StartDate)
	})
	selected := futures[0]
	return &selected
}

func selectionTeamSize(selection domain.Selection) int {
	return len(selection.MemberAccountIDs) + len(selection.ManualMembers)
}

// Projection derives a velocity projection from the current snapshot. It
// is recomputed on every call and never persisted.
func (o *Orchestrator) Projection(plannedPoints float64) (domain.VelocityProjection, string, error) {
	o.mu.Lock()
	snapshot := o.snapshot
	o.mu.Unlock()

	if snapshot.Capacity == nil || snapshot.SelectedSprint == nil {
		return domain.VelocityProjection{}, "", fmt.Errorf("projection: capacity snapshot missing: %w", domain.ErrNotConfigured)
	}

	capacity := *snapshot.Capacity
	projection := domain.ProjectVelocity(domain.ProjectionInput{
		TeamPointsPerDay:  snapshot.Velocity.TeamPointsPerDay,
		Contributors:      snapshot.Velocity.Contributors,
		TimeOffByPerson:   domain.ConsolidateTimeOff(capacity.TimeOff, capacity.Window),
		HolidayCount:      domain.HolidayWorkingDays(capacity.Holidays, capacity.Window),
		SprintWorkingDays: capacity.WorkingDays,
		TeamSize:          capacity.TeamSize,
	})
	status := domain.DeriveStatus(plannedPoints, projection.ProjectedVelocity)
	return projection, status, nil
}
