package jira

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"sprintscope/backend/internal/domain"
	"sprintscope/backend/internal/ports"
)

// Provider serves boards, sprints, members, contributor velocity, and
// planning metrics from the tracker.
type Provider struct {
	client *Client
}

var (
	_ ports.SprintProvider          = (*Provider)(nil)
	_ ports.MemberProvider          = (*Provider)(nil)
	_ ports.VelocityProvider        = (*Provider)(nil)
	_ ports.PlanningMetricsProvider = (*Provider)(nil)
)

func NewProvider(credentials domain.JiraCredentials, httpClient *http.Client) (*Provider, error) {
	client, err := NewClient(credentials, httpClient)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client}, nil
}

type boardPayload struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Location struct {
		ProjectKey  string `json:"projectKey"`
		DisplayName string `json:"displayName"`
	} `json:"location"`
}

type sprintPayload struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Goal      string `json:"goal"`
}

type userPayload struct {
	AccountID    string            `json:"accountId"`
	DisplayName  string            `json:"displayName"`
	EmailAddress string            `json:"emailAddress"`
	AvatarURLs   map[string]string `json:"avatarUrls"`
}

type issuePayload struct {
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

func (p *Provider) ListBoards(ctx context.Context) ([]domain.Board, error) {
	params := url.Values{}
	params.Set("type", "scrum")
	values, err := p.client.pagedValues(ctx, agileBoardPath, params, "values", pageSize)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}

	boards := make([]domain.Board, 0, len(values))
	for _, value := range values {
		var payload boardPayload
		if err := decodeRecord(value, &payload); err != nil {
			log.WithFields(log.Fields{"error": err}).Warn("skipping malformed board payload")
			continue
		}
		boards = append(boards, domain.Board{
			ID:          payload.ID,
			Name:        payload.Name,
			ProjectKey:  payload.Location.ProjectKey,
			ProjectName: payload.Location.DisplayName,
		})
	}
	return boards, nil
}

func (p *Provider) ListSprints(ctx context.Context, boardID int, states []string) ([]domain.Sprint, error) {
	params := url.Values{}
	if len(states) > 0 {
		for _, state := range states {
			if err := domain.ValidateSprintState(state); err != nil {
				return nil, fmt.Errorf("sprint state %q: %w", state, err)
			}
		}
		params.Set("state", strings.Join(states, ","))
	}
	endpoint := fmt.Sprintf("%s/%d/sprint", agileBoardPath, boardID)
	values, err := p.client.pagedValues(ctx, endpoint, params, "values", pageSize)
	if err != nil {
		return nil, fmt.Errorf("list sprints board %d: %w", boardID, err)
	}

	sprints := make([]domain.Sprint, 0, len(values))
	for _, value := range values {
		sprint, err := decodeSprint(value)
		if err != nil {
			log.WithFields(log.Fields{"board": boardID, "error": err}).Warn("skipping malformed sprint payload")
			continue
		}
		sprints = append(sprints, sprint)
	}

	sort.Slice(sprints, func(i, j int) bool {
		return sprints[i].StartDate.Before(sprints[j].StartDate)
	})
	return sprints, nil
}

func decodeSprint(value any) (domain.Sprint, error) {
	var payload sprintPayload
	if err := decodeRecord(value, &payload); err != nil {
		return domain.Sprint{}, err
	}
	sprint := domain.Sprint{
		ID:    payload.ID,
		Name:  payload.Name,
		State: payload.State,
		Goal:  payload.Goal,
	}
	// Future sprints may carry no dates yet; zero values are legal and
	// resolve to the working-day fallback downstream.
	if start, err := domain.ParseTimestamp(payload.StartDate); err == nil {
		sprint.StartDate = domain.DateOnly(start)
	}
	if end, err := domain.ParseTimestamp(payload.EndDate); err == nil {
		sprint.EndDate = domain.DateOnly(end)
	}
	return sprint, nil
}

// ProjectMembers collects the assignees and reporters seen on recent
// sprints, with a best-effort pass over the backlog.
func (p *Provider) ProjectMembers(ctx context.Context, boardID int) ([]domain.Contributor, error) {
	params := url.Values{}
	params.Set("state", "active,closed")
	params.Set("maxResults", fmt.Sprintf("%d", domain.TrailingSprintCount))
	endpoint := fmt.Sprintf("%s/%d/sprint", agileBoardPath, boardID)
	payload, err := p.client.get(ctx, endpoint, params)
	if err != nil {
		return nil, fmt.Errorf("project members board %d: %w", boardID, err)
	}

	members := map[string]domain.Contributor{}
	values, _ := payload["values"].([]any)
	for _, value := range values {
		var sprint sprintPayload
		if err := decodeRecord(value, &sprint); err != nil {
			continue
		}
		issues, err := p.sprintIssues(ctx, sprint.ID, []string{"assignee", "reporter"})
		if err != nil {
			log.WithFields(log.Fields{"board": boardID, "sprint": sprint.ID, "error": err}).Warn("member scan skipped sprint")
			continue
		}
		collectUsers(members, issues)
	}

	// Backlog issues catch people without recent sprint work. Optional;
	// a failure here never fails the member list.
	backlog, err := p.client.get(ctx, fmt.Sprintf("%s/%d/backlog", agileBoardPath, boardID), url.Values{
		"maxResults": {"100"},
		"fields":     {"assignee,reporter"},
	})
	if err == nil {
		collectUsers(members, decodeIssues(backlog))
	}

	list := make([]domain.Contributor, 0, len(members))
	for _, member := range members {
		list = append(list, member)
	}
	sort.Slice(list, func(i, j int) bool {
		return strings.ToLower(list[i].DisplayName) < strings.ToLower(list[j].DisplayName)
	})
	return list, nil
}

func collectUsers(members map[string]domain.Contributor, issues []issuePayload) {
	for _, issue := range issues {
		for _, field := range []string{"assignee", "reporter"} {
			raw, ok := issue.Fields[field]
			if !ok || raw == nil {
				continue
			}
			var user userPayload
			if err := decodeRecord(raw, &user); err != nil || user.AccountID == "" {
				continue
			}
			if _, seen := members[user.AccountID]; seen {
				continue
			}
			displayName := user.DisplayName
			if displayName == "" {
				displayName = "Unknown"
			}
			members[user.AccountID] = domain.Contributor{
				AccountID:   user.AccountID,
				DisplayName: displayName,
				Email:       user.EmailAddress,
				AvatarURL:   user.AvatarURLs["48x48"],
			}
		}
	}
}

// VelocityHistory derives per-contributor and team points/day from the
// trailing closed sprints.
func (p *Provider) VelocityHistory(ctx context.Context, boardID int) (domain.VelocityHistory, error) {
	closed, err := p.trailingClosedSprints(ctx, boardID)
	if err != nil {
		return domain.VelocityHistory{}, err
	}
	if len(closed) == 0 {
		return domain.VelocityHistory{}, nil
	}

	spFields, err := p.client.discoverStoryPointFields(ctx)
	if err != nil {
		return domain.VelocityHistory{}, fmt.Errorf("velocity board %d: %w", boardID, err)
	}
	fields := append([]string{"assignee", "resolution"}, spFields...)

	issuesBySprint := p.fetchIssuesParallel(ctx, closed, fields)

	history := domain.VelocityHistory{}
	totalPoints := 0.0
	totalWorkingDays := 0
	pointsByPerson := map[string]*domain.Contributor{}

	for _, sprint := range closed {
		issues := issuesBySprint[sprint.ID]
		sprintPoints := 0.0
		for _, issue := range issues {
			if !issueCompleted(issue) {
				continue
			}
			points, ok := storyPoints(issue, spFields)
			if !ok || points <= 0 {
				continue
			}
			sprintPoints += points

			raw, exists := issue.Fields["assignee"]
			if !exists || raw == nil {
				continue
			}
			var user userPayload
			if err := decodeRecord(raw, &user); err != nil || user.AccountID == "" {
				continue
			}
			contributor, tracked := pointsByPerson[user.AccountID]
			if !tracked {
				contributor = &domain.Contributor{
					AccountID:   user.AccountID,
					DisplayName: user.DisplayName,
					Email:       user.EmailAddress,
				}
				pointsByPerson[user.AccountID] = contributor
			}
			contributor.PointsPerDay += points
		}

		totalPoints += sprintPoints
		totalWorkingDays += domain.WorkingDays(sprint.StartDate, sprint.EndDate)
		history.Sprints = append(history.Sprints, domain.SprintVelocity{
			SprintID:        sprint.ID,
			SprintName:      sprint.Name,
			CompletedPoints: round1(sprintPoints),
		})
	}

	history.AverageVelocity = round1(totalPoints / float64(len(closed)))
	if totalWorkingDays > 0 {
		history.TeamPointsPerDay = round2(totalPoints / float64(totalWorkingDays))
		for _, contributor := range pointsByPerson {
			contributor.PointsPerDay = round2(contributor.PointsPerDay / float64(totalWorkingDays))
			history.Contributors = append(history.Contributors, *contributor)
		}
	}
	sort.Slice(history.Contributors, func(i, j int) bool {
		return strings.ToLower(history.Contributors[i].DisplayName) < strings.ToLower(history.Contributors[j].DisplayName)
	})
	return history, nil
}

func (p *Provider) PlanningMetrics(ctx context.Context, boardID, sprintID int) (domain.PlanningMetrics, error) {
	spFields, err := p.client.discoverStoryPointFields(ctx)
	if err != nil {
		return domain.PlanningMetrics{}, fmt.Errorf("planning metrics sprint %d: %w", sprintID, err)
	}

	issues, err := p.sprintIssues(ctx, sprintID, append([]string{"resolution"}, spFields...))
	if err != nil {
		return domain.PlanningMetrics{}, fmt.Errorf("planning metrics sprint %d: %w", sprintID, err)
	}

	metrics := domain.PlanningMetrics{SprintID: sprintID, Committed: len(issues)}
	planned := 0.0
	for _, issue := range issues {
		if issueCompleted(issue) {
			metrics.Completed++
		}
		if points, ok := storyPoints(issue, spFields); ok {
			planned += points
		}
	}
	if metrics.Committed > 0 {
		metrics.CompletionRate = round1(float64(metrics.Completed) / float64(metrics.Committed) * 100)
	}
	metrics.PlannedPoints = round1(planned)
	return metrics, nil
}

func (p *Provider) trailingClosedSprints(ctx context.Context, boardID int) ([]domain.Sprint, error) {
	params := url.Values{}
	params.Set("state", domain.SprintStateClosed)
	endpoint := fmt.Sprintf("%s/%d/sprint", agileBoardPath, boardID)
	values, err := p.client.pagedValues(ctx, endpoint, params, "values", pageSize)
	if err != nil {
		return nil, fmt.Errorf("closed sprints board %d: %w", boardID, err)
	}

	sprints := make([]domain.Sprint, 0, len(values))
	for _, value := range values {
		sprint, err := decodeSprint(value)
		if err != nil {
			continue
		}
		sprints = append(sprints, sprint)
	}
	sort.Slice(sprints, func(i, j int) bool {
		return sprints[i].EndDate.After(sprints[j].EndDate)
	})
	if len(sprints) > domain.TrailingSprintCount {
		sprints = sprints[:domain.TrailingSprintCount]
	}
	return sprints, nil
}

func (p *Provider) fetchIssuesParallel(ctx context.Context, sprints []domain.Sprint, fields []string) map[int][]issuePayload {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result = make(map[int][]issuePayload, len(sprints))
	)
	for _, sprint := range sprints {
		wg.Add(1)
		go func(sprintID int) {
			defer wg.Done()
			issues, err := p.sprintIssues(ctx, sprintID, fields)
			if err != nil {
				log.WithFields(log.Fields{"sprint": sprintID, "error": err}).Warn("issue fetch failed, sprint excluded from velocity")
				return
			}
			mu.Lock()
			result[sprintID] = issues
			mu.Unlock()
		}(sprint.ID)
	}
	wg.Wait()
	return result
}

func (p *Provider) sprintIssues(ctx context.Context, sprintID int, fields []string) ([]issuePayload, error) {
	params := url.Values{}
	params.Set("fields", strings.Join(fields, ","))
	endpoint := fmt.Sprintf("%s/%d/issue", agileSprintPath, sprintID)
	values, err := p.client.pagedValues(ctx, endpoint, params, "issues", issuePageSize)
	if err != nil {
		return nil, err
	}

	issues := make([]issuePayload, 0, len(values))
	for _, value := range values {
		var issue issuePayload
		if err := decodeRecord(value, &issue); err != nil {
			continue
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

func decodeIssues(payload map[string]any) []issuePayload {
	values, _ := payload["issues"].([]any)
	issues := make([]issuePayload, 0, len(values))
	for _, value := range values {
		var issue issuePayload
		if err := decodeRecord(value, &issue); err != nil {
			continue
		}
		issues = append(issues, issue)
	}
	return issues
}

func issueCompleted(issue issuePayload) bool {
	resolution, ok := issue.Fields["resolution"]
	return ok && resolution != nil
}

func storyPoints(issue issuePayload, spFields []string) (float64, bool) {
	for _, field := range spFields {
		raw, ok := issue.Fields[field]
		if !ok || raw == nil {
			continue
		}
		switch value := raw.(type) {
		case float64:
			return value, true
		case int:
			return float64(value), true
		case string:
			continue
		}
	}
	return 0, false
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
