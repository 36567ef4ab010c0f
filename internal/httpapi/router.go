package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"

	"sprintscope/backend/internal/adapters/bamboo"
	"sprintscope/backend/internal/adapters/jira"
	"sprintscope/backend/internal/adapters/persistence"
	"sprintscope/backend/internal/adapters/telemetry"
	"sprintscope/backend/internal/domain"
	"sprintscope/backend/internal/orchestrator"
	"sprintscope/backend/internal/ports"
)

// ProviderSet bundles the upstream providers one orchestrator needs.
type ProviderSet struct {
	Sprints  ports.SprintProvider
	Members  ports.MemberProvider
	Velocity ports.VelocityProvider
	TimeOff  ports.TimeOffProvider
	Metrics  ports.PlanningMetricsProvider
}

// ProviderFactory builds providers from the current credentials. It is
// called again after every credential change so new tokens take effect
// without a restart.
type ProviderFactory func(credentials domain.Credentials) (ProviderSet, error)

type API struct {
	cors        corsPolicy
	whitelist   *BoardWhitelist
	credentials ports.CredentialStore
	selections  ports.SelectionStore
	telemetry   ports.Telemetry
	providers   ProviderFactory

	mu            sync.Mutex
	orchestrators map[int]*orchestrator.Orchestrator
}

func NewRouter(config RuntimeConfig) (http.Handler, error) {
	credentialStore, err := persistence.NewCredentialStore(config.CredentialFile)
	if err != nil {
		return nil, fmt.Errorf("create credential store (%q): %w", config.CredentialFile, err)
	}
	selectionStore, err := persistence.OpenSelectionStore(config.SelectionDB)
	if err != nil {
		return nil, fmt.Errorf("open selection store (%q): %w", config.SelectionDB, err)
	}
	whitelist, err := LoadBoardWhitelist(config.BoardWhitelistFile)
	if err != nil {
		_ = selectionStore.Close()
		return nil, fmt.Errorf("load board whitelist (%q): %w", config.BoardWhitelistFile, err)
	}

	return NewRouterWithDependencies(
		config,
		whitelist,
		DefaultProviderFactory(nil),
		credentialStore,
		selectionStore,
		telemetry.NewLogTelemetry(),
	), nil
}

func NewRouterWithDependencies(
	config RuntimeConfig,
	whitelist *BoardWhitelist,
	providers ProviderFactory,
	credentials ports.CredentialStore,
	selections ports.SelectionStore,
	recorder ports.Telemetry,
) http.Handler {
	return &API{
		cors:          newCORSPolicy(config),
		whitelist:     whitelist,
		credentials:   credentials,
		selections:    selections,
		telemetry:     recorder,
		providers:     providers,
		orchestrators: make(map[int]*orchestrator.Orchestrator),
	}
}

// DefaultProviderFactory wires the Jira and BambooHR adapters. Boards
// without bamboo credentials still work; time off just comes back empty.
func DefaultProviderFactory(httpClient *http.Client) ProviderFactory {
	return func(credentials domain.Credentials) (ProviderSet, error) {
		jiraProvider, err := jira.NewProvider(credentials.Jira, httpClient)
		if err != nil {
			return ProviderSet{}, err
		}

		var timeOff ports.TimeOffProvider = noTimeOffProvider{}
		if credentials.Bamboo.Configured() {
			bambooProvider, err := bamboo.NewProvider(credentials.Bamboo, httpClient)
			if err != nil {
				return ProviderSet{}, err
			}
			timeOff = bambooProvider
		}

		return ProviderSet{
			Sprints:  jiraProvider,
			Members:  jiraProvider,
			Velocity: jiraProvider,
			TimeOff:  timeOff,
			Metrics:  jiraProvider,
		}, nil
	}
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w, r, a.cors)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.URL.Path == "/healthz" {
		healthz(w, r)
		return
	}

	segments := splitPath(r.URL.Path)
	if len(segments) < 2 || segments[0] != "api" {
		notFound(w)
		return
	}

	switch segments[1] {
	case "boards":
		a.routeBoards(w, r, segments)
	case "credentials":
		a.routeCredentials(w, r, segments)
	default:
		notFound(w)
	}
}

func (a *API) routeBoards(w http.ResponseWriter, r *http.Request, segments []string) {
	if len(segments) == 2 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		a.handleListBoards(w, r)
		return
	}

	boardID, err := parseBoardID(segments[2])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !a.whitelist.Allows(boardID) {
		writeError(w, http.StatusForbidden, "board is not whitelisted")
		return
	}

	if len(segments) == 4 {
		switch segments[3] {
		case "sprints":
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			a.handleListSprints(w, r, boardID)
		case "planning":
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			a.handleLoadPlanning(w, r, boardID)
		case "capacity":
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			a.handleCapacity(w, r, boardID)
		case "projection":
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			a.handleProjection(w, r, boardID)
		case "selections":
			a.handleSelections(w, r, boardID)
		default:
			notFound(w)
		}
		return
	}

	if len(segments) == 5 && segments[3] == "planning" && segments[4] == "sprint" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		a.handleSelectSprint(w, r, boardID)
		return
	}

	notFound(w)
}

func (a *API) handleListBoards(w http.ResponseWriter, r *http.Request) {
	providers, err := a.providerSet(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	boards, err := providers.Sprints.ListBoards(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	allowed := make([]domain.Board, 0, len(boards))
	for _, board := range boards {
		if a.whitelist.Allows(board.ID) {
			allowed = append(allowed, board)
		}
	}
	writeJSON(w, http.StatusOK, allowed)
}

func (a *API) handleListSprints(w http.ResponseWriter, r *http.Request, boardID int) {
	providers, err := a.providerSet(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	states := []string{domain.SprintStateActive, domain.SprintStateFuture}
	if r.URL.Query().Get("include") == "closed" {
		states = append(states, domain.SprintStateClosed)
	}

	sprints, err := providers.Sprints.ListSprints(r.Context(), boardID, states)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sprints)
}

func (a *API) handleLoadPlanning(w http.ResponseWriter, r *http.Request, boardID int) {
	orch, err := a.orchestratorFor(r.Context(), boardID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if err := orch.Run(r.Context(), boardID); err != nil {
		writeServiceError(w, err)
		return
	}
	a.telemetry.Record("planning.load", map[string]string{"board": strconv.Itoa(boardID)})
	writeJSON(w, http.StatusOK, orch.Snapshot())
}

func (a *API) handleSelectSprint(w http.ResponseWriter, r *http.Request, boardID int) {
	var payload struct {
		SprintID int `json:"sprintId"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	if payload.SprintID <= 0 {
		writeError(w, http.StatusBadRequest, "sprintId is required")
		return
	}

	orch, err := a.orchestratorFor(r.Context(), boardID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if err := orch.SelectSprint(r.Context(), payload.SprintID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orch.Snapshot())
}

func (a *API) handleCapacity(w http.ResponseWriter, r *http.Request, boardID int) {
	orch, err := a.orchestratorFor(r.Context(), boardID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	snapshot := orch.Snapshot()
	if snapshot.Capacity == nil {
		writeError(w, http.StatusConflict, "no sprint loaded for this board")
		return
	}
	writeJSON(w, http.StatusOK, snapshot.Capacity)
}

func (a *API) handleProjection(w http.ResponseWriter, r *http.Request, boardID int) {
	planned, err := strconv.ParseFloat(r.URL.Query().Get("planned"), 64)
	if err != nil || planned < 0 {
		writeError(w, http.StatusBadRequest, "planned must be a non-negative number")
		return
	}

	orch, err := a.orchestratorFor(r.Context(), boardID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	projection, status, err := orch.Projection(planned)
	if err != nil {
		writeError(w, http.StatusConflict, "no sprint loaded for this board")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"projection": projection,
		"status":     status,
	})
}

func (a *API) handleSelections(w http.ResponseWriter, r *http.Request, boardID int) {
	switch r.Method {
	case http.MethodGet:
		selection, err := a.selections.GetSelection(r.Context(), boardID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, selection)
	case http.MethodPut:
		var input domain.Selection
		if err := decodeJSON(w, r, &input); err != nil {
			writeDecodeError(w, err)
			return
		}
		input.BoardID = boardID
		if err := a.selections.PutSelection(r.Context(), input); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, input)
	default:
		methodNotAllowed(w)
	}
}

func (a *API) routeCredentials(w http.ResponseWriter, r *http.Request, segments []string) {
	if len(segments) == 2 {
		switch r.Method {
		case http.MethodGet:
			a.handleCredentialStatus(w, r)
		case http.MethodPost:
			a.handleSaveCredentials(w, r)
		case http.MethodDelete:
			a.clearCredentials(w, r, a.credentials.Clear)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(segments) == 3 && r.Method == http.MethodDelete {
		switch segments[2] {
		case "jira":
			a.clearCredentials(w, r, a.credentials.ClearJira)
			return
		case "bamboo":
			a.clearCredentials(w, r, a.credentials.ClearBamboo)
			return
		}
	}

	notFound(w)
}

func (a *API) handleCredentialStatus(w http.ResponseWriter, r *http.Request) {
	credentials, err := a.credentials.Credentials(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, credentialStatus(credentials))
}

func (a *API) handleSaveCredentials(w http.ResponseWriter, r *http.Request) {
	var input domain.Credentials
	if err := decodeJSON(w, r, &input); err != nil {
		writeDecodeError(w, err)
		return
	}

	if err := a.credentials.SaveCredentials(r.Context(), input); err != nil {
		writeServiceError(w, err)
		return
	}
	a.dropOrchestrators()

	credentials, err := a.credentials.Credentials(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, credentialStatus(credentials))
}

func (a *API) clearCredentials(w http.ResponseWriter, r *http.Request, clear func(context.Context) error) {
	if err := clear(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	a.dropOrchestrators()
	w.WriteHeader(http.StatusNoContent)
}

// credentialStatus reports which services are configured without ever
// echoing tokens back to the client.
func credentialStatus(credentials domain.Credentials) map[string]any {
	return map[string]any{
		"jira": map[string]any{
			"configured": credentials.Jira.Configured(),
			"server":     credentials.Jira.Server,
			"email":      credentials.Jira.Email,
		},
		"bamboo": map[string]any{
			"configured": credentials.Bamboo.Configured(),
			"subdomain":  credentials.Bamboo.Subdomain,
		},
	}
}

// providerSet resolves the current credentials into providers for
// stateless endpoints.
func (a *API) providerSet(r *http.Request) (ProviderSet, error) {
	credentials, err := a.credentials.Credentials(r.Context())
	if err != nil {
		return ProviderSet{}, err
	}
	return a.providers(credentials)
}

// orchestratorFor returns the cached per-board orchestrator, building
// one from the current credentials on first use.
func (a *API) orchestratorFor(ctx context.Context, boardID int) (*orchestrator.Orchestrator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if orch, ok := a.orchestrators[boardID]; ok {
		return orch, nil
	}

	credentials, err := a.credentials.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	providers, err := a.providers(credentials)
	if err != nil {
		return nil, err
	}

	orch, err := orchestrator.New(
		providers.Sprints,
		providers.Members,
		providers.Velocity,
		providers.TimeOff,
		providers.Metrics,
		a.selections,
		a.telemetry,
	)
	if err != nil {
		return nil, err
	}
	a.orchestrators[boardID] = orch
	return orch, nil
}

// dropOrchestrators discards cached orchestrators so the next request
// rebuilds providers from fresh credentials.
func (a *API) dropOrchestrators() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orchestrators = make(map[int]*orchestrator.Orchestrator)
	log.Debug("orchestrator cache dropped after credential change")
}

// RefreshAll re-runs every cached orchestrator so snapshots stay warm
// between requests. Used by the optional scheduled refresh.
func (a *API) RefreshAll(ctx context.Context) {
	a.mu.Lock()
	boards := make(map[int]*orchestrator.Orchestrator, len(a.orchestrators))
	for boardID, orch := range a.orchestrators {
		boards[boardID] = orch
	}
	a.mu.Unlock()

	for boardID, orch := range boards {
		if err := orch.Run(ctx, boardID); err != nil {
			log.WithFields(log.Fields{"board": boardID, "error": err}).Warn("scheduled refresh failed")
		}
	}
}

// Close releases store handles that hold file or database locks.
func (a *API) Close() error {
	var firstErr error
	if resource, ok := a.selections.(interface{ Close() error }); ok {
		if err := resource.Close(); err != nil {
			firstErr = err
		}
	}
	if resource, ok := a.credentials.(interface{ Close() error }); ok {
		if err := resource.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// noTimeOffProvider stands in when bamboo credentials are absent.
type noTimeOffProvider struct{}

func (noTimeOffProvider) TimeOff(_ context.Context, _ domain.SprintWindow) ([]domain.TimeOffRecord, error) {
	return nil, nil
}

func (noTimeOffProvider) Holidays(_ context.Context, _ domain.SprintWindow) ([]domain.Holiday, error) {
	return nil, nil
}
