package bamboo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"

	"sprintscope/backend/internal/domain"
	"sprintscope/backend/internal/ports"
)

const (
	gatewayFormat  = "https://api.bamboohr.com/api/gateway.php/%s/v1"
	whosOutPath    = "/time_off/whos_out/"
	requestTimeout = 30 * time.Second
	maxBodyBytes   = 4 << 20

	// TimeOff and Holidays split the same feed, so one fetch serves the
	// pair during a detail load while scheduled refreshes still see fresh
	// data.
	whosOutCacheTTL = 30 * time.Second

	entryTypeHoliday = "holiday"
)

// Provider reads the who's-out feed and splits it into holidays and
// time-off records. The feed mixes both under a type discriminator.
type Provider struct {
	baseURL    string
	token      string
	httpClient *http.Client

	cacheMu       sync.Mutex
	cachedWindow  domain.SprintWindow
	cachedEntries []whosOutEntry
	cachedAt      time.Time
}

var _ ports.TimeOffProvider = (*Provider)(nil)

func NewProvider(credentials domain.BambooCredentials, httpClient *http.Client) (*Provider, error) {
	if !credentials.Configured() {
		return nil, fmt.Errorf("bamboo provider: %w", domain.ErrNotConfigured)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Provider{
		baseURL:    fmt.Sprintf(gatewayFormat, strings.TrimSpace(credentials.Subdomain)),
		token:      credentials.Token,
		httpClient: httpClient,
	}, nil
}

// NewProviderWithBaseURL exists for tests pointed at a local server.
func NewProviderWithBaseURL(baseURL, token string, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Provider{baseURL: strings.TrimRight(baseURL, "/"), token: token, httpClient: httpClient}
}

type whosOutEntry struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	EmployeeID any    `json:"employeeId"`
	Start      string `json:"start"`
	End        string `json:"end"`
}

func (p *Provider) TimeOff(ctx context.Context, window domain.SprintWindow) ([]domain.TimeOffRecord, error) {
	entries, err := p.whosOut(ctx, window)
	if err != nil {
		return nil, err
	}

	records := make([]domain.TimeOffRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.Type == entryTypeHoliday {
			continue
		}
		start, startErr := domain.ParseDate(entry.Start)
		end, endErr := domain.ParseDate(entry.End)
		if startErr != nil || endErr != nil {
			log.WithFields(log.Fields{"employee": entry.Name}).Warn("skipping time-off entry with unparseable dates")
			continue
		}
		name := entry.Name
		if name == "" {
			name = "Unknown"
		}
		entryType := entry.Type
		if entryType == "" {
			entryType = "timeOff"
		}
		records = append(records, domain.TimeOffRecord{
			EmployeeName: name,
			StartDate:    start,
			EndDate:      end,
			Type:         entryType,
		})
	}
	return records, nil
}

func (p *Provider) Holidays(ctx context.Context, window domain.SprintWindow) ([]domain.Holiday, error) {
	entries, err := p.whosOut(ctx, window)
	if err != nil {
		return nil, err
	}

	holidays := make([]domain.Holiday, 0, len(entries))
	for _, entry := range entries {
		if entry.Type != entryTypeHoliday {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "Company Holiday"
		}
		start, startErr := domain.ParseDate(entry.Start)
		if startErr != nil {
			continue
		}
		end := start
		if parsed, err := domain.ParseDate(entry.End); err == nil {
			end = parsed
		}
		// Multi-day holidays are expanded to one entry per date so the
		// consolidator can weigh each weekday separately.
		for current := start; !current.After(end); current = current.AddDate(0, 0, 1) {
			holidays = append(holidays, domain.Holiday{Name: name, Date: current})
		}
	}
	return holidays, nil
}

func (p *Provider) whosOut(ctx context.Context, window domain.SprintWindow) ([]whosOutEntry, error) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	if p.cachedAt.Add(whosOutCacheTTL).After(time.Now()) &&
		p.cachedWindow.Start.Equal(window.Start) &&
		p.cachedWindow.End.Equal(window.End) {
		return p.cachedEntries, nil
	}

	entries, err := p.fetchWhosOut(ctx, window)
	if err != nil {
		return nil, err
	}
	p.cachedWindow = window
	p.cachedEntries = entries
	p.cachedAt = time.Now()
	return entries, nil
}

func (p *Provider) fetchWhosOut(ctx context.Context, window domain.SprintWindow) ([]whosOutEntry, error) {
	params := url.Values{}
	if !window.Start.IsZero() {
		params.Set("start", window.Start.Format(domain.DateLayout))
	}
	if !window.End.IsZero() {
		// The feed takes an inclusive end date.
		params.Set("end", window.End.AddDate(0, 0, -1).Format(domain.DateLayout))
	}

	target := p.baseURL + whosOutPath
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build whos-out request: %w", err)
	}
	// The API key doubles as the basic-auth username.
	request.SetBasicAuth(p.token, "x")
	request.Header.Set("Accept", "application/json")

	response, err := p.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("whos-out: %v: %w", err, domain.ErrTransient)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whos-out: status %d: %w", response.StatusCode, domain.ErrTransient)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("whos-out read: %v: %w", err, domain.ErrTransient)
	}

	var payload []any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("whos-out decode: %v: %w", err, domain.ErrTransient)
	}

	entries := make([]whosOutEntry, 0, len(payload))
	for _, value := range payload {
		var entry whosOutEntry
		if err := decodeEntry(value, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func decodeEntry(input any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
