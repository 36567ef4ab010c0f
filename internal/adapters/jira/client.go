package jira

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

	"sprintscope/backend/internal/domain"
)

const (
	pageSize        = 50
	issuePageSize   = 100
	requestTimeout  = 30 * time.Second
	maxBodyBytes    = 8 << 20
	agileBoardPath  = "/rest/agile/1.0/board"
	agileSprintPath = "/rest/agile/1.0/sprint"
)

// Client is a thin authenticated reader for the tracker's agile REST
// surface. It only decodes the payload shapes the providers consume.
type Client struct {
	server     string
	email      string
	token      string
	httpClient *http.Client

	// Discovered once per client; the set of numeric custom fields that
	// can carry story points. One client serves every provider port of a
	// board, so concurrent fetches share this cache under fieldsMu.
	fieldsMu         sync.Mutex
	storyPointFields []string
}

func NewClient(credentials domain.JiraCredentials, httpClient *http.Client) (*Client, error) {
	if !credentials.Configured() {
		return nil, fmt.Errorf("jira client: %w", domain.ErrNotConfigured)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		server:     strings.TrimRight(strings.TrimSpace(credentials.Server), "/"),
		email:      credentials.Email,
		token:      credentials.Token,
		httpClient: httpClient,
	}, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (map[string]any, error) {
	body, err := c.getRaw(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", endpoint, err, domain.ErrTransient)
	}
	return payload, nil
}

func (c *Client) getList(ctx context.Context, endpoint string, params url.Values) ([]any, error) {
	body, err := c.getRaw(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	var payload []any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", endpoint, err, domain.ErrTransient)
	}
	return payload, nil
}

func (c *Client) getRaw(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	target := c.server + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", endpoint, err)
	}
	request.SetBasicAuth(c.email, c.token)
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("get %s: %v: %w", endpoint, err, domain.ErrTransient)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("get %s: %w", endpoint, domain.ErrNotFound)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: status %d: %w", endpoint, response.StatusCode, domain.ErrTransient)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %v: %w", endpoint, err, domain.ErrTransient)
	}
	return body, nil
}

// decodeRecord maps a dynamic payload onto a typed record via its json
// tags. Unknown upstream fields are tolerated; missing ones stay at their
// zero value and resolve to documented defaults downstream.
func decodeRecord(input any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("decode record: %v: %w", err, domain.ErrValidation)
	}
	return nil
}

// pagedValues walks a paginated collection endpoint until the server
// reports the last page.
func (c *Client) pagedValues(ctx context.Context, endpoint string, params url.Values, valuesKey string, perPage int) ([]any, error) {
	all := []any{}
	startAt := 0
	for {
		page := url.Values{}
		for key, value := range params {
			page[key] = value
		}
		page.Set("startAt", fmt.Sprintf("%d", startAt))
		page.Set("maxResults", fmt.Sprintf("%d", perPage))

		payload, err := c.get(ctx, endpoint, page)
		if err != nil {
			return nil, err
		}

		values, _ := payload[valuesKey].([]any)
		all = append(all, values...)

		if isLast, ok := payload["isLast"].(bool); ok && isLast {
			break
		}
		if len(values) < perPage {
			break
		}
		startAt += perPage
	}
	return all, nil
}
