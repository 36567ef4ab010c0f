package jira

import (
	"context"
	"fmt"
	"strings"
)

type fieldPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Schema struct {
		Type string `json:"type"`
	} `json:"schema"`
}

// discoverStoryPointFields finds the numeric custom fields that can carry
// story points, ordered by how literal their name match is, with the
// well-known custom field ids as trailing fallbacks. The first successful
// discovery is cached for the lifetime of the client; failures are not
// cached so a transient outage retries on the next call. The lock is held
// across the fetch so concurrent callers wait for one discovery instead of
// issuing their own.
func (c *Client) discoverStoryPointFields(ctx context.Context) ([]string, error) {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	if c.storyPointFields != nil {
		return c.storyPointFields, nil
	}

	values, err := c.getList(ctx, "/rest/api/3/field", nil)
	if err != nil {
		return nil, fmt.Errorf("discover story point fields: %w", err)
	}

	fields := []string{}
	for _, value := range values {
		var field fieldPayload
		if err := decodeRecord(value, &field); err != nil {
			continue
		}
		if field.Schema.Type != "number" || field.ID == "" {
			continue
		}
		nameLower := strings.ToLower(field.Name)
		switch {
		case field.Name == "Story Points":
			fields = append([]string{field.ID}, fields...)
		case nameLower == "story points":
			fields = append(fields, field.ID)
		case strings.Contains(nameLower, "story point"):
			fields = append(fields, field.ID)
		}
	}

	for _, fallback := range []string{"customfield_10002", "customfield_10016", "customfield_10020"} {
		if !containsString(fields, fallback) {
			fields = append(fields, fallback)
		}
	}

	c.storyPointFields = fields
	return fields, nil
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
