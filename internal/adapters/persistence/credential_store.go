package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"sprintscope/backend/internal/domain"
)

// CredentialStore keeps tracker credentials in a local JSON file. Writes
// go through a temp file and rename so a crash never leaves a torn file.
type CredentialStore struct {
	path           string
	mu             sync.RWMutex
	state          domain.Credentials
	persistedState domain.Credentials
}

func NewCredentialStore(path string) (*CredentialStore, error) {
	if path == "" {
		path = "./sprintscope_credentials.json"
	}

	store := &CredentialStore{path: path}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *CredentialStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(content) == 0 {
		return nil
	}

	if err := json.Unmarshal(content, &s.state); err != nil {
		return fmt.Errorf("decode credential file: %w", err)
	}
	s.persistedState = s.state
	return nil
}

func (s *CredentialStore) persistLocked() error {
	body, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.state = s.persistedState
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		_ = os.Remove(tmp)
		s.state = s.persistedState
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		s.state = s.persistedState
		return err
	}
	s.persistedState = s.state
	return nil
}

func (s *CredentialStore) Credentials(_ context.Context) (domain.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, nil
}

// SaveCredentials merges field-wise: blank incoming fields leave the
// stored value alone, so callers can update one service at a time.
func (s *CredentialStore) SaveCredentials(_ context.Context, credentials domain.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Jira = mergeJira(s.state.Jira, credentials.Jira)
	s.state.Bamboo = mergeBamboo(s.state.Bamboo, credentials.Bamboo)
	return s.persistLocked()
}

func (s *CredentialStore) ClearJira(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Jira = domain.JiraCredentials{}
	return s.persistLocked()
}

func (s *CredentialStore) ClearBamboo(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Bamboo = domain.BambooCredentials{}
	return s.persistLocked()
}

func (s *CredentialStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = domain.Credentials{}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.state = s.persistedState
		return err
	}
	s.persistedState = domain.Credentials{}
	return nil
}

func mergeJira(current, incoming domain.JiraCredentials) domain.JiraCredentials {
	if value := strings.TrimSpace(incoming.Server); value != "" {
		current.Server = value
	}
	if value := strings.TrimSpace(incoming.Email); value != "" {
		current.Email = value
	}
	if value := strings.TrimSpace(incoming.Token); value != "" {
		current.Token = value
	}
	return current
}

func mergeBamboo(current, incoming domain.BambooCredentials) domain.BambooCredentials {
	if value := strings.TrimSpace(incoming.Subdomain); value != "" {
		current.Subdomain = value
	}
	if value := strings.TrimSpace(incoming.Token); value != "" {
		current.Token = value
	}
	return current
}
