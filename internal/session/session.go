// Package session keeps the per-user labeling state between requests.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"labeling-service/internal/models"
	"labeling-service/internal/results"
)

var (
	// ErrNotFound is returned for an unknown session id
	ErrNotFound = errors.New("session not found")
	// ErrRunInProgress is returned when a session already has an active run
	ErrRunInProgress = errors.New("a run is already in progress for this session")
)

// Session holds the dataset, prompt, provider and results of one user.
// All access goes through its methods.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.RWMutex
	dataset  *models.Dataset
	column   string
	prompt   models.PromptSpec
	provider models.ProviderConfig
	project  string
	table    *results.Table
	runID    string
	cancel   context.CancelFunc
}

// Info is the JSON view of a session
type Info struct {
	ID         string                `json:"id"`
	CreatedAt  time.Time             `json:"created_at"`
	Dataset    *models.Dataset       `json:"dataset,omitempty"`
	RowCount   int                   `json:"row_count"`
	Column     string                `json:"column,omitempty"`
	Prompt     models.PromptSpec     `json:"prompt"`
	Provider   models.ProviderConfig `json:"provider"`
	HasAPIKey  bool                  `json:"has_api_key"`
	Project    string                `json:"project,omitempty"`
	ActiveRun  string                `json:"active_run,omitempty"`
	ResultRows int                   `json:"result_rows"`
}

func newSession(id string) *Session {
	return &Session{ID: id, CreatedAt: time.Now()}
}

// Info returns a point-in-time description of the session
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		RowCount:   s.dataset.Len(),
		Column:     s.column,
		Prompt:     s.prompt,
		Provider:   s.provider,
		HasAPIKey:  s.provider.APIKey != "",
		Project:    s.project,
		ActiveRun:  s.runID,
		ResultRows: s.table.Len(),
	}
	if s.dataset != nil {
		info.Dataset = &models.Dataset{
			Name:    s.dataset.Name,
			Columns: append([]string(nil), s.dataset.Columns...),
		}
	}
	return info
}

// SetDataset replaces the uploaded dataset.
// The analysis column is kept only if the new dataset still has it.
func (s *Session) SetDataset(ds *models.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dataset = ds
	if ds == nil || !ds.HasColumn(s.column) {
		s.column = ""
	}
}

// Dataset returns the live dataset, nil before any upload
func (s *Session) Dataset() *models.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataset
}

// SetColumn selects the analysis column
func (s *Session) SetColumn(column string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.column = column
}

// Column returns the analysis column
func (s *Session) Column() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.column
}

// SetPrompt replaces the prompt specification
func (s *Session) SetPrompt(p models.PromptSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = p
}

// Prompt returns the prompt specification
func (s *Session) Prompt() models.PromptSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompt
}

// SetProvider replaces the provider selection.
// An empty key keeps the key already held by the session.
func (s *Session) SetProvider(cfg models.ProviderConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.APIKey == "" {
		cfg.APIKey = s.provider.APIKey
	}
	s.provider = cfg
}

// Provider returns the provider selection including the key
func (s *Session) Provider() models.ProviderConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// SetProject records the name of the project last saved or loaded
func (s *Session) SetProject(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.project = name
}

// Project returns the current project name
func (s *Session) Project() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.project
}

// ApplyProject copies the prompt and provider of p into the session.
// The session key is left untouched.
func (s *Session) ApplyProject(p *models.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.project = p.Name
	s.prompt = p.Prompt
	s.provider.Provider = p.Provider
	s.provider.Model = p.Model
}

// Results returns the canonical results table, nil before the first run
func (s *Session) Results() *results.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// SetResults replaces the results table
func (s *Session) SetResults(t *results.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = t
}

// UpdateResults swaps the results table for fn(current) under the session lock
func (s *Session) UpdateResults(fn func(current *results.Table) (*results.Table, error)) (*results.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.table)
	if err != nil {
		return nil, err
	}
	s.table = next
	return next, nil
}

// BeginRun marks runID as the active run of the session
func (s *Session) BeginRun(runID string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runID != "" {
		return ErrRunInProgress
	}
	s.runID = runID
	s.cancel = cancel
	return nil
}

// EndRun clears the active run if it is still runID
func (s *Session) EndRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runID == runID {
		s.runID = ""
		s.cancel = nil
	}
}

// ActiveRun returns the id of the running dispatch, or ""
func (s *Session) ActiveRun() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// CancelRun cancels the active run and reports whether there was one
func (s *Session) CancelRun() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.runID == "" || s.cancel == nil {
		return "", false
	}
	s.cancel()
	return s.runID, true
}
