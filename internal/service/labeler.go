package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"labeling-service/internal/dispatch"
	"labeling-service/internal/llm"
	"labeling-service/internal/models"
	"labeling-service/internal/project"
	"labeling-service/internal/prompt"
	"labeling-service/internal/repository"
	"labeling-service/internal/results"
	"labeling-service/internal/session"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrConfig marks a run that cannot start with the given settings
var ErrConfig = errors.New("invalid run configuration")

// progressFlushInterval bounds how often progress reaches the database
const progressFlushInterval = 500 * time.Millisecond

// RunRequest describes one dispatch over a dataset
type RunRequest struct {
	SessionID string
	Dataset   *models.Dataset
	Column    string
	Prompt    models.PromptSpec
	Provider  models.ProviderConfig
	Workers   int
	Limit     int // 0 = all rows

	// SaveAs names a project to store the prompt and provider under before dispatch
	SaveAs string
	Brand  string

	// OnProgress, if set, is called after every finished row
	OnProgress dispatch.ProgressFunc
}

// RunOutcome is the finished run together with its results table
type RunOutcome struct {
	Run   *models.Run
	Table *results.Table
}

// Options configures a Labeler
type Options struct {
	Factory  llm.Factory
	Settings map[models.ProviderType]llm.ProviderSettings
	Repo     repository.RunRepository
	Projects *project.Store
	Retry    llm.RetryPolicy
	Workers  int
	RowLimit int
	Logger   *zap.Logger
}

// Labeler validates, snapshots, dispatches and records labeling runs
type Labeler struct {
	factory  llm.Factory
	settings map[models.ProviderType]llm.ProviderSettings
	repo     repository.RunRepository
	projects *project.Store
	retry    llm.RetryPolicy
	workers  int
	rowLimit int
	logger   *zap.Logger

	// live runs, keyed by id, so progress reads do not wait on the database
	active sync.Map
	wg     sync.WaitGroup
}

// runState guards the in-flight run record shared by the progress callback and readers
type runState struct {
	mu  sync.Mutex
	run models.Run
}

func (st *runState) snapshot() *models.Run {
	st.mu.Lock()
	defer st.mu.Unlock()
	cp := st.run
	return &cp
}

// NewLabeler creates a new labeling service
func NewLabeler(opts Options) *Labeler {
	workers := opts.Workers
	if workers == 0 {
		workers = 5
	}
	return &Labeler{
		factory:  opts.Factory,
		settings: opts.Settings,
		repo:     opts.Repo,
		projects: opts.Projects,
		retry:    opts.Retry,
		workers:  workers,
		rowLimit: opts.RowLimit,
		logger:   opts.Logger,
	}
}

// DefaultWorkers returns the worker count used when a request leaves it at zero
func (l *Labeler) DefaultWorkers() int {
	return l.workers
}

// Validate checks a request before anything is dispatched
func (l *Labeler) Validate(req *RunRequest) error {
	if req.Dataset == nil {
		return fmt.Errorf("%w: no dataset uploaded", ErrConfig)
	}
	if req.Column == "" {
		return fmt.Errorf("%w: no analysis column selected", ErrConfig)
	}
	if !req.Dataset.HasColumn(req.Column) {
		return fmt.Errorf("%w: unknown column %q", ErrConfig, req.Column)
	}
	if !req.Provider.Provider.Valid() {
		return fmt.Errorf("%w: unknown provider %q", ErrConfig, req.Provider.Provider)
	}
	if req.Provider.APIKey == "" && l.settings[req.Provider.Provider].APIKey == "" {
		return fmt.Errorf("%w: no API key for %s", ErrConfig, req.Provider.Provider)
	}
	if req.Workers < 1 || req.Workers > dispatch.MaxWorkers {
		return fmt.Errorf("%w: workers must be between 1 and %d, got %d", ErrConfig, dispatch.MaxWorkers, req.Workers)
	}
	if req.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrConfig)
	}
	if req.SaveAs != "" {
		if err := project.ValidateName(req.SaveAs); err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}
	return nil
}

func (l *Labeler) applyDefaults(req *RunRequest) {
	if req.Workers == 0 {
		req.Workers = l.workers
	}
	if req.Limit == 0 {
		req.Limit = l.rowLimit
	}
	if req.Provider.Model == "" {
		req.Provider.Model = llm.DefaultModel(req.Provider.Provider, l.settings)
	}
}

// prepared is a validated request with its provider and snapshot ready to dispatch
type prepared struct {
	req      RunRequest
	snapshot *models.Dataset
	provider llm.Provider
	state    *runState
	// onDone receives the table before the final status is published
	onDone func(*results.Table)
}

// prepare validates req, saves the optional project, opens the provider and records a pending run
func (l *Labeler) prepare(ctx context.Context, req RunRequest) (*prepared, error) {
	l.applyDefaults(&req)
	if err := l.Validate(&req); err != nil {
		return nil, err
	}

	if req.SaveAs != "" && l.projects != nil {
		p := &models.Project{
			Name:     req.SaveAs,
			Brand:    req.Brand,
			Prompt:   req.Prompt,
			Provider: req.Provider.Provider,
			Model:    req.Provider.Model,
		}
		if err := l.projects.Save(p); err != nil {
			return nil, fmt.Errorf("failed to save project: %w", err)
		}
	}

	provider, err := l.factory(ctx, req.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	snapshot := req.Dataset.Snapshot(req.Limit)

	run := models.Run{
		ID:         uuid.New().String(),
		SessionID:  req.SessionID,
		Project:    req.SaveAs,
		Provider:   string(req.Provider.Provider),
		Model:      req.Provider.Model,
		Workers:    req.Workers,
		Status:     models.RunPending,
		TotalCount: snapshot.Len(),
		CreatedAt:  time.Now(),
	}
	if err := l.repo.CreateRun(&run); err != nil {
		provider.Close()
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return &prepared{
		req:      req,
		snapshot: snapshot,
		provider: provider,
		state:    &runState{run: run},
	}, nil
}

// Run dispatches req and blocks until every row has a label
func (l *Labeler) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	p, err := l.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return l.execute(ctx, p)
}

// StartRun dispatches the session's current setup in the background.
// The results table replaces the session results when the run ends.
func (l *Labeler) StartRun(s *session.Session, workers, limit int, saveAs, brand string) (*models.Run, error) {
	if s.ActiveRun() != "" {
		return nil, session.ErrRunInProgress
	}

	req := RunRequest{
		SessionID: s.ID,
		Dataset:   s.Dataset(),
		Column:    s.Column(),
		Prompt:    s.Prompt(),
		Provider:  s.Provider(),
		Workers:   workers,
		Limit:     limit,
		SaveAs:    saveAs,
		Brand:     brand,
	}

	ctx, cancel := context.WithCancel(context.Background())

	p, err := l.prepare(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	if err := s.BeginRun(p.state.run.ID, cancel); err != nil {
		cancel()
		p.provider.Close()
		l.finish(p, models.RunCancelled, err.Error())
		return nil, err
	}
	if saveAs != "" {
		s.SetProject(saveAs)
	}
	runID := p.state.run.ID
	p.onDone = func(t *results.Table) {
		s.SetResults(t)
		s.EndRun(runID)
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		defer s.EndRun(runID)

		if _, err := l.execute(ctx, p); err != nil {
			l.logger.Error("Run failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()

	return p.state.snapshot(), nil
}

// execute runs the engine over the prepared snapshot and records the outcome
func (l *Labeler) execute(ctx context.Context, p *prepared) (*RunOutcome, error) {
	runID := p.state.run.ID
	l.active.Store(runID, p.state)
	defer l.active.Delete(runID)
	defer p.provider.Close()

	p.state.mu.Lock()
	p.state.run.Status = models.RunProcessing
	processing := p.state.run
	p.state.mu.Unlock()
	if err := l.repo.UpdateRun(&processing); err != nil {
		l.logger.Warn("Failed to update run status", zap.String("run_id", runID), zap.Error(err))
	}

	jobs := make([]dispatch.Job, p.snapshot.Len())
	for i, row := range p.snapshot.Rows {
		jobs[i] = dispatch.Job{
			RowIndex:    i,
			RequestText: prompt.Assemble(p.req.Prompt, row[p.req.Column]),
		}
	}

	var retries atomic.Int64
	retrier := llm.NewRetrier(p.provider, l.retry, l.logger).
		WithObserver(func(int, time.Duration, error) { retries.Add(1) })
	engine := dispatch.NewEngine(retrier, l.logger)

	l.logger.Info("Run started",
		zap.String("run_id", runID),
		zap.String("provider", string(p.req.Provider.Provider)),
		zap.String("model", p.req.Provider.Model),
		zap.Int("rows", len(jobs)),
		zap.Int("workers", p.req.Workers))

	lastFlush := time.Now()
	labels := engine.Run(ctx, jobs, p.req.Workers, func(pr dispatch.Progress) {
		p.state.mu.Lock()
		p.state.run.ProcessedCount = pr.Completed
		p.state.run.FailedCount = pr.Failed
		current := p.state.run
		p.state.mu.Unlock()

		if p.req.OnProgress != nil {
			p.req.OnProgress(pr)
		}

		if pr.Completed == pr.Total || time.Since(lastFlush) >= progressFlushInterval {
			lastFlush = time.Now()
			if err := l.repo.UpdateRun(&current); err != nil {
				l.logger.Warn("Failed to update run progress", zap.String("run_id", runID), zap.Error(err))
			}
		}
	})

	table := results.FromDataset(p.snapshot, p.req.Column, labels)

	if err := l.repo.SaveLabels(runID, labels); err != nil {
		l.logger.Error("Failed to save run labels", zap.String("run_id", runID), zap.Error(err))
	}

	if p.onDone != nil {
		p.onDone(table)
	}

	status, message := models.RunCompleted, ""
	if ctx.Err() != nil {
		status, message = models.RunCancelled, ctx.Err().Error()
	}
	run := l.finish(p, status, message)

	l.logger.Info("Run finished",
		zap.String("run_id", runID),
		zap.String("status", string(run.Status)),
		zap.Int("processed", run.ProcessedCount),
		zap.Int("failed", run.FailedCount),
		zap.Int64("retries", retries.Load()))

	return &RunOutcome{Run: run, Table: table}, nil
}

// finish stamps the final status on the run record
func (l *Labeler) finish(p *prepared, status models.RunStatus, message string) *models.Run {
	now := time.Now()

	p.state.mu.Lock()
	p.state.run.Status = status
	p.state.run.CompletedAt = &now
	p.state.run.ErrorMessage = message
	run := p.state.run
	p.state.mu.Unlock()

	if err := l.repo.UpdateRun(&run); err != nil {
		l.logger.Error("Failed to finalize run", zap.String("run_id", run.ID), zap.Error(err))
	}
	return &run
}

// CancelRun cancels the active run of the session
func (l *Labeler) CancelRun(s *session.Session) (string, bool) {
	runID, ok := s.CancelRun()
	if ok {
		l.logger.Info("Run cancellation requested", zap.String("run_id", runID), zap.String("session_id", s.ID))
	}
	return runID, ok
}

// GetRun returns a live run from memory or a past run from the database
func (l *Labeler) GetRun(runID string) (*models.Run, error) {
	if v, ok := l.active.Load(runID); ok {
		return v.(*runState).snapshot(), nil
	}
	return l.repo.GetRun(runID)
}

// ListRuns returns the newest runs, optionally for one session
func (l *Labeler) ListRuns(sessionID string, limit int) ([]*models.Run, error) {
	return l.repo.ListRuns(sessionID, limit)
}

// RunLabels returns the labels stored for a finished run
func (l *Labeler) RunLabels(runID string) (map[int]string, error) {
	if _, err := l.GetRun(runID); err != nil {
		return nil, err
	}
	return l.repo.GetLabels(runID)
}

// Wait blocks until background runs have ended
func (l *Labeler) Wait() {
	l.wg.Wait()
}
