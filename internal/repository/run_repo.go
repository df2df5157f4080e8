package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"labeling-service/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrRunNotFound is returned when no run has the requested id
var ErrRunNotFound = errors.New("run not found")

// RunRepository stores the history of dispatch runs
type RunRepository interface {
	CreateRun(run *models.Run) error
	UpdateRun(run *models.Run) error
	GetRun(id string) (*models.Run, error)
	ListRuns(sessionID string, limit int) ([]*models.Run, error)
	SaveLabels(runID string, labels map[int]string) error
	GetLabels(runID string) (map[int]string, error)
	Close() error
}

type runRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewRunRepository creates a run repository on top of db
func NewRunRepository(db *sqlx.DB, logger *zap.Logger) RunRepository {
	return &runRepository{
		db:     db,
		logger: logger,
	}
}

const runColumns = `id, session_id, project, provider, model, workers, status,
	total_count, processed_count, failed_count, created_at, completed_at, error_message`

// CreateRun inserts a new run
func (r *runRepository) CreateRun(run *models.Run) error {
	query := `
		INSERT INTO runs (` + runColumns + `)
		VALUES (:id, :session_id, :project, :provider, :model, :workers, :status,
			:total_count, :processed_count, :failed_count, :created_at, :completed_at, :error_message)
	`

	if _, err := r.db.NamedExec(query, run); err != nil {
		r.logger.Error("Failed to create run", zap.String("run_id", run.ID), zap.Error(err))
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRun updates run progress and status
func (r *runRepository) UpdateRun(run *models.Run) error {
	query := `
		UPDATE runs
		SET status = :status, processed_count = :processed_count, failed_count = :failed_count,
			completed_at = :completed_at, error_message = :error_message
		WHERE id = :id
	`

	res, err := r.db.NamedExec(query, run)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// GetRun retrieves a run by ID
func (r *runRepository) GetRun(id string) (*models.Run, error) {
	var run models.Run
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	err := r.db.Get(&run, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the newest runs first, for one session when sessionID is set
func (r *runRepository) ListRuns(sessionID string, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	runs := []*models.Run{}
	if err := r.db.Select(&runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// SaveLabels replaces the labels stored for a run
func (r *runRepository) SaveLabels(runID string, labels map[int]string) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM run_labels WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to clear labels: %w", err)
	}

	stmt, err := tx.Preparex(`INSERT INTO run_labels (run_id, row_index, label) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare label insert: %w", err)
	}
	defer stmt.Close()

	for idx, label := range labels {
		if _, err := stmt.Exec(runID, idx, label); err != nil {
			return fmt.Errorf("failed to save label %d: %w", idx, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit labels: %w", err)
	}

	r.logger.Debug("Run labels saved", zap.String("run_id", runID), zap.Int("count", len(labels)))
	return nil
}

// GetLabels returns the stored labels of a run keyed by row index
func (r *runRepository) GetLabels(runID string) (map[int]string, error) {
	var rows []models.RunLabel
	query := `SELECT run_id, row_index, label FROM run_labels WHERE run_id = ? ORDER BY row_index`

	if err := r.db.Select(&rows, query, runID); err != nil {
		return nil, fmt.Errorf("failed to get labels: %w", err)
	}

	labels := make(map[int]string, len(rows))
	for _, l := range rows {
		labels[l.RowIndex] = l.Label
	}
	return labels, nil
}

// Close closes the database connection
func (r *runRepository) Close() error {
	return r.db.Close()
}
