package service

import (
	"errors"
	"fmt"
	"io"

	"labeling-service/internal/dataset"
	"labeling-service/internal/models"
	"labeling-service/internal/results"
	"labeling-service/internal/session"

	"go.uber.org/zap"
)

var (
	// ErrNoResults is returned before the session has finished a run
	ErrNoResults = errors.New("no results yet")
	// ErrInvalidEdit is returned when an edited label is not 0 or 1
	ErrInvalidEdit = errors.New("invalid edit")
)

// LoadDataset parses an uploaded file into the session
func (l *Labeler) LoadDataset(s *session.Session, name string, r io.Reader) (*models.Dataset, error) {
	ds, err := dataset.Load(name, r)
	if err != nil {
		return nil, err
	}

	s.SetDataset(ds)
	l.logger.Info("Dataset loaded",
		zap.String("session_id", s.ID),
		zap.String("file", name),
		zap.Int("rows", ds.Len()),
		zap.Int("columns", len(ds.Columns)))
	return ds, nil
}

// SelectColumn sets the analysis column after checking the dataset has it
func (l *Labeler) SelectColumn(s *session.Session, column string) error {
	ds := s.Dataset()
	if ds == nil {
		return fmt.Errorf("%w: no dataset uploaded", ErrConfig)
	}
	if !ds.HasColumn(column) {
		return fmt.Errorf("%w: unknown column %q", ErrConfig, column)
	}
	s.SetColumn(column)
	return nil
}

// Results returns the filtered and searched view of the session results
func (l *Labeler) Results(s *session.Session, filter, query string) (*results.Table, error) {
	t := s.Results()
	if t == nil {
		return nil, ErrNoResults
	}

	f, err := results.ParseFilter(filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	view := results.View(t, f.Predicate())
	if query != "" {
		view = results.Search(view, "", query)
	}
	return view, nil
}

// ResultStats counts the session labels by class
func (l *Labeler) ResultStats(s *session.Session) (results.Summary, error) {
	t := s.Results()
	if t == nil {
		return results.Summary{}, ErrNoResults
	}
	return results.Stats(t), nil
}

// ApplyEdits reconciles an edited view into the session results.
// Only labels that actually changed must be 0 or 1.
func (l *Labeler) ApplyEdits(s *session.Session, edited []results.Row, viewIndices []int) (*results.Table, error) {
	return s.UpdateResults(func(current *results.Table) (*results.Table, error) {
		if current == nil {
			return nil, ErrNoResults
		}

		labels := make(map[int]string, len(edited))
		for _, e := range edited {
			labels[e.Index] = e.Values[results.LabelColumn]
		}
		for _, idx := range results.ChangedLabels(current, edited) {
			if err := results.ValidateLabel(labels[idx]); err != nil {
				return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidEdit, idx, err)
			}
		}

		next := results.ApplyEdits(current, edited, viewIndices)
		l.logger.Info("Results edited",
			zap.String("session_id", s.ID),
			zap.Int("edited", len(edited)),
			zap.Int("rows_before", current.Len()),
			zap.Int("rows_after", next.Len()))
		return next, nil
	})
}

// Export returns the whole results table of the session
func (l *Labeler) Export(s *session.Session) (*results.Table, error) {
	t := s.Results()
	if t == nil {
		return nil, ErrNoResults
	}
	return t, nil
}
