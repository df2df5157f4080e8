package service

import (
	"fmt"

	"labeling-service/internal/llm"
	"labeling-service/internal/models"
	"labeling-service/internal/project"
	"labeling-service/internal/session"

	"go.uber.org/zap"
)

// SaveProject stores the session's prompt and provider as a named project
func (l *Labeler) SaveProject(s *session.Session, name, brand string) (*models.Project, error) {
	if err := project.ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	provider := s.Provider()
	if provider.Model == "" {
		provider.Model = llm.DefaultModel(provider.Provider, l.settings)
	}

	p := &models.Project{
		Name:     name,
		Brand:    brand,
		Prompt:   s.Prompt(),
		Provider: provider.Provider,
		Model:    provider.Model,
	}
	if err := l.projects.Save(p); err != nil {
		return nil, err
	}

	s.SetProject(name)
	return p, nil
}

// SaveProjectRecord stores p as given
func (l *Labeler) SaveProjectRecord(p *models.Project) error {
	if p.Provider != "" && !p.Provider.Valid() {
		return fmt.Errorf("%w: unknown provider %q", ErrConfig, p.Provider)
	}
	if err := project.ValidateName(p.Name); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return l.projects.Save(p)
}

// LoadProject copies a saved project into the session
func (l *Labeler) LoadProject(s *session.Session, name string) (*models.Project, error) {
	p, err := l.projects.Load(name)
	if err != nil {
		return nil, err
	}

	s.ApplyProject(p)
	l.logger.Info("Project loaded",
		zap.String("session_id", s.ID),
		zap.String("project", name))
	return p, nil
}

// GetProject reads a saved project
func (l *Labeler) GetProject(name string) (*models.Project, error) {
	return l.projects.Load(name)
}

// ListProjects returns the saved project names
func (l *Labeler) ListProjects() ([]string, error) {
	return l.projects.List()
}
