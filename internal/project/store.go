// Package project persists saved prompt setups as JSON files.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"labeling-service/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when no project file exists for a name
	ErrNotFound = errors.New("project not found")
	// ErrInvalidName is returned for names outside [A-Za-z0-9._-]
	ErrInvalidName = errors.New("invalid project name")
)

const fileExt = ".json"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Store keeps one <name>.json file per project in a directory
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates dir if needed
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create projects dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// ValidateName checks that name is usable as a file name
func ValidateName(name string) error {
	if !namePattern.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

// Save writes p, overwriting an existing project of the same name
func (s *Store) Save(p *models.Project) error {
	if err := ValidateName(p.Name); err != nil {
		return err
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, p.Name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create project file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write project file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write project file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(p.Name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save project: %w", err)
	}

	s.logger.Info("Project saved", zap.String("project", p.Name))
	return nil
}

// Load reads the project called name
func (s *Store) Load(name string) (*models.Project, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project: %w", err)
	}

	var p models.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse project %s: %w", name, err)
	}
	p.Name = name
	return &p, nil
}

// List returns the saved project names in sorted order
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), fileExt)
		if namePattern.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the project called name
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}
