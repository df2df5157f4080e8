package main

import (
	"fmt"
	"os"
	"path/filepath"

	"labeling-service/internal/config"
	"labeling-service/internal/llm"
	"labeling-service/internal/logger"
	"labeling-service/internal/project"
	"labeling-service/internal/repository"
	"labeling-service/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is set at build time
var Version = "1.0.0"

var cfgFile string

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "labeler",
		Short: "Binary relevance labeling with LLM providers",
		Long: `labeler sends every row of a dataset to an LLM provider with a
classification prompt and collects a 0/1 relevance label per row.

Run it as an HTTP service (serve) or label a file directly (label).`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newLabelCmd())
	rootCmd.AddCommand(newProjectsCmd())

	return rootCmd
}

// app holds the components shared by the commands
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	repo     repository.RunRepository
	projects *project.Store
	labeler  *service.Labeler
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := repository.NewSQLiteDB(cfg.Storage.DatabasePath, log)
	if err != nil {
		return nil, err
	}
	repo := repository.NewRunRepository(db, log)

	projects, err := project.NewStore(cfg.Storage.ProjectsDir, log)
	if err != nil {
		repo.Close()
		return nil, err
	}

	labeler := service.NewLabeler(service.Options{
		Factory:  llm.NewFactory(cfg.Providers, log),
		Settings: cfg.Providers,
		Repo:     repo,
		Projects: projects,
		Retry:    cfg.Retry,
		Workers:  cfg.Dispatch.Workers,
		RowLimit: cfg.Dispatch.RowLimit,
		Logger:   log,
	})

	return &app{
		cfg:      cfg,
		logger:   log,
		repo:     repo,
		projects: projects,
		labeler:  labeler,
	}, nil
}

func (a *app) Close() {
	a.labeler.Wait()
	if err := a.repo.Close(); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
