package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"podship/internal/analytics"
	"podship/internal/checks"
	"podship/internal/config"
	"podship/internal/deploy"
	"podship/internal/history"
	"podship/internal/registry"
	"podship/internal/render"
	"podship/pkg/fileutil"
)

const defaultConfigName = "podship.yaml"

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns the environment variable as int or a default
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// setupLogging builds a JSON logger writing to stdout and, when logFile
// is non-empty, to that file as well. The returned file is nil when no
// file logging was requested; the caller owns closing it.
func setupLogging(logFile string) (*slog.Logger, *os.File, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		file = f
		writer = io.MultiWriter(os.Stdout, f)
	}

	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	return logger, file, nil
}

// loadPipelineConfig resolves the configuration file (explicit flag,
// PODSHIP_CONFIG, or the standard search paths) and loads it. With no
// file anywhere, defaults plus conventional directory roots are used.
func loadPipelineConfig(flagPath string) (config.Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv("PODSHIP_CONFIG")
	}
	if path == "" {
		path = fileutil.FindConfigOptional(defaultConfigName)
	}

	if path == "" {
		cfg := config.Default()
		cfg.StagingRoot = getEnvOrDefault("PODSHIP_STAGING_ROOT", "staging")
		cfg.ProductionRoot = getEnvOrDefault("PODSHIP_PRODUCTION_ROOT", "production")
		cfg.BackupRoot = getEnvOrDefault("PODSHIP_BACKUP_ROOT", "backups")
		return cfg, nil
	}

	return config.Load(path)
}

// components bundles the wired deployment collaborators for a command.
type components struct {
	Config     config.Config
	Registry   *registry.Registry
	Staging    *deploy.Staging
	Gates      *deploy.GateSystem
	Production *deploy.Production
	Pipeline   *deploy.Pipeline
	Analytics  *analytics.Tracker
}

// buildComponents wires the built-in generators, validator and history
// store into a ready deployment pipeline. An empty analyticsDB disables
// the analytics side channel.
func buildComponents(cfg config.Config, analyticsDB string, logger *slog.Logger) (*components, error) {
	social := render.NewSocial()
	reg := registry.New(social, logger)

	staging := deploy.NewStaging(cfg, reg, render.NewPages(), render.NewFeeds(), social, logger)
	gates := deploy.NewGateSystem(cfg, reg, checks.New(), logger)

	hist, err := history.NewStore(cfg.BackupRoot, cfg.MaxRollbackHistory, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open deployment history: %w", err)
	}

	production := deploy.NewProduction(cfg, gates, hist, logger)
	pipeline := deploy.NewPipeline(staging, gates, production, logger)

	c := &components{
		Config:     cfg,
		Registry:   reg,
		Staging:    staging,
		Gates:      gates,
		Production: production,
		Pipeline:   pipeline,
	}

	if analyticsDB != "" {
		tracker, err := analytics.NewTracker(analyticsDB, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open analytics store: %w", err)
		}
		pipeline.SetAnalytics(tracker)
		c.Analytics = tracker
	}

	return c, nil
}

// Close releases resources held by optional collaborators.
func (c *components) Close() {
	if c.Analytics != nil {
		c.Analytics.Close()
	}
}

// printResult writes a human-readable outcome for one deployment
// operation to stdout.
func printResult(label string, result *deploy.Result) {
	fmt.Printf("%s: %s (%s)\n", label, result.Status, result.ID)
	if result.ErrorMessage != "" {
		fmt.Printf("  error: %s\n", result.ErrorMessage)
	}
	c := result.Counts
	if c.Episodes > 0 || c.PagesGenerated > 0 {
		fmt.Printf("  episodes: %d, series: %d, hosts: %d\n", c.Episodes, c.Series, c.Hosts)
		fmt.Printf("  pages: %d, feeds: %d, social packages: %d (%d validated)\n",
			c.PagesGenerated, c.FeedsGenerated, c.SocialPackages, c.SocialValidated)
	}
}
