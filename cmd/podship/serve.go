package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"podship/internal/server"
)

var (
	serveConfigFile  string
	serveLogFile     string
	serveAnalyticsDB string
	serveHost        string
	servePort        int
	serveTestMode    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the deployment HTTP server",
	Long: `Start the HTTP server that exposes the deployment pipeline: trigger
deploys, inspect history, and roll production back over REST.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", getEnvOrDefault("PODSHIP_CONFIG", ""), "Path to podship.yaml configuration file")
	serveCmd.Flags().StringVar(&serveLogFile, "log", getEnvOrDefault("PODSHIP_LOG_FILE", "./podship.log"), "Path to log file")
	serveCmd.Flags().StringVar(&serveAnalyticsDB, "analytics-db", getEnvOrDefault("PODSHIP_ANALYTICS_DB", "./analytics.db"), "Path to SQLite analytics database (empty disables tracking)")
	serveCmd.Flags().StringVar(&serveHost, "host", getEnvOrDefault("PODSHIP_HOST", "127.0.0.1"), "Host to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", getEnvOrDefaultInt("PODSHIP_PORT", 5000), "Port to listen on")
	serveCmd.Flags().BoolVar(&serveTestMode, "test-mode", os.Getenv("PODSHIP_TEST_MODE") == "1", "Enable test mode (disable rate limiting)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, logFileHandle, err := setupLogging(serveLogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	if logFileHandle != nil {
		defer logFileHandle.Close()
	}

	logger.Info("Starting podship")

	cfg, err := loadPipelineConfig(serveConfigFile)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Info("Configuration loaded",
		"staging_root", cfg.StagingRoot,
		"production_root", cfg.ProductionRoot,
		"backup_root", cfg.BackupRoot)

	comps, err := buildComponents(cfg, serveAnalyticsDB, logger)
	if err != nil {
		logger.Error("Failed to wire deployment pipeline", "error", err)
		return err
	}
	defer comps.Close()

	srv := server.NewServer(comps.Pipeline, comps.Production, logger, serveTestMode)

	if serveTestMode {
		logger.Warn("Test mode enabled; rate limiting disabled")
	}

	if err := srv.Start(serveHost, servePort); err != nil {
		logger.Error("Server failed", "error", err)
		return err
	}
	return nil
}
