package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"podship/internal/content"
	"podship/internal/deploy"
	"podship/pkg/fileutil"
)

var (
	validateConfigFile string
	validateLogFile    string
)

var validateCmd = &cobra.Command{
	Use:   "validate <staging-id>",
	Short: "Run the validation gates against a staged deployment",
	Long: `Validate runs every quality gate against an existing staging
deployment and prints the report. Nothing is promoted or modified.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateConfigFile, "config", "c", "", "Path to podship.yaml configuration file")
	validateCmd.Flags().StringVar(&validateLogFile, "log", getEnvOrDefault("PODSHIP_LOG_FILE", ""), "Path to log file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	stagingID := args[0]

	logger, logFileHandle, err := setupLogging(validateLogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	if logFileHandle != nil {
		defer logFileHandle.Close()
	}

	cfg, err := loadPipelineConfig(validateConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	comps, err := buildComponents(cfg, "", logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	stagingPath := comps.Staging.Path(stagingID)
	if !fileutil.DirExists(stagingPath) {
		return fmt.Errorf("staging deployment %s not found at %s", stagingID, stagingPath)
	}

	// Re-hydrate the registry from the staged manifest snapshot so the
	// social gate has packages to check.
	var m *content.Manifest
	if m, err = comps.Registry.LoadManifest(filepath.Join(stagingPath, deploy.ManifestFileName)); err != nil {
		return fmt.Errorf("failed to load staged manifest: %w", err)
	}

	report := comps.Gates.Run(stagingPath, m)
	fmt.Println(deploy.Summary(report))

	if !report.OverallPassed {
		os.Exit(1)
	}
	return nil
}
