package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"podship/internal/deploy"
	"podship/pkg/fileutil"
)

var (
	promoteConfigFile string
	promoteLogFile    string
)

var promoteCmd = &cobra.Command{
	Use:   "promote <staging-id>",
	Short: "Promote a staged deployment to production",
	Long: `Promote re-runs the validation gates against an existing staging
deployment and, when they pass, replaces production with it. The
previous production tree is backed up first so the promotion can be
rolled back.`,
	Args: cobra.ExactArgs(1),
	RunE: runPromote,
}

func init() {
	promoteCmd.Flags().StringVarP(&promoteConfigFile, "config", "c", "", "Path to podship.yaml configuration file")
	promoteCmd.Flags().StringVar(&promoteLogFile, "log", getEnvOrDefault("PODSHIP_LOG_FILE", ""), "Path to log file")
}

func runPromote(cmd *cobra.Command, args []string) error {
	stagingID := args[0]

	logger, logFileHandle, err := setupLogging(promoteLogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	if logFileHandle != nil {
		defer logFileHandle.Close()
	}

	cfg, err := loadPipelineConfig(promoteConfigFile)
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

	result := comps.Production.PromoteToProduction(context.Background(), stagingID, stagingPath)

	printResult("Production", result)
	if result.Report != nil {
		fmt.Println(deploy.Summary(result.Report))
	}

	if !result.Completed() {
		os.Exit(1)
	}
	return nil
}
