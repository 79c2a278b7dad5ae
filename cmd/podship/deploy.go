package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"podship/internal/deploy"
)

var (
	deployConfigFile  string
	deployLogFile     string
	deployAnalyticsDB string
	deployAutoPromote bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy <manifest>",
	Short: "Generate the site into staging and run validation",
	Long: `Deploy loads a content manifest, generates every page, feed and social
package into a fresh staging directory, and runs the validation gates.

With --auto-promote the deployment is promoted to production when every
gate passes.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVarP(&deployConfigFile, "config", "c", "", "Path to podship.yaml configuration file")
	deployCmd.Flags().StringVar(&deployLogFile, "log", getEnvOrDefault("PODSHIP_LOG_FILE", ""), "Path to log file")
	deployCmd.Flags().StringVar(&deployAnalyticsDB, "analytics-db", getEnvOrDefault("PODSHIP_ANALYTICS_DB", ""), "Path to SQLite analytics database (empty disables tracking)")
	deployCmd.Flags().BoolVar(&deployAutoPromote, "auto-promote", false, "Promote to production when all validation gates pass")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	manifestPath := args[0]

	logger, logFileHandle, err := setupLogging(deployLogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	if logFileHandle != nil {
		defer logFileHandle.Close()
	}

	cfg, err := loadPipelineConfig(deployConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	comps, err := buildComponents(cfg, deployAnalyticsDB, logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	comps.Staging.SetProgress(func(message string, fraction float64) {
		fmt.Printf("  [%3.0f%%] %s\n", fraction*100, message)
	})

	result := comps.Pipeline.DeployFullPipeline(context.Background(), manifestPath, deployAutoPromote)

	printResult("Staging", result)
	if result.Report != nil {
		fmt.Println(deploy.Summary(result.Report))
	}
	if result.Promotion != nil {
		printResult("Production", result.Promotion)
	}

	if !result.Completed() {
		os.Exit(1)
	}
	if result.Promotion != nil && !result.Promotion.Completed() {
		os.Exit(1)
	}
	if deployAutoPromote && result.Promotion == nil {
		// Gates blocked promotion.
		os.Exit(1)
	}
	return nil
}
