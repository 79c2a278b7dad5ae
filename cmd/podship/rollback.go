package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	rollbackConfigFile string
	rollbackLogFile    string
	rollbackList       bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback [target-id]",
	Short: "Restore production from a previous deployment's backup",
	Long: `Rollback restores the production tree from the backup taken before the
target deployment was promoted, undoing that deployment. Without a
target the most recent eligible deployment is rolled back.

Use --list to see eligible targets without changing anything.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().StringVarP(&rollbackConfigFile, "config", "c", "", "Path to podship.yaml configuration file")
	rollbackCmd.Flags().StringVar(&rollbackLogFile, "log", getEnvOrDefault("PODSHIP_LOG_FILE", ""), "Path to log file")
	rollbackCmd.Flags().BoolVar(&rollbackList, "list", false, "List rollback candidates and exit")
}

func runRollback(cmd *cobra.Command, args []string) error {
	logger, logFileHandle, err := setupLogging(rollbackLogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	if logFileHandle != nil {
		defer logFileHandle.Close()
	}

	cfg, err := loadPipelineConfig(rollbackConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	comps, err := buildComponents(cfg, "", logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	if rollbackList {
		candidates := comps.Production.GetRollbackCandidates()
		if len(candidates) == 0 {
			fmt.Println("No rollback candidates available")
			return nil
		}
		fmt.Println("Rollback candidates (newest first):")
		for _, e := range candidates {
			fmt.Printf("  %s  build %s  promoted %s\n", e.ID, e.ManifestBuildID, e.DeployedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	}

	targetID := ""
	if len(args) == 1 {
		targetID = args[0]

		check := comps.Production.ValidateRollbackTarget(targetID)
		for _, w := range check.Warnings {
			fmt.Printf("Warning: %s\n", w)
		}
		if !check.IsValid {
			for _, e := range check.Errors {
				fmt.Fprintf(os.Stderr, "Error: %s\n", e)
			}
			return fmt.Errorf("rollback target %s is not usable", targetID)
		}
	}

	result := comps.Production.RollbackDeployment(context.Background(), targetID)
	printResult("Rollback", result)

	if result.ErrorMessage != "" {
		os.Exit(1)
	}
	return nil
}
