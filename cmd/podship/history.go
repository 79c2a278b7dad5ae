package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	historyConfigFile string
	historyLimit      int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent deployment history",
	Long:  `History lists the most recent deployment operations, newest first.`,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyConfigFile, "config", "c", "", "Path to podship.yaml configuration file")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Maximum number of entries to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	logger, _, err := setupLogging("")
	if err != nil {
		return err
	}

	cfg, err := loadPipelineConfig(historyConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	comps, err := buildComponents(cfg, "", logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	entries := comps.Production.GetDeploymentHistory(historyLimit)
	if len(entries) == 0 {
		fmt.Println("No deployments recorded")
		return nil
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %-11s %-11s build %s  %d episodes",
			e.DeployedAt.Format("2006-01-02 15:04:05"),
			e.Environment, e.Status, e.ManifestBuildID, e.Counts.Episodes)
		if e.RollbackFrom != "" {
			line += fmt.Sprintf("  (rollback of %s)", e.RollbackFrom)
		}
		fmt.Println(line)
		fmt.Printf("    id: %s\n", e.ID)
	}
	return nil
}
