package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/casepilot/internal/runs"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect on-disk run artifacts",
}

func openRuns() (*runs.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return runs.NewStore(cfg.Storage.RunsDir), nil
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		project, _ := cmd.Flags().GetString("project")
		taskName, _ := cmd.Flags().GetString("task")
		failed, _ := cmd.Flags().GetBool("failed")
		limit, _ := cmd.Flags().GetInt("limit")
		if err := checkFormat(format); err != nil {
			return err
		}
		store, err := openRuns()
		if err != nil {
			return err
		}

		manifests, err := store.List(runs.ListOptions{ProjectID: project, Task: taskName, Failed: failed, Limit: limit})
		if err != nil {
			return err
		}
		if format == "json" {
			if manifests == nil {
				manifests = []runs.Manifest{}
			}
			return writeJSON(cmd.OutOrStdout(), manifests)
		}
		if len(manifests) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROJECT\tTASK\tSTATUS\tSTAGES\tDURATION\tCREATED")
		for _, m := range manifests {
			status := "ok"
			if !m.OK {
				status = m.Reason
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.2fs\t%s\n",
				m.ID, m.ProjectID, m.Task, status, m.StageCount, m.DurationSeconds, m.CreatedAt)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a run's manifest, stages and response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openRuns()
		if err != nil {
			return err
		}
		run, err := store.Get(args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), run)
	},
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		store, err := openRuns()
		if err != nil {
			return err
		}
		n, err := store.Prune(time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s)\n", n)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("project", "", "only this project")
	runsListCmd.Flags().String("task", "", "only this task")
	runsListCmd.Flags().Bool("failed", false, "only failed runs")
	runsListCmd.Flags().Int("limit", 20, "maximum runs to list (0 lists all)")
	runsListCmd.Flags().String("format", "text", "Output format: text or json")
	runsPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "age of runs to delete")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsPruneCmd)
}
