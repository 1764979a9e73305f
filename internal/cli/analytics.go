package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/casepilot/internal/analytics"
	"github.com/lucasnoah/casepilot/internal/config"
	"github.com/lucasnoah/casepilot/internal/db"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Query request and stage analytics from the event log",
}

// openDB opens and migrates the event log named by the config.
func openDB() (*db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openDBAt(cfg)
}

func openDBAt(cfg *config.Config) (*db.DB, error) {
	d, err := db.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// sinceFlag turns --since into an event-log timestamp; zero means all time.
func sinceFlag(cmd *cobra.Command) string {
	since, _ := cmd.Flags().GetDuration("since")
	if since <= 0 {
		return ""
	}
	return time.Now().Add(-since).UTC().Format(db.TimeFormat)
}

var analyticsTaskStatsCmd = &cobra.Command{
	Use:   "task-stats",
	Short: "Request counts, success rate and mean duration per task",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}
		d, err := openDB()
		if err != nil {
			return err
		}
		defer d.Close()

		stats, err := analytics.QueryTaskStats(d, sinceFlag(cmd))
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), stats)
		}
		if len(stats) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No requests recorded.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tTOTAL\tOK\tFAILED\tSUCCESS\tAVG\tWARNINGS\tREASONS")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\t%.2fs\t%d\t%s\n",
				s.Task, s.Total, s.OK, s.Failed, s.SuccessPct, s.AvgSeconds, s.Warnings, formatReasons(s.Reasons))
		}
		return w.Flush()
	},
}

var analyticsStageFailuresCmd = &cobra.Command{
	Use:   "stage-failures",
	Short: "Failure rates of workflow stages, worst first",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}
		d, err := openDB()
		if err != nil {
			return err
		}
		defer d.Close()

		failures, err := analytics.QueryStageFailures(d, sinceFlag(cmd))
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), failures)
		}
		if len(failures) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No stage failures recorded.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WORKFLOW\tSTAGE\tMODE\tTOTAL\tFAILED\tRATE\tTOP ERROR")
		for _, f := range failures {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.1f%%\t%s\n",
				f.Workflow, f.Stage, f.Mode, f.Total, f.Failed, f.FailurePct, f.TopErrorKind)
		}
		return w.Flush()
	},
}

var analyticsDurationsCmd = &cobra.Command{
	Use:   "durations",
	Short: "Average and percentile durations per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}
		d, err := openDB()
		if err != nil {
			return err
		}
		defer d.Close()

		durations, err := analytics.QueryStageDurations(d, sinceFlag(cmd))
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), durations)
		}
		if len(durations) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No stages recorded.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WORKFLOW\tSTAGE\tCOUNT\tAVG\tP50\tP95")
		for _, s := range durations {
			fmt.Fprintf(w, "%s\t%s\t%d\t%.2fs\t%.2fs\t%.2fs\n", s.Workflow, s.Stage, s.Count, s.Avg, s.P50, s.P95)
		}
		return w.Flush()
	},
}

func formatReasons(reasons map[string]int) string {
	if len(reasons) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(reasons))
	for k := range reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, reasons[k])
	}
	return strings.Join(parts, ",")
}

func init() {
	for _, c := range []*cobra.Command{analyticsTaskStatsCmd, analyticsStageFailuresCmd, analyticsDurationsCmd} {
		c.Flags().Duration("since", 0, "only events newer than this (e.g. 168h); 0 means all")
		c.Flags().String("format", "text", "Output format: text or json")
		analyticsCmd.AddCommand(c)
	}
}
