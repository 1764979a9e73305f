package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/casepilot/internal/app"
	"github.com/lucasnoah/casepilot/internal/quality"
	"github.com/lucasnoah/casepilot/internal/testcase"
)

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Score, lint and rank test cases from JSON or YAML files",
	Long: `Offline quality tools. Case files hold a list of test cases or an object
with a "test_cases" list; requirement files hold functional_points,
exception_conditions and constraints.`,
}

func readCasesFlag(cmd *cobra.Command) ([]testcase.TestCase, error) {
	path, _ := cmd.Flags().GetString("cases")
	if path == "" {
		return nil, fmt.Errorf("--cases is required")
	}
	return readCases(path)
}

func readRequirementsFlag(cmd *cobra.Command) (quality.Requirements, error) {
	var req quality.Requirements
	path, _ := cmd.Flags().GetString("requirements")
	if path == "" {
		return req, fmt.Errorf("--requirements is required")
	}
	err := readInput(path, &req)
	return req, err
}

var qualityCoverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Score functional, exception and boundary coverage",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}
		cases, err := readCasesFlag(cmd)
		if err != nil {
			return err
		}
		req, err := readRequirementsFlag(cmd)
		if err != nil {
			return err
		}

		report := quality.ScoreCoverage(cases, req)
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), report)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Overall:    %.2f%%\n", report.Overall)
		fmt.Fprintf(w, "Functional: %.2f%% (%d/%d points)\n", report.Functional,
			report.Details.CoveredFunctionalPoints, report.Details.TotalFunctionalPoints)
		fmt.Fprintf(w, "Exception:  %.2f%% (%d cases, %d conditions)\n", report.Exception,
			report.Details.ExceptionCases, report.Details.TotalExceptions)
		fmt.Fprintf(w, "Boundary:   %.2f%% (%d cases, %d constraints)\n", report.Boundary,
			report.Details.BoundaryCases, report.Details.TotalConstraints)
		if len(report.Uncovered) > 0 {
			fmt.Fprintln(w, "\nUncovered points:")
			for _, p := range report.Uncovered {
				fmt.Fprintf(w, "  - %s\n", p)
			}
		}
		return nil
	},
}

var qualityDuplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Find near-duplicate case pairs",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		if err := checkFormat(format); err != nil {
			return err
		}
		if threshold > 1 {
			return fmt.Errorf("threshold must be at most 1, got %v", threshold)
		}
		cases, err := readCasesFlag(cmd)
		if err != nil {
			return err
		}

		report := quality.DetectDuplicates(cases, threshold)
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), report)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "%d of %d case(s) duplicated (%.2f%%)\n\n", report.DuplicateCount, report.TotalCases, report.Rate)
		if len(report.Pairs) > 0 {
			fmt.Fprintln(w, "SIMILARITY\tCASE\tCASE")
			for _, p := range report.Pairs {
				fmt.Fprintf(w, "%.3f\t#%d %s\t#%d %s\n", p.Similarity, p.I, cases[p.I].Title, p.J, cases[p.J].Title)
			}
		}
		return w.Flush()
	},
}

var qualityCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Lint test cases",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}
		cases, err := readCasesFlag(cmd)
		if err != nil {
			return err
		}

		var results []quality.CaseIssues
		errorCount := 0
		for i, c := range cases {
			issues := quality.CheckCase(c)
			if len(issues) == 0 {
				continue
			}
			errorCount += quality.CountSeverity(issues, quality.SeverityError)
			results = append(results, quality.CaseIssues{Index: i, ID: c.ID, Title: c.Title, Issues: issues})
		}

		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"total_cases":       len(cases),
				"cases_with_issues": len(results),
				"error_count":       errorCount,
				"results":           results,
			})
		}
		if len(results) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%d case(s), no issues.\n", len(cases))
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CASE\tSEVERITY\tRULE\tMESSAGE")
		for _, r := range results {
			for _, issue := range r.Issues {
				fmt.Fprintf(w, "#%d\t%s\t%s\t%s\n", r.Index, issue.Severity, issue.Rule, issue.Message)
			}
		}
		fmt.Fprintf(w, "\n%d of %d case(s) with issues, %d error(s)\n", len(results), len(cases), errorCount)
		return w.Flush()
	},
}

var qualityGateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Evaluate coverage, duplication and lint against the quality thresholds",
	Long: `Run every quality check and compare it with the quality section of the
config. Flags override individual thresholds. Exits non-zero when the gate
fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cases, err := readCasesFlag(cmd)
		if err != nil {
			return err
		}
		req, err := readRequirementsFlag(cmd)
		if err != nil {
			return err
		}

		opts := app.GateOpts(cfg)
		if cmd.Flags().Changed("min-coverage") {
			opts.MinCoverage, _ = cmd.Flags().GetFloat64("min-coverage")
		}
		if cmd.Flags().Changed("max-duplication") {
			opts.MaxDuplicationRate, _ = cmd.Flags().GetFloat64("max-duplication")
		}
		if cmd.Flags().Changed("max-errors") {
			opts.MaxErrors, _ = cmd.Flags().GetInt("max-errors")
		}

		gate := quality.Evaluate(cases, req, opts)
		if format == "json" {
			jsonStr, err := gate.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), jsonStr)
		} else {
			w := cmd.OutOrStdout()
			for _, c := range gate.Checks {
				icon := "PASS"
				if !c.Passed {
					icon = "FAIL"
				}
				fmt.Fprintf(w, "[%s] %s: %s\n", icon, c.Check, c.Summary)
			}
			if gate.Passed {
				fmt.Fprintln(w, "\nGate PASSED")
			} else {
				fmt.Fprintln(w, "\nGate FAILED")
			}
		}

		if !gate.Passed {
			return fmt.Errorf("gate failed: %d checks failed", len(gate.RemainingFailures))
		}
		return nil
	},
}

var qualityRankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Deduplicate and rank candidate cases by priority and relevance",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		path, _ := cmd.Flags().GetString("candidates")
		limit, _ := cmd.Flags().GetInt("limit")
		if err := checkFormat(format); err != nil {
			return err
		}
		if path == "" {
			return fmt.Errorf("--candidates is required")
		}
		var candidates []quality.Candidate
		if err := readInput(path, &candidates); err != nil {
			return err
		}

		unique := quality.DedupeCandidates(candidates)
		ranked := quality.RankCandidates(unique)
		if limit > 0 && len(ranked) > limit {
			ranked = ranked[:limit]
		}

		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"total_candidates":  len(candidates),
				"unique_candidates": len(unique),
				"ranked_cases":      ranked,
				"ranking_criteria":  quality.Criteria(),
			})
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tID\tPRIORITY\tSCORE\tTITLE")
		for i, c := range ranked {
			fmt.Fprintf(w, "%d\t%s\t%s\t%.3f\t%s\n", i+1, c.ID, c.Priority, c.Score, c.Title)
		}
		return w.Flush()
	},
}

func init() {
	for _, c := range []*cobra.Command{qualityCoverageCmd, qualityDuplicatesCmd, qualityCheckCmd, qualityGateCmd} {
		c.Flags().String("cases", "", "test case file (JSON or YAML)")
	}
	for _, c := range []*cobra.Command{qualityCoverageCmd, qualityGateCmd} {
		c.Flags().String("requirements", "", "requirement analysis file (JSON or YAML)")
	}
	for _, c := range []*cobra.Command{qualityCoverageCmd, qualityDuplicatesCmd, qualityCheckCmd, qualityGateCmd, qualityRankCmd} {
		c.Flags().String("format", "text", "Output format: text or json")
	}
	qualityDuplicatesCmd.Flags().Float64("threshold", quality.DefaultDuplicateThreshold, "similarity at or above which two cases are duplicates")
	qualityGateCmd.Flags().Float64("min-coverage", 0, "override quality.min_coverage")
	qualityGateCmd.Flags().Float64("max-duplication", 0, "override quality.max_duplication_rate")
	qualityGateCmd.Flags().Int("max-errors", 0, "override quality.max_errors")
	qualityRankCmd.Flags().String("candidates", "", "candidate file (JSON or YAML list)")
	qualityRankCmd.Flags().Int("limit", 0, "keep at most this many (0 keeps all)")

	qualityCmd.AddCommand(qualityCoverageCmd)
	qualityCmd.AddCommand(qualityDuplicatesCmd)
	qualityCmd.AddCommand(qualityCheckCmd)
	qualityCmd.AddCommand(qualityGateCmd)
	qualityCmd.AddCommand(qualityRankCmd)
}
