package quality

import (
	"encoding/json"
	"fmt"

	"github.com/lucasnoah/casepilot/internal/testcase"
)

// GateOpts sets the thresholds a case set must meet.
type GateOpts struct {
	MinCoverage        float64 // overall coverage percentage
	MaxDuplicationRate float64 // percentage; 0 means no duplicates allowed
	MaxErrors          int     // total error-severity lint findings
	DuplicateThreshold float64
}

// GateCheckResult is one check within a gate evaluation.
type GateCheckResult struct {
	Check   string `json:"check"`
	Passed  bool   `json:"passed"`
	Summary string `json:"summary"`
}

// CaseIssues groups lint findings for one case.
type CaseIssues struct {
	Index  int     `json:"index"`
	ID     string  `json:"id,omitempty"`
	Title  string  `json:"title"`
	Issues []Issue `json:"issues"`
}

// GateResult is the structured output of a gate evaluation.
type GateResult struct {
	Passed            bool              `json:"passed"`
	Checks            []GateCheckResult `json:"checks"`
	Coverage          CoverageReport    `json:"coverage"`
	Duplicates        DuplicateReport   `json:"duplicates"`
	Lint              []CaseIssues      `json:"lint,omitempty"`
	RemainingFailures map[string]string `json:"remaining_failures,omitempty"`
}

// JSON returns the gate result as indented JSON.
func (g *GateResult) JSON() (string, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Evaluate runs coverage, duplicate and lint checks over cases and compares
// them with the thresholds in opts. All checks always run.
func Evaluate(cases []testcase.TestCase, req Requirements, opts GateOpts) *GateResult {
	gate := &GateResult{
		Passed:            true,
		Coverage:          ScoreCoverage(cases, req),
		Duplicates:        DetectDuplicates(cases, opts.DuplicateThreshold),
		RemainingFailures: make(map[string]string),
	}

	errCount := 0
	for i, c := range cases {
		issues := CheckCase(c)
		if len(issues) == 0 {
			continue
		}
		errCount += CountSeverity(issues, SeverityError)
		gate.Lint = append(gate.Lint, CaseIssues{Index: i, ID: c.ID, Title: c.Title, Issues: issues})
	}

	gate.add("coverage", gate.Coverage.Overall >= opts.MinCoverage,
		fmt.Sprintf("overall coverage %.2f%% (min %.2f%%)", gate.Coverage.Overall, opts.MinCoverage))
	gate.add("duplicates", gate.Duplicates.Rate <= opts.MaxDuplicationRate,
		fmt.Sprintf("duplication rate %.2f%% (max %.2f%%)", gate.Duplicates.Rate, opts.MaxDuplicationRate))
	gate.add("lint", errCount <= opts.MaxErrors,
		fmt.Sprintf("%d error finding(s) (max %d)", errCount, opts.MaxErrors))
	return gate
}

func (g *GateResult) add(name string, passed bool, summary string) {
	g.Checks = append(g.Checks, GateCheckResult{Check: name, Passed: passed, Summary: summary})
	if !passed {
		g.Passed = false
		g.RemainingFailures[name] = summary
	}
}
