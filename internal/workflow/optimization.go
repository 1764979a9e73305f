package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/agents"
	"github.com/lucasnoah/casepilot/internal/quality"
	"github.com/lucasnoah/casepilot/internal/retrieval"
	"github.com/lucasnoah/casepilot/internal/task"
	"github.com/lucasnoah/casepilot/internal/testcase"
)

// NoExistingCasesSuggestion is the only suggestion when there is nothing to optimize.
const NoExistingCasesSuggestion = "no existing test cases found; create baseline test cases first"

// OptimizationConfig tunes the optimization workflow.
type OptimizationConfig struct {
	PriorDocLimit  int // default 5
	PriorCaseLimit int // existing cases retrieved when none are supplied, default 10
}

// Optimization audits existing cases and fills their coverage gaps.
type Optimization struct {
	engine
	analyzer Analyzer
	designer Designer
	cfg      OptimizationConfig
}

// NewOptimization builds the optimization workflow. search may be nil.
func NewOptimization(search retrieval.Searcher, analyzer Analyzer, designer Designer, cfg OptimizationConfig, log *zap.Logger) *Optimization {
	return &Optimization{engine: newEngine(search, log), analyzer: analyzer, designer: designer, cfg: cfg}
}

func (w *Optimization) Name() string { return task.WorkflowOptimization }

func (w *Optimization) Description() string {
	return "Check existing test cases for quality issues and coverage gaps, and draft supplementary cases"
}

func (w *Optimization) Run(ctx context.Context, req Request) (Outcome, error) {
	r := w.newRun(w.Name())
	if out, ok := validate(r, req); !ok {
		return out, nil
	}

	existing := req.Params.ExistingCases
	source := "supplied"
	if len(existing) == 0 {
		source = "retrieved"
		results, err := Attempt(ctx, r, "retrieve_existing_cases", "existing test case retrieval failed", []retrieval.Result{},
			w.searchFn(retrieval.Query{
				Text:      req.Message,
				Kind:      retrieval.KindTestCase,
				ProjectID: req.ProjectID,
				Limit:     orDefault(req.Params.PriorCaseLimit, orDefault(w.cfg.PriorCaseLimit, 10)),
			}))
		if err != nil {
			return r.Failure(err, nil)
		}
		existing = casesFromResults(results)
	}

	if len(existing) == 0 {
		return r.Success(
			map[string]any{
				"quality_issues":           []quality.CaseIssues{},
				"missing_points":           []string{},
				"supplementary_cases":      []testcase.TestCase{},
				"optimization_suggestions": []string{NoExistingCasesSuggestion},
			},
			map[string]any{
				"existing_cases_count":      0,
				"quality_issues_count":      0,
				"missing_points_count":      0,
				"supplementary_cases_count": 0,
			},
		), nil
	}

	issues, err := Attempt(ctx, r, "check_quality", "quality check failed", []quality.CaseIssues{},
		func(ctx context.Context) ([]quality.CaseIssues, error) {
			return checkAll(r, existing), nil
		})
	if err != nil {
		return r.Failure(err, nil)
	}

	docs, err := Attempt(ctx, r, "retrieve_prior_docs", "prior requirement retrieval failed, continuing", []retrieval.Result{},
		w.searchFn(retrieval.Query{
			Text:      req.Message,
			Kind:      retrieval.KindPRD,
			ProjectID: req.ProjectID,
			Limit:     orDefault(req.Params.PriorDocLimit, orDefault(w.cfg.PriorDocLimit, 5)),
		}))
	if err != nil {
		return r.Failure(err, nil)
	}

	analysis, err := Require(ctx, r, "analyze_requirement", func(ctx context.Context) (agents.Analysis, error) {
		return w.analyzer.Analyze(ctx, req.Message, docs)
	})
	if err != nil {
		return r.Failure(err, map[string]any{"quality_issues_count": len(issues)})
	}

	coverage, err := Attempt(ctx, r, "score_coverage", "coverage check failed", quality.CoverageReport{},
		func(ctx context.Context) (quality.CoverageReport, error) {
			return quality.ScoreCoverage(existing, analysis.Requirements()), nil
		})
	if err != nil {
		return r.Failure(err, nil)
	}
	missing := coverage.Uncovered
	if missing == nil {
		missing = []string{}
	}

	supplementary := []testcase.TestCase{}
	if len(missing) > 0 {
		supplementary, err = Attempt(ctx, r, "design_supplementary_cases", "supplementary case generation failed", []testcase.TestCase{},
			func(ctx context.Context) ([]testcase.TestCase, error) {
				drafts, err := w.designer.Design(ctx, agents.DesignInput{
					Analysis:    analysis,
					PriorCases:  resultsFromCases(existing),
					FocusPoints: missing,
				})
				if err != nil {
					return nil, err
				}
				return formatCases(r, drafts)
			})
		if err != nil {
			return r.Failure(err, nil)
		}
	}

	suggestions := Suggestions(issues, missing, len(existing), len(supplementary))
	w.log.Info("optimization complete",
		zap.String("project_id", req.ProjectID),
		zap.Int("existing", len(existing)),
		zap.Int("issues", len(issues)),
		zap.Int("missing", len(missing)),
		zap.Int("supplementary", len(supplementary)))

	return r.Success(
		map[string]any{
			"quality_issues":           issues,
			"missing_points":           missing,
			"supplementary_cases":      supplementary,
			"optimization_suggestions": suggestions,
			"requirement_analysis":     analysis,
			"coverage_report":          coverage,
		},
		map[string]any{
			"existing_cases_count":      len(existing),
			"existing_cases_source":     source,
			"quality_issues_count":      len(issues),
			"missing_points_count":      len(missing),
			"supplementary_cases_count": len(supplementary),
		},
	), nil
}

// checkAll lints each case; a case whose check panics is skipped with a warning.
func checkAll(r *Run, cases []testcase.TestCase) []quality.CaseIssues {
	out := []quality.CaseIssues{}
	for i, c := range cases {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.Warn(fmt.Sprintf("quality check failed for case %d: %v", i, p))
				}
			}()
			if issues := quality.CheckCase(c); len(issues) > 0 {
				out = append(out, quality.CaseIssues{Index: i, ID: c.ID, Title: c.Title, Issues: issues})
			}
		}()
	}
	return out
}

// casesFromResults rebuilds test cases from retrieval hits. Structured
// fields are read from the hit metadata when present.
func casesFromResults(results []retrieval.Result) []testcase.TestCase {
	cases := make([]testcase.TestCase, 0, len(results))
	for _, res := range results {
		c := testcase.TestCase{ID: res.ID, Title: res.Title}
		c.Preconditions, _ = res.Metadata["preconditions"].(string)
		c.ExpectedResult, _ = res.Metadata["expected_result"].(string)
		c.Priority, _ = res.Metadata["priority"].(string)
		c.Type, _ = res.Metadata["type"].(string)
		if raw, ok := res.Metadata["steps"]; ok {
			if data, err := json.Marshal(raw); err == nil {
				_ = json.Unmarshal(data, &c.Steps)
			}
		}
		if len(c.Steps) == 0 && res.Content != "" {
			c.Steps = []testcase.Step{{Number: 1, Action: res.Content}}
		}
		cases = append(cases, c)
	}
	return cases
}

func resultsFromCases(cases []testcase.TestCase) []retrieval.Result {
	out := make([]retrieval.Result, len(cases))
	for i, c := range cases {
		out[i] = retrieval.Result{ID: c.ID, Title: c.Title, Content: c.StepsText()}
	}
	return out
}
