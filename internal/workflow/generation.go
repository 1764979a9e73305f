package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/agents"
	"github.com/lucasnoah/casepilot/internal/quality"
	"github.com/lucasnoah/casepilot/internal/retrieval"
	"github.com/lucasnoah/casepilot/internal/task"
	"github.com/lucasnoah/casepilot/internal/testcase"
)

// GenerationConfig tunes the generation workflow.
type GenerationConfig struct {
	PriorDocLimit  int // default 5
	PriorCaseLimit int // default 5
	// StrictReview makes the review stage required instead of fail-open.
	StrictReview bool
	Gate         quality.GateOpts
}

// Generation turns a requirement into reviewed, formatted test cases.
type Generation struct {
	engine
	analyzer Analyzer
	designer Designer
	reviewer Reviewer
	cfg      GenerationConfig
}

// NewGeneration builds the generation workflow. search may be nil.
func NewGeneration(search retrieval.Searcher, analyzer Analyzer, designer Designer, reviewer Reviewer, cfg GenerationConfig, log *zap.Logger) *Generation {
	return &Generation{
		engine:   newEngine(search, log),
		analyzer: analyzer,
		designer: designer,
		reviewer: reviewer,
		cfg:      cfg,
	}
}

func (g *Generation) Name() string { return task.WorkflowGeneration }

func (g *Generation) Description() string {
	return "Generate test cases from a requirement: retrieve prior knowledge, analyze, design, review and format"
}

func (g *Generation) Run(ctx context.Context, req Request) (Outcome, error) {
	r := g.newRun(g.Name())
	if out, ok := validate(r, req); !ok {
		return out, nil
	}

	docs, err := Attempt(ctx, r, "retrieve_prior_docs", "prior requirement retrieval failed, continuing", []retrieval.Result{},
		g.searchFn(retrieval.Query{
			Text:      req.Message,
			Kind:      retrieval.KindPRD,
			ProjectID: req.ProjectID,
			Limit:     orDefault(req.Params.PriorDocLimit, orDefault(g.cfg.PriorDocLimit, 5)),
		}))
	if err != nil {
		return r.Failure(err, nil)
	}

	priorCases, err := Attempt(ctx, r, "retrieve_prior_cases", "prior test case retrieval failed, continuing", []retrieval.Result{},
		g.searchFn(retrieval.Query{
			Text:      req.Message,
			Kind:      retrieval.KindTestCase,
			ProjectID: req.ProjectID,
			Limit:     orDefault(req.Params.PriorCaseLimit, orDefault(g.cfg.PriorCaseLimit, 5)),
		}))
	if err != nil {
		return r.Failure(err, nil)
	}

	analysis, err := Require(ctx, r, "analyze_requirement", func(ctx context.Context) (agents.Analysis, error) {
		return g.analyzer.Analyze(ctx, req.Message, docs)
	})
	if err != nil {
		return r.Failure(err, nil)
	}

	drafts, err := Require(ctx, r, "design_cases", func(ctx context.Context) ([]testcase.TestCase, error) {
		return g.designer.Design(ctx, agents.DesignInput{Analysis: analysis, PriorCases: priorCases})
	})
	if err != nil {
		return r.Failure(err, map[string]any{"analysis": analysis})
	}

	review, err := g.review(ctx, r, req.Message, drafts, analysis)
	if err != nil {
		return r.Failure(err, map[string]any{"analysis": analysis})
	}

	approved := make([]testcase.TestCase, 0, len(review.ApprovedCases))
	for _, i := range review.ApprovedCases {
		approved = append(approved, drafts[i])
	}

	cases, err := Require(ctx, r, "format_cases", func(ctx context.Context) ([]testcase.TestCase, error) {
		return formatCases(r, approved)
	})
	if err != nil {
		return r.Failure(err, map[string]any{"analysis": analysis, "review": review})
	}

	gate := quality.Evaluate(cases, analysis.Requirements(), g.cfg.Gate)
	g.log.Info("generation complete",
		zap.String("project_id", req.ProjectID),
		zap.Int("generated", len(drafts)),
		zap.Int("approved", len(approved)),
		zap.Bool("gate_passed", gate.Passed))

	return r.Success(
		map[string]any{
			"test_cases": cases,
			"analysis":   analysis,
			"review":     review,
			"gate":       gate,
		},
		map[string]any{
			"coverage_score":    review.CoverageScore,
			"total_generated":   len(drafts),
			"approved_count":    len(approved),
			"rejected_count":    len(review.RejectedCases),
			"prior_docs_count":  len(docs),
			"prior_cases_count": len(priorCases),
		},
	), nil
}

func (g *Generation) review(ctx context.Context, r *Run, requirement string, drafts []testcase.TestCase, analysis agents.Analysis) (agents.ReviewResult, error) {
	fn := func(ctx context.Context) (agents.ReviewResult, error) {
		if g.reviewer == nil {
			return agents.ReviewResult{}, errNoReviewer
		}
		res, err := g.reviewer.Review(ctx, drafts, requirement, analysis)
		if err != nil {
			return agents.ReviewResult{}, err
		}
		return clampReview(res, len(drafts)), nil
	}
	if g.cfg.StrictReview {
		return Require(ctx, r, "review_cases", fn)
	}
	return Attempt(ctx, r, "review_cases", "quality review failed, all test cases approved", agents.ApproveAll(len(drafts)), fn)
}

// clampReview drops repeated indices and indices outside the batch.
func clampReview(res agents.ReviewResult, n int) agents.ReviewResult {
	approved := make([]int, 0, len(res.ApprovedCases))
	seen := make(map[int]bool, n)
	for _, i := range res.ApprovedCases {
		if i >= 0 && i < n && !seen[i] {
			seen[i] = true
			approved = append(approved, i)
		}
	}
	res.ApprovedCases = approved
	return res
}
