package workflow

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/agents"
	"github.com/lucasnoah/casepilot/internal/retrieval"
	"github.com/lucasnoah/casepilot/internal/task"
)

// ImpactConfig tunes the impact analysis workflow.
type ImpactConfig struct {
	PriorDocLimit  int // default 5
	PriorCaseLimit int // default 10
}

// Impact assesses how a requirement change affects existing tests.
type Impact struct {
	engine
	analyzer ImpactAnalyzer
	cfg      ImpactConfig
}

// NewImpact builds the impact analysis workflow. search may be nil.
func NewImpact(search retrieval.Searcher, analyzer ImpactAnalyzer, cfg ImpactConfig, log *zap.Logger) *Impact {
	return &Impact{engine: newEngine(search, log), analyzer: analyzer, cfg: cfg}
}

func (w *Impact) Name() string { return task.WorkflowImpact }

func (w *Impact) Description() string {
	return "Analyze the impact of a requirement change on modules and existing test cases"
}

func (w *Impact) Run(ctx context.Context, req Request) (Outcome, error) {
	r := w.newRun(w.Name())
	if out, ok := validate(r, req); !ok {
		return out, nil
	}
	change := strings.TrimSpace(req.Params.ChangeDescription)
	if change == "" {
		change = req.Message
	}

	docs, err := Attempt(ctx, r, "retrieve_prior_docs", "prior requirement retrieval failed, continuing", []retrieval.Result{},
		w.searchFn(retrieval.Query{
			Text:      change,
			Kind:      retrieval.KindPRD,
			ProjectID: req.ProjectID,
			Limit:     orDefault(req.Params.PriorDocLimit, orDefault(w.cfg.PriorDocLimit, 5)),
		}))
	if err != nil {
		return r.Failure(err, nil)
	}

	existing, err := Attempt(ctx, r, "retrieve_related_cases", "related test case retrieval failed, continuing", []retrieval.Result{},
		w.searchFn(retrieval.Query{
			Text:      change,
			Kind:      retrieval.KindTestCase,
			ProjectID: req.ProjectID,
			Limit:     orDefault(req.Params.PriorCaseLimit, orDefault(w.cfg.PriorCaseLimit, 10)),
		}))
	if err != nil {
		return r.Failure(err, nil)
	}

	report, err := Require(ctx, r, "analyze_impact", func(ctx context.Context) (agents.ImpactReport, error) {
		return w.analyzer.AnalyzeImpact(ctx, agents.ImpactInput{
			ChangeDescription: change,
			PriorDocs:         docs,
			ExistingCases:     existing,
		})
	})
	if err != nil {
		return r.Failure(err, map[string]any{
			"prior_docs_count":     len(docs),
			"existing_cases_count": len(existing),
		})
	}

	return r.Success(
		map[string]any{
			"impact_report":       report,
			"related_docs":        docs,
			"existing_test_cases": existing,
		},
		map[string]any{
			"risk_level":             report.RiskLevel,
			"change_type":            report.ChangeType,
			"affected_modules_count": len(report.AffectedModules),
			"affected_cases_count":   len(report.AffectedTestCases),
			"prior_docs_count":       len(docs),
			"existing_cases_count":   len(existing),
		},
	), nil
}
