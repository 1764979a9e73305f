package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/casepilot/internal/quality"
	"github.com/lucasnoah/casepilot/internal/retrieval"
	"github.com/lucasnoah/casepilot/internal/task"
)

// RegressionConfig tunes the regression recommendation workflow.
type RegressionConfig struct {
	PerModuleLimit int // default 20
	DefaultLimit   int // default 50
	Concurrency    int // parallel module searches, default 4
}

// Regression recommends existing cases to rerun for a set of changed modules.
type Regression struct {
	engine
	cfg RegressionConfig
}

// NewRegression builds the regression recommendation workflow.
func NewRegression(search retrieval.Searcher, cfg RegressionConfig, log *zap.Logger) *Regression {
	return &Regression{engine: newEngine(search, log), cfg: cfg}
}

func (w *Regression) Name() string { return task.WorkflowRegression }

func (w *Regression) Description() string {
	return "Recommend regression test cases for changed modules, ranked by priority and relevance"
}

func (w *Regression) Run(ctx context.Context, req Request) (Outcome, error) {
	r := w.newRun(w.Name())
	if strings.TrimSpace(req.ProjectID) == "" {
		return r.Invalid("missing project id"), nil
	}
	modules := req.Params.ChangedModules
	if modules == nil {
		return r.Invalid("missing changed_modules"), nil
	}

	versionInfo := map[string]any{"changed_modules": modules}
	if req.Params.VersionName != "" {
		versionInfo["version_name"] = req.Params.VersionName
	}
	if req.Params.ChangeDescription != "" {
		versionInfo["change_description"] = req.Params.ChangeDescription
	}

	if len(modules) == 0 {
		r.Warn("no changed modules, nothing to recommend")
		return r.Success(
			map[string]any{
				"recommended_cases": []quality.Candidate{},
				"version_info":      versionInfo,
				"ranking_criteria":  quality.Criteria(),
			},
			map[string]any{
				"total_candidates":      0,
				"unique_candidates":     0,
				"recommended_count":     0,
				"changed_modules_count": 0,
				"changed_modules":       modules,
			},
		), nil
	}

	candidates, err := Attempt(ctx, r, "retrieve_module_cases", "module case retrieval failed", []quality.Candidate{},
		func(ctx context.Context) ([]quality.Candidate, error) {
			return w.gather(ctx, r, req.ProjectID, modules, req.Params.PriorityFilter)
		})
	if err != nil {
		return r.Failure(err, nil)
	}

	type ranking struct{ unique, ranked []quality.Candidate }
	res, err := Require(ctx, r, "rank_candidates", func(ctx context.Context) (ranking, error) {
		unique := quality.DedupeCandidates(candidates)
		return ranking{unique: unique, ranked: quality.RankCandidates(unique)}, nil
	})
	if err != nil {
		return r.Failure(err, nil)
	}

	limit := orDefault(req.Params.Limit, orDefault(w.cfg.DefaultLimit, 50))
	recommended := res.ranked
	if len(recommended) > limit {
		recommended = recommended[:limit]
	}

	return r.Success(
		map[string]any{
			"recommended_cases": recommended,
			"version_info":      versionInfo,
			"ranking_criteria":  quality.Criteria(),
		},
		map[string]any{
			"total_candidates":      len(candidates),
			"unique_candidates":     len(res.unique),
			"recommended_count":     len(recommended),
			"changed_modules_count": len(modules),
			"changed_modules":       modules,
		},
	), nil
}

// gather searches every module concurrently and merges the hits in module
// order. A failed module is reported as a warning, not an error.
func (w *Regression) gather(ctx context.Context, r *Run, projectID string, modules []string, priority string) ([]quality.Candidate, error) {
	perModule := make([][]retrieval.Result, len(modules))
	errs := make([]error, len(modules))

	var g errgroup.Group
	g.SetLimit(orDefault(w.cfg.Concurrency, 4))
	for i, module := range modules {
		g.Go(func() error {
			perModule[i], errs[i] = w.searchFn(retrieval.Query{
				Text:      "模块:" + module,
				Kind:      retrieval.KindTestCase,
				ProjectID: projectID,
				Limit:     orDefault(w.cfg.PerModuleLimit, 20),
				Priority:  priority,
			})(ctx)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var failed []string
	candidates := []quality.Candidate{}
	for i, results := range perModule {
		if errs[i] != nil {
			failed = append(failed, modules[i])
			w.log.Warn("module retrieval failed", zap.String("module", modules[i]), zap.Error(errs[i]))
			continue
		}
		for _, res := range results {
			candidates = append(candidates, res.Candidate())
		}
	}
	if len(failed) > 0 {
		r.Warn(fmt.Sprintf("retrieval failed for modules: %s", strings.Join(failed, ", ")))
	}
	return candidates, nil
}
