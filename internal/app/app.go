// Package app builds the application graph from configuration: clients,
// agents, workflows, the dispatcher and its recorders, and the stores the
// command surfaces share.
package app

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/agents"
	"github.com/lucasnoah/casepilot/internal/casestore"
	"github.com/lucasnoah/casepilot/internal/config"
	"github.com/lucasnoah/casepilot/internal/convo"
	"github.com/lucasnoah/casepilot/internal/db"
	"github.com/lucasnoah/casepilot/internal/llm"
	"github.com/lucasnoah/casepilot/internal/metrics"
	"github.com/lucasnoah/casepilot/internal/orchestrator"
	"github.com/lucasnoah/casepilot/internal/prompt"
	"github.com/lucasnoah/casepilot/internal/quality"
	"github.com/lucasnoah/casepilot/internal/retrieval"
	"github.com/lucasnoah/casepilot/internal/runs"
	"github.com/lucasnoah/casepilot/internal/task"
	"github.com/lucasnoah/casepilot/internal/workflow"
)

// Options selects optional parts of the graph.
type Options struct {
	// EventLog opens the SQLite event log and records every request.
	EventLog bool
	// Runs writes per-request artifacts under storage.runs_dir.
	Runs bool
	// RuntimeMetrics adds Go and process collectors to the registry.
	RuntimeMetrics bool
	// Cases connects the case store (Postgres when configured).
	Cases bool
}

// App is the wired application.
type App struct {
	Config        *config.Config
	Log           *zap.Logger
	Dispatcher    *orchestrator.Dispatcher
	Conversations *convo.Store
	Metrics       *metrics.Metrics
	Library       *prompt.Library
	DB            *db.DB          // nil unless Options.EventLog
	Runs          *runs.Store     // nil unless Options.Runs
	Cases         casestore.Store // nil unless Options.Cases

	workflows []progressWorkflow
	closers   []func()
}

// New wires everything. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{
		Config:        cfg,
		Log:           log,
		Conversations: convo.NewStore(log.Named("convo")),
		Metrics:       metrics.New(opts.RuntimeMetrics),
		Library:       prompt.NewLibrary(cfg.Prompts.Dir),
	}

	recorders := orchestrator.Recorders{metricsRecorder{a.Metrics}}
	if opts.EventLog {
		database, err := db.Open(cfg.Storage.DBPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open event log: %w", err)
		}
		a.closers = append(a.closers, func() { database.Close() })
		if err := database.Migrate(); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate event log: %w", err)
		}
		a.DB = database
		recorders = append(recorders, eventLogRecorder{database})
	}
	if opts.Runs {
		a.Runs = runs.NewStore(cfg.Storage.RunsDir)
		recorders = append(recorders, runsRecorder{a.Runs})
	}
	if opts.Cases {
		store, closeFn, err := openCaseStore(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Cases = store
		if closeFn != nil {
			a.closers = append(a.closers, closeFn)
		}
	}

	completer := llm.NewClient(llm.Options{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLMTimeout(),
		MaxAttempts: cfg.LLM.MaxAttempts,
		Backoff:     cfg.LLMBackoff(),
		Logger:      log.Named("llm"),
	})

	a.Dispatcher = orchestrator.New(
		task.NewClassifier(completer, a.Library, log.Named("classifier")),
		orchestrator.Options{
			Timeout:       cfg.DispatchTimeout(),
			Window:        cfg.Dispatcher.Window,
			Conversations: a.Conversations,
			Recorder:      recorders,
			Logger:        log.Named("dispatcher"),
		},
	)
	for _, w := range a.buildWorkflows(completer, newSearcher(cfg, log)) {
		a.Dispatcher.Register(w)
	}
	return a, nil
}

type progressWorkflow interface {
	workflow.Workflow
	SetProgress(io.Writer)
}

func (a *App) buildWorkflows(completer llm.Completer, search retrieval.Searcher) []progressWorkflow {
	cfg := a.Config
	wlog := a.Log.Named("workflow")
	analyzer := agents.NewAnalyzer(completer, a.Library, a.Log.Named("analyzer"))
	designer := agents.NewDesigner(completer, a.Library, a.Log.Named("designer"))

	wfs := []progressWorkflow{
		workflow.NewGeneration(search, analyzer, designer,
			agents.NewReviewer(completer, a.Library, a.Log.Named("reviewer")),
			workflow.GenerationConfig{
				PriorDocLimit:  cfg.Workflows.PriorDocLimit,
				PriorCaseLimit: cfg.Workflows.PriorCaseLimit,
				StrictReview:   cfg.Workflows.StrictReview,
				Gate:           a.GateOpts(),
			}, wlog),
		workflow.NewImpact(search,
			agents.NewImpactAnalyzer(completer, a.Library, a.Log.Named("impact")),
			workflow.ImpactConfig{
				PriorDocLimit:  cfg.Workflows.PriorDocLimit,
				PriorCaseLimit: cfg.Workflows.ImpactCaseLimit,
			}, wlog),
		workflow.NewRegression(search, workflow.RegressionConfig{
			PerModuleLimit: cfg.Workflows.RegressionPerModule,
			DefaultLimit:   cfg.Workflows.RegressionLimit,
			Concurrency:    cfg.Workflows.RegressionConcurrency,
		}, wlog),
		workflow.NewOptimization(search, analyzer, designer, workflow.OptimizationConfig{
			PriorDocLimit:  cfg.Workflows.PriorDocLimit,
			PriorCaseLimit: cfg.Workflows.OptimizationCaseLimit,
		}, wlog),
	}
	a.workflows = wfs
	return wfs
}

// GateOpts returns the configured quality gate thresholds.
func (a *App) GateOpts() quality.GateOpts {
	return GateOpts(a.Config)
}

// GateOpts maps the quality section onto gate thresholds.
func GateOpts(cfg *config.Config) quality.GateOpts {
	return quality.GateOpts{
		MinCoverage:        cfg.Quality.MinCoverage,
		MaxDuplicationRate: cfg.Quality.MaxDuplicationRate,
		MaxErrors:          cfg.Quality.MaxErrors,
		DuplicateThreshold: cfg.Quality.DuplicateThreshold,
	}
}

// SetProgress streams stage progress of every workflow to w.
func (a *App) SetProgress(w io.Writer) {
	for _, wf := range a.workflows {
		wf.SetProgress(w)
	}
}

// Close releases stores in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func openCaseStore(ctx context.Context, cfg *config.Config) (casestore.Store, func(), error) {
	if cfg.Storage.PostgresDSN == "" {
		return casestore.NewMemory(), nil, nil
	}
	pool, err := casestore.Connect(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	pg := casestore.NewPostgres(pool)
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
