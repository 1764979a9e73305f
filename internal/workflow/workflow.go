// Package workflow holds the four multi-stage pipelines the dispatcher
// routes to: test case generation, impact analysis, regression
// recommendation and test case optimization.
//
// Every stage is either required (failure aborts with a structured error
// naming the stage) or best-effort (failure becomes a warning and a default
// value). The context is checked between stages, so an expired deadline
// stops a workflow at the next stage boundary.
package workflow

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/agents"
	"github.com/lucasnoah/casepilot/internal/retrieval"
	"github.com/lucasnoah/casepilot/internal/testcase"
)

// Workflow is a named pipeline.
type Workflow interface {
	Name() string
	Description() string
	// Run executes the pipeline. A non-nil error means the workflow could
	// not produce an outcome at all (context expiry, panic); expected
	// failures are reported in Outcome.
	Run(ctx context.Context, req Request) (Outcome, error)
}

// Request is the input shared by all workflows.
type Request struct {
	Message        string
	ProjectID      string
	ConversationID string
	Params         Params
}

// Params carries workflow-specific options. Zero values mean defaults.
type Params struct {
	PriorDocLimit  int `json:"prior_doc_limit,omitempty" yaml:"prior_doc_limit,omitempty"`
	PriorCaseLimit int `json:"prior_case_limit,omitempty" yaml:"prior_case_limit,omitempty"`

	// Regression. ChangedModules is required: nil is a validation failure,
	// an empty list succeeds with a warning.
	ChangedModules    []string `json:"changed_modules,omitempty" yaml:"changed_modules,omitempty"`
	VersionName       string   `json:"version_name,omitempty" yaml:"version_name,omitempty"`
	ChangeDescription string   `json:"change_description,omitempty" yaml:"change_description,omitempty"`
	PriorityFilter    string   `json:"priority_filter,omitempty" yaml:"priority_filter,omitempty"`
	Limit             int      `json:"limit,omitempty" yaml:"limit,omitempty"`

	// Optimization. When empty, existing cases are retrieved.
	ExistingCases []testcase.TestCase `json:"existing_cases,omitempty" yaml:"existing_cases,omitempty"`
}

// Outcome is a workflow's result. Exactly one of Data (OK) or Error (!OK) is
// set; Metadata always carries "warnings".
type Outcome struct {
	OK       bool           `json:"ok"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata"`
	Stages   []StageRecord  `json:"-"`
}

// Analyzer extracts structure from a requirement.
type Analyzer interface {
	Analyze(ctx context.Context, requirement string, priorDocs []retrieval.Result) (agents.Analysis, error)
}

// Designer drafts test cases.
type Designer interface {
	Design(ctx context.Context, in agents.DesignInput) ([]testcase.TestCase, error)
}

// Reviewer grades drafts.
type Reviewer interface {
	Review(ctx context.Context, cases []testcase.TestCase, requirement string, analysis agents.Analysis) (agents.ReviewResult, error)
}

// ImpactAnalyzer assesses a change.
type ImpactAnalyzer interface {
	AnalyzeImpact(ctx context.Context, in agents.ImpactInput) (agents.ImpactReport, error)
}

var (
	errNoRetrieval = errors.New("retrieval is not configured")
	errNoReviewer  = errors.New("no reviewer configured")
)

// engine is the shared plumbing embedded in each workflow.
type engine struct {
	search   retrieval.Searcher
	log      *zap.Logger
	progress io.Writer
}

func newEngine(search retrieval.Searcher, log *zap.Logger) engine {
	if log == nil {
		log = zap.NewNop()
	}
	return engine{search: search, log: log}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (e *engine) SetProgress(w io.Writer) {
	e.progress = w
}

func (e *engine) newRun(name string) *Run {
	return newRun(name, e.progress, e.log)
}

func (e *engine) searchFn(q retrieval.Query) func(context.Context) ([]retrieval.Result, error) {
	return func(ctx context.Context) ([]retrieval.Result, error) {
		if e.search == nil {
			return nil, errNoRetrieval
		}
		res, err := e.search.Search(ctx, q)
		if err != nil {
			return nil, err
		}
		if res == nil {
			res = []retrieval.Result{}
		}
		return res, nil
	}
}

// validate applies the checks common to every workflow.
func validate(r *Run, req Request) (Outcome, bool) {
	if strings.TrimSpace(req.ProjectID) == "" {
		return r.Invalid("missing project id"), false
	}
	if strings.TrimSpace(req.Message) == "" {
		return r.Invalid("empty message"), false
	}
	return Outcome{}, true
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// formatCases normalizes drafts, warning about any that had no usable steps.
// It fails only when every draft was dropped.
func formatCases(r *Run, drafts []testcase.TestCase) ([]testcase.TestCase, error) {
	formatted, dropped := testcase.Format(drafts)
	if len(dropped) > 0 {
		r.Warn(pluralf(len(dropped), "dropped %d test case with no steps", "dropped %d test cases with no steps"))
	}
	if len(drafts) > 0 && len(formatted) == 0 {
		return nil, errors.New("no test case has a usable step")
	}
	return formatted, nil
}
