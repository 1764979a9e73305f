package app

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lucasnoah/casepilot/internal/config"
	"github.com/lucasnoah/casepilot/internal/orchestrator"
	"github.com/lucasnoah/casepilot/internal/retrieval"
	"github.com/lucasnoah/casepilot/internal/runs"
	"github.com/lucasnoah/casepilot/internal/task"
	"github.com/lucasnoah/casepilot/internal/testcase"
	"github.com/lucasnoah/casepilot/internal/workflow"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Storage.DBPath = filepath.Join(dir, "casepilot.db")
	cfg.Storage.RunsDir = filepath.Join(dir, "runs")
	cfg.Retrieval.URL = ""
	cfg.Storage.PostgresDSN = ""
	return cfg
}

func newTestApp(t *testing.T, opts Options) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(t), nil, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestNew_RegistersWorkflows(t *testing.T) {
	a := newTestApp(t, Options{})

	var names []string
	for _, info := range a.Dispatcher.Workflows() {
		names = append(names, info.Name)
	}
	want := "impact_analysis,regression_recommendation,test_case_generation,test_case_optimization"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("workflows = %s, want %s", got, want)
	}
	if a.DB != nil || a.Runs != nil || a.Cases != nil {
		t.Error("optional parts should stay nil when not requested")
	}
}

func TestRecordersCaptureRequest(t *testing.T) {
	a := newTestApp(t, Options{EventLog: true, Runs: true})
	var progress bytes.Buffer
	a.SetProgress(&progress)

	resp := a.Dispatcher.Handle(context.Background(), orchestrator.Request{
		Message:   "支付模块改了，推荐回归用例",
		ProjectID: "p1",
		Task:      task.Regression,
		Params:    workflow.Params{ChangedModules: []string{"支付"}},
	})
	if !resp.OK {
		t.Fatalf("response = %+v", resp)
	}
	warnings := resp.Warnings()
	if len(warnings) != 1 || warnings[0] != "retrieval failed for modules: 支付" {
		t.Errorf("warnings = %v", warnings)
	}
	if !strings.Contains(progress.String(), "retrieve_module_cases") {
		t.Errorf("progress = %q", progress.String())
	}
	requestID, _ := resp.Metadata["request_id"].(string)

	// event log
	ev, err := a.DB.GetRequest(requestID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if ev.Task != "regression_recommendation" || ev.Workflow != "regression_recommendation" || !ev.OK || ev.Warnings != 1 {
		t.Errorf("event = %+v", ev)
	}
	stages, err := a.DB.GetStages(requestID)
	if err != nil {
		t.Fatalf("GetStages: %v", err)
	}
	if len(stages) != 2 || stages[0].Stage != "retrieve_module_cases" || stages[1].Stage != "rank_candidates" {
		t.Errorf("stages = %+v", stages)
	}

	// run artifacts
	run, err := a.Runs.Get(requestID)
	if err != nil {
		t.Fatalf("Runs.Get: %v", err)
	}
	if run.Manifest.StageCount != 2 || !run.Manifest.OK || !strings.Contains(string(run.Request), "支付") {
		t.Errorf("run = %+v", run.Manifest)
	}

	// metrics
	if n, err := testutil.GatherAndCount(a.Metrics.Registry(), "casepilot_requests_total"); err != nil || n != 1 {
		t.Errorf("request series = %d, %v; want 1", n, err)
	}
	if n, err := testutil.GatherAndCount(a.Metrics.Registry(), "casepilot_stages_total"); err != nil || n != 2 {
		t.Errorf("stage series = %d, %v; want 2", n, err)
	}
}

func TestRecordersCaptureFailure(t *testing.T) {
	a := newTestApp(t, Options{EventLog: true, Runs: true})

	resp := a.Dispatcher.Handle(context.Background(), orchestrator.Request{Message: "生成用例"})
	if resp.OK || resp.Reason() != orchestrator.ReasonValidation {
		t.Fatalf("response = %+v", resp)
	}
	list, err := a.Runs.List(runs.ListOptions{Failed: true})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Reason != orchestrator.ReasonValidation {
		t.Errorf("runs = %+v", list)
	}
}

func TestNew_EventLogOpenFails(t *testing.T) {
	cfg := testConfig(t)
	// A directory where the database file should be.
	cfg.Storage.DBPath = t.TempDir()
	if _, err := New(context.Background(), cfg, nil, Options{EventLog: true}); err == nil {
		t.Fatal("expected an error opening a directory as the event log")
	}
}

// --- search ---

type recordingSearcher struct {
	got retrieval.Query
}

func (s *recordingSearcher) Search(ctx context.Context, q retrieval.Query) ([]retrieval.Result, error) {
	s.got = q
	return nil, nil
}

func TestThresholdSearcher(t *testing.T) {
	inner := &recordingSearcher{}
	s := thresholdSearcher{inner: inner, threshold: 0.5}

	_, _ = s.Search(context.Background(), retrieval.Query{Text: "q"})
	if inner.got.Threshold != 0.5 {
		t.Errorf("threshold = %v, want 0.5", inner.got.Threshold)
	}
	_, _ = s.Search(context.Background(), retrieval.Query{Text: "q", Threshold: 0.9})
	if inner.got.Threshold != 0.9 {
		t.Errorf("explicit threshold overridden: %v", inner.got.Threshold)
	}
}

func TestNewSearcher_NilWithoutURL(t *testing.T) {
	cfg := testConfig(t)
	if s := newSearcher(cfg, nil); s != nil {
		t.Errorf("searcher = %#v, want nil", s)
	}
}

// --- cases ---

func TestCasesFromResponse(t *testing.T) {
	typed := &orchestrator.Response{OK: true, Data: map[string]any{
		"test_cases": []testcase.TestCase{{Title: "测试登录"}},
	}}
	cases, err := CasesFromResponse(typed)
	if err != nil || len(cases) != 1 {
		t.Fatalf("typed: %v, %v", cases, err)
	}

	generic := &orchestrator.Response{OK: true, Data: map[string]any{
		"supplementary_cases": []any{map[string]any{"title": "测试找回密码", "steps": []any{"打开找回密码页面"}}},
	}}
	cases, err = CasesFromResponse(generic)
	if err != nil || len(cases) != 1 || cases[0].Steps[0].Action != "打开找回密码页面" {
		t.Fatalf("generic: %+v, %v", cases, err)
	}

	for _, resp := range []*orchestrator.Response{nil, {OK: false}, {OK: true, Data: map[string]any{"impact_report": 1}}} {
		if _, err := CasesFromResponse(resp); !errors.Is(err, ErrNothingToSave) {
			t.Errorf("CasesFromResponse(%+v) err = %v", resp, err)
		}
	}
}

func TestSaveCases(t *testing.T) {
	a := newTestApp(t, Options{Cases: true})
	resp := &orchestrator.Response{OK: true, Data: map[string]any{
		"test_cases": []testcase.TestCase{{Title: "测试登录"}, {Title: "测试登出"}},
	}}
	saved, err := a.SaveCases(context.Background(), "p1", resp)
	if err != nil {
		t.Fatalf("SaveCases: %v", err)
	}
	if len(saved) != 2 || saved[0].Version != 1 {
		t.Errorf("saved = %+v", saved)
	}
	recs, _ := a.Cases.List(context.Background(), "p1", 0)
	if len(recs) != 2 {
		t.Errorf("stored %d cases, want 2", len(recs))
	}
}

func TestSaveCases_NoStore(t *testing.T) {
	a := newTestApp(t, Options{})
	if _, err := a.SaveCases(context.Background(), "p1", &orchestrator.Response{OK: true}); err == nil {
		t.Error("expected an error without a case store")
	}
}
