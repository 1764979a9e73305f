package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lucasnoah/casepilot/internal/convo"
	"github.com/lucasnoah/casepilot/internal/db"
	"github.com/lucasnoah/casepilot/internal/orchestrator"
	"github.com/lucasnoah/casepilot/internal/runs"
	"github.com/lucasnoah/casepilot/internal/task"
)

// --- Mocks ---

type mockDispatcher struct {
	reqs  []orchestrator.Request
	resp  *orchestrator.Response
	panic bool
}

func (m *mockDispatcher) Handle(ctx context.Context, req orchestrator.Request) *orchestrator.Response {
	if m.panic {
		panic("boom")
	}
	m.reqs = append(m.reqs, req)
	return m.resp
}

func (m *mockDispatcher) Workflows() []orchestrator.Info {
	return []orchestrator.Info{{Name: "test_case_generation", Description: "generate test cases"}}
}

// --- helpers ---

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode body: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, out
}

func okDispatcher() *mockDispatcher {
	return &mockDispatcher{resp: &orchestrator.Response{
		OK:       true,
		Task:     task.Generate,
		Data:     map[string]any{"test_cases": []any{}},
		Metadata: map[string]any{"duration": 0.5},
	}}
}

// --- ask ---

func TestAsk(t *testing.T) {
	d := okDispatcher()
	s := NewServer(Deps{Dispatcher: d})

	rec, out := do(t, s, "POST", "/api/v1/agent/ask",
		`{"message":"生成登录的测试用例","project_id":"p1","conversation_id":"c1","task":"generate_test_cases","timeout_seconds":60,"params":{"prior_doc_limit":3}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if out["ok"] != true || out["task"] != "generate_test_cases" {
		t.Errorf("envelope = %v", out)
	}
	req := d.reqs[0]
	if req.ProjectID != "p1" || req.ConversationID != "c1" || req.Task != task.Generate {
		t.Errorf("request = %+v", req)
	}
	if req.Timeout != time.Minute || req.Params.PriorDocLimit != 3 {
		t.Errorf("timeout/params = %v / %+v", req.Timeout, req.Params)
	}
}

func TestAsk_FailedEnvelopeIs200(t *testing.T) {
	d := &mockDispatcher{resp: &orchestrator.Response{
		Task:     task.Unknown,
		Error:    "missing project id",
		Metadata: map[string]any{"reason": "validation", "duration": 0.0},
	}}
	s := NewServer(Deps{Dispatcher: d})

	rec, out := do(t, s, "POST", "/api/v1/agent/ask", `{"message":"生成用例"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["ok"] != false || out["error"] != "missing project id" {
		t.Errorf("envelope = %v", out)
	}
}

func TestAsk_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"message":`},
		{"unknown task", `{"message":"m","project_id":"p1","task":"deploy"}`},
		{"explicit unknown", `{"message":"m","project_id":"p1","task":"unknown"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := okDispatcher()
			s := NewServer(Deps{Dispatcher: d})
			rec, out := do(t, s, "POST", "/api/v1/agent/ask", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if out["code"] != 400.0 {
				t.Errorf("body = %v", out)
			}
			if len(d.reqs) != 0 {
				t.Error("dispatcher should not be called")
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := NewServer(Deps{Dispatcher: &mockDispatcher{panic: true}, Logger: zap.New(core)})

	rec, out := do(t, s, "POST", "/api/v1/agent/ask", `{"message":"m","project_id":"p1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if out["message"] != "internal server error" {
		t.Errorf("body = %v", out)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Error("expected a panic log entry")
	}
}

// --- workflows / health / metrics ---

func TestWorkflows(t *testing.T) {
	s := NewServer(Deps{Dispatcher: okDispatcher()})
	_, out := do(t, s, "GET", "/api/v1/workflows", "")
	data := out["data"].(map[string]any)
	if data["total"] != 1.0 {
		t.Errorf("data = %v", data)
	}
}

func TestHealth(t *testing.T) {
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	s := NewServer(Deps{Dispatcher: okDispatcher(), DB: d})

	rec, out := do(t, s, "GET", "/health", "")
	if rec.Code != http.StatusOK || out["status"] != "healthy" || out["database"] != true {
		t.Errorf("status = %d, body = %v", rec.Code, out)
	}

	d.Close()
	rec, out = do(t, s, "GET", "/health", "")
	if rec.Code != http.StatusServiceUnavailable || out["status"] != "unhealthy" {
		t.Errorf("after close: status = %d, body = %v", rec.Code, out)
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("casepilot_requests_total 1\n"))
	})
	s := NewServer(Deps{Dispatcher: okDispatcher(), Metrics: metrics})

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), "casepilot_requests_total") {
		t.Errorf("body = %s", rec.Body.String())
	}

	bare := NewServer(Deps{Dispatcher: okDispatcher()})
	rec = httptest.NewRecorder()
	bare.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("metrics without handler: status = %d, want 404", rec.Code)
	}
}

// --- conversations ---

func TestConversations(t *testing.T) {
	store := convo.NewStore(nil)
	store.Create("c1", "p1", nil)
	store.Create("c2", "p2", nil)
	if _, err := store.Append("c1", convo.RoleUser, "生成用例", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	s := NewServer(Deps{Dispatcher: okDispatcher(), Conversations: store})

	_, out := do(t, s, "GET", "/api/v1/conversations?project_id=p1", "")
	data := out["data"].(map[string]any)
	if data["total"] != 1.0 {
		t.Errorf("list = %v", data)
	}

	rec, out := do(t, s, "GET", "/api/v1/conversations/c1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	conv := out["data"].(map[string]any)
	if msgs := conv["messages"].([]any); len(msgs) != 1 {
		t.Errorf("messages = %v", msgs)
	}

	rec, _ = do(t, s, "DELETE", "/api/v1/conversations/c1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}
	rec, _ = do(t, s, "GET", "/api/v1/conversations/c1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
	rec, _ = do(t, s, "DELETE", "/api/v1/conversations/c1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestUnconfiguredStores(t *testing.T) {
	s := NewServer(Deps{Dispatcher: okDispatcher()})
	for _, path := range []string{"/api/v1/conversations", "/api/v1/runs", "/api/v1/runs/r1", "/api/v1/analytics/tasks", "/api/v1/analytics/stages"} {
		rec, _ := do(t, s, "GET", path, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", path, rec.Code)
		}
	}
}

// --- runs ---

func TestRuns(t *testing.T) {
	store := runs.NewStore(t.TempDir())
	_ = store.Save(runs.Manifest{ID: "r1", ProjectID: "p1", Task: "impact_analysis", OK: true, CreatedAt: "2026-06-01T00:00:00Z"}, nil, map[string]any{"ok": true}, nil)
	_ = store.Save(runs.Manifest{ID: "r2", ProjectID: "p1", Task: "unknown", OK: false, CreatedAt: "2026-06-02T00:00:00Z"}, nil, nil, nil)
	s := NewServer(Deps{Dispatcher: okDispatcher(), Runs: store})

	_, out := do(t, s, "GET", "/api/v1/runs?failed=true", "")
	data := out["data"].(map[string]any)
	if data["total"] != 1.0 {
		t.Errorf("failed runs = %v", data)
	}

	rec, out := do(t, s, "GET", "/api/v1/runs/r1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	run := out["data"].(map[string]any)
	if run["manifest"].(map[string]any)["task"] != "impact_analysis" {
		t.Errorf("run = %v", run)
	}

	rec, _ = do(t, s, "GET", "/api/v1/runs/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", rec.Code)
	}
	rec, _ = do(t, s, "GET", "/api/v1/runs/.hidden", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want 400", rec.Code)
	}
}

// --- analytics ---

func TestAnalytics(t *testing.T) {
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	err = d.LogRequest(db.RequestEvent{RequestID: "r1", ProjectID: "p1", Task: "generate_test_cases", OK: true, DurationMs: 1000},
		[]db.StageEvent{{Workflow: "test_case_generation", Stage: "review_cases", Mode: "best_effort", Status: "failed", ErrorKind: "timeout"}})
	if err != nil {
		t.Fatalf("log request: %v", err)
	}
	s := NewServer(Deps{Dispatcher: okDispatcher(), DB: d})

	_, out := do(t, s, "GET", "/api/v1/analytics/tasks", "")
	tasks := out["data"].(map[string]any)["tasks"].([]any)
	if len(tasks) != 1 || tasks[0].(map[string]any)["task"] != "generate_test_cases" {
		t.Errorf("tasks = %v", tasks)
	}

	_, out = do(t, s, "GET", "/api/v1/analytics/stages", "")
	stages := out["data"].(map[string]any)["stages"].([]any)
	if len(stages) != 1 || stages[0].(map[string]any)["top_error_kind"] != "timeout" {
		t.Errorf("stages = %v", stages)
	}
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	s := NewServer(Deps{Dispatcher: okDispatcher()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, "127.0.0.1:0", time.Second) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
