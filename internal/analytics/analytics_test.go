package analytics

import (
	"testing"

	"github.com/lucasnoah/casepilot/internal/db"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func logRequest(t *testing.T, d *db.DB, ev db.RequestEvent, stages ...db.StageEvent) {
	t.Helper()
	if ev.ProjectID == "" {
		ev.ProjectID = "p1"
	}
	if err := d.LogRequest(ev, stages); err != nil {
		t.Fatalf("log request %s: %v", ev.RequestID, err)
	}
}

func stage(name, mode, status, kind string, ms int) db.StageEvent {
	return db.StageEvent{Workflow: "test_case_generation", Stage: name, Mode: mode, Status: status, ErrorKind: kind, DurationMs: ms}
}

// --- QueryTaskStats ---

func TestQueryTaskStats(t *testing.T) {
	d := testDB(t)
	logRequest(t, d, db.RequestEvent{RequestID: "1", Task: "generate_test_cases", OK: true, DurationMs: 10000, Warnings: 1, Timestamp: "2026-06-01 10:00:00"})
	logRequest(t, d, db.RequestEvent{RequestID: "2", Task: "generate_test_cases", OK: true, DurationMs: 20000, Timestamp: "2026-06-01 11:00:00"})
	logRequest(t, d, db.RequestEvent{RequestID: "3", Task: "generate_test_cases", OK: false, Reason: "timeout", DurationMs: 300000, Timestamp: "2026-06-01 12:00:00"})
	logRequest(t, d, db.RequestEvent{RequestID: "4", Task: "unknown", OK: false, Reason: "unknown_task", DurationMs: 500, Timestamp: "2026-06-02 09:00:00"})

	results, err := QueryTaskStats(d, "")
	if err != nil {
		t.Fatalf("QueryTaskStats: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(results))
	}

	gen := results[0]
	if gen.Task != "generate_test_cases" || gen.Total != 3 || gen.OK != 2 || gen.Failed != 1 {
		t.Errorf("gen = %+v", gen)
	}
	if gen.SuccessPct != 66.7 {
		t.Errorf("success pct = %v, want 66.7", gen.SuccessPct)
	}
	if gen.AvgSeconds != 110 {
		t.Errorf("avg seconds = %v, want 110", gen.AvgSeconds)
	}
	if gen.Reasons["timeout"] != 1 || gen.Warnings != 1 {
		t.Errorf("gen = %+v", gen)
	}
	if results[1].Reasons["unknown_task"] != 1 {
		t.Errorf("unknown = %+v", results[1])
	}
}

func TestQueryTaskStats_Since(t *testing.T) {
	d := testDB(t)
	logRequest(t, d, db.RequestEvent{RequestID: "1", Task: "impact_analysis", OK: true, Timestamp: "2026-05-01 10:00:00"})
	logRequest(t, d, db.RequestEvent{RequestID: "2", Task: "impact_analysis", OK: true, Timestamp: "2026-06-01 10:00:00"})

	results, err := QueryTaskStats(d, "2026-05-15")
	if err != nil {
		t.Fatalf("QueryTaskStats: %v", err)
	}
	if len(results) != 1 || results[0].Total != 1 {
		t.Errorf("results = %+v", results)
	}
	if results[0].Reasons != nil {
		t.Errorf("reasons should be omitted when nothing failed: %+v", results[0].Reasons)
	}
}

func TestQueryTaskStats_Empty(t *testing.T) {
	d := testDB(t)
	results, err := QueryTaskStats(d, "")
	if err != nil {
		t.Fatalf("QueryTaskStats: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %+v", results)
	}
}

// --- QueryStageFailures ---

func TestQueryStageFailures(t *testing.T) {
	d := testDB(t)
	logRequest(t, d, db.RequestEvent{RequestID: "1", Task: "generate_test_cases"},
		stage("retrieve_prior_docs", "best_effort", "failed", "timeout", 100),
		stage("review_cases", "best_effort", "failed", "rate_limit", 100))
	logRequest(t, d, db.RequestEvent{RequestID: "2", Task: "generate_test_cases"},
		stage("retrieve_prior_docs", "best_effort", "failed", "timeout", 100),
		stage("review_cases", "best_effort", "ok", "", 100))
	logRequest(t, d, db.RequestEvent{RequestID: "3", Task: "generate_test_cases"},
		stage("retrieve_prior_docs", "best_effort", "failed", "upstream", 100),
		stage("analyze_requirement", "required", "ok", "", 100))

	results, err := QueryStageFailures(d, "")
	if err != nil {
		t.Fatalf("QueryStageFailures: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 failing stages, got %+v", results)
	}
	if results[0].Stage != "retrieve_prior_docs" || results[0].FailurePct != 100 || results[0].TopErrorKind != "timeout" {
		t.Errorf("first = %+v", results[0])
	}
	if results[1].Stage != "review_cases" || results[1].Failed != 1 || results[1].Total != 2 || results[1].FailurePct != 50 {
		t.Errorf("second = %+v", results[1])
	}
}

// --- QueryStageDurations ---

func TestQueryStageDurations(t *testing.T) {
	d := testDB(t)
	logRequest(t, d, db.RequestEvent{RequestID: "1", Task: "generate_test_cases"},
		stage("analyze_requirement", "required", "ok", "", 10000),
		stage("design_cases", "required", "skipped", "timeout", 0))
	logRequest(t, d, db.RequestEvent{RequestID: "2", Task: "generate_test_cases"},
		stage("analyze_requirement", "required", "ok", "", 20000))

	results, err := QueryStageDurations(d, "")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 stage, got %+v", results)
	}
	r := results[0]
	if r.Stage != "analyze_requirement" || r.Count != 2 {
		t.Errorf("result = %+v", r)
	}
	if r.Avg != 15 || r.P50 != 15 || r.P95 != 19.5 {
		t.Errorf("avg/p50/p95 = %v/%v/%v, want 15/15/19.5", r.Avg, r.P50, r.P95)
	}
}

// --- helpers ---

func TestPercentile(t *testing.T) {
	tests := []struct {
		values []float64
		p      int
		want   float64
	}{
		{nil, 50, 0},
		{[]float64{5}, 95, 5},
		{[]float64{1, 2, 3, 4}, 50, 2.5},
		{[]float64{10, 20}, 95, 19.5},
	}
	for _, tt := range tests {
		if got := percentile(tt.values, tt.p); got != tt.want {
			t.Errorf("percentile(%v, %d) = %v, want %v", tt.values, tt.p, got, tt.want)
		}
	}
}

func TestPct(t *testing.T) {
	if pct(1, 3) != 33.3 {
		t.Errorf("pct(1,3) = %v", pct(1, 3))
	}
	if pct(1, 0) != 0 {
		t.Errorf("pct(1,0) = %v", pct(1, 0))
	}
}
