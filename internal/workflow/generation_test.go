package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lucasnoah/casepilot/internal/agents"
	"github.com/lucasnoah/casepilot/internal/llm"
	"github.com/lucasnoah/casepilot/internal/quality"
	"github.com/lucasnoah/casepilot/internal/retrieval"
	"github.com/lucasnoah/casepilot/internal/testcase"
)

func loginAnalysis() agents.Analysis {
	return agents.Analysis{
		FunctionalPoints:    []string{"用户登录"},
		ExceptionConditions: []string{"密码错误"},
	}
}

func threeDrafts() []testcase.TestCase {
	return []testcase.TestCase{
		draft("测试用户登录成功", "打开登录页", "输入正确账号密码"),
		draft("测试密码错误提示", "打开登录页", "输入错误密码"),
		draft("测试账号锁定", "连续输错五次密码", "再次登录"),
	}
}

func TestGenerationHappyPath(t *testing.T) {
	search := &stubSearch{fn: func(q retrieval.Query) ([]retrieval.Result, error) {
		return []retrieval.Result{{ID: string(q.Kind) + "-1", Title: "登录需求"}}, nil
	}}
	designer := &stubDesigner{drafts: threeDrafts()}
	reviewer := &stubReviewer{result: agents.ReviewResult{
		CoverageScore:  85,
		ApprovedCases:  []int{0, 2, 2, 9},
		RejectedCases:  []agents.Rejection{{Index: 1, Reason: "重复"}},
		OverallQuality: agents.QualityGood,
	}}
	w := NewGeneration(search, &stubAnalyzer{analysis: loginAnalysis()}, designer, reviewer, GenerationConfig{}, nil)

	out, err := w.Run(context.Background(), Request{Message: "用户可以通过账号密码登录", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected ok, got %+v", out)
	}
	cases := out.Data["test_cases"].([]testcase.TestCase)
	if len(cases) != 2 {
		t.Fatalf("expected 2 approved cases, got %d", len(cases))
	}
	if cases[0].Title != "测试用户登录成功" || cases[1].Title != "测试账号锁定" {
		t.Errorf("wrong cases approved: %q, %q", cases[0].Title, cases[1].Title)
	}
	if out.Metadata["approved_count"] != 2 || out.Metadata["rejected_count"] != 1 || out.Metadata["total_generated"] != 3 {
		t.Errorf("metadata = %+v", out.Metadata)
	}
	if out.Metadata["coverage_score"] != 85 {
		t.Errorf("coverage_score = %v", out.Metadata["coverage_score"])
	}
	if out.Metadata["prior_docs_count"] != 1 || out.Metadata["prior_cases_count"] != 1 {
		t.Errorf("prior counts = %+v", out.Metadata)
	}
	if _, ok := out.Data["gate"].(*quality.GateResult); !ok {
		t.Errorf("gate missing: %T", out.Data["gate"])
	}
	if len(warningsOf(out)) != 0 {
		t.Errorf("unexpected warnings: %v", warningsOf(out))
	}

	qs := search.calls()
	if len(qs) != 2 || qs[0].Kind != retrieval.KindPRD || qs[1].Kind != retrieval.KindTestCase {
		t.Errorf("queries = %+v", qs)
	}
	if qs[0].Limit != 5 || qs[0].ProjectID != "p1" {
		t.Errorf("default limit/project not applied: %+v", qs[0])
	}
	if len(designer.input.PriorCases) != 1 {
		t.Errorf("designer did not receive prior cases: %+v", designer.input)
	}
}

func TestGenerationReviewFailOpen(t *testing.T) {
	for name, reviewer := range map[string]*stubReviewer{
		"error": {err: &llm.APIError{StatusCode: 502, Body: "bad gateway"}},
		"panic": {panics: true},
	} {
		t.Run(name, func(t *testing.T) {
			w := NewGeneration(&stubSearch{}, &stubAnalyzer{analysis: loginAnalysis()},
				&stubDesigner{drafts: threeDrafts()}, reviewer, GenerationConfig{}, nil)
			out, err := w.Run(context.Background(), Request{Message: "登录需求", ProjectID: "p1"})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !out.OK {
				t.Fatalf("expected ok, got %+v", out)
			}
			if out.Metadata["approved_count"] != out.Metadata["total_generated"] {
				t.Errorf("approved %v of %v", out.Metadata["approved_count"], out.Metadata["total_generated"])
			}
			if !hasWarning(out, "quality review failed") {
				t.Errorf("warnings = %v", warningsOf(out))
			}
			review := out.Data["review"].(agents.ReviewResult)
			if review.OverallQuality != agents.QualityUnknown {
				t.Errorf("overall quality = %q", review.OverallQuality)
			}
		})
	}
}

func TestGenerationStrictReview(t *testing.T) {
	w := NewGeneration(&stubSearch{}, &stubAnalyzer{analysis: loginAnalysis()},
		&stubDesigner{drafts: threeDrafts()}, &stubReviewer{err: errors.New("down")},
		GenerationConfig{StrictReview: true}, nil)
	out, err := w.Run(context.Background(), Request{Message: "登录需求", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.OK || out.Metadata["step"] != "review_cases" {
		t.Errorf("expected review_cases failure, got %+v", out)
	}
}

func TestGenerationRetrievalDegrades(t *testing.T) {
	search := &stubSearch{fn: func(q retrieval.Query) ([]retrieval.Result, error) {
		return nil, errors.New("connection refused")
	}}
	w := NewGeneration(search, &stubAnalyzer{analysis: loginAnalysis()},
		&stubDesigner{drafts: threeDrafts()}, &stubReviewer{result: agents.ApproveAll(3)}, GenerationConfig{}, nil)
	out, err := w.Run(context.Background(), Request{Message: "登录需求", ProjectID: "p1"})
	if err != nil || !out.OK {
		t.Fatalf("expected ok, got %+v, %v", out, err)
	}
	if len(warningsOf(out)) != 2 {
		t.Errorf("expected two retrieval warnings, got %v", warningsOf(out))
	}
	if out.Metadata["prior_docs_count"] != 0 {
		t.Errorf("prior_docs_count = %v", out.Metadata["prior_docs_count"])
	}
}

func TestGenerationNoRetrievalConfigured(t *testing.T) {
	w := NewGeneration(nil, &stubAnalyzer{analysis: loginAnalysis()},
		&stubDesigner{drafts: threeDrafts()}, &stubReviewer{result: agents.ApproveAll(3)}, GenerationConfig{}, nil)
	out, err := w.Run(context.Background(), Request{Message: "登录需求", ProjectID: "p1"})
	if err != nil || !out.OK {
		t.Fatalf("expected ok, got %+v, %v", out, err)
	}
	if !hasWarning(out, "retrieval is not configured") {
		t.Errorf("warnings = %v", warningsOf(out))
	}
}

func TestGenerationAnalyzeFailure(t *testing.T) {
	designer := &stubDesigner{}
	w := NewGeneration(&stubSearch{}, &stubAnalyzer{err: &llm.MalformedOutputError{Raw: "oops", Err: errors.New("no json")}},
		designer, &stubReviewer{}, GenerationConfig{}, nil)
	out, err := w.Run(context.Background(), Request{Message: "登录需求", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.OK || out.Metadata["step"] != "analyze_requirement" {
		t.Fatalf("expected analyze failure, got %+v", out)
	}
	if designer.called {
		t.Error("designer ran after analysis failed")
	}
	stages := out.Stages
	last := stages[len(stages)-1]
	if last.ErrorKind != "malformed_output" {
		t.Errorf("error kind = %q", last.ErrorKind)
	}
}

func TestGenerationAllDraftsEmpty(t *testing.T) {
	drafts := []testcase.TestCase{{Title: "空用例"}, {Title: "另一个空用例"}}
	w := NewGeneration(&stubSearch{}, &stubAnalyzer{analysis: loginAnalysis()},
		&stubDesigner{drafts: drafts}, &stubReviewer{result: agents.ApproveAll(2)}, GenerationConfig{}, nil)
	out, err := w.Run(context.Background(), Request{Message: "登录需求", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.OK || out.Metadata["step"] != "format_cases" {
		t.Errorf("expected format failure, got %+v", out)
	}
	if !hasWarning(out, "dropped 2 test cases") {
		t.Errorf("warnings = %v", warningsOf(out))
	}
}

func TestGenerationValidation(t *testing.T) {
	w := NewGeneration(&stubSearch{}, &stubAnalyzer{}, &stubDesigner{}, &stubReviewer{}, GenerationConfig{}, nil)
	for _, req := range []Request{
		{Message: "需求", ProjectID: " "},
		{Message: "   ", ProjectID: "p1"},
	} {
		out, err := w.Run(context.Background(), req)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if out.OK || out.Metadata["step"] != "validation" {
			t.Errorf("expected validation failure for %+v, got %+v", req, out)
		}
	}
}

func TestGenerationDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()
	w := NewGeneration(&stubSearch{}, &stubAnalyzer{}, &stubDesigner{}, &stubReviewer{}, GenerationConfig{}, nil)
	_, err := w.Run(ctx, Request{Message: "需求", ProjectID: "p1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
}
