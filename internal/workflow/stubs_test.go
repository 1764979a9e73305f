package workflow

import (
	"context"
	"strings"
	"sync"

	"github.com/lucasnoah/casepilot/internal/agents"
	"github.com/lucasnoah/casepilot/internal/retrieval"
	"github.com/lucasnoah/casepilot/internal/testcase"
)

type stubSearch struct {
	mu      sync.Mutex
	queries []retrieval.Query
	fn      func(q retrieval.Query) ([]retrieval.Result, error)
}

func (s *stubSearch) Search(ctx context.Context, q retrieval.Query) ([]retrieval.Result, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()
	if s.fn == nil {
		return nil, nil
	}
	return s.fn(q)
}

func (s *stubSearch) calls() []retrieval.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]retrieval.Query(nil), s.queries...)
}

type stubAnalyzer struct {
	analysis agents.Analysis
	err      error
	called   bool
}

func (s *stubAnalyzer) Analyze(ctx context.Context, requirement string, priorDocs []retrieval.Result) (agents.Analysis, error) {
	s.called = true
	return s.analysis, s.err
}

type stubDesigner struct {
	drafts []testcase.TestCase
	err    error
	input  agents.DesignInput
	called bool
}

func (s *stubDesigner) Design(ctx context.Context, in agents.DesignInput) ([]testcase.TestCase, error) {
	s.called = true
	s.input = in
	return s.drafts, s.err
}

type stubReviewer struct {
	result agents.ReviewResult
	err    error
	panics bool
}

func (s *stubReviewer) Review(ctx context.Context, cases []testcase.TestCase, requirement string, analysis agents.Analysis) (agents.ReviewResult, error) {
	if s.panics {
		panic("reviewer exploded")
	}
	return s.result, s.err
}

type stubImpact struct {
	report agents.ImpactReport
	err    error
	input  agents.ImpactInput
}

func (s *stubImpact) AnalyzeImpact(ctx context.Context, in agents.ImpactInput) (agents.ImpactReport, error) {
	s.input = in
	return s.report, s.err
}

func draft(title string, steps ...string) testcase.TestCase {
	c := testcase.TestCase{
		Title:          title,
		Preconditions:  "用户已注册并登录系统",
		ExpectedResult: "系统返回预期的处理结果",
		Priority:       "high",
		Type:           "functional",
	}
	for i, s := range steps {
		c.Steps = append(c.Steps, testcase.Step{Number: i + 1, Action: s, Expected: "操作成功"})
	}
	return c
}

func warningsOf(out Outcome) []string {
	w, _ := out.Metadata["warnings"].([]string)
	return w
}

func hasWarning(out Outcome, substr string) bool {
	for _, w := range warningsOf(out) {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
