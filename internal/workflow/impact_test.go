package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/lucasnoah/casepilot/internal/agents"
	"github.com/lucasnoah/casepilot/internal/retrieval"
)

func TestImpactHappyPath(t *testing.T) {
	search := &stubSearch{fn: func(q retrieval.Query) ([]retrieval.Result, error) {
		if q.Kind == retrieval.KindPRD {
			return []retrieval.Result{{ID: "doc-1"}}, nil
		}
		return []retrieval.Result{{ID: "tc-1"}, {ID: "tc-2"}}, nil
	}}
	analyzer := &stubImpact{report: agents.ImpactReport{
		Summary:           "登录流程变更",
		AffectedModules:   []string{"登录", "会话"},
		AffectedTestCases: []agents.AffectedCase{{Title: "登录成功", Action: "update"}},
		RiskLevel:         agents.RiskHigh,
		ChangeType:        agents.ChangeFeatureModify,
	}}
	w := NewImpact(search, analyzer, ImpactConfig{}, nil)

	out, err := w.Run(context.Background(), Request{
		Message:   "分析这次改动的影响",
		ProjectID: "p1",
		Params:    Params{ChangeDescription: "登录增加短信验证码"},
	})
	if err != nil || !out.OK {
		t.Fatalf("expected ok, got %+v, %v", out, err)
	}
	if analyzer.input.ChangeDescription != "登录增加短信验证码" {
		t.Errorf("change description = %q", analyzer.input.ChangeDescription)
	}
	if out.Metadata["risk_level"] != agents.RiskHigh || out.Metadata["affected_modules_count"] != 2 {
		t.Errorf("metadata = %+v", out.Metadata)
	}
	if out.Metadata["existing_cases_count"] != 2 || out.Metadata["prior_docs_count"] != 1 {
		t.Errorf("counts = %+v", out.Metadata)
	}
	qs := search.calls()
	if len(qs) != 2 || qs[1].Limit != 10 || qs[0].Text != "登录增加短信验证码" {
		t.Errorf("queries = %+v", qs)
	}
}

func TestImpactFallsBackToMessage(t *testing.T) {
	analyzer := &stubImpact{report: agents.ImpactReport{RiskLevel: agents.RiskLow}}
	w := NewImpact(&stubSearch{}, analyzer, ImpactConfig{}, nil)
	out, err := w.Run(context.Background(), Request{Message: "删除旧的导出功能", ProjectID: "p1"})
	if err != nil || !out.OK {
		t.Fatalf("expected ok, got %+v, %v", out, err)
	}
	if analyzer.input.ChangeDescription != "删除旧的导出功能" {
		t.Errorf("change description = %q", analyzer.input.ChangeDescription)
	}
}

func TestImpactAnalyzerFailure(t *testing.T) {
	search := &stubSearch{fn: func(q retrieval.Query) ([]retrieval.Result, error) {
		return []retrieval.Result{{ID: "x"}}, nil
	}}
	w := NewImpact(search, &stubImpact{err: errors.New("model unavailable")}, ImpactConfig{}, nil)
	out, err := w.Run(context.Background(), Request{Message: "改动", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.OK || out.Metadata["step"] != "analyze_impact" {
		t.Fatalf("expected analyze_impact failure, got %+v", out)
	}
	if out.Metadata["existing_cases_count"] != 1 {
		t.Errorf("failure metadata = %+v", out.Metadata)
	}
}
