package orchestrator

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/lucasnoah/casepilot/internal/agents"
	"github.com/lucasnoah/casepilot/internal/llm"
	"github.com/lucasnoah/casepilot/internal/prompt"
	"github.com/lucasnoah/casepilot/internal/quality"
	"github.com/lucasnoah/casepilot/internal/retrieval"
	"github.com/lucasnoah/casepilot/internal/task"
	"github.com/lucasnoah/casepilot/internal/testcase"
	"github.com/lucasnoah/casepilot/internal/workflow"
)

const analysisReply = "```json\n" + `{
  "functional_points": ["登录成功跳转"],
  "business_rules": ["密码错误五次锁定"],
  "input_specs": {"username": "string"},
  "output_specs": {},
  "exception_conditions": ["密码错误"],
  "constraints": []
}` + "\n```"

const designReply = `以下是测试用例：
[
  {"title": "测试用户登录成功跳转首页", "preconditions": "用户已注册账号", "steps": ["打开登录页", "输入正确账号密码并提交"], "expected_result": "登录成功并跳转到首页", "priority": "HIGH", "type": "functional"},
  {"title": "测试密码错误时的提示信息", "preconditions": "用户已注册账号", "steps": [{"step_number": 1, "action": "输入错误密码", "expected": "提示密码错误"}, {"action": "再次提交"}], "expected_result": "页面提示密码错误", "priority": "中", "type": "exception"}
]`

const impactReply = `{"summary": "登录增加验证码", "affected_modules": ["登录"], "affected_test_cases": [{"title": "登录成功", "reason": "流程变化", "action": "update"}], "risk_level": "HIGH", "recommendations": ["回归登录流程"], "change_type": "feature_modify"}`

// fakeModel answers each agent by recognizing its prompt.
type fakeModel struct {
	classifyCalls atomic.Int32
	reviewFails   bool
}

func (m *fakeModel) Complete(ctx context.Context, req llm.Request) (string, error) {
	text := req.Messages[0].Content
	switch {
	case strings.Contains(text, "判断任务类型"):
		m.classifyCalls.Add(1)
		return "unknown", nil
	case strings.Contains(text, "需求分析专家"):
		return analysisReply, nil
	case strings.Contains(text, "测试设计专家"):
		return designReply, nil
	case strings.Contains(text, "质量保证专家"):
		if m.reviewFails {
			return "", &llm.APIError{StatusCode: 503, Body: "overloaded"}
		}
		return `{"coverage_score": 92, "approved_cases": [0, 1], "rejected_cases": [], "overall_quality": "excellent"}`, nil
	case strings.Contains(text, "需求变更"):
		return impactReply, nil
	}
	return "", &llm.APIError{StatusCode: 400, Body: "unexpected prompt"}
}

type fakeSearch struct{}

func (fakeSearch) Search(ctx context.Context, q retrieval.Query) ([]retrieval.Result, error) {
	if q.Kind == retrieval.KindPRD {
		return []retrieval.Result{{ID: "prd-1", Title: "登录需求 v1", Content: "支持账号密码登录", Score: 0.9}}, nil
	}
	return []retrieval.Result{
		{ID: "tc-1", Title: "登录成功", Score: 0.8, Metadata: map[string]any{"priority": "P1"}},
		{ID: "tc-2", Title: "账号锁定", Score: 0.7, Metadata: map[string]any{"priority": "P0"}},
	}, nil
}

func newE2EDispatcher(model *fakeModel) *Dispatcher {
	lib := prompt.NewLibrary("")
	search := fakeSearch{}
	analyzer := agents.NewAnalyzer(model, lib, nil)
	designer := agents.NewDesigner(model, lib, nil)

	d := New(task.NewClassifier(model, lib, nil), Options{})
	d.Register(workflow.NewGeneration(search, analyzer, designer, agents.NewReviewer(model, lib, nil), workflow.GenerationConfig{}, nil))
	d.Register(workflow.NewImpact(search, agents.NewImpactAnalyzer(model, lib, nil), workflow.ImpactConfig{}, nil))
	d.Register(workflow.NewRegression(search, workflow.RegressionConfig{}, nil))
	d.Register(workflow.NewOptimization(search, analyzer, designer, workflow.OptimizationConfig{}, nil))
	return d
}

func TestE2E_GenerationByKeyword(t *testing.T) {
	model := &fakeModel{}
	d := newE2EDispatcher(model)

	resp := d.Handle(context.Background(), Request{Message: "生成用户登录的测试用例", ProjectID: "p1"})
	if !resp.OK {
		t.Fatalf("expected ok, got %+v", resp)
	}
	if resp.Task != task.Generate {
		t.Errorf("task = %q", resp.Task)
	}
	if n := model.classifyCalls.Load(); n != 0 {
		t.Errorf("classifier model called %d times on a keyword match", n)
	}
	cases := resp.Data["test_cases"].([]testcase.TestCase)
	if len(cases) != 2 {
		t.Fatalf("cases = %+v", cases)
	}
	if cases[0].Priority != testcase.PriorityHigh || cases[1].Priority != testcase.PriorityMedium {
		t.Errorf("priorities = %q, %q", cases[0].Priority, cases[1].Priority)
	}
	if cases[1].Steps[1].Number != 2 {
		t.Errorf("step number default not applied: %+v", cases[1].Steps)
	}
	if resp.Metadata["coverage_score"] != 92 || resp.Metadata["approved_count"] != 2 {
		t.Errorf("metadata = %+v", resp.Metadata)
	}
	gate := resp.Data["gate"].(*quality.GateResult)
	if gate.Coverage.Functional != 100 {
		t.Errorf("functional coverage = %v", gate.Coverage.Functional)
	}
}

func TestE2E_ReviewerOutageFailsOpen(t *testing.T) {
	d := newE2EDispatcher(&fakeModel{reviewFails: true})
	resp := d.Handle(context.Background(), Request{Message: "生成用户登录的测试用例", ProjectID: "p1"})
	if !resp.OK {
		t.Fatalf("expected ok, got %+v", resp)
	}
	if resp.Metadata["approved_count"] != resp.Metadata["total_generated"] {
		t.Errorf("metadata = %+v", resp.Metadata)
	}
	found := false
	for _, w := range resp.Warnings() {
		if strings.Contains(w, "quality review failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v", resp.Warnings())
	}
}

func TestE2E_Impact(t *testing.T) {
	d := newE2EDispatcher(&fakeModel{})
	resp := d.Handle(context.Background(), Request{Message: "分析登录改动的影响", ProjectID: "p1"})
	if !resp.OK || resp.Task != task.Impact {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Metadata["risk_level"] != agents.RiskHigh {
		t.Errorf("risk_level = %v", resp.Metadata["risk_level"])
	}
}

func TestE2E_Regression(t *testing.T) {
	d := newE2EDispatcher(&fakeModel{})
	resp := d.Handle(context.Background(), Request{
		Message:   "推荐回归测试用例",
		ProjectID: "p1",
		Params:    workflow.Params{ChangedModules: []string{"登录", "账号"}},
	})
	if !resp.OK || resp.Task != task.Regression {
		t.Fatalf("resp = %+v", resp)
	}
	rec := resp.Data["recommended_cases"].([]quality.Candidate)
	if len(rec) != 2 || rec[0].ID != "tc-2" {
		t.Errorf("recommended = %+v", rec)
	}
	if resp.Metadata["total_candidates"] != 4 || resp.Metadata["unique_candidates"] != 2 {
		t.Errorf("metadata = %+v", resp.Metadata)
	}
}

func TestE2E_ModelClassifiesUnknown(t *testing.T) {
	model := &fakeModel{}
	d := newE2EDispatcher(model)
	resp := d.Handle(context.Background(), Request{Message: "今天天气怎么样", ProjectID: "p1"})
	if resp.OK || resp.Reason() != ReasonUnknownTask {
		t.Errorf("resp = %+v", resp)
	}
	if model.classifyCalls.Load() != 1 {
		t.Errorf("classify calls = %d", model.classifyCalls.Load())
	}
}
