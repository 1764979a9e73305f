package quality

import (
	"strings"
	"testing"

	"github.com/lucasnoah/casepilot/internal/testcase"
)

func goodCase() testcase.TestCase {
	return testcase.TestCase{
		Title:         "测试用户名密码登录成功",
		Preconditions: "用户已注册且账号未锁定",
		Steps: []testcase.Step{
			{Number: 1, Action: "输入用户名和密码", Expected: "输入框显示内容"},
			{Number: 2, Action: "点击登录按钮", Expected: "跳转到首页"},
		},
		ExpectedResult: "用户成功登录并看到个人首页欢迎信息",
		Priority:       "High",
		Type:           "功能",
	}
}

func rules(issues []Issue) map[string]Issue {
	m := make(map[string]Issue)
	for _, is := range issues {
		m[is.Rule] = is
	}
	return m
}

func TestCheckCase_Clean(t *testing.T) {
	if issues := CheckCase(goodCase()); len(issues) != 0 {
		t.Errorf("expected no issues, got %+v", issues)
	}
}

func TestCheckCase_EnglishTitlePrefix(t *testing.T) {
	c := goodCase()
	c.Title = "TEST login succeeds with valid password"
	if _, ok := rules(CheckCase(c))[RuleTitleFormat]; ok {
		t.Error("title starting with TEST should satisfy title_format")
	}
}

func TestCheckCase_AllRules(t *testing.T) {
	c := testcase.TestCase{
		Title:         "登录",
		Preconditions: "无",
		Steps: []testcase.Step{
			{Action: "", Expected: ""},
		},
		ExpectedResult: "成功",
		Priority:       "urgent",
		Type:           "smoke",
	}
	got := rules(CheckCase(c))

	want := map[string]Severity{
		RuleTitleLength:          SeverityWarning,
		RuleTitleFormat:          SeverityInfo,
		RuleMissingPreconditions: SeverityError,
		RuleInsufficientSteps:    SeverityWarning,
		RuleMissingStepAction:    SeverityError,
		RuleMissingStepExpected:  SeverityWarning,
		RuleVagueExpectedResult:  SeverityError,
		RuleInvalidPriority:      SeverityWarning,
		RuleInvalidType:          SeverityWarning,
	}
	if len(got) != len(want) {
		t.Errorf("got %d rules, want %d: %+v", len(got), len(want), got)
	}
	for rule, sev := range want {
		is, ok := got[rule]
		if !ok {
			t.Errorf("missing rule %s", rule)
			continue
		}
		if is.Severity != sev {
			t.Errorf("%s severity = %s, want %s", rule, is.Severity, sev)
		}
	}
	if got[RuleMissingStepAction].Field != "steps[0].action" {
		t.Errorf("field = %q", got[RuleMissingStepAction].Field)
	}
}

func TestCheckCase_StepRulesEmitOnce(t *testing.T) {
	c := goodCase()
	c.Steps = []testcase.Step{
		{Action: "a", Expected: ""},
		{Action: "", Expected: "x"},
		{Action: "", Expected: ""},
	}
	issues := CheckCase(c)
	count := map[string]int{}
	for _, is := range issues {
		count[is.Rule]++
	}
	if count[RuleMissingStepAction] != 1 || count[RuleMissingStepExpected] != 1 {
		t.Fatalf("counts = %v, want one entry per rule", count)
	}
	got := rules(issues)
	if !strings.Contains(got[RuleMissingStepAction].Message, "2, 3") {
		t.Errorf("action message = %q, want steps 2, 3", got[RuleMissingStepAction].Message)
	}
	if got[RuleMissingStepAction].Field != "steps.action" {
		t.Errorf("field = %q", got[RuleMissingStepAction].Field)
	}
}

func TestCheckCase_VocabularyCaseInsensitive(t *testing.T) {
	for _, p := range []string{"HIGH", "Medium", "低", ""} {
		c := goodCase()
		c.Priority = p
		if _, ok := rules(CheckCase(c))[RuleInvalidPriority]; ok {
			t.Errorf("priority %q flagged as invalid", p)
		}
	}
	for _, ty := range []string{"Boundary", "SECURITY", "性能", "exception"} {
		c := goodCase()
		c.Type = ty
		if _, ok := rules(CheckCase(c))[RuleInvalidType]; ok {
			t.Errorf("type %q flagged as invalid", ty)
		}
	}
}

func TestCountSeverity(t *testing.T) {
	issues := []Issue{{Severity: SeverityError}, {Severity: SeverityWarning}, {Severity: SeverityError}}
	if n := CountSeverity(issues, SeverityError); n != 2 {
		t.Errorf("errors = %d", n)
	}
}
