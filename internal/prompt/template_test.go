package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRender_SimpleVars(t *testing.T) {
	tmpl := "需求：{{requirement}}，项目 {{project}}。"
	vars := Vars{
		"requirement": "用户登录",
		"project":     "p-42",
	}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "需求：用户登录，项目 p-42。"
	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}

func TestRender_MissingVars(t *testing.T) {
	_, err := Render("{{a}} and {{b}} and {{c}}", Vars{"b": "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "a") || !strings.Contains(err.Error(), "c") {
		t.Errorf("error should mention all missing vars, got: %v", err)
	}
}

func TestRender_Conditionals(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		vars Vars
		want string
	}{
		{"present", "Start.{{#if docs}}\nDocs: {{docs}}\n{{/if}}End.", Vars{"docs": "prd-1"}, "Start.\nDocs: prd-1\nEnd."},
		{"absent", "Start.{{#if docs}}\nDocs: {{docs}}\n{{/if}}End.", Vars{}, "Start.End."},
		{"empty string", "A{{#if docs}}B{{/if}}C", Vars{"docs": ""}, "AC"},
		{"nested", "{{#if a}}outer {{#if b}}inner{{/if}} end{{/if}}", Vars{"a": "y", "b": "y"}, "outer inner end"},
		{"nested outer absent", "START{{#if a}}outer {{#if b}}inner{{/if}} end{{/if}}FINISH", Vars{}, "STARTFINISH"},
		{"trailing whitespace in tag", "{{#if x }}content{{/if}}", Vars{"x": "y"}, "content"},
		{"missing var inside excluded block", "START{{#if x}}with {{y}}{{/if}}MORE", Vars{}, "STARTMORE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.tmpl, tt.vars)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRender_ValuesAreNotReexpanded(t *testing.T) {
	result, err := Render("{{a}} and {{b}}", Vars{"a": "{{b}}", "b": "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "{{b}} and hello" {
		t.Errorf("expected literal insertion, got %q", result)
	}

	result, err = Render(`{{#if note}}Note: {{note}}{{/if}} done`, Vars{"note": "use {{/if}} carefully"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "use {{/if}} carefully") {
		t.Errorf("expected var value preserved, got: %q", result)
	}
}

func TestRender_MalformedConditionals(t *testing.T) {
	if _, err := Render("START{{#if x}}content", Vars{"x": "y"}); err == nil || !strings.Contains(err.Error(), "unclosed") {
		t.Errorf("expected unclosed error, got %v", err)
	}
	if _, err := Render("content{{/if}}", Vars{}); err == nil || !strings.Contains(err.Error(), "dangling") {
		t.Errorf("expected dangling error, got %v", err)
	}
}

func TestBuiltinTemplatesRender(t *testing.T) {
	lib := NewLibrary("")
	tests := []struct {
		name string
		vars Vars
		want string
	}{
		{Classify, Vars{"message": "帮我看看这个", "history": "- user: hi", "last_task": "impact_analysis"}, "上一次任务类型：impact_analysis"},
		{AnalyzeSystem, Vars{}, "需求分析专家"},
		{Analyze, Vars{"requirement": "用户登录"}, "functional_points"},
		{DesignSystem, Vars{}, "测试设计专家"},
		{Design, Vars{"analysis": "{}", "focus_points": "- 密码找回"}, "密码找回"},
		{ReviewSystem, Vars{}, "质量保证专家"},
		{Review, Vars{"test_cases": "[]", "requirement": "r", "analysis": "{}"}, "rejected_cases"},
		{Impact, Vars{"change_description": "登录增加验证码"}, "登录增加验证码"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := lib.Render(tt.name, tt.vars)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected output to contain %q", tt.want)
			}
			if strings.Contains(out, "{{") {
				t.Errorf("unexpanded placeholder in output:\n%s", out)
			}
		})
	}
}

func TestClassifyTemplate_OmitsEmptySections(t *testing.T) {
	out, err := NewLibrary("").Render(Classify, Vars{"message": "hi"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(out, "对话历史") || strings.Contains(out, "上一次任务类型") {
		t.Errorf("optional sections should be omitted:\n%s", out)
	}
}

func TestLibrary_Override(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, Impact), []byte("custom {{change_description}}"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := NewLibrary(dir)
	out, err := lib.Render(Impact, Vars{"change_description": "x"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "custom x" {
		t.Errorf("override not used, got %q", out)
	}
	// Templates without an override fall back to the built-in text.
	if got, _ := lib.Load(Analyze); got != analyzeTemplate {
		t.Error("expected built-in analyze template")
	}
}

func TestLibrary_LoadRejects(t *testing.T) {
	lib := NewLibrary(t.TempDir())
	for _, name := range []string{"", "../secret.txt", "/etc/passwd", "nope.md"} {
		if _, err := lib.Load(name); err == nil {
			t.Errorf("Load(%q) should fail", name)
		}
	}
}

func TestInstall(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "prompts")
	written, err := Install(dir, false)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(written) != len(builtinTemplates) {
		t.Errorf("expected %d templates written, got %d", len(builtinTemplates), len(written))
	}

	custom := filepath.Join(dir, Review)
	os.WriteFile(custom, []byte("mine"), 0o644)

	written, err = Install(dir, false)
	if err != nil {
		t.Fatalf("second Install: %v", err)
	}
	if len(written) != 0 {
		t.Errorf("existing templates should be kept, wrote %v", written)
	}
	data, _ := os.ReadFile(custom)
	if string(data) != "mine" {
		t.Error("customized template was overwritten")
	}

	if _, err := Install(dir, true); err != nil {
		t.Fatalf("overwrite Install: %v", err)
	}
	data, _ = os.ReadFile(custom)
	if string(data) != reviewTemplate {
		t.Error("overwrite did not restore the built-in template")
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != len(builtinTemplates) {
		t.Fatalf("expected %d names, got %d", len(builtinTemplates), len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("names not sorted: %v", names)
		}
	}
}
