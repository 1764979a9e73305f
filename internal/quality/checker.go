package quality

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lucasnoah/casepilot/internal/testcase"
)

// Severity ranks a lint finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Rule codes emitted by CheckCase.
const (
	RuleTitleLength          = "title_length"
	RuleTitleFormat          = "title_format"
	RuleMissingPreconditions = "missing_preconditions"
	RuleInsufficientSteps    = "insufficient_steps"
	RuleMissingStepAction    = "missing_step_action"
	RuleMissingStepExpected  = "missing_step_expected"
	RuleVagueExpectedResult  = "vague_expected_result"
	RuleInvalidPriority      = "invalid_priority"
	RuleInvalidType          = "invalid_type"
)

const (
	minTitleRunes          = 10
	minPreconditionRunes   = 5
	minSteps               = 2
	minExpectedResultRunes = 10
)

var validPriorities = map[string]bool{
	"high": true, "medium": true, "low": true,
	"高": true, "中": true, "低": true,
}

var validTypes = map[string]bool{
	"functional": true, "boundary": true, "exception": true, "security": true, "performance": true,
	"功能": true, "边界": true, "异常": true, "安全": true, "性能": true,
}

// Issue is a single lint finding against one test case.
type Issue struct {
	Severity Severity `json:"severity"`
	Rule     string   `json:"rule"`
	Message  string   `json:"message"`
	Field    string   `json:"field"`
}

// CheckCase runs every lint rule against c. Each rule yields at most one
// issue; the step rules name all offending steps in a single message.
func CheckCase(c testcase.TestCase) []Issue {
	issues := make([]Issue, 0)

	if utf8.RuneCountInString(c.Title) < minTitleRunes {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Rule:     RuleTitleLength,
			Message:  fmt.Sprintf("title is too short, use at least %d characters", minTitleRunes),
			Field:    "title",
		})
	}
	if !strings.HasPrefix(c.Title, "测试") && !strings.HasPrefix(strings.ToLower(c.Title), "test") {
		issues = append(issues, Issue{
			Severity: SeverityInfo,
			Rule:     RuleTitleFormat,
			Message:  `title should start with "测试" or "Test"`,
			Field:    "title",
		})
	}
	if utf8.RuneCountInString(strings.TrimSpace(c.Preconditions)) < minPreconditionRunes {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Rule:     RuleMissingPreconditions,
			Message:  "preconditions are missing or incomplete",
			Field:    "preconditions",
		})
	}
	if len(c.Steps) < minSteps {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Rule:     RuleInsufficientSteps,
			Message:  fmt.Sprintf("only %d step(s), use at least %d", len(c.Steps), minSteps),
			Field:    "steps",
		})
	}

	var noAction, noExpected []int
	for i, s := range c.Steps {
		if strings.TrimSpace(s.Action) == "" {
			noAction = append(noAction, i+1)
		}
		if strings.TrimSpace(s.Expected) == "" {
			noExpected = append(noExpected, i+1)
		}
	}
	if len(noAction) > 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Rule:     RuleMissingStepAction,
			Message:  fmt.Sprintf("step %s missing an action", joinInts(noAction)),
			Field:    stepField(noAction, "action"),
		})
	}
	if len(noExpected) > 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Rule:     RuleMissingStepExpected,
			Message:  fmt.Sprintf("step %s missing an expected result", joinInts(noExpected)),
			Field:    stepField(noExpected, "expected"),
		})
	}

	if utf8.RuneCountInString(strings.TrimSpace(c.ExpectedResult)) < minExpectedResultRunes {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Rule:     RuleVagueExpectedResult,
			Message:  fmt.Sprintf("expected result must be specific and verifiable (at least %d characters)", minExpectedResultRunes),
			Field:    "expected_result",
		})
	}
	if p := strings.ToLower(strings.TrimSpace(c.Priority)); p != "" && !validPriorities[p] {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Rule:     RuleInvalidPriority,
			Message:  fmt.Sprintf("invalid priority %q, want high/medium/low", c.Priority),
			Field:    "priority",
		})
	}
	if t := strings.ToLower(strings.TrimSpace(c.Type)); t != "" && !validTypes[t] {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Rule:     RuleInvalidType,
			Message:  fmt.Sprintf("invalid type %q, want functional/boundary/exception/security/performance", c.Type),
			Field:    "type",
		})
	}
	return issues
}

// CountSeverity returns how many issues have the given severity.
func CountSeverity(issues []Issue, sev Severity) int {
	n := 0
	for _, is := range issues {
		if is.Severity == sev {
			n++
		}
	}
	return n
}

func stepField(steps []int, attr string) string {
	if len(steps) == 1 {
		return fmt.Sprintf("steps[%d].%s", steps[0]-1, attr)
	}
	return "steps." + attr
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	if len(parts) == 1 {
		return parts[0] + " is"
	}
	return strings.Join(parts, ", ") + " are"
}
