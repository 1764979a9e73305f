package testcase

import (
	"fmt"
	"strings"
)

var priorityMap = map[string]string{
	"high":   PriorityHigh,
	"高":      PriorityHigh,
	"p0":     PriorityHigh,
	"p1":     PriorityHigh,
	"medium": PriorityMedium,
	"中":      PriorityMedium,
	"p2":     PriorityMedium,
	"low":    PriorityLow,
	"低":      PriorityLow,
	"p3":     PriorityLow,
	"p4":     PriorityLow,
}

var typeMap = map[string]string{
	"functional":  TypeFunctional,
	"功能":          TypeFunctional,
	"功能测试":        TypeFunctional,
	"boundary":    TypeBoundary,
	"边界":          TypeBoundary,
	"边界值":         TypeBoundary,
	"exception":   TypeException,
	"异常":          TypeException,
	"异常测试":        TypeException,
	"security":    TypeSecurity,
	"安全":          TypeSecurity,
	"安全测试":        TypeSecurity,
	"performance": TypePerformance,
	"性能":          TypePerformance,
	"性能测试":        TypePerformance,
}

// NormalizePriority maps a priority label onto high, medium or low.
// Unrecognized labels become medium.
func NormalizePriority(p string) string {
	if v, ok := priorityMap[strings.ToLower(strings.TrimSpace(p))]; ok {
		return v
	}
	return PriorityMedium
}

// NormalizeType maps a type label onto the canonical type vocabulary.
// Unrecognized labels become functional.
func NormalizeType(t string) string {
	if v, ok := typeMap[strings.ToLower(strings.TrimSpace(t))]; ok {
		return v
	}
	return TypeFunctional
}

// Format normalizes drafts into canonical shape: trimmed text, vocabulary
// normalization, default step numbers and a default title. Steps with an
// empty action are dropped. A draft left without any step is dropped too and
// its input index is reported in dropped.
func Format(drafts []TestCase) (formatted []TestCase, dropped []int) {
	formatted = make([]TestCase, 0, len(drafts))
	for i, d := range drafts {
		c := TestCase{
			ID:             d.ID,
			Title:          strings.TrimSpace(d.Title),
			Preconditions:  strings.TrimSpace(d.Preconditions),
			ExpectedResult: strings.TrimSpace(d.ExpectedResult),
			Priority:       NormalizePriority(d.Priority),
			Type:           NormalizeType(d.Type),
			Rationale:      strings.TrimSpace(d.Rationale),
			Steps:          formatSteps(d.Steps),
		}
		if c.Title == "" {
			c.Title = fmt.Sprintf("测试用例 %d", i+1)
		}
		if len(c.Steps) == 0 {
			dropped = append(dropped, i)
			continue
		}
		formatted = append(formatted, c)
	}
	return formatted, dropped
}

func formatSteps(steps []Step) []Step {
	out := make([]Step, 0, len(steps))
	for i, s := range steps {
		action := strings.TrimSpace(s.Action)
		if action == "" {
			continue
		}
		n := s.Number
		if n <= 0 {
			n = i + 1
		}
		out = append(out, Step{Number: n, Action: action, Expected: strings.TrimSpace(s.Expected)})
	}
	return out
}
