package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lucasnoah/casepilot/internal/quality"
)

// smallSuite is the case count below which the suite is called out as thin.
const smallSuite = 5

// Suggestions turns optimization findings into ordered advice.
func Suggestions(issues []quality.CaseIssues, missing []string, existingCount, supplementaryCount int) []string {
	out := []string{}

	if len(issues) > 0 {
		out = append(out, pluralf(len(issues),
			"%d test case has quality issues; fix it to keep the suite maintainable and executable",
			"%d test cases have quality issues; fix them to keep the suite maintainable and executable"))

		counts := make(map[string]int)
		for _, ci := range issues {
			for _, is := range ci.Issues {
				counts[is.Rule]++
			}
		}
		rules := make([]string, 0, len(counts))
		for rule, n := range counts {
			if n >= 2 {
				rules = append(rules, rule)
			}
		}
		sort.Slice(rules, func(i, j int) bool {
			if counts[rules[i]] != counts[rules[j]] {
				return counts[rules[i]] > counts[rules[j]]
			}
			return rules[i] < rules[j]
		})
		for _, rule := range rules {
			out = append(out, fmt.Sprintf("%d test cases share the %q issue; fix them together", counts[rule], rule))
		}
	}

	if len(missing) > 0 {
		out = append(out, pluralf(len(missing),
			"%d functional point is not covered; add supplementary test cases",
			"%d functional points are not covered; add supplementary test cases"))
		for _, cat := range []struct {
			words []string
			label string
		}{
			{[]string{"功能", "functional"}, "functional"},
			{[]string{"异常", "exception"}, "exception handling"},
			{[]string{"边界", "boundary"}, "boundary value"},
		} {
			if n := countMatching(missing, cat.words); n > 0 {
				out = append(out, fmt.Sprintf("%d missing point(s) concern %s tests; prioritize them", n, cat.label))
			}
		}
	}

	if supplementaryCount > 0 {
		out = append(out, pluralf(supplementaryCount,
			"generated %d supplementary test case; review it before adding it to the suite",
			"generated %d supplementary test cases; review them before adding them to the suite"))
	}
	if existingCount < smallSuite {
		out = append(out, "the existing suite is small; add more test cases to raise coverage")
	}
	if len(issues) == 0 && len(missing) == 0 {
		out = append(out, "existing test cases are in good shape and cover the requirement; keep the current strategy")
	}
	return out
}

func countMatching(points []string, words []string) int {
	n := 0
	for _, p := range points {
		lower := strings.ToLower(p)
		for _, w := range words {
			if strings.Contains(lower, w) {
				n++
				break
			}
		}
	}
	return n
}

func pluralf(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf(one, n)
	}
	return fmt.Sprintf(many, n)
}
