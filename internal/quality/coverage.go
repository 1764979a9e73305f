// Package quality holds the deterministic post-processing algorithms applied
// to test cases: coverage scoring, duplicate detection, rule-based linting,
// candidate ranking and the combined quality gate. Nothing here performs I/O.
package quality

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/lucasnoah/casepilot/internal/testcase"
)

// Requirements is the part of a requirement analysis that coverage is
// measured against.
type Requirements struct {
	FunctionalPoints    []string `json:"functional_points"`
	ExceptionConditions []string `json:"exception_conditions"`
	Constraints         []string `json:"constraints"`
}

// CoverageDetails carries the raw counts behind a CoverageReport.
type CoverageDetails struct {
	TotalFunctionalPoints   int `json:"total_functional_points"`
	CoveredFunctionalPoints int `json:"covered_functional_points"`
	TotalExceptions         int `json:"total_exception_conditions"`
	ExceptionCases          int `json:"exception_test_cases"`
	TotalConstraints        int `json:"total_constraints"`
	BoundaryCases           int `json:"boundary_test_cases"`
}

// CoverageReport scores a case set against a requirement analysis. All scores
// are percentages in [0, 100]. Covered and Uncovered partition the distinct
// functional points, in input order.
type CoverageReport struct {
	Overall    float64         `json:"overall_score"`
	Functional float64         `json:"functional_coverage"`
	Exception  float64         `json:"exception_coverage"`
	Boundary   float64         `json:"boundary_coverage"`
	Covered    []string        `json:"covered_points"`
	Uncovered  []string        `json:"uncovered_points"`
	Details    CoverageDetails `json:"coverage_details"`
}

// ScoreCoverage computes functional, exception and boundary coverage and the
// weighted overall score (0.5 / 0.3 / 0.2). A category with no declared
// requirements scores 100.
func ScoreCoverage(cases []testcase.TestCase, req Requirements) CoverageReport {
	points := distinct(req.FunctionalPoints)
	report := CoverageReport{
		Covered:   make([]string, 0, len(points)),
		Uncovered: make([]string, 0),
	}

	for _, p := range points {
		if pointCovered(p, cases) {
			report.Covered = append(report.Covered, p)
		} else {
			report.Uncovered = append(report.Uncovered, p)
		}
	}

	var exceptionCases, boundaryCases int
	for _, c := range cases {
		switch testcase.NormalizeType(c.Type) {
		case testcase.TypeException:
			exceptionCases++
		case testcase.TypeBoundary:
			boundaryCases++
		}
	}

	functional := ratio(len(report.Covered), len(points))
	exception := ratio(exceptionCases, len(req.ExceptionConditions))
	boundary := ratio(boundaryCases, len(req.Constraints))

	report.Functional = round(functional, 2)
	report.Exception = round(exception, 2)
	report.Boundary = round(boundary, 2)
	report.Overall = round(functional*0.5+exception*0.3+boundary*0.2, 2)
	report.Details = CoverageDetails{
		TotalFunctionalPoints:   len(points),
		CoveredFunctionalPoints: len(report.Covered),
		TotalExceptions:         len(req.ExceptionConditions),
		ExceptionCases:          exceptionCases,
		TotalConstraints:        len(req.Constraints),
		BoundaryCases:           boundaryCases,
	}
	return report
}

// ratio returns hits/declared as a percentage capped at 100; zero declared is 100.
func ratio(hits, declared int) float64 {
	if declared == 0 {
		return 100
	}
	return math.Min(float64(hits)/float64(declared)*100, 100)
}

// pointCovered reports whether any token longer than two runes of the point
// appears in a case's title, preconditions or expected result.
func pointCovered(point string, cases []testcase.TestCase) bool {
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(point)) {
		if utf8.RuneCountInString(w) > 2 {
			keywords = append(keywords, w)
		}
	}
	if len(keywords) == 0 {
		return false
	}
	for _, c := range cases {
		title := strings.ToLower(c.Title)
		pre := strings.ToLower(c.Preconditions)
		expected := strings.ToLower(c.ExpectedResult)
		for _, kw := range keywords {
			if strings.Contains(title, kw) || strings.Contains(pre, kw) || strings.Contains(expected, kw) {
				return true
			}
		}
	}
	return false
}

func distinct(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
