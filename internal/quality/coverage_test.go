package quality

import (
	"testing"

	"github.com/lucasnoah/casepilot/internal/testcase"
)

func TestScoreCoverage_HalfFunctional(t *testing.T) {
	cases := []testcase.TestCase{
		{Title: "Test user login with valid password", Type: "functional"},
	}
	req := Requirements{FunctionalPoints: []string{"user login", "report export"}}

	got := ScoreCoverage(cases, req)

	if got.Functional != 50.0 {
		t.Errorf("functional = %v, want 50", got.Functional)
	}
	if len(got.Covered) != 1 || got.Covered[0] != "user login" {
		t.Errorf("covered = %v", got.Covered)
	}
	if len(got.Uncovered) != 1 || got.Uncovered[0] != "report export" {
		t.Errorf("uncovered = %v", got.Uncovered)
	}
}

func TestScoreCoverage_EmptyCategoriesScoreFull(t *testing.T) {
	got := ScoreCoverage(nil, Requirements{})
	if got.Functional != 100 || got.Exception != 100 || got.Boundary != 100 || got.Overall != 100 {
		t.Errorf("empty requirements = %+v, want all 100", got)
	}
	if got.Covered == nil || got.Uncovered == nil {
		t.Error("covered/uncovered should be non-nil")
	}
}

func TestScoreCoverage_ExceptionAndBoundaryCapped(t *testing.T) {
	cases := []testcase.TestCase{
		{Title: "a", Type: "exception"},
		{Title: "b", Type: "异常"},
		{Title: "c", Type: "exception"},
		{Title: "d", Type: "boundary"},
	}
	req := Requirements{
		FunctionalPoints:    []string{"zzzz"},
		ExceptionConditions: []string{"timeout"},
		Constraints:         []string{"max 20 chars", "min 6 chars"},
	}
	got := ScoreCoverage(cases, req)
	if got.Exception != 100 {
		t.Errorf("exception = %v, want capped at 100", got.Exception)
	}
	if got.Boundary != 50 {
		t.Errorf("boundary = %v, want 50", got.Boundary)
	}
	// 0*0.5 + 100*0.3 + 50*0.2
	if got.Overall != 40 {
		t.Errorf("overall = %v, want 40", got.Overall)
	}
	if got.Details.ExceptionCases != 3 || got.Details.BoundaryCases != 1 {
		t.Errorf("details = %+v", got.Details)
	}
}

func TestScoreCoverage_ShortTokensIgnored(t *testing.T) {
	cases := []testcase.TestCase{{Title: "go to it"}}
	got := ScoreCoverage(cases, Requirements{FunctionalPoints: []string{"go to"}})
	if len(got.Covered) != 0 {
		t.Errorf("tokens of <=2 runes should not count, covered = %v", got.Covered)
	}
}

func TestScoreCoverage_MatchesPreconditionsAndExpected(t *testing.T) {
	cases := []testcase.TestCase{
		{Title: "x", Preconditions: "Account is LOCKED"},
		{Title: "y", ExpectedResult: "a captcha is shown"},
	}
	req := Requirements{FunctionalPoints: []string{"locked account", "Captcha check"}}
	got := ScoreCoverage(cases, req)
	if len(got.Covered) != 2 {
		t.Errorf("covered = %v, want both", got.Covered)
	}
}

func TestScoreCoverage_PartitionAndBounds(t *testing.T) {
	cases := []testcase.TestCase{
		{Title: "Test checkout flow", Type: "functional"},
		{Title: "Test payment failure", Type: "exception"},
	}
	req := Requirements{
		FunctionalPoints:    []string{"checkout flow", "refund flow", "checkout flow", "coupon stacking"},
		ExceptionConditions: []string{"payment declined", "gateway timeout"},
	}
	got := ScoreCoverage(cases, req)

	seen := map[string]int{}
	for _, p := range got.Covered {
		seen[p]++
	}
	for _, p := range got.Uncovered {
		seen[p]++
	}
	want := []string{"checkout flow", "refund flow", "coupon stacking"}
	if len(seen) != len(want) {
		t.Fatalf("partition = %v, want %v", seen, want)
	}
	for _, p := range want {
		if seen[p] != 1 {
			t.Errorf("point %q appears %d times, want exactly once", p, seen[p])
		}
	}
	if got.Overall < 0 || got.Overall > 100 {
		t.Errorf("overall out of range: %v", got.Overall)
	}
}
