package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lucasnoah/casepilot/internal/quality"
	"github.com/lucasnoah/casepilot/internal/testcase"
)

var caseItems = mcp.Items(map[string]any{"type": "object"})

func casesArg(req mcp.CallToolRequest) ([]testcase.TestCase, *mcp.CallToolResult) {
	var cases []testcase.TestCase
	present, err := decodeArg(req, "test_cases", &cases)
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	if !present {
		return nil, mcp.NewToolResultError("test_cases is required")
	}
	return cases, nil
}

// ScoreCoverageTool handles the score_coverage MCP tool.
type ScoreCoverageTool struct{}

// NewScoreCoverageTool creates a ScoreCoverageTool.
func NewScoreCoverageTool() *ScoreCoverageTool { return &ScoreCoverageTool{} }

// Definition returns the MCP tool definition for score_coverage.
func (t *ScoreCoverageTool) Definition() mcp.Tool {
	return mcp.NewTool("score_coverage",
		mcp.WithDescription(
			"Score how well test cases cover a requirement analysis. Returns overall, functional, "+
				"exception and boundary coverage plus covered and uncovered functional points.",
		),
		mcp.WithArray("test_cases", mcp.Required(), caseItems,
			mcp.Description("Test cases with title, preconditions, steps, expected_result, priority, type"),
		),
		mcp.WithObject("requirements", mcp.Required(),
			mcp.Description("{functional_points, exception_conditions, constraints} as string arrays"),
		),
	)
}

// Handle processes the score_coverage tool call.
func (t *ScoreCoverageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cases, errResult := casesArg(req)
	if errResult != nil {
		return errResult, nil
	}
	var r quality.Requirements
	present, err := decodeArg(req, "requirements", &r)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !present {
		return mcp.NewToolResultError("requirements is required"), nil
	}
	return jsonResult(quality.ScoreCoverage(cases, r)), nil
}

// DetectDuplicatesTool handles the detect_duplicates MCP tool.
type DetectDuplicatesTool struct {
	threshold float64
}

// NewDetectDuplicatesTool creates a DetectDuplicatesTool. threshold is the
// default when the call does not pass one.
func NewDetectDuplicatesTool(threshold float64) *DetectDuplicatesTool {
	return &DetectDuplicatesTool{threshold: threshold}
}

// Definition returns the MCP tool definition for detect_duplicates.
func (t *DetectDuplicatesTool) Definition() mcp.Tool {
	return mcp.NewTool("detect_duplicates",
		mcp.WithDescription("Find pairs of near-duplicate test cases by weighted title, step and expected-result similarity."),
		mcp.WithArray("test_cases", mcp.Required(), caseItems,
			mcp.Description("Test cases to compare pairwise"),
		),
		mcp.WithNumber("threshold",
			mcp.Description(fmt.Sprintf("Similarity at or above which a pair is a duplicate (default %.2f)", quality.DefaultDuplicateThreshold)),
		),
	)
}

// Handle processes the detect_duplicates tool call.
func (t *DetectDuplicatesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cases, errResult := casesArg(req)
	if errResult != nil {
		return errResult, nil
	}
	threshold := floatArg(req, "threshold", t.threshold)
	if threshold > 1 {
		return mcp.NewToolResultError("threshold must be between 0 and 1"), nil
	}
	return jsonResult(quality.DetectDuplicates(cases, threshold)), nil
}

// CheckQualityTool handles the check_quality MCP tool.
type CheckQualityTool struct{}

// NewCheckQualityTool creates a CheckQualityTool.
func NewCheckQualityTool() *CheckQualityTool { return &CheckQualityTool{} }

// Definition returns the MCP tool definition for check_quality.
func (t *CheckQualityTool) Definition() mcp.Tool {
	return mcp.NewTool("check_quality",
		mcp.WithDescription("Lint test cases: title, preconditions, steps, expected result, priority and type rules."),
		mcp.WithArray("test_cases", mcp.Required(), caseItems,
			mcp.Description("Test cases to lint"),
		),
	)
}

// Handle processes the check_quality tool call. Only cases with findings
// are listed.
func (t *CheckQualityTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cases, errResult := casesArg(req)
	if errResult != nil {
		return errResult, nil
	}
	results := []quality.CaseIssues{}
	errorCount := 0
	for i, c := range cases {
		issues := quality.CheckCase(c)
		if len(issues) == 0 {
			continue
		}
		errorCount += quality.CountSeverity(issues, quality.SeverityError)
		results = append(results, quality.CaseIssues{Index: i, ID: c.ID, Title: c.Title, Issues: issues})
	}
	return jsonResult(map[string]any{
		"total_cases":       len(cases),
		"cases_with_issues": len(results),
		"error_count":       errorCount,
		"results":           results,
	}), nil
}

// RankCasesTool handles the rank_cases MCP tool.
type RankCasesTool struct{}

// NewRankCasesTool creates a RankCasesTool.
func NewRankCasesTool() *RankCasesTool { return &RankCasesTool{} }

// Definition returns the MCP tool definition for rank_cases.
func (t *RankCasesTool) Definition() mcp.Tool {
	return mcp.NewTool("rank_cases",
		mcp.WithDescription("Deduplicate candidate test cases by id and rank them by priority (P0 first), then relevance score."),
		mcp.WithArray("candidates", mcp.Required(), caseItems,
			mcp.Description("Candidates with id, title, priority (P0..P3) and score"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of candidates to return (default all)"),
		),
	)
}

// Handle processes the rank_cases tool call.
func (t *RankCasesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var cs []quality.Candidate
	present, err := decodeArg(req, "candidates", &cs)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !present {
		return mcp.NewToolResultError("candidates is required"), nil
	}
	unique := quality.DedupeCandidates(cs)
	ranked := quality.RankCandidates(unique)
	if limit := intArg(req, "limit", 0); limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return jsonResult(map[string]any{
		"total_candidates":  len(cs),
		"unique_candidates": len(unique),
		"ranked_cases":      ranked,
		"ranking_criteria":  quality.Criteria(),
	}), nil
}
