package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/llm"
	"github.com/lucasnoah/casepilot/internal/prompt"
	"github.com/lucasnoah/casepilot/internal/retrieval"
	"github.com/lucasnoah/casepilot/internal/testcase"
)

// DesignInput is what the designer works from.
type DesignInput struct {
	Analysis   Analysis
	PriorCases []retrieval.Result
	// FocusPoints restricts the design to these functional points when set.
	FocusPoints []string
}

// Designer turns an Analysis into draft test cases.
type Designer struct {
	base
}

func NewDesigner(c llm.Completer, lib *prompt.Library, log *zap.Logger) *Designer {
	return &Designer{base: newBase(c, lib, log)}
}

// Design calls the model and returns the valid drafts it produced.
func (d *Designer) Design(ctx context.Context, in DesignInput) ([]testcase.TestCase, error) {
	analysis, err := json.MarshalIndent(in.Analysis, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode analysis: %w", err)
	}
	var focus string
	if len(in.FocusPoints) > 0 {
		focus = "- " + strings.Join(in.FocusPoints, "\n- ")
	}

	raw, err := d.complete(ctx, call{
		system: prompt.DesignSystem,
		user:   prompt.Design,
		vars: prompt.Vars{
			"analysis":     string(analysis),
			"focus_points": focus,
			"prior_cases":  summarizeResults(in.PriorCases, 120),
		},
		temperature: 0.5,
		maxTokens:   4000,
	})
	if err != nil {
		return nil, err
	}

	drafts, skipped, err := ParseDrafts(raw)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		d.log.Warn("skipped invalid test case drafts", zap.Int("skipped", skipped))
	}
	d.log.Info("test cases designed", zap.Int("drafts", len(drafts)))
	return drafts, nil
}

type draftJSON struct {
	Title          *string         `json:"title"`
	Preconditions  string          `json:"preconditions"`
	Steps          json.RawMessage `json:"steps"`
	ExpectedResult *string         `json:"expected_result"`
	Priority       string          `json:"priority"`
	Type           string          `json:"type"`
	Rationale      string          `json:"rationale"`
}

// ParseDrafts decodes a model reply into drafts. The reply may be an array or
// an object with a "test_cases" array. Entries that are not objects, or lack a
// title, steps or expected result, are skipped and counted. Zero valid
// drafts is an error.
func ParseDrafts(raw string) ([]testcase.TestCase, int, error) {
	var items []json.RawMessage
	if err := llm.DecodeJSON(raw, &items); err != nil {
		var wrapped struct {
			TestCases []json.RawMessage `json:"test_cases"`
		}
		if werr := llm.DecodeJSON(raw, &wrapped); werr != nil || wrapped.TestCases == nil {
			return nil, 0, err
		}
		items = wrapped.TestCases
	}

	var drafts []testcase.TestCase
	skipped := 0
	for _, item := range items {
		c, ok := parseDraft(item)
		if !ok {
			skipped++
			continue
		}
		drafts = append(drafts, c)
	}
	if len(drafts) == 0 {
		return nil, skipped, &llm.MalformedOutputError{Raw: raw, Err: errors.New("no valid test cases in reply")}
	}
	return drafts, skipped, nil
}

func parseDraft(item json.RawMessage) (testcase.TestCase, bool) {
	var d draftJSON
	if err := json.Unmarshal(item, &d); err != nil {
		return testcase.TestCase{}, false
	}
	if d.Title == nil || d.ExpectedResult == nil || len(d.Steps) == 0 || string(d.Steps) == "null" {
		return testcase.TestCase{}, false
	}
	steps, ok := parseSteps(d.Steps)
	if !ok {
		return testcase.TestCase{}, false
	}
	return testcase.TestCase{
		Title:          *d.Title,
		Preconditions:  d.Preconditions,
		Steps:          steps,
		ExpectedResult: *d.ExpectedResult,
		Priority:       strings.ToLower(strings.TrimSpace(d.Priority)),
		Type:           strings.ToLower(strings.TrimSpace(d.Type)),
		Rationale:      d.Rationale,
	}, true
}

// parseSteps accepts a list of strings or step objects, or a single string.
func parseSteps(data json.RawMessage) ([]testcase.Step, bool) {
	var steps []testcase.Step
	if err := json.Unmarshal(data, &steps); err == nil {
		return steps, true
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		return []testcase.Step{{Action: single}}, true
	}
	return nil, false
}
