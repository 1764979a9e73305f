// Package testcase defines the test case record shared by the agents, the
// workflows and the quality engine, plus the formatter that normalizes
// model-produced drafts into canonical shape.
package testcase

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Canonical priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Canonical case types.
const (
	TypeFunctional  = "functional"
	TypeBoundary    = "boundary"
	TypeException   = "exception"
	TypeSecurity    = "security"
	TypePerformance = "performance"
)

// Step is one numbered action of a test case.
type Step struct {
	Number   int    `json:"step_number"`
	Action   string `json:"action"`
	Expected string `json:"expected"`
}

// UnmarshalJSON accepts either a step object or a bare string, which is taken
// as the action. Models emit both shapes.
func (s *Step) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var action string
		if err := json.Unmarshal(data, &action); err != nil {
			return fmt.Errorf("decode step: %w", err)
		}
		*s = Step{Action: action}
		return nil
	}

	var raw struct {
		StepNumber *int   `json:"step_number"`
		Number     *int   `json:"number"`
		Action     string `json:"action"`
		Expected   string `json:"expected"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode step: %w", err)
	}
	*s = Step{Action: raw.Action, Expected: raw.Expected}
	switch {
	case raw.StepNumber != nil:
		s.Number = *raw.StepNumber
	case raw.Number != nil:
		s.Number = *raw.Number
	}
	return nil
}

// TestCase is a test case draft or a stored test case. Priority and Type hold
// whatever the producer supplied until Format normalizes them.
type TestCase struct {
	ID             string `json:"id,omitempty"`
	Title          string `json:"title"`
	Preconditions  string `json:"preconditions"`
	Steps          []Step `json:"steps"`
	ExpectedResult string `json:"expected_result"`
	Priority       string `json:"priority"`
	Type           string `json:"type"`
	Rationale      string `json:"rationale,omitempty"`
}

// StepsText concatenates every step's action and expected text.
func (c TestCase) StepsText() string {
	parts := make([]string, 0, len(c.Steps))
	for _, s := range c.Steps {
		parts = append(parts, s.Action+" "+s.Expected)
	}
	return strings.Join(parts, " ")
}
