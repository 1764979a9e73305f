package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lucasnoah/casepilot/internal/casestore"
	"github.com/lucasnoah/casepilot/internal/orchestrator"
	"github.com/lucasnoah/casepilot/internal/testcase"
)

// ErrNothingToSave is returned by SaveCases for envelopes without cases.
var ErrNothingToSave = errors.New("response has no test cases to save")

// CasesFromResponse extracts generated (test_cases) or supplementary
// (supplementary_cases) test cases from a successful envelope.
func CasesFromResponse(resp *orchestrator.Response) ([]testcase.TestCase, error) {
	if resp == nil || !resp.OK {
		return nil, ErrNothingToSave
	}
	for _, key := range []string{"test_cases", "supplementary_cases"} {
		raw, ok := resp.Data[key]
		if !ok {
			continue
		}
		if cases, ok := raw.([]testcase.TestCase); ok {
			return cases, nil
		}
		// Envelopes read back from JSON carry generic values.
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		var cases []testcase.TestCase
		if err := json.Unmarshal(data, &cases); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		return cases, nil
	}
	return nil, ErrNothingToSave
}

// SaveCases persists the envelope's cases to the case store.
func (a *App) SaveCases(ctx context.Context, projectID string, resp *orchestrator.Response) ([]casestore.Saved, error) {
	if a.Cases == nil {
		return nil, errors.New("case store is not open")
	}
	cases, err := CasesFromResponse(resp)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, ErrNothingToSave
	}
	return casestore.SaveAll(ctx, a.Cases, projectID, cases)
}
