package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/casepilot/internal/testcase"
	"github.com/lucasnoah/casepilot/internal/workflow"
)

// readInput decodes a JSON or YAML file into v. YAML is converted to JSON
// first so that custom JSON decoders (bare-string steps) apply to both.
func readInput(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return decodeInput(data, isYAML(path), v)
}

func decodeInput(data []byte, fromYAML bool, v any) error {
	if fromYAML {
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("parse YAML: %w", err)
		}
		converted, err := json.Marshal(generic)
		if err != nil {
			return fmt.Errorf("convert YAML: %w", err)
		}
		data = converted
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

// readCases accepts a bare list of cases or an object with a "test_cases"
// list, such as a saved generation envelope's data.
func readCases(path string) ([]testcase.TestCase, error) {
	var raw json.RawMessage
	if err := readInput(path, &raw); err != nil {
		return nil, err
	}
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		var wrapped struct {
			TestCases []testcase.TestCase `json:"test_cases"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return wrapped.TestCases, nil
	}
	var cases []testcase.TestCase
	if err := json.Unmarshal(raw, &cases); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cases, nil
}

// parseParams reads workflow parameters from inline JSON or, with a leading
// "@", from a JSON or YAML file.
func parseParams(s string) (workflow.Params, error) {
	var p workflow.Params
	if s == "" {
		return p, nil
	}
	if path, ok := strings.CutPrefix(s, "@"); ok {
		if err := readInput(path, &p); err != nil {
			return p, fmt.Errorf("params: %w", err)
		}
		return p, nil
	}
	if err := decodeInput([]byte(s), false, &p); err != nil {
		return p, fmt.Errorf("params: %w", err)
	}
	return p, nil
}
