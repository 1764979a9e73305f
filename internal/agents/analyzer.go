package agents

import (
	"context"

	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/llm"
	"github.com/lucasnoah/casepilot/internal/prompt"
	"github.com/lucasnoah/casepilot/internal/quality"
	"github.com/lucasnoah/casepilot/internal/retrieval"
)

// Analysis is the structured form of a requirement.
type Analysis struct {
	FunctionalPoints    []string       `json:"functional_points"`
	BusinessRules       []string       `json:"business_rules"`
	InputSpecs          map[string]any `json:"input_specs"`
	OutputSpecs         map[string]any `json:"output_specs"`
	ExceptionConditions []string       `json:"exception_conditions"`
	Constraints         []string       `json:"constraints"`
}

// Requirements projects the analysis onto the coverage scorer's input.
func (a Analysis) Requirements() quality.Requirements {
	return quality.Requirements{
		FunctionalPoints:    a.FunctionalPoints,
		ExceptionConditions: a.ExceptionConditions,
		Constraints:         a.Constraints,
	}
}

// Analyzer extracts an Analysis from a free-text requirement.
type Analyzer struct {
	base
}

func NewAnalyzer(c llm.Completer, lib *prompt.Library, log *zap.Logger) *Analyzer {
	return &Analyzer{base: newBase(c, lib, log)}
}

// Analyze calls the model with the requirement and up to three prior
// requirement documents.
func (a *Analyzer) Analyze(ctx context.Context, requirement string, priorDocs []retrieval.Result) (Analysis, error) {
	raw, err := a.complete(ctx, call{
		system: prompt.AnalyzeSystem,
		user:   prompt.Analyze,
		vars: prompt.Vars{
			"requirement": requirement,
			"prior_docs":  summarizeResults(priorDocs, 200),
		},
		temperature: 0.3,
		maxTokens:   2000,
	})
	if err != nil {
		return Analysis{}, err
	}
	analysis, err := ParseAnalysis(raw)
	if err != nil {
		return Analysis{}, err
	}
	a.log.Info("requirement analyzed",
		zap.Int("functional_points", len(analysis.FunctionalPoints)),
		zap.Int("exception_conditions", len(analysis.ExceptionConditions)))
	return analysis, nil
}

// ParseAnalysis decodes a model reply. Missing fields default to empty.
func ParseAnalysis(raw string) (Analysis, error) {
	var data map[string]any
	if err := llm.DecodeJSON(raw, &data); err != nil {
		return Analysis{}, err
	}
	return Analysis{
		FunctionalPoints:    stringList(data["functional_points"]),
		BusinessRules:       stringList(data["business_rules"]),
		InputSpecs:          objectOrEmpty(data["input_specs"]),
		OutputSpecs:         objectOrEmpty(data["output_specs"]),
		ExceptionConditions: stringList(data["exception_conditions"]),
		Constraints:         stringList(data["constraints"]),
	}, nil
}
