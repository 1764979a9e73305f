package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/llm"
	"github.com/lucasnoah/casepilot/internal/prompt"
	"github.com/lucasnoah/casepilot/internal/retrieval"
)

// Risk levels and change types accepted in an ImpactReport.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"

	ChangeFeatureAdd    = "feature_add"
	ChangeFeatureModify = "feature_modify"
	ChangeFeatureRemove = "feature_remove"
	ChangeBugFix        = "bug_fix"
)

const defaultImpactSummary = "impact analysis complete"

var (
	validRisk   = map[string]bool{RiskLow: true, RiskMedium: true, RiskHigh: true}
	validChange = map[string]bool{ChangeFeatureAdd: true, ChangeFeatureModify: true, ChangeFeatureRemove: true, ChangeBugFix: true}
)

// AffectedCase is an existing case the change touches.
type AffectedCase struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
	Action string `json:"action"` // update, retest, remove, add_new
}

// ImpactReport describes how a change affects the system under test.
type ImpactReport struct {
	Summary           string         `json:"summary"`
	AffectedModules   []string       `json:"affected_modules"`
	AffectedTestCases []AffectedCase `json:"affected_test_cases"`
	RiskLevel         string         `json:"risk_level"`
	Recommendations   []string       `json:"recommendations"`
	ChangeType        string         `json:"change_type"`
}

// ImpactInput is what the impact analyzer works from.
type ImpactInput struct {
	ChangeDescription string
	PriorDocs         []retrieval.Result
	ExistingCases     []retrieval.Result
}

// ImpactAnalyzer asks the model to assess a requirement change.
type ImpactAnalyzer struct {
	base
}

func NewImpactAnalyzer(c llm.Completer, lib *prompt.Library, log *zap.Logger) *ImpactAnalyzer {
	return &ImpactAnalyzer{base: newBase(c, lib, log)}
}

// AnalyzeImpact produces a normalized ImpactReport.
func (a *ImpactAnalyzer) AnalyzeImpact(ctx context.Context, in ImpactInput) (ImpactReport, error) {
	raw, err := a.complete(ctx, call{
		user: prompt.Impact,
		vars: prompt.Vars{
			"change_description": in.ChangeDescription,
			"prior_docs":         summarizeResults(in.PriorDocs, 200),
			"existing_cases":     summarizeCases(in.ExistingCases),
		},
		temperature: 0.3,
		maxTokens:   2000,
	})
	if err != nil {
		return ImpactReport{}, err
	}
	report, err := ParseImpact(raw)
	if err != nil {
		return ImpactReport{}, err
	}
	a.log.Info("impact analyzed",
		zap.String("risk_level", report.RiskLevel),
		zap.Int("affected_modules", len(report.AffectedModules)),
		zap.Int("affected_cases", len(report.AffectedTestCases)))
	return report, nil
}

// ParseImpact decodes a model reply. Every field is defaulted: risk_level to
// medium and change_type to feature_modify when missing or unrecognized.
func ParseImpact(raw string) (ImpactReport, error) {
	var data map[string]any
	if err := llm.DecodeJSON(raw, &data); err != nil {
		return ImpactReport{}, err
	}

	report := ImpactReport{
		Summary:           scalarString(data["summary"]),
		AffectedModules:   stringList(data["affected_modules"]),
		AffectedTestCases: []AffectedCase{},
		RiskLevel:         strings.ToLower(scalarString(data["risk_level"])),
		Recommendations:   stringList(data["recommendations"]),
		ChangeType:        strings.ToLower(scalarString(data["change_type"])),
	}
	if report.Summary == "" {
		report.Summary = defaultImpactSummary
	}
	if !validRisk[report.RiskLevel] {
		report.RiskLevel = RiskMedium
	}
	if !validChange[report.ChangeType] {
		report.ChangeType = ChangeFeatureModify
	}
	if items, ok := data["affected_test_cases"].([]any); ok {
		for _, item := range items {
			switch t := item.(type) {
			case map[string]any:
				report.AffectedTestCases = append(report.AffectedTestCases, AffectedCase{
					Title:  scalarString(t["title"]),
					Reason: scalarString(t["reason"]),
					Action: strings.ToLower(scalarString(t["action"])),
				})
			case string:
				report.AffectedTestCases = append(report.AffectedTestCases, AffectedCase{Title: t})
			}
		}
	}
	return report, nil
}

func summarizeCases(cases []retrieval.Result) string {
	var sb strings.Builder
	for i, c := range cases {
		if i == 5 {
			break
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c.Title)
		if m, ok := c.Metadata["module"].(string); ok && m != "" {
			fmt.Fprintf(&sb, "   模块: %s\n", m)
		}
		if p := c.Priority(); p != "" {
			fmt.Fprintf(&sb, "   优先级: %s\n", p)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
