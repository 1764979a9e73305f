// Package task names the kinds of work the dispatcher can route to and
// classifies free-text requests into one of them.
package task

// Variant is the classified kind of a request.
type Variant string

const (
	Generate   Variant = "generate_test_cases"
	Impact     Variant = "impact_analysis"
	Regression Variant = "regression_recommendation"
	Optimize   Variant = "test_case_optimization"
	Unknown    Variant = "unknown"
)

// Workflow names registered with the dispatcher.
const (
	WorkflowGeneration   = "test_case_generation"
	WorkflowImpact       = "impact_analysis"
	WorkflowRegression   = "regression_recommendation"
	WorkflowOptimization = "test_case_optimization"
)

var workflowFor = map[Variant]string{
	Generate:   WorkflowGeneration,
	Impact:     WorkflowImpact,
	Regression: WorkflowRegression,
	Optimize:   WorkflowOptimization,
}

// Variants lists every variant, Unknown last.
func Variants() []Variant {
	return []Variant{Generate, Impact, Regression, Optimize, Unknown}
}

// Parse maps a token to its Variant.
func Parse(s string) (Variant, bool) {
	for _, v := range Variants() {
		if string(v) == s {
			return v, true
		}
	}
	return Unknown, false
}

// WorkflowName returns the workflow that handles v. Unknown has none.
func (v Variant) WorkflowName() (string, bool) {
	name, ok := workflowFor[v]
	return name, ok
}
