package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/llm"
	"github.com/lucasnoah/casepilot/internal/prompt"
	"github.com/lucasnoah/casepilot/internal/testcase"
)

// Overall quality labels.
const (
	QualityExcellent        = "excellent"
	QualityGood             = "good"
	QualityNeedsImprovement = "needs_improvement"
	QualityUnknown          = "unknown"
)

// Rejection is a draft the reviewer turned down.
type Rejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// ReviewResult is the reviewer's verdict over a batch of drafts. Indices
// refer to positions in the reviewed batch.
type ReviewResult struct {
	CoverageScore  int         `json:"coverage_score"`
	Issues         []string    `json:"issues"`
	Suggestions    []string    `json:"suggestions"`
	ApprovedCases  []int       `json:"approved_cases"`
	RejectedCases  []Rejection `json:"rejected_cases"`
	OverallQuality string      `json:"overall_quality"`
}

// ApproveAll is the verdict used when no review is available.
func ApproveAll(n int) ReviewResult {
	approved := make([]int, n)
	for i := range approved {
		approved[i] = i
	}
	return ReviewResult{
		Issues:         []string{},
		Suggestions:    []string{},
		ApprovedCases:  approved,
		RejectedCases:  []Rejection{},
		OverallQuality: QualityUnknown,
	}
}

// Reviewer asks the model to grade drafts.
type Reviewer struct {
	base
}

func NewReviewer(c llm.Completer, lib *prompt.Library, log *zap.Logger) *Reviewer {
	return &Reviewer{base: newBase(c, lib, log)}
}

type reviewedCase struct {
	Index          int             `json:"index"`
	Title          string          `json:"title"`
	Preconditions  string          `json:"preconditions"`
	Steps          []testcase.Step `json:"steps"`
	ExpectedResult string          `json:"expected_result"`
	Priority       string          `json:"priority"`
	Type           string          `json:"type"`
}

// Review grades cases against the requirement and its analysis.
func (r *Reviewer) Review(ctx context.Context, cases []testcase.TestCase, requirement string, analysis Analysis) (ReviewResult, error) {
	indexed := make([]reviewedCase, len(cases))
	for i, c := range cases {
		indexed[i] = reviewedCase{i, c.Title, c.Preconditions, c.Steps, c.ExpectedResult, c.Priority, c.Type}
	}
	casesJSON, err := json.MarshalIndent(indexed, "", "  ")
	if err != nil {
		return ReviewResult{}, fmt.Errorf("encode cases: %w", err)
	}
	analysisJSON, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return ReviewResult{}, fmt.Errorf("encode analysis: %w", err)
	}

	raw, err := r.complete(ctx, call{
		system: prompt.ReviewSystem,
		user:   prompt.Review,
		vars: prompt.Vars{
			"test_cases":  string(casesJSON),
			"requirement": requirement,
			"analysis":    string(analysisJSON),
		},
		temperature: 0.3,
		maxTokens:   2000,
	})
	if err != nil {
		return ReviewResult{}, err
	}
	res, err := ParseReview(raw, len(cases))
	if err != nil {
		return ReviewResult{}, err
	}
	r.log.Info("review complete",
		zap.Int("coverage_score", res.CoverageScore),
		zap.Int("approved", len(res.ApprovedCases)),
		zap.Int("rejected", len(res.RejectedCases)),
		zap.String("overall_quality", res.OverallQuality))
	return res, nil
}

// ParseReview decodes a reviewer reply for a batch of n drafts. The score is
// clamped to 0..100, indices outside the batch are ignored, and a missing or
// unrecognized overall_quality is inferred from the score. When the reply
// has no approved_cases field, every draft not rejected is approved.
func ParseReview(raw string, n int) (ReviewResult, error) {
	var data map[string]any
	if err := llm.DecodeJSON(raw, &data); err != nil {
		return ReviewResult{}, err
	}

	score, _ := toInt(data["coverage_score"])
	score = max(0, min(100, score))

	res := ReviewResult{
		CoverageScore: score,
		Issues:        stringList(data["issues"]),
		Suggestions:   stringList(data["suggestions"]),
		ApprovedCases: []int{},
		RejectedCases: []Rejection{},
	}

	rejected := make(map[int]bool)
	if items, ok := data["rejected_cases"].([]any); ok {
		for _, item := range items {
			rej, ok := parseRejection(item)
			if !ok || rej.Index < 0 || rej.Index >= n || rejected[rej.Index] {
				continue
			}
			rejected[rej.Index] = true
			res.RejectedCases = append(res.RejectedCases, rej)
		}
	}

	seen := make(map[int]bool)
	if items, ok := data["approved_cases"].([]any); ok {
		for _, item := range items {
			idx, ok := toInt(item)
			if !ok || idx < 0 || idx >= n || seen[idx] || rejected[idx] {
				continue
			}
			seen[idx] = true
			res.ApprovedCases = append(res.ApprovedCases, idx)
		}
	} else {
		for i := 0; i < n; i++ {
			if !rejected[i] {
				res.ApprovedCases = append(res.ApprovedCases, i)
			}
		}
	}

	quality, _ := data["overall_quality"].(string)
	quality = strings.ToLower(strings.TrimSpace(quality))
	switch quality {
	case QualityExcellent, QualityGood, QualityNeedsImprovement:
	default:
		quality = inferQuality(score)
	}
	res.OverallQuality = quality
	return res, nil
}

func inferQuality(score int) string {
	switch {
	case score >= 90:
		return QualityExcellent
	case score >= 70:
		return QualityGood
	default:
		return QualityNeedsImprovement
	}
}

// parseRejection accepts [index, reason] pairs and {index, reason} objects.
func parseRejection(v any) (Rejection, bool) {
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return Rejection{}, false
		}
		idx, ok := toInt(t[0])
		if !ok {
			return Rejection{}, false
		}
		var reason string
		if len(t) > 1 {
			reason = scalarString(t[1])
		}
		return Rejection{Index: idx, Reason: reason}, true
	case map[string]any:
		idx, ok := toInt(t["index"])
		if !ok {
			return Rejection{}, false
		}
		return Rejection{Index: idx, Reason: scalarString(t["reason"])}, true
	case float64:
		return Rejection{Index: int(t)}, true
	default:
		return Rejection{}, false
	}
}
