package quality

import (
	"sort"
	"strings"
)

var priorityWeights = map[string]int{
	"p0": 4,
	"p1": 3,
	"p2": 2,
	"p3": 1,
}

// Candidate is a retrieved test case considered for recommendation.
type Candidate struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Content  string         `json:"content,omitempty"`
	Priority string         `json:"priority,omitempty"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RankingCriteria documents the ordering applied by RankCandidates.
type RankingCriteria struct {
	Primary     string `json:"primary"`
	Secondary   string `json:"secondary"`
	Description string `json:"description"`
}

// Criteria returns the ranking criteria reported alongside recommendations.
func Criteria() RankingCriteria {
	return RankingCriteria{
		Primary:     "priority (P0 > P1 > P2 > P3)",
		Secondary:   "relevance score (descending)",
		Description: "higher-priority, more relevant cases are recommended first",
	}
}

// PriorityWeight maps P0..P3 (case-insensitive) to 4..1; anything else is 0.
func PriorityWeight(p string) int {
	return priorityWeights[strings.ToLower(strings.TrimSpace(p))]
}

// DedupeCandidates keeps the first candidate for each id. Candidates without
// an id are dropped.
func DedupeCandidates(cs []Candidate) []Candidate {
	seen := make(map[string]bool, len(cs))
	out := make([]Candidate, 0, len(cs))
	for _, c := range cs {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

// RankCandidates orders candidates by priority weight, then score, both
// descending. Equal keys keep their input order. The input is not modified.
func RankCandidates(cs []Candidate) []Candidate {
	out := make([]Candidate, len(cs))
	copy(out, cs)
	sort.SliceStable(out, func(i, j int) bool {
		wi, wj := PriorityWeight(out[i].Priority), PriorityWeight(out[j].Priority)
		if wi != wj {
			return wi > wj
		}
		return out[i].Score > out[j].Score
	})
	return out
}
