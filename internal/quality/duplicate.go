package quality

import "github.com/lucasnoah/casepilot/internal/testcase"

// DefaultDuplicateThreshold is the similarity at or above which two cases are
// reported as duplicates.
const DefaultDuplicateThreshold = 0.85

// DuplicatePair is a pair of case indices with I < J.
type DuplicatePair struct {
	I          int     `json:"i"`
	J          int     `json:"j"`
	Similarity float64 `json:"similarity"`
}

// DuplicateReport summarizes pairwise duplicate detection over a case set.
type DuplicateReport struct {
	Pairs          []DuplicatePair `json:"duplicate_pairs"`
	DuplicateCount int             `json:"duplicate_count"`
	UniqueCount    int             `json:"unique_count"`
	Rate           float64         `json:"duplication_rate"`
	TotalCases     int             `json:"total_cases"`
}

// Similarity weighs title (0.4), step text (0.4) and expected result (0.2).
func Similarity(a, b testcase.TestCase) float64 {
	return textSimilarity(a.Title, b.Title)*0.4 +
		textSimilarity(a.StepsText(), b.StepsText())*0.4 +
		textSimilarity(a.ExpectedResult, b.ExpectedResult)*0.2
}

// DetectDuplicates compares every pair of cases. A threshold <= 0 uses
// DefaultDuplicateThreshold. DuplicateCount counts distinct cases that appear
// in at least one pair.
//
// The comparison is quadratic in the number of cases; case sets are expected
// to be tens of items.
func DetectDuplicates(cases []testcase.TestCase, threshold float64) DuplicateReport {
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}
	report := DuplicateReport{Pairs: make([]DuplicatePair, 0), TotalCases: len(cases)}

	involved := make(map[int]bool)
	for i := 0; i < len(cases); i++ {
		for j := i + 1; j < len(cases); j++ {
			sim := Similarity(cases[i], cases[j])
			if sim < threshold {
				continue
			}
			report.Pairs = append(report.Pairs, DuplicatePair{I: i, J: j, Similarity: round(sim, 3)})
			involved[i] = true
			involved[j] = true
		}
	}

	report.DuplicateCount = len(involved)
	report.UniqueCount = len(cases) - report.DuplicateCount
	n := len(cases)
	if n < 1 {
		n = 1
	}
	report.Rate = round(float64(report.DuplicateCount)/float64(n)*100, 2)
	return report
}
