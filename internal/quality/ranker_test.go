package quality

import "testing"

func TestRankCandidates_PriorityThenScore(t *testing.T) {
	in := []Candidate{
		{ID: "a", Priority: "P2", Score: 0.5},
		{ID: "b", Priority: "P0", Score: 0.9},
		{ID: "c", Priority: "P1", Score: 0.7},
		{ID: "d", Priority: "P0", Score: 0.95},
	}
	got := RankCandidates(in)

	want := []string{"d", "b", "c", "a"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("order = %v, want %v", ids(got), want)
		}
	}
	if in[0].ID != "a" {
		t.Error("input slice was modified")
	}
}

func TestRankCandidates_StableAndMonotonic(t *testing.T) {
	in := []Candidate{
		{ID: "1", Priority: "p3", Score: 0.5},
		{ID: "2", Priority: "", Score: 0.99},
		{ID: "3", Priority: "P3", Score: 0.5},
		{ID: "4", Priority: "high", Score: 0.8},
		{ID: "5", Priority: "p1", Score: 0.1},
		{ID: "6", Priority: "P3", Score: 0.5},
	}
	got := RankCandidates(in)

	want := []string{"5", "1", "3", "6", "2", "4"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("order = %v, want %v", ids(got), want)
		}
	}
	for i := 1; i < len(got); i++ {
		if PriorityWeight(got[i].Priority) > PriorityWeight(got[i-1].Priority) {
			t.Errorf("higher priority %q after lower %q", got[i].Priority, got[i-1].Priority)
		}
	}
}

func TestPriorityWeight(t *testing.T) {
	tests := map[string]int{"P0": 4, "p1": 3, "P2": 2, "p3": 1, "P4": 0, "": 0, "high": 0}
	for in, want := range tests {
		if got := PriorityWeight(in); got != want {
			t.Errorf("PriorityWeight(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestDedupeCandidates(t *testing.T) {
	in := []Candidate{
		{ID: "x", Title: "first"},
		{ID: ""},
		{ID: "y"},
		{ID: "x", Title: "second"},
	}
	got := DedupeCandidates(in)
	if len(got) != 2 {
		t.Fatalf("got %v", ids(got))
	}
	if got[0].Title != "first" {
		t.Errorf("first occurrence should win, got %q", got[0].Title)
	}
}

func ids(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}
