// Package casestore persists test cases with a per-id version that grows by
// one on every write.
package casestore

import (
	"context"
	"errors"
	"time"

	"github.com/lucasnoah/casepilot/internal/testcase"
)

// ErrNotFound is returned when no case has the requested id.
var ErrNotFound = errors.New("test case not found")

// Saved identifies a stored revision.
type Saved struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

// Record is a stored test case.
type Record struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"project_id"`
	Version   int               `json:"version"`
	Case      testcase.TestCase `json:"test_case"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Store is the persistence capability.
//
// Save stores c under c.ID, or under a fresh id when c.ID is empty. Saving
// an id that already exists overwrites it and bumps the version. Update
// requires the id to exist.
type Store interface {
	Save(ctx context.Context, projectID string, c testcase.TestCase) (Saved, error)
	Update(ctx context.Context, id string, c testcase.TestCase) (Saved, error)
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, projectID string, limit int) ([]Record, error)
}

// SaveAll saves cases in order and stops at the first error, returning the
// revisions saved so far.
func SaveAll(ctx context.Context, s Store, projectID string, cases []testcase.TestCase) ([]Saved, error) {
	saved := make([]Saved, 0, len(cases))
	for _, c := range cases {
		sv, err := s.Save(ctx, projectID, c)
		if err != nil {
			return saved, err
		}
		saved = append(saved, sv)
	}
	return saved, nil
}
