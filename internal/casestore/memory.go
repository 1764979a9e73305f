package casestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/casepilot/internal/testcase"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*Record), now: time.Now}
}

func (m *Memory) Save(ctx context.Context, projectID string, c testcase.TestCase) (Saved, error) {
	if err := ctx.Err(); err != nil {
		return Saved{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := m.now().UTC()
	rec, ok := m.records[c.ID]
	if !ok {
		rec = &Record{ID: c.ID, ProjectID: projectID, CreatedAt: now}
		m.records[c.ID] = rec
	}
	rec.ProjectID = projectID
	rec.Version++
	rec.Case = c
	rec.UpdatedAt = now
	return Saved{ID: rec.ID, Version: rec.Version}, nil
}

func (m *Memory) Update(ctx context.Context, id string, c testcase.TestCase) (Saved, error) {
	if err := ctx.Err(); err != nil {
		return Saved{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return Saved{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.ID = id
	rec.Version++
	rec.Case = c
	rec.UpdatedAt = m.now().UTC()
	return Saved{ID: id, Version: rec.Version}, nil
}

func (m *Memory) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *rec
	return &cp, nil
}

// List returns the project's cases, most recently updated first.
func (m *Memory) List(ctx context.Context, projectID string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, rec := range m.records {
		if projectID == "" || rec.ProjectID == projectID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
