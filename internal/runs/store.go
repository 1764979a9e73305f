// Package runs keeps per-request artifacts on disk:
// <base>/<request id>/{run,request,response,stages}.json.
package runs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when no artifacts exist for a request id.
var ErrNotFound = errors.New("run not found")

const (
	manifestFile = "run.json"
	requestFile  = "request.json"
	responseFile = "response.json"
	stagesFile   = "stages.json"
)

// Manifest is the summary written alongside every run.
type Manifest struct {
	ID              string  `json:"id"`
	ProjectID       string  `json:"project_id"`
	ConversationID  string  `json:"conversation_id,omitempty"`
	Task            string  `json:"task"`
	Workflow        string  `json:"workflow,omitempty"`
	OK              bool    `json:"ok"`
	Reason          string  `json:"reason,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	StageCount      int     `json:"stage_count"`
	CreatedAt       string  `json:"created_at"`
}

// Run is a manifest plus the raw artifacts it points at.
type Run struct {
	Manifest Manifest        `json:"manifest"`
	Request  json.RawMessage `json:"request,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Stages   json.RawMessage `json:"stages,omitempty"`
}

// Store manages run artifacts under a base directory.
type Store struct {
	baseDir string
	now     func() time.Time
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir, now: time.Now}
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("invalid run id %q", id)
	}
	return filepath.Join(s.baseDir, id), nil
}

// Save writes a run. request, response and stages are marshalled as JSON;
// an existing run with the same id is overwritten.
func (s *Store) Save(m Manifest, request, response, stages any) error {
	dir, err := s.runDir(m.ID)
	if err != nil {
		return err
	}
	if m.CreatedAt == "" {
		m.CreatedAt = s.now().UTC().Format(time.RFC3339)
	}

	files := []struct {
		name string
		v    any
	}{
		{requestFile, request},
		{responseFile, response},
		{stagesFile, stages},
	}
	for _, f := range files {
		if f.v == nil {
			continue
		}
		if err := writeJSON(filepath.Join(dir, f.name), f.v); err != nil {
			return fmt.Errorf("save run %s: %w", m.ID, err)
		}
	}
	// The manifest goes last; List only sees complete runs.
	if err := writeJSON(filepath.Join(dir, manifestFile), m); err != nil {
		return fmt.Errorf("save run %s: %w", m.ID, err)
	}
	return nil
}

// Get reads a run and its artifacts.
func (s *Store) Get(id string) (*Run, error) {
	dir, err := s.runDir(id)
	if err != nil {
		return nil, err
	}
	var run Run
	if err := readJSON(filepath.Join(dir, manifestFile), &run.Manifest); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	for name, dst := range map[string]*json.RawMessage{
		requestFile:  &run.Request,
		responseFile: &run.Response,
		stagesFile:   &run.Stages,
	} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		*dst = json.RawMessage(data)
	}
	return &run, nil
}

// ListOptions filters List. Zero values mean no filter.
type ListOptions struct {
	ProjectID string
	Task      string
	Failed    bool
	Limit     int
}

// List returns manifests newest first. Directories without a readable
// manifest are skipped.
func (s *Store) List(opts ListOptions) ([]Manifest, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var manifests []Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var m Manifest
		if err := readJSON(filepath.Join(s.baseDir, entry.Name(), manifestFile), &m); err != nil {
			continue
		}
		if opts.ProjectID != "" && m.ProjectID != opts.ProjectID {
			continue
		}
		if opts.Task != "" && m.Task != opts.Task {
			continue
		}
		if opts.Failed && m.OK {
			continue
		}
		manifests = append(manifests, m)
	}

	sort.Slice(manifests, func(i, j int) bool {
		if manifests[i].CreatedAt != manifests[j].CreatedAt {
			return manifests[i].CreatedAt > manifests[j].CreatedAt
		}
		return manifests[i].ID < manifests[j].ID
	})
	if opts.Limit > 0 && len(manifests) > opts.Limit {
		manifests = manifests[:opts.Limit]
	}
	return manifests, nil
}

// Delete removes all artifacts for a run.
func (s *Store) Delete(id string) error {
	dir, err := s.runDir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return os.RemoveAll(dir)
}

// Prune deletes runs created before cutoff and returns how many were removed.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	manifests, err := s.List(ListOptions{})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range manifests {
		created, err := time.Parse(time.RFC3339, m.CreatedAt)
		if err != nil || !created.Before(cutoff) {
			continue
		}
		if err := s.Delete(m.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
