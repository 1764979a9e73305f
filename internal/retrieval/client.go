// Package retrieval is the client for the backend's semantic search API,
// which returns prior requirement documents and existing test cases for a
// project.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/quality"
)

// Kind selects the corpus searched.
type Kind string

const (
	KindPRD      Kind = "prd"
	KindTestCase Kind = "testcase"
)

// DefaultThreshold is the minimum similarity score requested when a query
// leaves it unset.
const DefaultThreshold = 0.7

// Query describes one search.
type Query struct {
	Text      string
	Kind      Kind
	ProjectID string
	Limit     int
	Threshold float64
	Priority  string // optional, e.g. "P0"
}

// Result is one search hit.
type Result struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Priority returns the hit's metadata priority, or "" when absent.
func (r Result) Priority() string {
	p, _ := r.Metadata["priority"].(string)
	return p
}

// Candidate converts the hit into a ranking candidate.
func (r Result) Candidate() quality.Candidate {
	return quality.Candidate{
		ID:       r.ID,
		Title:    r.Title,
		Content:  r.Content,
		Priority: r.Priority(),
		Score:    r.Score,
		Metadata: r.Metadata,
	}
}

// Searcher is the retrieval capability.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// Client talks to POST {base}/api/v1/projects/{project}/search.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewClient builds a Client. A zero timeout defaults to 30s.
func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type searchRequest struct {
	Query          string  `json:"query"`
	Type           Kind    `json:"type"`
	Limit          int     `json:"limit"`
	ScoreThreshold float64 `json:"score_threshold"`
	Priority       string  `json:"priority,omitempty"`
}

type searchResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Results []Result `json:"results"`
	} `json:"data"`
}

// Search runs q. When q.Priority is set, hits whose metadata priority differs
// are dropped even if the backend ignored the filter.
func (c *Client) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.ProjectID == "" {
		return nil, errors.New("search: project id is required")
	}
	if q.Threshold <= 0 {
		q.Threshold = DefaultThreshold
	}
	if q.Limit <= 0 {
		q.Limit = 5
	}

	body, err := json.Marshal(searchRequest{
		Query:          q.Text,
		Type:           q.Kind,
		Limit:          q.Limit,
		ScoreThreshold: q.Threshold,
		Priority:       q.Priority,
	})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/projects/%s/search", c.baseURL, url.PathEscape(q.ProjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", q.Kind, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("search %s: backend returned %d: %s", q.Kind, resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if parsed.Code != http.StatusOK {
		msg := parsed.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("search %s: backend code %d: %s", q.Kind, parsed.Code, msg)
	}

	results := parsed.Data.Results
	if q.Priority != "" {
		kept := results[:0]
		for _, r := range results {
			if strings.EqualFold(r.Priority(), q.Priority) {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	c.log.Debug("search complete",
		zap.String("kind", string(q.Kind)),
		zap.String("project_id", q.ProjectID),
		zap.Int("results", len(results)))
	return results, nil
}
