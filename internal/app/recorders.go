package app

import (
	"context"
	"time"

	"github.com/lucasnoah/casepilot/internal/db"
	"github.com/lucasnoah/casepilot/internal/metrics"
	"github.com/lucasnoah/casepilot/internal/orchestrator"
	"github.com/lucasnoah/casepilot/internal/runs"
	"github.com/lucasnoah/casepilot/internal/workflow"
)

// metricsRecorder feeds request and stage counters.
type metricsRecorder struct {
	m *metrics.Metrics
}

func (r metricsRecorder) Record(ctx context.Context, ev orchestrator.Event) error {
	resp := ev.Response
	r.m.ObserveRequest(string(resp.Task), resp.OK, resp.Reason(), ev.Duration, len(resp.Warnings()))
	for _, s := range ev.Stages {
		r.m.ObserveStage(ev.Workflow, s.Name, string(s.Status), s.Duration)
	}
	return nil
}

// eventLogRecorder writes request and stage rows to SQLite.
type eventLogRecorder struct {
	db *db.DB
}

func (r eventLogRecorder) Record(ctx context.Context, ev orchestrator.Event) error {
	resp := ev.Response
	ts := ev.Started.UTC().Format(db.TimeFormat)
	stages := make([]db.StageEvent, 0, len(ev.Stages))
	for _, s := range ev.Stages {
		stages = append(stages, db.StageEvent{
			Workflow:   ev.Workflow,
			Stage:      s.Name,
			Mode:       string(s.Mode),
			Status:     string(s.Status),
			ErrorKind:  s.ErrorKind,
			Error:      s.Error,
			DurationMs: int(s.Duration / time.Millisecond),
			Timestamp:  ts,
		})
	}
	return r.db.LogRequest(db.RequestEvent{
		RequestID:      ev.RequestID,
		ProjectID:      ev.ProjectID,
		ConversationID: ev.ConversationID,
		Task:           string(resp.Task),
		Workflow:       ev.Workflow,
		OK:             resp.OK,
		Reason:         resp.Reason(),
		Error:          resp.Error,
		Warnings:       len(resp.Warnings()),
		DurationMs:     int(ev.Duration / time.Millisecond),
		Timestamp:      ts,
	}, stages)
}

// runRequest is what request.json holds.
type runRequest struct {
	ID             string          `json:"id"`
	Message        string          `json:"message"`
	ProjectID      string          `json:"project_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Params         workflow.Params `json:"params"`
	Started        time.Time       `json:"started"`
}

// runStage is one entry of stages.json. Durations are seconds.
type runStage struct {
	Name      string  `json:"name"`
	Mode      string  `json:"mode"`
	Status    string  `json:"status"`
	Duration  float64 `json:"duration_seconds"`
	ErrorKind string  `json:"error_kind,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// runsRecorder writes on-disk run artifacts.
type runsRecorder struct {
	store *runs.Store
}

func (r runsRecorder) Record(ctx context.Context, ev orchestrator.Event) error {
	resp := ev.Response
	stages := make([]runStage, 0, len(ev.Stages))
	for _, s := range ev.Stages {
		stages = append(stages, runStage{
			Name:      s.Name,
			Mode:      string(s.Mode),
			Status:    string(s.Status),
			Duration:  s.Duration.Seconds(),
			ErrorKind: s.ErrorKind,
			Error:     s.Error,
		})
	}
	m := runs.Manifest{
		ID:              ev.RequestID,
		ProjectID:       ev.ProjectID,
		ConversationID:  ev.ConversationID,
		Task:            string(resp.Task),
		Workflow:        ev.Workflow,
		OK:              resp.OK,
		Reason:          resp.Reason(),
		DurationSeconds: ev.Duration.Seconds(),
		StageCount:      len(stages),
		CreatedAt:       ev.Started.UTC().Format(time.RFC3339),
	}
	req := runRequest{
		ID:             ev.RequestID,
		Message:        ev.Message,
		ProjectID:      ev.ProjectID,
		ConversationID: ev.ConversationID,
		Params:         ev.Params,
		Started:        ev.Started,
	}
	return r.store.Save(m, req, resp, stages)
}
