package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TimeFormat matches SQLite's datetime() output so recorded and defaulted
// timestamps sort together.
const TimeFormat = "2006-01-02 15:04:05"

// ErrNotFound is returned when a request id has no recorded event.
var ErrNotFound = errors.New("not found")

// RequestEvent represents a row in the request_events table.
type RequestEvent struct {
	ID             int
	RequestID      string
	ProjectID      string
	ConversationID string
	Task           string
	Workflow       string
	OK             bool
	Reason         string
	Error          string
	Warnings       int
	DurationMs     int
	Timestamp      string
}

// StageEvent represents a row in the stage_events table.
type StageEvent struct {
	ID         int
	RequestID  string
	Workflow   string
	Seq        int
	Stage      string
	Mode       string
	Status     string
	ErrorKind  string
	Error      string
	DurationMs int
	Timestamp  string
}

// LogRequest records a handled request together with its stages in one
// transaction. An empty Timestamp means now.
func (d *DB) LogRequest(ev RequestEvent, stages []StageEvent) error {
	ts := ev.Timestamp
	if ts == "" {
		ts = time.Now().UTC().Format(TimeFormat)
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO request_events (request_id, project_id, conversation_id, task, workflow, ok, reason, error, warnings, duration_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RequestID, ev.ProjectID, nullable(ev.ConversationID), ev.Task, nullable(ev.Workflow),
		ev.OK, nullable(ev.Reason), nullable(ev.Error), ev.Warnings, ev.DurationMs, ts,
	)
	if err != nil {
		return fmt.Errorf("log request event: %w", err)
	}

	for i, s := range stages {
		_, err := tx.Exec(
			`INSERT INTO stage_events (request_id, workflow, seq, stage, mode, status, error_kind, error, duration_ms, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.RequestID, s.Workflow, i+1, s.Stage, s.Mode, s.Status, nullable(s.ErrorKind), nullable(s.Error), s.DurationMs, ts,
		)
		if err != nil {
			return fmt.Errorf("log stage event %s: %w", s.Stage, err)
		}
	}
	return tx.Commit()
}

const requestColumns = `id, request_id, project_id, conversation_id, task, workflow, ok, reason, error, warnings, duration_ms, timestamp`

// GetRequest returns the event for one request id.
func (d *DB) GetRequest(requestID string) (*RequestEvent, error) {
	row := d.conn.QueryRow(`SELECT `+requestColumns+` FROM request_events WHERE request_id = ?`, requestID)
	e, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return e, nil
}

// RecentRequests returns the newest request events, optionally for one
// project. limit <= 0 means 20.
func (d *DB) RecentRequests(projectID string, limit int) ([]RequestEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + requestColumns + ` FROM request_events`
	args := []any{}
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent requests: %w", err)
	}
	defer rows.Close()

	var events []RequestEvent
	for rows.Next() {
		e, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// GetStages returns the stages of one request in execution order.
func (d *DB) GetStages(requestID string) ([]StageEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, request_id, workflow, seq, stage, mode, status, error_kind, error, duration_ms, timestamp
		 FROM stage_events WHERE request_id = ? ORDER BY seq`,
		requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("get stages: %w", err)
	}
	defer rows.Close()

	var stages []StageEvent
	for rows.Next() {
		var s StageEvent
		var kind, msg sql.NullString
		if err := rows.Scan(&s.ID, &s.RequestID, &s.Workflow, &s.Seq, &s.Stage, &s.Mode, &s.Status, &kind, &msg, &s.DurationMs, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("scan stage event: %w", err)
		}
		s.ErrorKind = kind.String
		s.Error = msg.String
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

// PurgeBefore deletes request events (and their stages) older than cutoff.
func (d *DB) PurgeBefore(cutoff time.Time) (int, error) {
	res, err := d.conn.Exec(`DELETE FROM request_events WHERE timestamp < ?`, cutoff.UTC().Format(TimeFormat))
	if err != nil {
		return 0, fmt.Errorf("purge requests: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (*RequestEvent, error) {
	var e RequestEvent
	var conv, wf, reason, msg sql.NullString
	if err := s.Scan(&e.ID, &e.RequestID, &e.ProjectID, &conv, &e.Task, &wf, &e.OK, &reason, &msg, &e.Warnings, &e.DurationMs, &e.Timestamp); err != nil {
		return nil, err
	}
	e.ConversationID = conv.String
	e.Workflow = wf.String
	e.Reason = reason.String
	e.Error = msg.String
	return &e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
