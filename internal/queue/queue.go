// Package queue carries dispatcher requests over Redis streams so that
// workers can handle them asynchronously.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lucasnoah/casepilot/internal/orchestrator"
	"github.com/lucasnoah/casepilot/internal/task"
	"github.com/lucasnoah/casepilot/internal/workflow"
)

const (
	DefaultStream       = "casepilot:requests"
	DefaultResultStream = "casepilot:results"
	DefaultGroup        = "casepilot-workers"
)

// ErrEmpty is returned by Read when no job arrived within the block interval.
var ErrEmpty = errors.New("no messages")

// Job is the payload pushed to the request stream.
type Job struct {
	ID             string          `json:"id"`
	Message        string          `json:"message"`
	ProjectID      string          `json:"project_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Task           string          `json:"task,omitempty"`
	TimeoutSeconds float64         `json:"timeout_seconds,omitempty"`
	Params         workflow.Params `json:"params"`
	EnqueuedAt     string          `json:"enqueued_at"`
}

// Request converts the job into a dispatcher request.
func (j Job) Request() orchestrator.Request {
	req := orchestrator.Request{
		ID:             j.ID,
		Message:        j.Message,
		ProjectID:      j.ProjectID,
		ConversationID: j.ConversationID,
		Timeout:        time.Duration(j.TimeoutSeconds * float64(time.Second)),
		Params:         j.Params,
	}
	if v, ok := task.Parse(j.Task); ok {
		req.Task = v
	}
	return req
}

// Result is the payload pushed to the result stream.
type Result struct {
	JobID       string                 `json:"job_id"`
	Response    *orchestrator.Response `json:"response"`
	CompletedAt string                 `json:"completed_at"`
}

// Options names the streams and group. Zero values mean defaults.
type Options struct {
	Stream       string
	ResultStream string
	Group        string
	Block        time.Duration
}

// Queue manages the request and result streams.
type Queue struct {
	client *redis.Client
	opts   Options
}

// New creates a Queue from a Redis client.
func New(client *redis.Client, opts Options) *Queue {
	if opts.Stream == "" {
		opts.Stream = DefaultStream
	}
	if opts.ResultStream == "" {
		opts.ResultStream = DefaultResultStream
	}
	if opts.Group == "" {
		opts.Group = DefaultGroup
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	return &Queue{client: client, opts: opts}
}

// ConnectRedis creates a Redis client from a URL.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// EnsureGroup creates the consumer group (and stream) if it doesn't exist.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", q.opts.Group, q.opts.Stream, err)
	}
	return nil
}

// Enqueue pushes a job, assigning an id when missing, and returns it.
func (q *Queue) Enqueue(ctx context.Context, job Job) (Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt == "" {
		job.EnqueuedAt = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return job, fmt.Errorf("marshal job: %w", err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.Stream,
		Values: map[string]any{
			"job_id":     job.ID,
			"project_id": job.ProjectID,
			"payload":    string(payload),
		},
	}).Err()
	if err != nil {
		return job, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// Read blocks up to the block interval for one job. A payload that cannot
// be decoded is returned as an error together with its message id so the
// caller can acknowledge it.
func (q *Queue) Read(ctx context.Context, consumer string) (*Job, string, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.opts.Group,
		Consumer: consumer,
		Streams:  []string{q.opts.Stream, ">"},
		Count:    1,
		Block:    q.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", ErrEmpty
	}
	if err != nil {
		return nil, "", fmt.Errorf("read job: %w", err)
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			job, err := decodeJob(msg.Values)
			return job, msg.ID, err
		}
	}
	return nil, "", ErrEmpty
}

// Ack acknowledges a job message.
func (q *Queue) Ack(ctx context.Context, msgID string) error {
	return q.client.XAck(ctx, q.opts.Stream, q.opts.Group, msgID).Err()
}

// Publish pushes a result to the result stream.
func (q *Queue) Publish(ctx context.Context, res Result) error {
	if res.CompletedAt == "" {
		res.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.ResultStream,
		Values: map[string]any{
			"job_id":  res.JobID,
			"payload": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}

// FindResult scans the newest results for jobID. It returns (nil, nil)
// when the job has not completed yet.
func (q *Queue) FindResult(ctx context.Context, jobID string, scan int64) (*Result, error) {
	if scan <= 0 {
		scan = 1000
	}
	msgs, err := q.client.XRevRangeN(ctx, q.opts.ResultStream, "+", "-", scan).Result()
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	for _, msg := range msgs {
		if getString(msg.Values, "job_id") != jobID {
			continue
		}
		var res Result
		if err := json.Unmarshal([]byte(getString(msg.Values, "payload")), &res); err != nil {
			return nil, fmt.Errorf("decode result %s: %w", msg.ID, err)
		}
		return &res, nil
	}
	return nil, nil
}

// WaitResult polls FindResult until the job completes or ctx ends.
func (q *Queue) WaitResult(ctx context.Context, jobID string, interval time.Duration) (*Result, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := q.FindResult(ctx, jobID, 0)
		if err != nil || res != nil {
			return res, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Status returns the lengths of the request and result streams.
func (q *Queue) Status(ctx context.Context) (requests, results int64, err error) {
	requests, err = q.client.XLen(ctx, q.opts.Stream).Result()
	if err != nil {
		return 0, 0, err
	}
	results, err = q.client.XLen(ctx, q.opts.ResultStream).Result()
	if err != nil {
		return 0, 0, err
	}
	return requests, results, nil
}

func decodeJob(values map[string]any) (*Job, error) {
	payload := getString(values, "payload")
	if payload == "" {
		return nil, fmt.Errorf("decode job: missing payload")
	}
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if job.ID == "" {
		job.ID = getString(values, "job_id")
	}
	return &job, nil
}

func getString(values map[string]any, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
