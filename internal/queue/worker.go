package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/casepilot/internal/orchestrator"
	"github.com/lucasnoah/casepilot/internal/task"
)

// Source is the subset of Queue a Worker consumes.
type Source interface {
	Read(ctx context.Context, consumer string) (*Job, string, error)
	Ack(ctx context.Context, msgID string) error
	Publish(ctx context.Context, res Result) error
}

// Handler handles one dispatcher request.
type Handler interface {
	Handle(ctx context.Context, req orchestrator.Request) *orchestrator.Response
}

// Worker pulls jobs from a Source, hands them to a Handler and publishes the
// envelope. Every message is acknowledged once handled, including ones whose
// payload could not be decoded.
type Worker struct {
	source      Source
	handler     Handler
	name        string
	concurrency int
	log         *zap.Logger
	observe     func(status string)
	backoff     time.Duration
	maxBackoff  time.Duration
}

// WorkerOptions configures a Worker. Zero values mean defaults.
type WorkerOptions struct {
	Name        string
	Concurrency int
	Logger      *zap.Logger
	// Observe is called once per job with "ok", "failed" or "error".
	Observe func(status string)
	// Backoff is the pause after a failed read, doubled per consecutive
	// failure up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// NewWorker creates a Worker.
func NewWorker(source Source, handler Handler, opts WorkerOptions) *Worker {
	w := &Worker{
		source:      source,
		handler:     handler,
		name:        opts.Name,
		concurrency: opts.Concurrency,
		log:         opts.Logger,
		observe:     opts.Observe,
		backoff:     opts.Backoff,
		maxBackoff:  opts.MaxBackoff,
	}
	if w.name == "" {
		w.name = "worker"
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.log == nil {
		w.log = zap.NewNop()
	}
	if w.observe == nil {
		w.observe = func(string) {}
	}
	if w.backoff <= 0 {
		w.backoff = 500 * time.Millisecond
	}
	if w.maxBackoff < w.backoff {
		w.maxBackoff = max(30*time.Second, w.backoff)
	}
	return w
}

// Run consumes until ctx is canceled, then returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", w.name, i+1)
		g.Go(func() error { return w.consume(ctx, consumer) })
	}
	return g.Wait()
}

func (w *Worker) consume(ctx context.Context, consumer string) error {
	delay := w.backoff
	for {
		_, err := w.Step(ctx, consumer)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil || errors.Is(err, ErrEmpty) {
			delay = w.backoff
			continue
		}
		w.log.Warn("job read failed",
			zap.String("consumer", consumer),
			zap.Duration("backoff", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > w.maxBackoff {
			delay = w.maxBackoff
		}
	}
}

// Step reads and handles at most one job. It returns the handled job, or
// ErrEmpty when nothing arrived.
func (w *Worker) Step(ctx context.Context, consumer string) (*Job, error) {
	job, msgID, err := w.source.Read(ctx, consumer)
	if msgID == "" {
		if err == nil {
			err = ErrEmpty
		}
		return nil, err
	}
	if err != nil {
		// Poison message: answer it and move on.
		w.log.Warn("dropping undecodable job", zap.String("msg_id", msgID), zap.Error(err))
		w.observe("error")
		w.ack(ctx, msgID)
		return nil, nil
	}

	log := w.log.With(zap.String("job_id", job.ID), zap.String("consumer", consumer))
	log.Info("job started", zap.String("project_id", job.ProjectID))

	resp := w.handler.Handle(ctx, job.Request())
	if resp == nil {
		resp = &orchestrator.Response{
			Task:     task.Unknown,
			Error:    "handler returned no response",
			Metadata: map[string]any{"reason": orchestrator.ReasonException},
		}
	}
	status := "ok"
	if !resp.OK {
		status = "failed"
	}

	if err := w.source.Publish(context.WithoutCancel(ctx), Result{JobID: job.ID, Response: resp}); err != nil {
		log.Error("publish result failed", zap.Error(err))
		status = "error"
	}
	w.observe(status)
	w.ack(ctx, msgID)
	log.Info("job finished", zap.Bool("ok", resp.OK), zap.String("task", string(resp.Task)))
	return job, nil
}

func (w *Worker) ack(ctx context.Context, msgID string) {
	if err := w.source.Ack(context.WithoutCancel(ctx), msgID); err != nil {
		w.log.Warn("ack failed", zap.String("msg_id", msgID), zap.Error(err))
	}
}
