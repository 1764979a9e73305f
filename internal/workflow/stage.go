package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/llm"
)

// Mode says what a stage failure means for the workflow.
type Mode string

const (
	// ModeRequired stages abort the workflow on failure.
	ModeRequired Mode = "required"
	// ModeBestEffort stages record a warning, substitute a default and continue.
	ModeBestEffort Mode = "best_effort"
)

// Status of a stage after it ran.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// StageRecord captures one stage execution.
type StageRecord struct {
	Name      string        `json:"name"`
	Mode      Mode          `json:"mode"`
	Status    Status        `json:"status"`
	Duration  time.Duration `json:"duration"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// StageError is the failure of a required stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// PanicError carries a value recovered from a panicking stage.
type PanicError struct {
	Stage string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("stage %s panicked: %v", e.Stage, e.Value)
}

// Run tracks stage records and warnings for one workflow execution. It is
// safe for concurrent use by stages that fan out.
type Run struct {
	workflow string
	progress io.Writer
	log      *zap.Logger

	mu       sync.Mutex
	warnings []string
	stages   []StageRecord
}

func newRun(workflow string, progress io.Writer, log *zap.Logger) *Run {
	return &Run{workflow: workflow, progress: progress, log: log, warnings: []string{}}
}

func (r *Run) logf(format string, args ...any) {
	if r.progress != nil {
		fmt.Fprintf(r.progress, "  → "+format+"\n", args...)
	}
}

// Warn appends a caller-visible warning.
func (r *Run) Warn(msg string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
	r.logf("warning: %s", msg)
}

// Warnings returns a copy of the warnings so far; never nil.
func (r *Run) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.warnings))
	copy(out, r.warnings)
	return out
}

// Stages returns a copy of the stage records so far.
func (r *Run) Stages() []StageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StageRecord, len(r.stages))
	copy(out, r.stages)
	return out
}

func (r *Run) record(rec StageRecord) {
	r.mu.Lock()
	r.stages = append(r.stages, rec)
	r.mu.Unlock()

	fields := []zap.Field{
		zap.String("workflow", r.workflow),
		zap.String("stage", rec.Name),
		zap.String("mode", string(rec.Mode)),
		zap.String("status", string(rec.Status)),
		zap.Duration("elapsed", rec.Duration),
	}
	if rec.Status == StatusOK {
		r.log.Debug("stage finished", fields...)
		r.logf("%s ok (%s)", rec.Name, rec.Duration.Round(time.Millisecond))
		return
	}
	fields = append(fields, zap.String("error_kind", rec.ErrorKind), zap.String("error", rec.Error))
	r.log.Warn("stage did not complete", fields...)
	r.logf("%s %s: %s", rec.Name, rec.Status, rec.Error)
}

// Require runs a required stage. A failure is returned as *StageError, a
// panic as *PanicError, and an expired context as the context's error.
func Require[T any](ctx context.Context, r *Run, name string, fn func(context.Context) (T, error)) (T, error) {
	v, err := execStage(ctx, r, name, ModeRequired, fn)
	if err == nil {
		return v, nil
	}
	var pe *PanicError
	if ctx.Err() != nil || errors.As(err, &pe) {
		return v, err
	}
	return v, &StageError{Stage: name, Err: err}
}

// Attempt runs a best-effort stage. On failure it records "warning: err" and
// returns fallback. Only an expired context is returned as an error.
func Attempt[T any](ctx context.Context, r *Run, name, warning string, fallback T, fn func(context.Context) (T, error)) (T, error) {
	v, err := execStage(ctx, r, name, ModeBestEffort, fn)
	if err == nil {
		return v, nil
	}
	if ctx.Err() != nil {
		return fallback, ctx.Err()
	}
	r.Warn(fmt.Sprintf("%s: %v", warning, err))
	return fallback, nil
}

func execStage[T any](ctx context.Context, r *Run, name string, mode Mode, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		r.record(StageRecord{Name: name, Mode: mode, Status: StatusSkipped, ErrorKind: errorKind(err), Error: err.Error()})
		return zero, err
	}

	start := time.Now()
	r.logf("%s...", name)
	v, err := safeCall(ctx, name, fn)
	rec := StageRecord{Name: name, Mode: mode, Status: StatusOK, Duration: time.Since(start)}
	if err != nil {
		rec.Status = StatusFailed
		rec.ErrorKind = errorKind(err)
		rec.Error = err.Error()
	}
	r.record(rec)
	return v, err
}

func safeCall[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Stage: name, Value: p}
		}
	}()
	return fn(ctx)
}

func errorKind(err error) string {
	var pe *PanicError
	switch {
	case errors.As(err, &pe):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return llm.Kind(err)
	}
}

// Success builds a successful outcome; the run's warnings are always attached.
func (r *Run) Success(data, metadata map[string]any) Outcome {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	metadata["warnings"] = r.Warnings()
	return Outcome{OK: true, Data: data, Metadata: metadata, Stages: r.Stages()}
}

// Failure converts a stage error into a failed outcome naming the stage.
// Any other error (context expiry, panic) is returned to the caller as a
// fault.
func (r *Run) Failure(err error, extra map[string]any) (Outcome, error) {
	var se *StageError
	if !errors.As(err, &se) {
		return Outcome{Stages: r.Stages()}, err
	}
	metadata := map[string]any{"step": se.Stage, "warnings": r.Warnings()}
	for k, v := range extra {
		metadata[k] = v
	}
	return Outcome{OK: false, Error: se.Error(), Metadata: metadata, Stages: r.Stages()}, nil
}

// Invalid is a failed outcome for input rejected before any stage ran.
func (r *Run) Invalid(msg string) Outcome {
	return Outcome{
		OK:       false,
		Error:    msg,
		Metadata: map[string]any{"step": "validation", "warnings": r.Warnings()},
	}
}
