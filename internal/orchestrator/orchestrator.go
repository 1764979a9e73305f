// Package orchestrator is the single entry point for requests: it validates
// them, classifies the task, runs the matching workflow under a deadline and
// wraps whatever happened into one Response envelope.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/convo"
	"github.com/lucasnoah/casepilot/internal/task"
	"github.com/lucasnoah/casepilot/internal/workflow"
)

// DefaultTimeout bounds a request when neither the request nor the
// dispatcher sets one.
const DefaultTimeout = 300 * time.Second

// Classifier decides which task a message is.
type Classifier interface {
	Classify(ctx context.Context, message string, cc task.Context) task.Variant
}

// Request is one inbound call.
type Request struct {
	ID             string
	Message        string
	ProjectID      string
	ConversationID string
	// Task skips classification when set to a known variant.
	Task    task.Variant
	Timeout time.Duration
	Params  workflow.Params
}

// Options configures a Dispatcher. Zero values mean defaults.
type Options struct {
	Timeout       time.Duration
	Window        int // conversation messages given to the classifier
	Conversations *convo.Store
	Recorder      Recorder
	Logger        *zap.Logger
}

// Info describes a registered workflow.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Dispatcher routes requests to registered workflows.
type Dispatcher struct {
	classifier Classifier
	timeout    time.Duration
	window     int
	convos     *convo.Store
	recorder   Recorder
	log        *zap.Logger
	now        func() time.Time

	mu        sync.RWMutex
	workflows map[string]workflow.Workflow
}

// New creates a Dispatcher with an empty registry.
func New(classifier Classifier, opts Options) *Dispatcher {
	d := &Dispatcher{
		classifier: classifier,
		timeout:    opts.Timeout,
		window:     opts.Window,
		convos:     opts.Conversations,
		recorder:   opts.Recorder,
		log:        opts.Logger,
		now:        time.Now,
		workflows:  make(map[string]workflow.Workflow),
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.window <= 0 {
		d.window = convo.DefaultWindow
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	return d
}

// Register adds w under its name. An existing registration is replaced.
func (d *Dispatcher) Register(w workflow.Workflow) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.workflows[w.Name()]; exists {
		d.log.Warn("replacing registered workflow", zap.String("workflow", w.Name()))
	}
	d.workflows[w.Name()] = w
}

// Lookup returns the workflow registered under name.
func (d *Dispatcher) Lookup(name string) (workflow.Workflow, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.workflows[name]
	return w, ok
}

// Workflows lists registered workflows sorted by name.
func (d *Dispatcher) Workflows() []Info {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Info, 0, len(d.workflows))
	for _, w := range d.workflows {
		out = append(out, Info{Name: w.Name(), Description: w.Description()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Timeout is the default deadline applied to requests.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// execution is the mutable state of one Handle call, folded into a Response
// once at the end.
type execution struct {
	req      Request
	started  time.Time
	task     task.Variant
	workflow string
	stages   []workflow.StageRecord
}

// Handle runs one request to completion. It never panics and always returns
// a well-formed envelope.
func (d *Dispatcher) Handle(ctx context.Context, req Request) *Response {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ex := &execution{req: req, started: d.now(), task: task.Unknown}

	b := d.run(ctx, ex)
	b.meta["request_id"] = req.ID
	b.meta["duration"] = seconds(d.now().Sub(ex.started))
	if req.ConversationID != "" {
		b.meta["conversation_id"] = req.ConversationID
	}
	resp := b.build(ex.task)

	d.afterRun(ex, "remember", func() { d.remember(ex, resp) })
	d.afterRun(ex, "record", func() { d.record(ctx, ex, resp) })

	fields := []zap.Field{
		zap.String("request_id", req.ID),
		zap.String("task", string(resp.Task)),
		zap.Bool("ok", resp.OK),
		zap.Duration("elapsed", d.now().Sub(ex.started)),
	}
	if resp.OK {
		d.log.Info("request handled", fields...)
	} else {
		d.log.Warn("request failed", append(fields, zap.String("reason", resp.Reason()), zap.String("error", resp.Error))...)
	}
	return resp
}

// run walks the request through validation, classification, dispatch and
// execution. Any panic outside the workflow goroutine is converted here.
func (d *Dispatcher) run(ctx context.Context, ex *execution) (b *builder) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("dispatcher panic", zap.String("request_id", ex.req.ID), zap.Any("panic", p))
			b = exception(p)
		}
	}()

	req := ex.req
	if strings.TrimSpace(req.ProjectID) == "" {
		return failure("missing project id", ReasonValidation, StageValidating)
	}
	if strings.TrimSpace(req.Message) == "" {
		return failure("empty message", ReasonValidation, StageValidating)
	}

	cc := d.openConversation(req)

	if v, ok := task.Parse(string(req.Task)); ok && v != task.Unknown {
		ex.task = v
	} else {
		ex.task = d.classifier.Classify(ctx, req.Message, cc)
	}
	if ex.task == task.Unknown {
		return failure("could not determine the task type, please rephrase the request", ReasonUnknownTask, StageClassifying)
	}

	name, _ := ex.task.WorkflowName()
	w, ok := d.Lookup(name)
	if !ok {
		return failure(fmt.Sprintf("no workflow registered for task %s", ex.task), ReasonNoWorkflow, StageDispatching)
	}
	ex.workflow = w.Name()

	return d.execute(ctx, ex, w)
}

type result struct {
	out workflow.Outcome
	err error
}

// execute runs w under the request deadline. On expiry the workflow
// goroutine is abandoned; it sees the cancelled context at its next stage
// boundary or HTTP call and its result is discarded.
func (d *Dispatcher) execute(ctx context.Context, ex *execution, w workflow.Workflow) *builder {
	timeout := ex.req.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: &workflow.PanicError{Stage: w.Name(), Value: p}}
			}
		}()
		out, err := w.Run(wctx, workflow.Request{
			Message:        ex.req.Message,
			ProjectID:      ex.req.ProjectID,
			ConversationID: ex.req.ConversationID,
			Params:         ex.req.Params,
		})
		done <- result{out: out, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-wctx.Done():
		res = result{err: wctx.Err()}
	}
	ex.stages = res.out.Stages

	switch {
	case res.err == nil:
	case errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil:
		b := failure(fmt.Sprintf("request timed out after %s", timeout), ReasonTimeout, StageExecuting)
		b.meta["timeout_seconds"] = timeout.Seconds()
		b.meta["workflow_name"] = w.Name()
		return b
	case ctx.Err() != nil:
		b := failure("request canceled", ReasonCanceled, StageExecuting)
		b.meta["workflow_name"] = w.Name()
		return b
	default:
		var pe *workflow.PanicError
		if errors.As(res.err, &pe) {
			d.log.Error("workflow panic", zap.String("workflow", w.Name()), zap.Any("panic", pe.Value))
			return exception(pe.Value)
		}
		return exception(res.err)
	}

	out := res.out
	if !out.OK {
		b := failure(out.Error, ReasonWorkflowFailed, StageExecuting)
		if b.err == "" {
			b.err = "workflow failed"
		}
		for k, v := range out.Metadata {
			b.meta[k] = v
		}
		b.meta["workflow_name"] = w.Name()
		return b
	}

	b := success(out.Data)
	for k, v := range out.Metadata {
		b.meta[k] = v
	}
	b.meta["workflow_name"] = w.Name()
	b.meta["workflow_description"] = w.Description()
	return b
}

func seconds(d time.Duration) float64 {
	return float64(d.Round(time.Millisecond)) / float64(time.Second)
}
