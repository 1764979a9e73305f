package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/convo"
	"github.com/lucasnoah/casepilot/internal/task"
	"github.com/lucasnoah/casepilot/internal/workflow"
)

// Event is everything known about a handled request.
type Event struct {
	RequestID      string
	ProjectID      string
	ConversationID string
	Message        string
	Params         workflow.Params
	Task           task.Variant
	Workflow       string
	Started        time.Time
	Duration       time.Duration
	Stages         []workflow.StageRecord
	Response       *Response
}

// Recorder observes handled requests. Errors are logged, never returned to
// the caller.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Recorders fans an event out to several recorders.
type Recorders []Recorder

func (rs Recorders) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range rs {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, ev Event) error

func (f RecorderFunc) Record(ctx context.Context, ev Event) error { return f(ctx, ev) }

func (d *Dispatcher) record(ctx context.Context, ex *execution, resp *Response) {
	if d.recorder == nil {
		return
	}
	ev := Event{
		RequestID:      ex.req.ID,
		ProjectID:      ex.req.ProjectID,
		ConversationID: ex.req.ConversationID,
		Message:        ex.req.Message,
		Params:         ex.req.Params,
		Task:           resp.Task,
		Workflow:       ex.workflow,
		Started:        ex.started,
		Duration:       d.now().Sub(ex.started),
		Stages:         ex.stages,
		Response:       resp,
	}
	// The request context may already be past its deadline.
	if err := d.recorder.Record(context.WithoutCancel(ctx), ev); err != nil {
		d.log.Warn("recording request failed", zap.String("request_id", ex.req.ID), zap.Error(err))
	}
}

// afterRun calls a post-response hook. A panic there is logged and dropped;
// the envelope is already built.
func (d *Dispatcher) afterRun(ex *execution, hook string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("post-request hook panic",
				zap.String("request_id", ex.req.ID),
				zap.String("hook", hook),
				zap.Any("panic", p))
		}
	}()
	fn()
}

// openConversation get-or-creates the request's conversation, derives the
// classifier context from its recent messages and appends the user message.
func (d *Dispatcher) openConversation(req Request) task.Context {
	var cc task.Context
	if d.convos == nil || req.ConversationID == "" {
		return cc
	}
	d.convos.GetOrCreate(req.ConversationID, req.ProjectID)
	window, err := d.convos.Window(req.ConversationID, d.window)
	if err != nil {
		d.log.Warn("reading conversation failed", zap.String("conversation_id", req.ConversationID), zap.Error(err))
		return cc
	}
	for _, m := range window {
		cc.RecentMessages = append(cc.RecentMessages, task.Turn{Role: string(m.Role), Content: m.Content})
	}
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Role != convo.RoleAssistant {
			continue
		}
		if s, ok := window[i].Metadata["task"].(string); ok {
			if v, ok := task.Parse(s); ok && v != task.Unknown {
				cc.LastTask = v
				break
			}
		}
	}
	if _, err := d.convos.Append(req.ConversationID, convo.RoleUser, req.Message, nil); err != nil {
		d.log.Warn("appending user message failed", zap.String("conversation_id", req.ConversationID), zap.Error(err))
	}
	return cc
}

// remember appends the assistant's side of the exchange.
func (d *Dispatcher) remember(ex *execution, resp *Response) {
	if d.convos == nil || ex.req.ConversationID == "" {
		return
	}
	if _, err := d.convos.Get(ex.req.ConversationID); err != nil {
		return
	}
	content := "completed " + string(resp.Task)
	if !resp.OK {
		content = resp.Error
	}
	meta := map[string]any{
		"task":       string(resp.Task),
		"ok":         resp.OK,
		"request_id": ex.req.ID,
	}
	if ex.workflow != "" {
		meta["workflow_name"] = ex.workflow
	}
	if _, err := d.convos.Append(ex.req.ConversationID, convo.RoleAssistant, content, meta); err != nil {
		d.log.Warn("appending assistant message failed", zap.String("conversation_id", ex.req.ConversationID), zap.Error(err))
	}
}
