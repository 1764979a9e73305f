package orchestrator

import (
	"fmt"

	"github.com/lucasnoah/casepilot/internal/task"
)

// Failure reasons carried in metadata["reason"].
const (
	ReasonValidation     = "validation"
	ReasonUnknownTask    = "unknown_task"
	ReasonNoWorkflow     = "no_workflow"
	ReasonWorkflowFailed = "workflow_failed"
	ReasonTimeout        = "timeout"
	ReasonCanceled       = "canceled"
	ReasonException      = "exception"
)

// Dispatcher states named in metadata["stage"] on failure.
const (
	StageValidating  = "validating"
	StageClassifying = "classifying"
	StageDispatching = "dispatching"
	StageExecuting   = "executing"
)

// Response is the envelope returned for every request. Exactly one of Data
// (OK) or Error (!OK) is set and Metadata always carries "duration" in
// seconds.
type Response struct {
	OK       bool           `json:"ok"`
	Task     task.Variant   `json:"task"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// Reason returns metadata["reason"], empty on success.
func (r *Response) Reason() string {
	s, _ := r.Metadata["reason"].(string)
	return s
}

// Warnings returns metadata["warnings"] when present.
func (r *Response) Warnings() []string {
	w, _ := r.Metadata["warnings"].([]string)
	return w
}

// builder accumulates the parts of a Response before it is frozen.
type builder struct {
	ok   bool
	data map[string]any
	err  string
	meta map[string]any
}

func success(data map[string]any) *builder {
	if data == nil {
		data = make(map[string]any)
	}
	return &builder{ok: true, data: data, meta: make(map[string]any)}
}

func failure(msg, reason, stage string) *builder {
	return &builder{
		err:  msg,
		meta: map[string]any{"reason": reason, "stage": stage},
	}
}

// exception reports an unclassified fault, naming its Go type.
func exception(fault any) *builder {
	b := failure(fmt.Sprintf("internal error: %v", fault), ReasonException, StageExecuting)
	b.meta["exception_type"] = fmt.Sprintf("%T", fault)
	return b
}

func (b *builder) build(v task.Variant) *Response {
	r := &Response{OK: b.ok, Task: v, Metadata: b.meta}
	if b.ok {
		r.Data = b.data
	} else {
		r.Error = b.err
	}
	return r
}
