// Package agents wraps the chat-completion capability in the four
// model-backed roles used by the workflows: requirement analyzer, case
// designer, quality reviewer and impact analyzer. Each agent renders its
// prompt, calls the model once, and normalizes the reply into a typed value.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/llm"
	"github.com/lucasnoah/casepilot/internal/prompt"
	"github.com/lucasnoah/casepilot/internal/retrieval"
)

// maxContextItems bounds how many retrieved items are quoted into a prompt.
const maxContextItems = 3

type base struct {
	llm     llm.Completer
	prompts *prompt.Library
	log     *zap.Logger
}

func newBase(c llm.Completer, lib *prompt.Library, log *zap.Logger) base {
	if lib == nil {
		lib = prompt.NewLibrary("")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return base{llm: c, prompts: lib, log: log}
}

type call struct {
	system      string // template name, optional
	user        string // template name
	vars        prompt.Vars
	temperature float64
	maxTokens   int
}

// complete renders the call's templates and returns the raw model reply.
func (b base) complete(ctx context.Context, c call) (string, error) {
	var msgs []llm.Message
	if c.system != "" {
		sys, err := b.prompts.Render(c.system, nil)
		if err != nil {
			return "", err
		}
		msgs = append(msgs, llm.Message{Role: "system", Content: sys})
	}
	user, err := b.prompts.Render(c.user, c.vars)
	if err != nil {
		return "", err
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: user})

	start := time.Now()
	out, err := b.llm.Complete(ctx, llm.Request{Messages: msgs, Temperature: c.temperature, MaxTokens: c.maxTokens})
	if err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSuffix(c.user, ".md"), err)
	}
	b.log.Debug("model call complete",
		zap.String("template", c.user),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("reply_len", len(out)))
	return out, nil
}

// summarizeResults renders the first few retrieval hits as a numbered list
// with truncated content.
func summarizeResults(results []retrieval.Result, contentRunes int) string {
	var sb strings.Builder
	for i, r := range results {
		if i == maxContextItems {
			break
		}
		title := r.Title
		if title == "" {
			title = "N/A"
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, title)
		if content := truncate(r.Content, contentRunes); content != "" {
			fmt.Fprintf(&sb, "   %s\n", content)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

// stringList coerces a decoded JSON value into a list of strings. Scalars
// become one-element lists and non-string elements are rendered as JSON.
func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case string:
		if strings.TrimSpace(t) == "" {
			return []string{}
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := scalarString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{scalarString(t)}
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

func objectOrEmpty(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// toInt accepts JSON numbers and numeric strings.
func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}
