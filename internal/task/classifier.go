package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/llm"
	"github.com/lucasnoah/casepilot/internal/prompt"
)

const (
	historyTurns   = 3
	historyRunes   = 100
	classifyTokens = 50
)

var (
	generateWords   = []string{"生成", "创建", "编写", "设计", "generate", "create", "write", "design"}
	testcaseWords   = []string{"测试用例", "用例", "test case", "testcase"}
	impactWords     = []string{"影响", "变更", "修改", "改动", "impact", "change", "modify", "affect"}
	analysisWords   = []string{"分析", "analysis", "analyze"}
	regressionWords = []string{"回归", "推荐", "regression", "recommend", "suggest"}
	optimizeWords   = []string{"优化", "补全", "完善", "改进", "optimize", "improve", "enhance", "supplement"}
)

// Turn is one prior conversation message given to the classifier.
type Turn struct {
	Role    string
	Content string
}

// Context is the conversational state that informs classification.
type Context struct {
	RecentMessages []Turn
	LastTask       Variant
}

// Classifier decides which Variant a request is.
type Classifier struct {
	llm     llm.Completer
	prompts *prompt.Library
	log     *zap.Logger
}

// NewClassifier builds a Classifier. With a nil Completer only the keyword
// path runs and anything it cannot match is Unknown.
func NewClassifier(c llm.Completer, lib *prompt.Library, log *zap.Logger) *Classifier {
	if lib == nil {
		lib = prompt.NewLibrary("")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{llm: c, prompts: lib, log: log}
}

// Classify never fails. Keyword matches return without a model call; model
// faults fall back to Generate.
func (c *Classifier) Classify(ctx context.Context, message string, cc Context) Variant {
	if v, ok := MatchKeywords(message); ok {
		c.log.Debug("classified by keyword", zap.String("task", string(v)))
		return v
	}
	if c.llm == nil {
		return Unknown
	}

	text, err := c.prompts.Render(prompt.Classify, prompt.Vars{
		"message":   message,
		"history":   formatHistory(cc.RecentMessages),
		"last_task": string(cc.LastTask),
	})
	if err != nil {
		c.log.Warn("classification prompt failed, defaulting to generation", zap.Error(err))
		return Generate
	}

	start := time.Now()
	reply, err := c.llm.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: "user", Content: text}},
		Temperature: 0,
		MaxTokens:   classifyTokens,
	})
	if err != nil {
		c.log.Warn("model classification failed, defaulting to generation",
			zap.String("error_kind", llm.Kind(err)),
			zap.Error(err))
		return Generate
	}

	v := ParseReply(reply)
	c.log.Info("classified by model",
		zap.String("task", string(v)),
		zap.Duration("elapsed", time.Since(start)))
	return v
}

// MatchKeywords applies the fixed keyword rules in order; the first rule
// that matches wins.
func MatchKeywords(message string) (Variant, bool) {
	m := strings.ToLower(message)
	switch {
	case containsAny(m, generateWords) && containsAny(m, testcaseWords):
		return Generate, true
	case containsAny(m, impactWords) && containsAny(m, analysisWords):
		return Impact, true
	case containsAny(m, regressionWords):
		return Regression, true
	case containsAny(m, optimizeWords) && containsAny(m, testcaseWords):
		return Optimize, true
	}
	return Unknown, false
}

// ParseReply maps a model reply onto a Variant; anything else is Unknown.
func ParseReply(reply string) Variant {
	token := strings.ToLower(strings.Trim(strings.TrimSpace(reply), "\"'`.。"))
	v, _ := Parse(token)
	return v
}

func formatHistory(turns []Turn) string {
	if len(turns) > historyTurns {
		turns = turns[len(turns)-historyTurns:]
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		content := []rune(t.Content)
		if len(content) > historyRunes {
			content = content[:historyRunes]
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", t.Role, string(content)))
	}
	return strings.Join(lines, "\n")
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
