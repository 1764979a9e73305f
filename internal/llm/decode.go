package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// DecodeJSON recovers a JSON value from a model reply. Markdown code fences
// are stripped first; if the remainder does not parse, the first balanced
// {...} or [...] span is tried. Anything else is a *MalformedOutputError.
func DecodeJSON(raw string, v any) error {
	text := StripFences(raw)
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	span, ok := firstBalanced(text)
	if !ok {
		return &MalformedOutputError{Raw: raw, Err: errors.New("no JSON object or array found")}
	}
	if err := json.Unmarshal([]byte(span), v); err != nil {
		return &MalformedOutputError{Raw: raw, Err: err}
	}
	return nil
}

// StripFences returns the body of the first ```json (or bare ```) fence, or
// the trimmed input when there is none.
func StripFences(raw string) string {
	text := strings.TrimSpace(raw)
	for _, open := range []string{"```json", "```JSON", "```"} {
		i := strings.Index(text, open)
		if i < 0 {
			continue
		}
		rest := text[i+len(open):]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return text
}

func firstBalanced(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
