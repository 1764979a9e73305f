package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when the upstream does not answer in time.
var ErrTimeout = errors.New("llm: request timed out")

// RateLimitError is returned for HTTP 429. RetryAfter is zero when the
// upstream sent no usable Retry-After header.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("llm: rate limited, retry after %s", e.RetryAfter)
	}
	return "llm: rate limited"
}

// APIError is any other non-success HTTP response from the upstream.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: upstream error %d: %s", e.StatusCode, e.Body)
}

// MalformedOutputError means the model replied but the reply could not be
// decoded into the expected shape.
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("llm: malformed model output: %v", e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// Kind names the error class for logs and stage records.
func Kind(err error) string {
	var rl *RateLimitError
	var api *APIError
	var bad *MalformedOutputError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rl):
		return "rate_limit"
	case errors.As(err, &api):
		return "upstream"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.As(err, &bad):
		return "malformed_output"
	default:
		return "error"
	}
}
