package config

import (
	"fmt"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var recognizedLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var recognizedFormats = map[string]bool{"json": true, "console": true}

// Validate checks a config for structural and semantic errors.
// It returns all errors found (not just the first).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	for _, d := range []struct {
		field string
		value string
	}{
		{"llm.timeout", cfg.LLM.Timeout},
		{"llm.backoff", cfg.LLM.Backoff},
		{"retrieval.timeout", cfg.Retrieval.Timeout},
		{"dispatcher.timeout", cfg.Dispatcher.Timeout},
		{"queue.block_interval", cfg.Queue.BlockInterval},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			errs = append(errs, ValidationError{Field: d.field, Message: fmt.Sprintf("invalid duration %q", d.value)})
		} else if v <= 0 {
			errs = append(errs, ValidationError{Field: d.field, Message: "must be positive"})
		}
	}

	w := cfg.Workflows
	for _, l := range []struct {
		field string
		value int
	}{
		{"llm.max_attempts", cfg.LLM.MaxAttempts},
		{"dispatcher.window", cfg.Dispatcher.Window},
		{"workflows.prior_doc_limit", w.PriorDocLimit},
		{"workflows.prior_case_limit", w.PriorCaseLimit},
		{"workflows.impact_case_limit", w.ImpactCaseLimit},
		{"workflows.regression_per_module", w.RegressionPerModule},
		{"workflows.regression_limit", w.RegressionLimit},
		{"workflows.regression_concurrency", w.RegressionConcurrency},
		{"workflows.optimization_case_limit", w.OptimizationCaseLimit},
	} {
		if l.value <= 0 {
			errs = append(errs, ValidationError{Field: l.field, Message: "must be positive"})
		}
	}

	if t := cfg.Retrieval.Threshold; t < 0 || t > 1 {
		errs = append(errs, ValidationError{Field: "retrieval.threshold", Message: "must be between 0 and 1"})
	}
	q := cfg.Quality
	if q.MinCoverage < 0 || q.MinCoverage > 100 {
		errs = append(errs, ValidationError{Field: "quality.min_coverage", Message: "must be between 0 and 100"})
	}
	if q.MaxDuplicationRate < 0 || q.MaxDuplicationRate > 100 {
		errs = append(errs, ValidationError{Field: "quality.max_duplication_rate", Message: "must be between 0 and 100"})
	}
	if q.MaxErrors < 0 {
		errs = append(errs, ValidationError{Field: "quality.max_errors", Message: "must not be negative"})
	}
	if q.DuplicateThreshold <= 0 || q.DuplicateThreshold > 1 {
		errs = append(errs, ValidationError{Field: "quality.duplicate_threshold", Message: "must be in (0, 1]"})
	}

	if cfg.LLM.Model == "" {
		errs = append(errs, ValidationError{Field: "llm.model", Message: "is required"})
	}
	if !recognizedLevels[cfg.Log.Level] {
		errs = append(errs, ValidationError{Field: "log.level", Message: fmt.Sprintf("unrecognized level %q", cfg.Log.Level)})
	}
	if !recognizedFormats[cfg.Log.Format] {
		errs = append(errs, ValidationError{Field: "log.format", Message: fmt.Sprintf("unrecognized format %q", cfg.Log.Format)})
	}
	return errs
}
