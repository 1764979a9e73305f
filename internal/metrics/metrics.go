// Package metrics exposes request and stage counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "casepilot"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	stages          *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	warnings        *prometheus.CounterVec
	queueJobs       *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, plus the Go and process
// collectors when withRuntime is set.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Handled requests by task and outcome.",
		}, []string{"task", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request duration by task.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"task"}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_total",
			Help:      "Workflow stages by status.",
		}, []string{"workflow", "stage", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Workflow stage duration.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"workflow", "stage"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Degraded best-effort stages surfaced as warnings.",
		}, []string{"task"}),
		queueJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_total",
			Help:      "Queued requests processed by workers.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.requests, m.requestDuration, m.stages, m.stageDuration, m.warnings, m.queueJobs)
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveRequest counts one handled request. outcome is "ok" on success and
// the failure reason otherwise.
func (m *Metrics) ObserveRequest(task string, ok bool, reason string, d time.Duration, warnings int) {
	outcome := "ok"
	if !ok {
		outcome = reason
		if outcome == "" {
			outcome = "failed"
		}
	}
	m.requests.WithLabelValues(task, outcome).Inc()
	m.requestDuration.WithLabelValues(task).Observe(d.Seconds())
	if warnings > 0 {
		m.warnings.WithLabelValues(task).Add(float64(warnings))
	}
}

// ObserveStage counts one stage execution. Skipped stages are counted but
// their duration is not observed.
func (m *Metrics) ObserveStage(workflow, stage, status string, d time.Duration) {
	m.stages.WithLabelValues(workflow, stage, status).Inc()
	if status != "skipped" {
		m.stageDuration.WithLabelValues(workflow, stage).Observe(d.Seconds())
	}
}

// ObserveJob counts a queue job by status ("ok", "failed", "error").
func (m *Metrics) ObserveJob(status string) {
	m.queueJobs.WithLabelValues(status).Inc()
}
