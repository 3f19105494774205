// Package metrics provides Prometheus metrics for the orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	SessionsTotal        *prometheus.CounterVec
	ProbesTotal          *prometheus.CounterVec
	RecommendationsTotal *prometheus.CounterVec
	TasksMaterialized    *prometheus.CounterVec
	BestEffortFailures   *prometheus.CounterVec
	ContextPackBytes     prometheus.Histogram

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_http_requests_total",
				Help: "HTTP requests by method, route and status code.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_http_request_duration_seconds",
				Help:    "HTTP request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_sessions_total",
				Help: "Orchestration session transitions by resulting status.",
			},
			[]string{"status"},
		),
		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_probes_total",
				Help: "Repository probes by result (ok, failed, cached).",
			},
			[]string{"result"},
		),
		RecommendationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_recommendations_total",
				Help: "Skill detective recommendations by kind and category.",
			},
			[]string{"kind", "category"},
		),
		TasksMaterialized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_tasks_materialized_total",
				Help: "Tasks persisted by the plan materializer by source and result.",
			},
			[]string{"source", "result"},
		),
		BestEffortFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_best_effort_failures_total",
				Help: "Secondary writes that failed and were only logged.",
			},
			[]string{"op"},
		),
		ContextPackBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_context_pack_bytes",
				Help:    "Size of assembled context packs.",
				Buckets: prometheus.ExponentialBuckets(512, 2, 10),
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SessionsTotal,
		m.ProbesTotal,
		m.RecommendationsTotal,
		m.TasksMaterialized,
		m.BestEffortFailures,
		m.ContextPackBytes,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry (for tests).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTP records one finished HTTP request.
func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordSession counts a session entering status.
func (m *Metrics) RecordSession(status string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(status).Inc()
}

// RecordProbe counts one probe outcome.
func (m *Metrics) RecordProbe(result string) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(result).Inc()
}

// RecordRecommendation counts one emitted recommendation.
func (m *Metrics) RecordRecommendation(kind, category string) {
	if m == nil {
		return
	}
	m.RecommendationsTotal.WithLabelValues(kind, category).Inc()
}

// RecordTask counts one materialization attempt.
func (m *Metrics) RecordTask(source, result string) {
	if m == nil {
		return
	}
	m.TasksMaterialized.WithLabelValues(source, result).Inc()
}

// RecordBestEffortFailure counts a swallowed secondary write failure.
func (m *Metrics) RecordBestEffortFailure(op string) {
	if m == nil {
		return
	}
	m.BestEffortFailures.WithLabelValues(op).Inc()
}

// ObserveContextPack records the size of an assembled pack.
func (m *Metrics) ObserveContextPack(bytes int) {
	if m == nil {
		return
	}
	m.ContextPackBytes.Observe(float64(bytes))
}
