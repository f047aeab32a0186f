// Package metrics provides Prometheus metrics for Alfred.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Execution outcomes recorded by ExecutionsTotal.
const (
	OutcomeCompleted = "completed"
	OutcomeRejected  = "rejected"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
)

// Metrics holds all Prometheus metrics for Alfred.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CommandsGeneratedTotal *prometheus.CounterVec
	GenerationDuration     prometheus.Histogram

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alfred_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alfred_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		CommandsGeneratedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alfred_commands_generated_total",
				Help: "Total number of command generation requests by result",
			},
			[]string{"result"},
		),
		GenerationDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "alfred_generation_duration_seconds",
				Help:    "Duration of LLM command generation in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
		ExecutionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alfred_executions_total",
				Help: "Total number of execute requests by outcome",
			},
			[]string{"outcome"},
		),
		ExecutionDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "alfred_execution_duration_seconds",
				Help:    "Wall-clock duration of executed commands in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15},
			},
		),
	}
}

// RecordExecution counts an execute request by outcome.
func (m *Metrics) RecordExecution(outcome string) {
	m.ExecutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordGeneration counts a generate request; ok is false on provider or
// store failure.
func (m *Metrics) RecordGeneration(ok bool) {
	result := "success"
	if !ok {
		result = "error"
	}
	m.CommandsGeneratedTotal.WithLabelValues(result).Inc()
}

// RecordHTTPRequest counts a served request and observes its latency.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
