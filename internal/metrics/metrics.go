// Package metrics provides Prometheus metrics for the processor.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Message outcomes.
const (
	OutcomeEmitted  = "emitted"
	OutcomeNoOutput = "no_output"
	OutcomeFailed   = "failed"
)

// Metrics holds all Prometheus metric collectors for the processor.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	MessagesTotal    *prometheus.CounterVec
	MessageFailures  *prometheus.CounterVec
	MessageDuration  prometheus.Histogram
	SinkPushFailures prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httpclient_processor_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "httpclient_processor_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "httpclient_processor_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "httpclient_processor_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httpclient_processor_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httpclient_processor_messages_total",
			Help: "Processed messages by outcome (emitted, no_output, failed).",
		}, []string{"outcome"}),

		MessageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httpclient_processor_message_failures_total",
			Help: "Failed messages by error kind.",
		}, []string{"kind"}),

		MessageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "httpclient_processor_message_duration_seconds",
			Help:    "End-to-end processing time per message in seconds.",
			Buckets: defaultBuckets,
		}),

		SinkPushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "httpclient_processor_sink_push_failures_total",
			Help: "Outbound messages the sink failed to accept.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.MessagesTotal,
		m.MessageFailures,
		m.MessageDuration,
		m.SinkPushFailures,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true, "TRACE": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/messages", "/healthz", "/processor/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
