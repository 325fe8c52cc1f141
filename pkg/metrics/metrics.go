// Package metrics defines the Prometheus metric collectors used across the
// gateway and the server that exposes them for scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	ProbeResultsTotal    *prometheus.CounterVec
	ProbeLatency         *prometheus.HistogramVec
	SubgraphState        *prometheus.GaugeVec
	CompositionsTotal    *prometheus.CounterVec
	SchemaVersion        prometheus.Gauge
	ComposedSubgraphs    prometheus.Gauge
	GatewayMode          prometheus.Gauge
	SubrequestsTotal     *prometheus.CounterVec
	SubrequestLatency    *prometheus.HistogramVec
	FederatedQueries     *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Passing nil
// registers with the process-wide default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		ProbeResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subgraph_probes_total",
				Help: "Health probes by subgraph and classification (up, degraded, down).",
			},
			[]string{"subgraph", "state"},
		),
		ProbeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subgraph_probe_latency_seconds",
				Help:    "Health probe round-trip latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"subgraph"},
		),
		SubgraphState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "subgraph_state",
				Help: "Subgraph health state (0=unknown, 1=up, 2=degraded, 3=down).",
			},
			[]string{"subgraph"},
		),
		CompositionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schema_compositions_total",
				Help: "Composition passes by outcome (published, unchanged, retained, withdrawn, unavailable).",
			},
			[]string{"outcome"},
		),
		SchemaVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "composed_schema_version",
				Help: "Version of the active composed schema (0 when none).",
			},
		),
		ComposedSubgraphs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "composed_schema_subgraphs",
				Help: "Number of subgraphs included in the active composed schema.",
			},
		),
		GatewayMode: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_mode",
				Help: "Gateway mode (0=operational, 1=partial, 2=minimal).",
			},
		),
		SubrequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subgraph_subrequests_total",
				Help: "Federated sub-requests by subgraph and outcome (ok, error, rejected).",
			},
			[]string{"subgraph", "outcome"},
		),
		SubrequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subgraph_subrequest_latency_seconds",
				Help:    "Federated sub-request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"subgraph"},
		),
		FederatedQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "federated_queries_total",
				Help: "Federated operations by result (ok, partial, rejected, invalid).",
			},
			[]string{"result"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ProbeResultsTotal,
		m.ProbeLatency,
		m.SubgraphState,
		m.CompositionsTotal,
		m.SchemaVersion,
		m.ComposedSubgraphs,
		m.GatewayMode,
		m.SubrequestsTotal,
		m.SubrequestLatency,
		m.FederatedQueries,
		m.CircuitBreakerState,
	)

	return m
}

// NewNop returns collectors registered with a private registry, for tests and
// tools that do not expose metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
