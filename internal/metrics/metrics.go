package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Tool metrics
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// Broker metrics
	BrokerRequestsTotal  *prometheus.CounterVec
	TokenRefreshesTotal  *prometheus.CounterVec
	BrokerRequestLatency *prometheus.HistogramVec

	// Store metrics
	StoreQueriesTotal *prometheus.CounterVec

	// Freshness metrics
	FreshnessResolutionsTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ToolExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_executions_total",
				Help: "Total number of tool dispatches by outcome",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_execution_duration_seconds",
				Help:    "Duration of tool dispatches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),

		BrokerRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_requests_total",
				Help: "Total number of broker API requests",
			},
			[]string{"endpoint", "status"},
		),
		TokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_refreshes_total",
				Help: "Total number of access token refreshes",
			},
			[]string{"result"},
		),
		BrokerRequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "broker_request_duration_seconds",
				Help:    "Duration of broker API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),

		StoreQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_queries_total",
				Help: "Total number of store statements by pool",
			},
			[]string{"pool", "status"},
		),

		FreshnessResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freshness_resolutions_total",
				Help: "Total number of cache-or-remote resolutions by source",
			},
			[]string{"resource", "source"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "code"},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.ToolExecutionsTotal)
	m.registry.MustRegister(m.ToolExecutionDuration)

	m.registry.MustRegister(m.BrokerRequestsTotal)
	m.registry.MustRegister(m.TokenRefreshesTotal)
	m.registry.MustRegister(m.BrokerRequestLatency)

	m.registry.MustRegister(m.StoreQueriesTotal)
	m.registry.MustRegister(m.FreshnessResolutionsTotal)
	m.registry.MustRegister(m.HTTPRequestsTotal)
}

// RecordTool records one dispatch
func (m *Metrics) RecordTool(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordBrokerRequest records one broker API call
func (m *Metrics) RecordBrokerRequest(endpoint, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.BrokerRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.BrokerRequestLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordTokenRefresh records one refresh attempt
func (m *Metrics) RecordTokenRefresh(result string) {
	if m == nil {
		return
	}
	m.TokenRefreshesTotal.WithLabelValues(result).Inc()
}

// RecordStoreQuery records one store statement
func (m *Metrics) RecordStoreQuery(pool, status string) {
	if m == nil {
		return
	}
	m.StoreQueriesTotal.WithLabelValues(pool, status).Inc()
}

// RecordFreshness records where a resolution was served from
func (m *Metrics) RecordFreshness(resource, source string) {
	if m == nil {
		return
	}
	m.FreshnessResolutionsTotal.WithLabelValues(resource, source).Inc()
}

// RecordHTTP records one HTTP request
func (m *Metrics) RecordHTTP(method, route, code string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
