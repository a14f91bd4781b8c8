// Package metrics exposes Prometheus collectors for HTTP traffic, requests
// and per-server executions. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rpattn/fleetquery/internal/domain"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	serverTotal     *prometheus.CounterVec
	serverDuration  *prometheus.HistogramVec
	serverRows      *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetquery_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleetquery_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetquery_requests_total",
				Help: "Finished query requests by dispatch mode and terminal status",
			},
			[]string{"mode", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleetquery_request_duration_seconds",
				Help:    "Wall time of query requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
			},
			[]string{"mode"},
		),
		serverTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetquery_server_executions_total",
				Help: "Per-server statement executions by outcome",
			},
			[]string{"server", "status"},
		),
		serverDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleetquery_server_execution_duration_seconds",
				Help:    "Per-server statement execution time in seconds",
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 180},
			},
			[]string{"server"},
		),
		serverRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetquery_server_rows_total",
				Help: "Rows returned per server",
			},
			[]string{"server"},
		),
	}
}

func (m *Metrics) ObserveServer(result domain.ServerResult) {
	if m == nil {
		return
	}
	m.serverTotal.WithLabelValues(result.Server, string(result.Status)).Inc()
	m.serverDuration.WithLabelValues(result.Server).Observe(float64(result.ExecutionTimeMs) / 1000)
	if result.Status == domain.ServerStatusSuccess {
		m.serverRows.WithLabelValues(result.Server).Add(float64(result.Rows))
	}
}

func (m *Metrics) ObserveRequest(mode string, status domain.ExecutionState, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(mode, string(status)).Inc()
	m.requestDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ObserveHTTP records one served HTTP request. route should be the route
// pattern, not the raw path, to bound label cardinality.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
