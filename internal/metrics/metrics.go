// Package metrics provides Prometheus metrics for the protolith server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Engine metrics
	DatabasesTotal  prometheus.Gauge
	CollectionsSize *prometheus.GaugeVec
	InsertsTotal    *prometheus.CounterVec
	GetsTotal       *prometheus.CounterVec
	ListsTotal      *prometheus.CounterVec

	// KV metrics
	KVOperations *prometheus.CounterVec
	KVLatency    *prometheus.HistogramVec
	KVErrors     *prometheus.CounterVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	LoginAttempts   *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protolith_requests_total",
			Help: "Total number of RPC requests",
		},
		[]string{"service", "method", "status"},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "protolith_request_duration_seconds",
			Help:    "RPC request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)

	m.RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "protolith_requests_in_flight",
			Help: "Number of RPC requests currently being processed",
		},
	)

	m.DatabasesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "protolith_databases_total",
			Help: "Total number of open databases",
		},
	)

	m.CollectionsSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "protolith_collection_records",
			Help: "Number of records observed in a collection at last list",
		},
		[]string{"database", "collection"},
	)

	m.InsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protolith_inserts_total",
			Help: "Total number of Insert calls",
		},
		[]string{"database", "collection", "result"},
	)

	m.GetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protolith_gets_total",
			Help: "Total number of Get calls",
		},
		[]string{"database", "collection", "result"},
	)

	m.ListsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protolith_lists_total",
			Help: "Total number of List calls",
		},
		[]string{"database", "collection"},
	)

	m.KVOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protolith_kv_operations_total",
			Help: "Total number of ordered KV store operations",
		},
		[]string{"operation"},
	)

	m.KVLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "protolith_kv_latency_seconds",
			Help:    "Ordered KV store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	m.KVErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protolith_kv_errors_total",
			Help: "Total number of ordered KV store errors",
		},
		[]string{"operation"},
	)

	m.SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "protolith_sessions_active",
			Help: "Number of sessions currently tracked",
		},
	)

	m.LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protolith_login_attempts_total",
			Help: "Total number of Login attempts",
		},
		[]string{"result"},
	)

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.DatabasesTotal,
		m.CollectionsSize,
		m.InsertsTotal,
		m.GetsTotal,
		m.ListsTotal,
		m.KVOperations,
		m.KVLatency,
		m.KVErrors,
		m.SessionsActive,
		m.LoginAttempts,
	)

	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Middleware returns HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		m.RequestsInFlight.Inc()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RequestsInFlight.Dec()
		duration := time.Since(start).Seconds()

		service, method := splitRPCPath(r.URL.Path)
		m.RequestsTotal.WithLabelValues(service, method, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(service, method).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// splitRPCPath turns "/engine/insert" into ("engine", "insert").
func splitRPCPath(path string) (service, method string) {
	trimmed := strings.Trim(path, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	if len(parts) == 1 && parts[0] != "" {
		return parts[0], ""
	}
	return "root", ""
}

// RecordInsert records the outcome of an Insert call.
func (m *Metrics) RecordInsert(database, collection string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.InsertsTotal.WithLabelValues(database, collection, result).Inc()
}

// RecordGet records the outcome of a Get call.
func (m *Metrics) RecordGet(database, collection string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.GetsTotal.WithLabelValues(database, collection, result).Inc()
}

// RecordList records a List call and the number of records returned.
func (m *Metrics) RecordList(database, collection string, count int) {
	m.ListsTotal.WithLabelValues(database, collection).Inc()
	m.CollectionsSize.WithLabelValues(database, collection).Set(float64(count))
}

// RecordKVOperation records a single ordered KV store operation.
func (m *Metrics) RecordKVOperation(operation string, duration time.Duration, err error) {
	m.KVOperations.WithLabelValues(operation).Inc()
	m.KVLatency.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.KVErrors.WithLabelValues(operation).Inc()
	}
}

// RecordLogin records a Login attempt.
func (m *Metrics) RecordLogin(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}

// SetDatabaseCount updates the open-database gauge.
func (m *Metrics) SetDatabaseCount(count int) {
	m.DatabasesTotal.Set(float64(count))
}

// SetSessionCount updates the active-session gauge.
func (m *Metrics) SetSessionCount(count int) {
	m.SessionsActive.Set(float64(count))
}
