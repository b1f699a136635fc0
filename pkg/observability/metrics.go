package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the Shelf service
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// SSO flow metrics
	SSOFlowsInitiated prometheus.Counter
	SSOFlowsCompleted prometheus.Counter
	SSOFlowsFailed    *prometheus.CounterVec
	SSOPendingFlows   prometheus.Gauge

	// Session metrics
	SessionsActive      prometheus.Gauge
	SessionsEstablished prometheus.Counter

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelf_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shelf_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		SSOFlowsInitiated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shelf_sso_flows_initiated_total",
				Help: "Total number of SSO login flows initiated",
			},
		),
		SSOFlowsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shelf_sso_flows_completed_total",
				Help: "Total number of SSO login flows completed successfully",
			},
		),
		SSOFlowsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelf_sso_flows_failed_total",
				Help: "Total number of SSO login flows that failed",
			},
			[]string{"reason"},
		),
		SSOPendingFlows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shelf_sso_pending_flows",
				Help: "Number of SSO flows awaiting a provider callback",
			},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shelf_sessions_active",
				Help: "Number of active user sessions",
			},
		),
		SessionsEstablished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shelf_sessions_established_total",
				Help: "Total number of user sessions established",
			},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelf_storage_operations_total",
				Help: "Total number of storage backend operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shelf_storage_operation_duration_seconds",
				Help:    "Storage backend operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shelf_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shelf_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SSOFlowsInitiated,
		m.SSOFlowsCompleted,
		m.SSOFlowsFailed,
		m.SSOPendingFlows,
		m.SessionsActive,
		m.SessionsEstablished,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics from registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request counts and latencies per route
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// RecordStorageOperation records a single storage backend operation
func (m *Metrics) RecordStorageOperation(operation, backend string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StorageOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
