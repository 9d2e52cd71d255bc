// Package metrics provides Prometheus metrics for the badgeboard service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace string
	enabled   bool
	registry  prometheus.Registerer

	// Reconciliation
	syncOutcomes     *prometheus.CounterVec
	syncLatency      prometheus.Histogram
	batchRuns        prometheus.Counter
	batchFailures    prometheus.Counter
	batchSize        prometheus.Gauge
	leaderboardSize  *prometheus.GaugeVec
	credentialsTotal prometheus.Gauge

	// Remote API
	remoteRequests *prometheus.CounterVec
	remoteLatency  *prometheus.HistogramVec
	remoteRetries  prometheus.Counter

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// Badge mirror
	mirrorUploads *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// DefaultNamespace prefixes every metric name unless overridden.
const DefaultNamespace = "badgeboard"

// latencyBuckets are the millisecond buckets of every latency histogram.
var latencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000} //nolint:gochecknoglobals // shared bucket layout

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Init replaces the global manager with one built from opts on a fresh
// registry. Call it once at startup, before the metrics handler is created.
func Init(opts ...Option) {
	reg := prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(reg))...)
	customRegistry = reg
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: DefaultNamespace,
		enabled:   true,
		registry:  prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	auto := promauto.With(m.registry)

	m.syncOutcomes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "sync_total",
		Help:      "User syncs by outcome (synced, no_score, not_authorized, remote_error, storage_error)",
	}, []string{"outcome"})

	m.syncLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "sync_duration_milliseconds",
		Help:      "End to end duration of a single user sync",
		Buckets:   latencyBuckets,
	})

	m.batchRuns = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "batch_runs_total",
		Help:      "Number of batch sync runs",
	})

	m.batchFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "batch_user_failures_total",
		Help:      "Users that failed to sync during batch runs",
	})

	m.batchSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "batch_last_size",
		Help:      "Number of credentials processed by the last batch run",
	})

	m.leaderboardSize = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "leaderboard_entries",
		Help:      "Entries in the last projected leaderboard per test",
	}, []string{"test_id"})

	m.credentialsTotal = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "credentials",
		Help:      "Stored credentials seen by the last batch run",
	})

	m.remoteRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "remote_requests_total",
		Help:      "Requests to the assessment API by operation and status code (0 = transport error)",
	}, []string{"op", "status_code"})

	m.remoteLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "remote_request_duration_milliseconds",
		Help:      "Assessment API latency by operation",
		Buckets:   latencyBuckets,
	}, []string{"op"})

	m.remoteRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "remote_retries_total",
		Help:      "Retried assessment API calls",
	})

	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "store_operation_duration_milliseconds",
		Help:      "Score store latency by operation",
		Buckets:   latencyBuckets,
	}, []string{"op"})

	m.storeErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "store_errors_total",
		Help:      "Unexpected score store failures by operation",
	}, []string{"op"})

	m.mirrorUploads = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "badge_mirror_uploads_total",
		Help:      "Badge image mirror attempts by result",
	}, []string{"result"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   latencyBuckets,
	}, []string{"endpoint", "method", "status_code"})
}

// RecordSyncOutcome counts a finished user sync.
func RecordSyncOutcome(outcome string) {
	if !globalManager.enabled {
		return
	}
	globalManager.syncOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSyncLatency records a user sync duration in milliseconds.
func RecordSyncLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.syncLatency.Observe(latencyMs)
}

// RecordBatchRun records a finished batch with its size and failure count.
func RecordBatchRun(size, failures int) {
	if !globalManager.enabled {
		return
	}
	globalManager.batchRuns.Inc()
	globalManager.batchFailures.Add(float64(failures))
	globalManager.batchSize.Set(float64(size))
	globalManager.credentialsTotal.Set(float64(size))
}

// UpdateLeaderboardSize sets the projected entry count for a test.
func UpdateLeaderboardSize(testID string, size int) {
	if !globalManager.enabled {
		return
	}
	globalManager.leaderboardSize.WithLabelValues(testID).Set(float64(size))
}

// RecordRemoteRequest records an assessment API call.
func RecordRemoteRequest(op, statusCode string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.remoteRequests.WithLabelValues(op, statusCode).Inc()
	globalManager.remoteLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordRemoteRetry counts a retried assessment API call.
func RecordRemoteRetry() {
	if !globalManager.enabled {
		return
	}
	globalManager.remoteRetries.Inc()
}

// RecordStoreOperation records a store call and counts it as an error when failed is set.
func RecordStoreOperation(op string, latencyMs float64, failed bool) {
	if !globalManager.enabled {
		return
	}
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
	if failed {
		globalManager.storeErrors.WithLabelValues(op).Inc()
	}
}

// RecordMirrorUpload counts a badge mirror attempt.
func RecordMirrorUpload(result string) {
	if !globalManager.enabled {
		return
	}
	globalManager.mirrorUploads.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the registry the global manager writes to.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
