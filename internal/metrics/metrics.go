// Package metrics provides Prometheus metrics for the kgsweb server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgsweb_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgsweb_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgsweb_cache_lookups_total",
			Help: "Total cache lookups by outcome (hit, miss, expired)",
		},
		[]string{"outcome"},
	)

	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kgsweb_cache_entries",
			Help: "Number of entries currently in the cache store",
		},
	)

	// Tree build metrics
	treeBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgsweb_tree_build_duration_seconds",
			Help:    "Time to rebuild a document tree from the file store",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	treeSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kgsweb_tree_size",
			Help: "Number of nodes in the cached document tree",
		},
		[]string{"root"},
	)

	// Freshness check metrics
	freshnessChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgsweb_freshness_checks_total",
			Help: "Total freshness checks by result (fresh, stale, error)",
		},
		[]string{"result"},
	)

	freshnessCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kgsweb_freshness_check_duration_seconds",
			Help:    "Freshness check duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// File store metrics
	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgsweb_store_operation_duration_seconds",
			Help:    "File store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgsweb_store_operations_total",
			Help: "Total file store operations",
		},
		[]string{"operation", "status"},
	)

	contentBytesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kgsweb_content_bytes_fetched_total",
			Help: "Total content bytes fetched from the file store",
		},
	)

	// Scheduled refresh metrics
	scheduledRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgsweb_scheduled_refresh_total",
			Help: "Total scheduled refresh runs per key by outcome",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCacheLookup records a cache lookup outcome ("hit", "miss", "expired").
func RecordCacheLookup(outcome string) {
	cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// SetCacheEntries sets the current cache entry count.
func SetCacheEntries(count int) {
	cacheEntries.Set(float64(count))
}

// RecordTreeBuild records a tree rebuild.
func RecordTreeBuild(duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	treeBuildDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetTreeSize sets the node count for a root's cached tree.
func SetTreeSize(root string, size int) {
	treeSize.WithLabelValues(root).Set(float64(size))
}

// RecordFreshnessCheck records a freshness check result ("fresh", "stale", "error").
func RecordFreshnessCheck(result string, duration time.Duration) {
	freshnessChecksTotal.WithLabelValues(result).Inc()
	freshnessCheckDuration.Observe(duration.Seconds())
}

// RecordStoreOperation records a file store operation.
func RecordStoreOperation(operation string, duration time.Duration, success bool) {
	storeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	storeOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordContentFetched records bytes fetched from the content endpoint.
func RecordContentFetched(bytes int64) {
	contentBytesFetched.Add(float64(bytes))
}

// RecordScheduledRefresh records a scheduled refresh outcome.
func RecordScheduledRefresh(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	scheduledRefreshTotal.WithLabelValues(status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
