package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	mergeDurationBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Authorization metrics
	MergeDuration          prometheus.Histogram
	MergeAnomaliesTotal    *prometheus.CounterVec
	PermissionDenialsTotal *prometheus.CounterVec

	// Override lifecycle metrics
	OverrideUpdatesTotal      *prometheus.CounterVec
	OverrideResetsTotal       prometheus.Counter
	OverrideRejectionsTotal   *prometheus.CounterVec
	IdempotentReplaysTotal    prometheus.Counter
	IdempotencyConflictsTotal prometheus.Counter

	// Cache metrics
	EffectiveCacheHitsTotal   prometheus.Counter
	EffectiveCacheMissesTotal prometheus.Counter

	// Catalog metrics
	CatalogReloadTotal *prometheus.CounterVec
	CatalogEntries     *prometheus.GaugeVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatehouse_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatehouse_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatehouse_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Authorization
		MergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatehouse_merge_duration_seconds",
			Help:    "Time spent computing an effective permission set.",
			Buckets: mergeDurationBuckets,
		}),
		MergeAnomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_merge_anomalies_total",
			Help: "Total anomalies surfaced during permission merges.",
		}, []string{"dimension", "kind"}),
		PermissionDenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_permission_denials_total",
			Help: "Total permission checks that evaluated to false.",
		}, []string{"kind"}),

		// Override lifecycle
		OverrideUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_override_updates_total",
			Help: "Total accepted override updates.",
		}, []string{"role"}),
		OverrideResetsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_override_resets_total",
			Help: "Total override resets.",
		}),
		OverrideRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_override_rejections_total",
			Help: "Total rejected override deltas.",
		}, []string{"code"}),
		IdempotentReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_idempotent_replays_total",
			Help: "Total override updates answered from the idempotency store.",
		}),
		IdempotencyConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_idempotency_conflicts_total",
			Help: "Total idempotency key reuses with a different payload.",
		}),

		// Cache
		EffectiveCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_effective_cache_hits_total",
			Help: "Total effective permission cache hits.",
		}),
		EffectiveCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_effective_cache_misses_total",
			Help: "Total effective permission cache misses.",
		}),

		// Catalog
		CatalogReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_catalog_reload_total",
			Help: "Total catalog reloads.",
		}, []string{"status"}),
		CatalogEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatehouse_catalog_entries",
			Help: "Number of loaded catalog entries by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Authorization
		m.MergeDuration,
		m.MergeAnomaliesTotal,
		m.PermissionDenialsTotal,
		// Override lifecycle
		m.OverrideUpdatesTotal,
		m.OverrideResetsTotal,
		m.OverrideRejectionsTotal,
		m.IdempotentReplaysTotal,
		m.IdempotencyConflictsTotal,
		// Cache
		m.EffectiveCacheHitsTotal,
		m.EffectiveCacheMissesTotal,
		// Catalog
		m.CatalogReloadTotal,
		m.CatalogEntries,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordMerge records the duration of an effective permission merge.
func (m *Metrics) RecordMerge(duration time.Duration) {
	m.MergeDuration.Observe(duration.Seconds())
}

// RecordMergeAnomaly records a single merge anomaly.
func (m *Metrics) RecordMergeAnomaly(dimension, kind string) {
	m.MergeAnomaliesTotal.WithLabelValues(dimension, kind).Inc()
}

// RecordPermissionDenial records a permission check that evaluated to false.
// Kind is "route" or "capability".
func (m *Metrics) RecordPermissionDenial(kind string) {
	m.PermissionDenialsTotal.WithLabelValues(kind).Inc()
}

// RecordOverrideUpdate records an accepted override update for a user of the
// given role.
func (m *Metrics) RecordOverrideUpdate(role string) {
	m.OverrideUpdatesTotal.WithLabelValues(role).Inc()
}

// RecordOverrideReset records an override reset.
func (m *Metrics) RecordOverrideReset() {
	m.OverrideResetsTotal.Inc()
}

// RecordOverrideRejection records a rejected override delta.
func (m *Metrics) RecordOverrideRejection(code string) {
	m.OverrideRejectionsTotal.WithLabelValues(code).Inc()
}

// RecordIdempotentReplay records an update answered from the idempotency store.
func (m *Metrics) RecordIdempotentReplay() {
	m.IdempotentReplaysTotal.Inc()
}

// RecordIdempotencyConflict records an idempotency key reuse with a different
// payload.
func (m *Metrics) RecordIdempotencyConflict() {
	m.IdempotencyConflictsTotal.Inc()
}

// RecordEffectiveCacheHit records an effective permission cache hit.
func (m *Metrics) RecordEffectiveCacheHit() {
	m.EffectiveCacheHitsTotal.Inc()
}

// RecordEffectiveCacheMiss records an effective permission cache miss.
func (m *Metrics) RecordEffectiveCacheMiss() {
	m.EffectiveCacheMissesTotal.Inc()
}

// RecordCatalogReload records a catalog reload.
func (m *Metrics) RecordCatalogReload(status string) {
	m.CatalogReloadTotal.WithLabelValues(status).Inc()
}

// SetCatalogEntries sets the number of loaded catalog entries for a kind
// ("routes", "capabilities", "constraints", "roles").
func (m *Metrics) SetCatalogEntries(kind string, count float64) {
	m.CatalogEntries.WithLabelValues(kind).Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
