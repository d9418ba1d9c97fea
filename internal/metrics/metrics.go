// Package metrics exposes the Prometheus collectors shared by the HTTP layer
// and the numerical packages.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orbitd"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	propagationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "propagations_total",
		Help:      "Number of orbit propagations run.",
	})

	propagationSamples = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "propagation_samples",
		Help:      "Samples produced per propagation.",
		Buckets:   prometheus.ExponentialBuckets(16, 4, 7),
	})

	propagationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "propagation_duration_seconds",
		Help:      "Wall time of a single propagation.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	resonanceScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "resonance_scan_duration_seconds",
		Help:      "Wall time of a resonance search.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	resonancePairsScanned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resonance_pairs_scanned_total",
		Help:      "Integer pairs evaluated by resonance searches.",
	})

	resonanceCandidates = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "resonance_candidates",
		Help:      "Candidates returned per resonance search.",
		Buckets:   []float64{0, 1, 2, 5, 10, 50, 100, 500},
	})

	optimizerRounds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "optimizer_rounds_total",
		Help:      "Optimizer rounds by outcome.",
	}, []string{"outcome"})

	optimizerBestScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "optimizer_best_max_gap_seconds",
		Help:      "Worst-target maximum revisit gap of the best design in the latest run.",
	})

	cacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "propagation_cache_requests_total",
		Help:      "Propagation cache lookups by result.",
	}, []string{"result"})

	cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "propagation_cache_entries",
		Help:      "Entries currently held in the propagation cache.",
	})

	catalogEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "overlay_catalog_entries",
		Help:      "Satellites in the current TLE catalog.",
	})

	sseClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sse_clients",
		Help:      "Connected optimizer progress streams.",
	})

	sseEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sse_events_total",
		Help:      "Events written to optimizer progress streams, by event name.",
	}, []string{"event"})

	sseRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sse_rejections_total",
		Help:      "Progress streams refused by the connection limiter.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		propagationsTotal,
		propagationSamples,
		propagationDuration,
		resonanceScanDuration,
		resonancePairsScanned,
		resonanceCandidates,
		optimizerRounds,
		optimizerBestScore,
		cacheRequests,
		cacheEntries,
		catalogEntries,
		sseClients,
		sseEvents,
		sseRejections,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPropagation counts one propagation of n samples.
func RecordPropagation(d time.Duration, n int) {
	propagationsTotal.Inc()
	propagationSamples.Observe(float64(n))
	propagationDuration.Observe(d.Seconds())
}

// ObserveResonanceScan records a completed (or cancelled) resonance search.
func ObserveResonanceScan(d time.Duration, pairs, candidates int) {
	resonanceScanDuration.Observe(d.Seconds())
	resonancePairsScanned.Add(float64(pairs))
	resonanceCandidates.Observe(float64(candidates))
}

// RecordOptimizerRound counts a round as accepted or rejected.
func RecordOptimizerRound(accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	optimizerRounds.WithLabelValues(outcome).Inc()
}

// SetOptimizerBestScore publishes the current best max gap. Unreachable
// scores (+Inf) are exported as-is.
func SetOptimizerBestScore(maxGapSec float64) {
	optimizerBestScore.Set(maxGapSec)
}

// RecordCacheLookup counts a propagation cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheRequests.WithLabelValues(result).Inc()
}

// SetCacheEntries publishes the propagation cache size.
func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

// SetCatalogEntries publishes the TLE catalog size.
func SetCatalogEntries(n int) {
	catalogEntries.Set(float64(n))
}

// SSEClientConnected tracks a newly opened progress stream.
func SSEClientConnected() { sseClients.Inc() }

// SSEClientDisconnected tracks a closed progress stream.
func SSEClientDisconnected() { sseClients.Dec() }

// RecordSSEEvent counts one event written to a progress stream.
func RecordSSEEvent(event string) { sseEvents.WithLabelValues(event).Inc() }

// RecordSSERejection counts a stream refused for reason ("per_ip" or "global").
func RecordSSERejection(reason string) { sseRejections.WithLabelValues(reason).Inc() }

var knownRoutes = map[string]bool{
	"/healthz":                true,
	"/readyz":                 true,
	"/metrics":                true,
	"/api/v1/propagate":       true,
	"/api/v1/link":            true,
	"/api/v1/resonances":      true,
	"/api/v1/walker":          true,
	"/api/v1/optimize":        true,
	"/api/v1/overlay":         true,
	"/api/v1/overlay/refresh": true,
	"/api/v1/stream/optimize": true,
	"/api/v1/cache/stats":     true,
}

// normalizeRoute maps a request path onto a bounded label set so scanners
// probing random URLs cannot blow up series cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
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

// Flush lets SSE handlers stream through the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}
