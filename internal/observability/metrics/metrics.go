package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livewatch"

// Recorder owns a Prometheus registry and the collectors describing HTTP
// traffic, resolutions, cache lookups and signal collectors.
type Recorder struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	resolutions       *prometheus.CounterVec
	resolveDuration   prometheus.Histogram
	resolving         prometheus.Gauge
	cacheLookups      *prometheus.CounterVec
	collectorCalls    *prometheus.CounterVec
	collectorDuration *prometheus.HistogramVec
	invalidations     *prometheus.CounterVec
}

var (
	defaultMu       sync.RWMutex
	defaultRecorder = New()
)

// New constructs a Recorder on a fresh registry so tests and multiple engines
// never collide on metric registration.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Recorder{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, normalised path and status.",
		}, []string{"method", "path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Active input resolutions by verdict and whether they were served from cache.",
		}, []string{"verdict", "cached"}),
		resolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_duration_seconds",
			Help:      "Latency of uncached resolutions.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}),
		resolving: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resolutions_in_flight",
			Help:      "Uncached resolutions currently fanning out to collectors.",
		}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		collectorCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_calls_total",
			Help:      "Collector invocations by source and outcome.",
		}, []string{"source", "outcome"}),
		collectorDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collector_duration_seconds",
			Help:      "Collector latency by source.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		invalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidations_total",
			Help:      "Cache invalidations by scope.",
		}, []string{"scope"}),
	}
}

// Default returns the process-wide Recorder.
func Default() *Recorder {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRecorder
}

// SetDefault replaces the process-wide Recorder.
func SetDefault(r *Recorder) {
	if r == nil {
		return
	}
	defaultMu.Lock()
	defaultRecorder = r
	defaultMu.Unlock()
}

// Registry exposes the underlying registry for extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRequest records one HTTP request.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	path = normalizePath(path)
	r.requests.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveResolution records a finished resolution. Duration is only tracked
// for uncached resolutions.
func (r *Recorder) ObserveResolution(verdict string, cached bool, duration time.Duration) {
	r.resolutions.WithLabelValues(normalizeName(verdict), fmt.Sprintf("%t", cached)).Inc()
	if !cached {
		r.resolveDuration.Observe(duration.Seconds())
	}
}

// ResolutionStarted increments the in-flight gauge.
func (r *Recorder) ResolutionStarted() {
	r.resolving.Inc()
}

// ResolutionFinished decrements the in-flight gauge.
func (r *Recorder) ResolutionFinished() {
	r.resolving.Dec()
}

// ObserveCacheLookup records a hit or miss against a cache tier ("local",
// "shared", "inventory").
func (r *Recorder) ObserveCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(normalizeName(tier), result).Inc()
}

// ObserveCollector records one collector run. Outcome is "opinion",
// "no_opinion" or "timeout".
func (r *Recorder) ObserveCollector(source, outcome string, duration time.Duration) {
	r.collectorCalls.WithLabelValues(source, normalizeName(outcome)).Inc()
	r.collectorDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveInvalidation records a cache invalidation ("channel" or "all").
func (r *Recorder) ObserveInvalidation(scope string) {
	r.invalidations.WithLabelValues(normalizeName(scope)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part != "" && looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

// looksLikeIdentifier treats long or digit-heavy segments as ids so label
// cardinality stays bounded.
func looksLikeIdentifier(segment string) bool {
	switch segment {
	case "channels", "resources", "invalidate", "active-input", "linkage", "healthz", "metrics", "cache", "clear":
		return false
	}
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest records a request on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	Default().ObserveRequest(method, path, status, duration)
}

// Handler serves the default recorder.
func Handler() http.Handler {
	return Default().Handler()
}
