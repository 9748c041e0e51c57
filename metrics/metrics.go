// Package metrics exposes Prometheus collectors for inference, caching, and
// model lifecycle activity.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// InferenceDuration tracks wall time per engine and operation.
	InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "layerforge",
			Subsystem: "inference",
			Name:      "duration_seconds",
			Help:      "Duration of inference operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"operation", "engine"},
	)

	// CacheEvents counts hits and misses per cache.
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "layerforge",
			Subsystem: "cache",
			Name:      "events_total",
			Help:      "Cache hits and misses by cache name",
		},
		[]string{"cache", "outcome"},
	)

	// ModelLoads counts engine load attempts.
	ModelLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "layerforge",
			Subsystem: "models",
			Name:      "loads_total",
			Help:      "Engine load attempts by outcome",
		},
		[]string{"engine", "outcome"},
	)

	// AssetsStored counts persisted assets by kind.
	AssetsStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "layerforge",
			Subsystem: "storage",
			Name:      "assets_total",
			Help:      "Assets written to the store by kind",
		},
		[]string{"kind"},
	)

	// HTTPRequestsTotal counts requests by route, method, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "layerforge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	// HTTPRequestDuration tracks request latency by route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "layerforge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		InferenceDuration,
		CacheEvents,
		ModelLoads,
		AssetsStored,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ObserveInference records one inference and its cache outcome.
func ObserveInference(operation, engine string, elapsed time.Duration, cacheHit bool) {
	InferenceDuration.WithLabelValues(operation, engine).Observe(elapsed.Seconds())
	CacheEvents.WithLabelValues("result", outcome(cacheHit)).Inc()
}

// ObserveEmbedding records an embedding cache lookup.
func ObserveEmbedding(cacheHit bool) {
	CacheEvents.WithLabelValues("embedding", outcome(cacheHit)).Inc()
}

func outcome(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// StatusLabel formats an HTTP status for use as a metric label.
func StatusLabel(code int) string { return strconv.Itoa(code) }
