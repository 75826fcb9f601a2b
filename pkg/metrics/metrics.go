// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequestDuration tracks backend request duration by operation.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_api_request_duration_seconds",
			Help:    "Backend API request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"op", "status"},
	)

	// APIRequestsTotal tracks total backend requests by operation.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_api_requests_total",
			Help: "Total backend API requests",
		},
		[]string{"op", "status"},
	)

	// StreamTokensTotal tracks partial-content tokens received over SSE.
	StreamTokensTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_stream_tokens_total",
			Help: "Total partial-content tokens decoded from message streams",
		},
	)

	// StreamsTotal tracks completed and failed message streams.
	StreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_streams_total",
			Help: "Total message streams by outcome",
		},
		[]string{"outcome"},
	)

	// CacheHitsTotal tracks conversation cache hits by entry kind.
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_cache_hits_total",
			Help: "Conversation cache hits",
		},
		[]string{"entry"},
	)

	// CacheMissesTotal tracks conversation cache misses by entry kind.
	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_cache_misses_total",
			Help: "Conversation cache misses",
		},
		[]string{"entry"},
	)

	// OptimisticRollbacksTotal counts sends whose optimistic update was rolled back.
	OptimisticRollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_optimistic_rollbacks_total",
			Help: "Optimistic updates rolled back after a failed mutation",
		},
	)
)

// RecordAPIRequest records metrics for one backend API call.
func RecordAPIRequest(op, status string, duration float64) {
	APIRequestDuration.WithLabelValues(op, status).Observe(duration)
	APIRequestsTotal.WithLabelValues(op, status).Inc()
}

// RecordCacheLookup records a cache hit or miss for an entry kind.
func RecordCacheLookup(entry string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(entry).Inc()
		return
	}
	CacheMissesTotal.WithLabelValues(entry).Inc()
}
