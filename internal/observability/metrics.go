// Package observability registers and records Prometheus metrics for the
// map-session service.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	identifySourceResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identify_source_results_total",
			Help: "Identify source completions by outcome.",
		},
		[]string{"source", "outcome"},
	)

	identifyJoinSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "identify_join_duration_seconds",
			Help:    "Time from identify click to all sources settled.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache results by outcome.",
		},
		[]string{"outcome"},
	)

	invalidationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Catalog invalidation events by op and outcome.",
		},
		[]string{"op", "outcome"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "map_sessions_active",
			Help: "Number of live map sessions.",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func ObserveIdentifySource(source string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	identifySourceResults.WithLabelValues(source, outcome).Inc()
}

func ObserveIdentifyJoin(durationSeconds float64) {
	identifyJoinSeconds.Observe(durationSeconds)
}

func ObserveInvalidation(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	invalidationEvents.WithLabelValues(op, outcome).Inc()
}

func IncCacheHit()  { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheResults.WithLabelValues("miss").Inc() }

func SetActiveSessions(n int) { activeSessions.Set(float64(n)) }

func ExposeBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}
