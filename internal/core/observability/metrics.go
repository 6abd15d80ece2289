package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes recorded by ObserveQuery.
const (
	OutcomeOK          = "ok"
	OutcomeBuildError  = "build_error"
	OutcomeStoreError  = "store_error"
	OutcomeNotFound    = "not_found"
	OutcomeMaterialize = "materialize_error"
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

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	collectionQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_queries_total",
			Help: "Collection queries by outcome.",
		},
		[]string{"collection", "outcome"},
	)

	statementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collection_statement_duration_seconds",
			Help:    "Time spent executing collection statements.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"collection", "kind"},
	)

	featuresEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_features_emitted_total",
			Help: "Features emitted on collection streams.",
		},
		[]string{"collection"},
	)

	unappliedFilters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_unapplied_filters_total",
			Help: "Filters left for the caller because the engine could not translate them.",
		},
		[]string{"collection", "class"},
	)

	featureCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_cache_results_total",
			Help: "Feature cache lookups by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	featureCacheOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feature_cache_op_duration_seconds",
			Help:    "Latency of feature cache operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	invalidationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Invalidation events consumed, by outcome.",
		},
		[]string{"outcome"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveQuery(collection, outcome string) {
	collectionQueries.WithLabelValues(collection, outcome).Inc()
}

// ObserveStatement records execution time; kind is "list" or "by_id".
func ObserveStatement(collection, kind string, durationSeconds float64) {
	statementDuration.WithLabelValues(collection, kind).Observe(durationSeconds)
}

func AddFeaturesEmitted(collection string, n int) {
	if n <= 0 {
		return
	}
	featuresEmitted.WithLabelValues(collection).Add(float64(n))
}

func IncUnappliedFilter(collection, class string) {
	unappliedFilters.WithLabelValues(collection, class).Inc()
}

func IncFeatureCacheHit(backend string) {
	featureCacheResults.WithLabelValues(backend, "hit").Inc()
}

func IncFeatureCacheMiss(backend string) {
	featureCacheResults.WithLabelValues(backend, "miss").Inc()
}

func ObserveCacheOp(op, result string, durationSeconds float64) {
	featureCacheOpDuration.WithLabelValues(op, result).Observe(durationSeconds)
}

func IncInvalidationEvent(outcome string) {
	invalidationEvents.WithLabelValues(outcome).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
