// Package metrics defines the Prometheus metrics exported by the application.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SnapshotRefreshes counts EnsureFresh/Refresh outcomes by result
	// ("fresh", "refreshed", "failed").
	SnapshotRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibematch_snapshot_refreshes_total",
			Help: "Snapshot freshness checks by outcome",
		},
		[]string{"result"},
	)

	SnapshotRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vibematch_snapshot_refresh_duration_seconds",
			Help:    "Duration of snapshot refreshes that fetched from the catalog",
			Buckets: prometheus.DefBuckets,
		},
	)

	// UnknownReleaseDates counts release dates that could not be normalized.
	UnknownReleaseDates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vibematch_release_dates_unknown_total",
			Help: "Track release dates normalized to the unknown marker",
		},
	)

	// CompatibilityRequests counts pairwise lookups by result
	// ("cached", "computed", "failed").
	CompatibilityRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibematch_compatibility_requests_total",
			Help: "Pairwise compatibility lookups by outcome",
		},
		[]string{"result"},
	)

	CompatibilityScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vibematch_compatibility_score",
			Help:    "Distribution of computed compatibility scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	// CatalogRequests counts upstream catalog calls by endpoint and result
	// ("success", "http_error", "failure", "rejected").
	CatalogRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibematch_catalog_requests_total",
			Help: "Upstream catalog API requests",
		},
		[]string{"endpoint", "result"},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vibematch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibematch_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// PairCacheRequests counts pairwise redis cache lookups ("hit", "miss", "error").
	PairCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibematch_pair_cache_requests_total",
			Help: "Pairwise compatibility cache lookups",
		},
		[]string{"result"},
	)
)
