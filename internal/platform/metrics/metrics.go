// Package metrics exposes prometheus instruments for the sync and cache pipelines
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles the instruments the services report into.
// Construct once per process with New and inject; never a package singleton
type Set struct {
	FetchAttempts       prometheus.Counter
	FetchFailures       prometheus.Counter
	BreakerOpens        prometheus.Counter
	SignificantChanges  prometheus.Counter
	InsignificantSkips  prometheus.Counter
	ProjectionsFlagged  prometheus.Counter
	Regenerations       prometheus.Counter
	RegenerationErrors  prometheus.Counter
	ProjectionCacheHits prometheus.Counter
	ProjectionCacheMiss prometheus.Counter
}

// New registers the instrument set on the given registerer
func New(reg prometheus.Registerer) *Set {
	f := promauto.With(reg)
	return &Set{
		FetchAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "calsieve_fetch_attempts_total",
			Help: "Source calendar fetch attempts, including retries",
		}),
		FetchFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "calsieve_fetch_failures_total",
			Help: "Source calendar fetches that exhausted retries",
		}),
		BreakerOpens: f.NewCounter(prometheus.CounterOpts{
			Name: "calsieve_breaker_opens_total",
			Help: "Circuit breaker transitions into the open state",
		}),
		SignificantChanges: f.NewCounter(prometheus.CounterOpts{
			Name: "calsieve_significant_changes_total",
			Help: "Fetched feeds whose content change crossed the similarity threshold",
		}),
		InsignificantSkips: f.NewCounter(prometheus.CounterOpts{
			Name: "calsieve_insignificant_skips_total",
			Help: "Fetched feeds treated as provider noise and skipped",
		}),
		ProjectionsFlagged: f.NewCounter(prometheus.CounterOpts{
			Name: "calsieve_projections_flagged_total",
			Help: "Projection cache entries newly flagged for regeneration",
		}),
		Regenerations: f.NewCounter(prometheus.CounterOpts{
			Name: "calsieve_projection_regenerations_total",
			Help: "Projection rebuilds performed",
		}),
		RegenerationErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "calsieve_projection_regeneration_errors_total",
			Help: "Projection rebuilds that failed",
		}),
		ProjectionCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "calsieve_projection_cache_hits_total",
			Help: "Projection reads served from cache",
		}),
		ProjectionCacheMiss: f.NewCounter(prometheus.CounterOpts{
			Name: "calsieve_projection_cache_misses_total",
			Help: "Projection reads that required a rebuild",
		}),
	}
}

// NewNop returns a Set registered on a throwaway registry, for tests and tools
func NewNop() *Set { return New(prometheus.NewRegistry()) }
