package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Cache lookup results.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupStale = "stale"
	LookupError = "error"
)

// AuthzMetrics instruments permission resolution, cache invalidation and
// audited mutations. All methods are safe on a nil receiver.
type AuthzMetrics struct {
	lookups       *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	mutations     *prometheus.CounterVec
	resolve       prometheus.Histogram
}

// NewAuthzMetrics registers the collectors against registerer.
func NewAuthzMetrics(registerer prometheus.Registerer) *AuthzMetrics {
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_authz_cache_lookups_total",
		Help: "Permission cache lookups by result.",
	}, []string{"result"})
	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_authz_cache_invalidations_total",
		Help: "Permission cache invalidations by scope and status.",
	}, []string{"scope", "status"})
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_authz_mutations_total",
		Help: "Audited role and grant mutations by operation and outcome.",
	}, []string{"operation", "outcome"})
	resolve := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "odyssey_authz_resolve_duration_seconds",
		Help:    "Effective permission resolution latency.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	})
	registerer.MustRegister(lookups, invalidations, mutations, resolve)
	return &AuthzMetrics{lookups: lookups, invalidations: invalidations, mutations: mutations, resolve: resolve}
}

// CacheLookup counts one lookup with the given result.
func (m *AuthzMetrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

// Invalidation counts one invalidation of scope user, role or all.
func (m *AuthzMetrics) Invalidation(scope string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.invalidations.WithLabelValues(scope, status).Inc()
}

// ObserveMutation counts a mutation outcome: ok, the domain error kind, or error.
func (m *AuthzMetrics) ObserveMutation(operation string, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(operation, outcome(err)).Inc()
}

// ObserveResolve records one resolution.
func (m *AuthzMetrics) ObserveResolve(d time.Duration) {
	if m == nil {
		return
	}
	m.resolve.Observe(d.Seconds())
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := shared.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
