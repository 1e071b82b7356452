// Package metrics provides Prometheus instrumentation for the shortener
// core: allocation outcomes, cache effectiveness and post-commit failures.
//
// All methods on *Metrics are nil-safe; pass nil when no instrumentation is
// desired (e.g., in unit tests that don't care about metrics output).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus descriptors for the shortener service.
type Metrics struct {
	allocationsTotal    *prometheus.CounterVec
	rankingLookupsTotal *prometheus.CounterVec
	rankingEvictions    prometheus.Counter
	rankingReloads      prometheus.Counter
	rankingSize         prometheus.Gauge
	afterCommitFailures prometheus.Counter
}

// New creates a Metrics instance and registers all descriptors with reg.
// Use prometheus.DefaultRegisterer in production and prometheus.NewRegistry()
// in tests to avoid cross-test pollution.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		allocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shortrank_allocations_total",
				Help: "Short-code allocations by outcome.",
			},
			[]string{"outcome"},
		),
		rankingLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shortrank_ranking_cache_lookups_total",
				Help: "Ranking cache lookups by result (hit or miss).",
			},
			[]string{"result"},
		),
		rankingEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shortrank_ranking_cache_evictions_total",
			Help: "Entries evicted from the ranking cache.",
		}),
		rankingReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shortrank_ranking_cache_reloads_total",
			Help: "Full reloads of the ranking cache from the database.",
		}),
		rankingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shortrank_ranking_cache_entries",
			Help: "Current number of entries in the ranking cache.",
		}),
		afterCommitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shortrank_after_commit_failures_total",
			Help: "Cache or publish failures after a committed write.",
		}),
	}
	reg.MustRegister(
		m.allocationsTotal,
		m.rankingLookupsTotal,
		m.rankingEvictions,
		m.rankingReloads,
		m.rankingSize,
		m.afterCommitFailures,
	)
	return m
}

// RecordAllocation counts one allocation outcome.
// outcome should be one of: created, idempotent, duplicate, exhausted, invalid.
func (m *Metrics) RecordAllocation(outcome string) {
	if m == nil {
		return
	}
	m.allocationsTotal.WithLabelValues(outcome).Inc()
}

// RecordRankingLookup counts one ranking cache lookup.
func (m *Metrics) RecordRankingLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.rankingLookupsTotal.WithLabelValues(result).Inc()
}

// RecordEviction counts one ranking cache eviction.
func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.rankingEvictions.Inc()
}

// RecordReload counts one full ranking cache reload.
func (m *Metrics) RecordReload() {
	if m == nil {
		return
	}
	m.rankingReloads.Inc()
}

// SetRankingSize updates the ranking cache size gauge.
func (m *Metrics) SetRankingSize(n int) {
	if m == nil {
		return
	}
	m.rankingSize.Set(float64(n))
}

// RecordAfterCommitFailure counts one swallowed post-commit failure.
func (m *Metrics) RecordAfterCommitFailure() {
	if m == nil {
		return
	}
	m.afterCommitFailures.Inc()
}
