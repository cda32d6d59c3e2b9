// Package metrics provides Prometheus metrics for the memory subsystem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for engram.
type Metrics struct {
	BoundaryDecisions     *prometheus.CounterVec
	RuleVerdicts          *prometheus.CounterVec
	Evictions             prometheus.Counter
	ConversationsRetained prometheus.Gauge
	PatternsMerged        *prometheus.CounterVec
	PatternsPruned        prometheus.Counter
	PatternsRegistered    prometheus.Gauge
	ConsolidationDropped  prometheus.Counter
	ConsolidationErrors   *prometheus.CounterVec
	IngestDuration        prometheus.Histogram

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		BoundaryDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engram_boundary_decisions_total",
				Help: "Boundary decisions by kind and deciding signal.",
			},
			[]string{"kind", "signal"},
		),
		RuleVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engram_rule_verdicts_total",
				Help: "Rule engine verdicts by operation and decision.",
			},
			[]string{"op", "decision"},
		),
		Evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "engram_conversation_evictions_total",
				Help: "Conversations evicted from Tier-1.",
			},
		),
		ConversationsRetained: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engram_conversations_retained",
				Help: "Conversations currently retained in Tier-1.",
			},
		),
		PatternsMerged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engram_patterns_merged_total",
				Help: "Pattern merges by result (added, reinforced).",
			},
			[]string{"result"},
		),
		PatternsPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "engram_patterns_pruned_total",
				Help: "Patterns removed by pruning sweeps.",
			},
		),
		PatternsRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engram_patterns_registered",
				Help: "Patterns currently held in the Tier-2 registry.",
			},
		),
		ConsolidationDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "engram_consolidation_dropped_total",
				Help: "Evicted conversations dropped because the consolidation queue was full.",
			},
		),
		ConsolidationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engram_consolidation_errors_total",
				Help: "Consolidation failures by error kind.",
			},
			[]string{"kind"},
		),
		IngestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "engram_ingest_duration_seconds",
				Help:    "Time spent consolidating one evicted conversation.",
				Buckets: prometheus.DefBuckets,
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.BoundaryDecisions)
	reg.MustRegister(m.RuleVerdicts)
	reg.MustRegister(m.Evictions)
	reg.MustRegister(m.ConversationsRetained)
	reg.MustRegister(m.PatternsMerged)
	reg.MustRegister(m.PatternsPruned)
	reg.MustRegister(m.PatternsRegistered)
	reg.MustRegister(m.ConsolidationDropped)
	reg.MustRegister(m.ConsolidationErrors)
	reg.MustRegister(m.IngestDuration)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordBoundary increments the boundary decision counter.
func (m *Metrics) RecordBoundary(kind, signal string) {
	if m == nil {
		return
	}
	m.BoundaryDecisions.WithLabelValues(kind, signal).Inc()
}

// RecordVerdict increments the verdict counter.
func (m *Metrics) RecordVerdict(op, decision string) {
	if m == nil {
		return
	}
	m.RuleVerdicts.WithLabelValues(op, decision).Inc()
}

// RecordEviction counts n evictions.
func (m *Metrics) RecordEviction(n int) {
	if m == nil {
		return
	}
	m.Evictions.Add(float64(n))
}

// SetConversations sets the retained conversation gauge.
func (m *Metrics) SetConversations(n int) {
	if m == nil {
		return
	}
	m.ConversationsRetained.Set(float64(n))
}

// RecordMerge counts added and reinforced patterns.
func (m *Metrics) RecordMerge(added, reinforced int) {
	if m == nil {
		return
	}
	m.PatternsMerged.WithLabelValues("added").Add(float64(added))
	m.PatternsMerged.WithLabelValues("reinforced").Add(float64(reinforced))
}

// RecordPrune counts pruned patterns.
func (m *Metrics) RecordPrune(n int) {
	if m == nil {
		return
	}
	m.PatternsPruned.Add(float64(n))
}

// SetPatterns sets the registered pattern gauge.
func (m *Metrics) SetPatterns(n int) {
	if m == nil {
		return
	}
	m.PatternsRegistered.Set(float64(n))
}

// RecordDropped counts a dropped consolidation job.
func (m *Metrics) RecordDropped() {
	if m == nil {
		return
	}
	m.ConsolidationDropped.Inc()
}

// RecordConsolidationError counts a consolidation failure.
func (m *Metrics) RecordConsolidationError(kind string) {
	if m == nil {
		return
	}
	m.ConsolidationErrors.WithLabelValues(kind).Inc()
}

// ObserveIngest records how long one ingest took.
func (m *Metrics) ObserveIngest(seconds float64) {
	if m == nil {
		return
	}
	m.IngestDuration.Observe(seconds)
}
