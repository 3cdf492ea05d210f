// Package metrics exposes Prometheus collectors for the analysis service.
//
// Every method is safe to call on a nil *Metrics so that components can be
// constructed without a registry in tests and CLI runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every collector name.
const Namespace = "phishguard"

// Analysis kinds recorded by ObserveAnalysis.
const (
	KindFull     = "full"
	KindFile     = "file"
	KindCheck    = "check"
	KindEnsemble = "ensemble"
	KindBatch    = "batch"
)

// Scorer outcomes recorded by ScorerRequest.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeCircuitOpen = "circuit_open"
)

// Metrics holds the service collectors.
type Metrics struct {
	AnalysesTotal         *prometheus.CounterVec
	ModalityDegradedTotal *prometheus.CounterVec
	CacheLookupsTotal     *prometheus.CounterVec
	FetchDurationSeconds  prometheus.Histogram
	ScorerRequestsTotal   *prometheus.CounterVec
	BatchSize             prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AnalysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "analyses_total",
				Help:      "Completed analyses by kind and resulting label",
			},
			[]string{"kind", "label"},
		),
		ModalityDegradedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "modality_degraded_total",
				Help:      "Analyses where a modality fell back to UNKNOWN",
			},
			[]string{"modality"},
		),
		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "cache_lookups_total",
				Help:      "Result cache lookups by result",
			},
			[]string{"result"},
		),
		FetchDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of HTML fetches",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
		),
		ScorerRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "scorer_requests_total",
				Help:      "Scorer calls by modality and outcome",
			},
			[]string{"modality", "outcome"},
		),
		BatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "batch_size",
				Help:      "Number of URLs per batch request",
				Buckets:   []float64{1, 5, 10, 25, 50, 100},
			},
		),
	}
}

// ObserveAnalysis counts a completed analysis.
func (m *Metrics) ObserveAnalysis(kind, label string) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(kind, label).Inc()
}

// ModalityDegraded counts a modality that produced UNKNOWN.
func (m *Metrics) ModalityDegraded(modality string) {
	if m == nil {
		return
	}
	m.ModalityDegradedTotal.WithLabelValues(modality).Inc()
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveFetch records the duration of one fetch.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDurationSeconds.Observe(d.Seconds())
}

// ScorerRequest counts one scorer call.
func (m *Metrics) ScorerRequest(modality, outcome string) {
	if m == nil {
		return
	}
	m.ScorerRequestsTotal.WithLabelValues(modality, outcome).Inc()
}

// ObserveBatch records the size of a batch request.
func (m *Metrics) ObserveBatch(n int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(n))
}
