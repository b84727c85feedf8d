// Package metrics exposes Prometheus instruments for the pattern engine.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pattern worker.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Draft selection
	DraftSelections  *prometheus.CounterVec
	DraftDuration    *prometheus.HistogramVec
	CoalescedWaiters prometheus.Counter
	InflightDrafts   prometheus.Gauge

	// Draft cache
	CacheLookups *prometheus.CounterVec
	CacheWrites  *prometheus.CounterVec

	// Oracle
	OracleCalls   *prometheus.CounterVec
	OracleTokens  *prometheus.CounterVec
	OracleLatency *prometheus.HistogramVec

	// Learning
	PatternsLearned *prometheus.CounterVec

	// Jobs
	JobsProcessed *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			DraftSelections: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pattern_draft_selections_total",
					Help: "Draft selection outcomes by source state",
				},
				[]string{"source", "success"},
			),
			DraftDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "pattern_draft_duration_seconds",
					Help:    "Duration of a draft selection run",
					Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
				},
				[]string{"source"},
			),
			CoalescedWaiters: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pattern_draft_coalesced_total",
				Help: "Requests that joined an in-flight draft selection for the same email",
			}),
			InflightDrafts: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "pattern_draft_inflight",
				Help: "Draft selections currently running",
			}),
			CacheLookups: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pattern_draft_cache_lookups_total",
					Help: "Draft cache lookups by tier and result",
				},
				[]string{"tier", "result"},
			),
			CacheWrites: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pattern_draft_cache_writes_total",
					Help: "Draft cache writes by tier and result",
				},
				[]string{"tier", "result"},
			),
			OracleCalls: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pattern_oracle_calls_total",
					Help: "Language model calls by tier and outcome",
				},
				[]string{"tier", "outcome"},
			),
			OracleTokens: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pattern_oracle_tokens_total",
					Help: "Tokens consumed by language model calls",
				},
				[]string{"tier"},
			),
			OracleLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "pattern_oracle_latency_seconds",
					Help:    "Language model call latency",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
				},
				[]string{"tier"},
			),
			PatternsLearned: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pattern_learned_total",
					Help: "Learning outcomes per candidate pattern",
				},
				[]string{"action"},
			),
			JobsProcessed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pattern_jobs_processed_total",
					Help: "Background jobs processed by type and status",
				},
				[]string{"type", "status"},
			),
		}
	})
	return sharedMetrics
}

func (m *Metrics) DraftSelected(source string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.DraftSelections.WithLabelValues(source, boolLabel(success)).Inc()
	m.DraftDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) Coalesced() {
	if m == nil {
		return
	}
	m.CoalescedWaiters.Inc()
}

func (m *Metrics) Inflight(delta float64) {
	if m == nil {
		return
	}
	m.InflightDrafts.Add(delta)
}

func (m *Metrics) CacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) CacheWrite(tier string, err error) {
	if m == nil {
		return
	}
	m.CacheWrites.WithLabelValues(tier, errLabel(err)).Inc()
}

func (m *Metrics) OracleCall(tier string, tokens int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.OracleCalls.WithLabelValues(tier, errLabel(err)).Inc()
	m.OracleLatency.WithLabelValues(tier).Observe(d.Seconds())
	if tokens > 0 {
		m.OracleTokens.WithLabelValues(tier).Add(float64(tokens))
	}
}

func (m *Metrics) PatternLearned(action string) {
	if m == nil {
		return
	}
	m.PatternsLearned.WithLabelValues(action).Inc()
}

func (m *Metrics) JobProcessed(jobType string, err error) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(jobType, errLabel(err)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func errLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
