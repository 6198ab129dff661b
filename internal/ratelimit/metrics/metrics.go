package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions         *prometheus.CounterVec
	Denials           *prometheus.CounterVec
	CheckDurationSecs prometheus.Histogram
}

// New registers the limiter metrics with reg. A nil reg builds unregistered
// collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmarks_ratelimit_decisions_total",
			Help: "Admission decisions by tier and outcome (allowed, denied, degraded)",
		}, []string{"tier", "outcome"}),
		Denials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmarks_ratelimit_denials_total",
			Help: "Quota denials by tier and binding pool",
		}, []string{"tier", "pool"}),
		CheckDurationSecs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bookmarks_ratelimit_check_duration_seconds",
			Help:    "Latency of limiter checks including the store round trip",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
	}
}

func (m *Metrics) RecordDecision(tier, outcome string) {
	m.Decisions.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) RecordDenial(tier, pool string) {
	m.Denials.WithLabelValues(tier, pool).Inc()
}

func (m *Metrics) ObserveCheckDuration(durationSeconds float64) {
	m.CheckDurationSecs.Observe(durationSeconds)
}
