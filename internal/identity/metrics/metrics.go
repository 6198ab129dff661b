package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Lookups          *prometheus.CounterVec
	Fetches          *prometheus.CounterVec
	FetchDurationSec prometheus.Histogram
}

// New registers the identity lookup metrics with reg. A nil reg builds
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmarks_identity_lookups_total",
			Help: "Identity lookups by cache result (hit, miss, stale)",
		}, []string{"result"}),
		Fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmarks_identity_fetches_total",
			Help: "Source-of-truth fetches by outcome (ok, error, shared, not_cached)",
		}, []string{"outcome"}),
		FetchDurationSec: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bookmarks_identity_fetch_duration_seconds",
			Help:    "Latency of user store fetches on cache miss",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) RecordLookup(result string) {
	m.Lookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordFetch(outcome string) {
	m.Fetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFetchDuration(durationSeconds float64) {
	m.FetchDurationSec.Observe(durationSeconds)
}
