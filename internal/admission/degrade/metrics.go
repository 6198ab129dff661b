package degrade

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Fallbacks *prometheus.CounterVec
	Degraded  *prometheus.GaugeVec
}

// NewMetrics registers with reg; a nil reg builds unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmarks_admission_fallbacks_total",
			Help: "Backing-store failures absorbed by failing open",
		}, []string{"subsystem", "reason"}),
		Degraded: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bookmarks_admission_degraded",
			Help: "1 while a subsystem is past its consecutive-failure threshold",
		}, []string{"subsystem"}),
	}
}
