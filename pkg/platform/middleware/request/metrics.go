package request

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// unmatchedRoute labels requests no route matched, keeping raw paths out of
// label values.
const unmatchedRoute = "unmatched"

type Metrics struct {
	Duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bookmarks_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern, method and status class",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route", "method", "status"}),
	}
}

func (m *Metrics) ObserveRequest(route, method string, status int, durationSeconds float64) {
	m.Duration.WithLabelValues(route, method, statusClass(status)).Observe(durationSeconds)
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
