package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the admission outcome and account mutation metrics.
type Metrics struct {
	AuthFailures *prometheus.CounterVec
	Rejections   *prometheus.CounterVec
	Admitted     *prometheus.CounterVec

	// Consent metrics
	ConsentChecks    *prometheus.CounterVec
	ConsentsRecorded prometheus.Counter

	// Token metrics
	TokensIssued  prometheus.Counter
	TokensRevoked prometheus.Counter
}

// New creates the metrics and registers them with reg. A nil reg builds
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuthFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmarks_auth_failures_total",
			Help: "Requests rejected at principal resolution, by status",
		}, []string{"status"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmarks_admission_rejections_total",
			Help: "Requests refused by the admission layer, by reason and tier",
		}, []string{"reason", "tier"}),
		Admitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmarks_admission_admitted_total",
			Help: "Requests passed to handlers, by tier and mechanism",
		}, []string{"tier", "mechanism"}),
		ConsentChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmarks_consent_checks_total",
			Help: "Consent gate evaluations, by result (passed, failed, exempt)",
		}, []string{"result"}),
		ConsentsRecorded: f.NewCounter(prometheus.CounterOpts{
			Name: "bookmarks_consents_recorded_total",
			Help: "Consent versions accepted by users",
		}),
		TokensIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "bookmarks_tokens_issued_total",
			Help: "Personal access tokens issued",
		}),
		TokensRevoked: f.NewCounter(prometheus.CounterOpts{
			Name: "bookmarks_tokens_revoked_total",
			Help: "Personal access tokens revoked",
		}),
	}
}

func (m *Metrics) IncrementAuthFailures(status string) {
	m.AuthFailures.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementRejections(reason, tier string) {
	m.Rejections.WithLabelValues(reason, tier).Inc()
}

func (m *Metrics) IncrementAdmitted(tier, mechanism string) {
	m.Admitted.WithLabelValues(tier, mechanism).Inc()
}

func (m *Metrics) IncrementConsentCheck(result string) {
	m.ConsentChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementConsentsRecorded() {
	m.ConsentsRecorded.Inc()
}

func (m *Metrics) IncrementTokensIssued() {
	m.TokensIssued.Inc()
}

func (m *Metrics) IncrementTokensRevoked() {
	m.TokensRevoked.Inc()
}
