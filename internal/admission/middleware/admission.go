// Package middleware composes principal resolution, tier classification,
// rate limiting and identity lookup into one request-boundary check.
//
// Order matters: the principal is resolved first (401), the route is
// classified, programmatic credentials are refused on sensitive routes
// before any quota is charged (403), the limiter is consulted (429), the
// identity snapshot is loaded, and the consent gate is applied (451).
// Admitted requests carry the principal and identity in their context.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"bookmarks/internal/admission/principal"
	"bookmarks/internal/admission/tier"
	identity "bookmarks/internal/identity/models"
	"bookmarks/internal/platform/metrics"
	"bookmarks/internal/ratelimit/models"
	id "bookmarks/pkg/domain"
	dErrors "bookmarks/pkg/domain-errors"
	"bookmarks/pkg/platform/httputil"
	"bookmarks/pkg/requestcontext"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderPool       = "X-RateLimit-Pool"
	HeaderStatus     = "X-RateLimit-Status"
	HeaderRetryAfter = "Retry-After"

	statusDegraded = "degraded"
)

type PrincipalResolver interface {
	Resolve(ctx context.Context, authorization string) (*principal.Resolved, error)
}

type Classifier interface {
	ClassifyRequest(r *http.Request) tier.Classification
}

type Limiter interface {
	Check(ctx context.Context, p id.Principal, t models.Tier) *models.Decision
}

type IdentityLookup interface {
	Lookup(ctx context.Context, subject id.SubjectID, claims identity.Claims) (*identity.Entry, error)
}

// Config holds the admission policy switches.
type Config struct {
	// RequiredConsentVersion gates non-exempt routes when set.
	RequiredConsentVersion string
	// AllowProgrammaticSensitive lets personal access tokens reach sensitive routes.
	AllowProgrammaticSensitive bool
}

// Admission is the request-boundary check.
type Admission struct {
	resolver   PrincipalResolver
	classifier Classifier
	limiter    Limiter
	identity   IdentityLookup
	config     Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Admission)

func WithConfig(cfg Config) Option {
	return func(a *Admission) {
		a.config = cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Admission) {
		a.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Admission) {
		a.metrics = m
	}
}

func New(resolver PrincipalResolver, classifier Classifier, limiter Limiter, lookup IdentityLookup, opts ...Option) (*Admission, error) {
	if resolver == nil || classifier == nil || limiter == nil || lookup == nil {
		return nil, errors.New("resolver, classifier, limiter and identity lookup are required")
	}
	a := &Admission{
		resolver:   resolver,
		classifier: classifier,
		limiter:    limiter,
		identity:   lookup,
		logger:     slog.Default(),
		metrics:    metrics.New(nil),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// RateLimitBody is the JSON body of a 429.
type RateLimitBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Limit            int    `json:"limit"`
	Remaining        int    `json:"remaining"`
	ResetAt          int64  `json:"reset_at"`
	RetryAfter       int    `json:"retry_after"`
	Pool             string `json:"pool"`
}

// Handler wraps next with the admission check. It must run after routing so
// the route pattern is available to the classifier.
func (a *Admission) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := requestcontext.RequestID(ctx)

		resolved, err := a.resolver.Resolve(ctx, r.Header.Get("Authorization"))
		if err != nil {
			status := httputil.DomainCodeToHTTPStatus(dErrors.CodeOf(err))
			a.metrics.IncrementAuthFailures(strconv.Itoa(status))
			a.logger.WarnContext(ctx, "unauthorized access - credential rejected",
				"error", err,
				"request_id", requestID,
			)
			httputil.WriteError(w, err)
			return
		}
		p := resolved.Principal

		class := a.classifier.ClassifyRequest(r)
		tierLabel := string(class.Tier)

		if p.IsProgrammatic() && class.Tier == models.TierSensitive && !a.config.AllowProgrammaticSensitive {
			a.metrics.IncrementRejections("programmatic_sensitive", tierLabel)
			a.logger.WarnContext(ctx, "forbidden - programmatic credential on sensitive route",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "personal access tokens cannot call this endpoint"))
			return
		}

		decision := a.limiter.Check(ctx, p, class.Tier)
		writeRateLimitHeaders(w, decision)
		if !decision.Allowed {
			a.metrics.IncrementRejections("rate_limited", tierLabel)
			writeRateLimited(w, decision)
			return
		}

		entry, err := a.identity.Lookup(ctx, p.Subject, resolved.Claims)
		if err != nil {
			a.metrics.IncrementRejections("identity_unavailable", tierLabel)
			httputil.WriteError(w, err)
			return
		}

		if required := a.config.RequiredConsentVersion; required != "" {
			switch {
			case class.ConsentExempt:
				a.metrics.IncrementConsentCheck("exempt")
			case !entry.HasConsent(required):
				a.metrics.IncrementConsentCheck("failed")
				a.metrics.IncrementRejections("consent_required", tierLabel)
				a.logger.InfoContext(ctx, "consent required",
					"request_id", requestID,
					"required_version", required,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeConsentRequired, "accept consent version "+required+" to continue"))
				return
			default:
				a.metrics.IncrementConsentCheck("passed")
			}
		}

		a.metrics.IncrementAdmitted(tierLabel, string(p.Mechanism))
		ctx = WithPrincipal(ctx, p)
		ctx = WithIdentity(ctx, entry)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeRateLimitHeaders sets the quota headers. A degraded decision carries
// no quota data, only the status marker.
func writeRateLimitHeaders(w http.ResponseWriter, d *models.Decision) {
	h := w.Header()
	if d.Degraded {
		h.Set(HeaderStatus, statusDegraded)
		return
	}
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func writeRateLimited(w http.ResponseWriter, d *models.Decision) {
	retry := d.RetryAfterSeconds()
	w.Header().Set(HeaderRetryAfter, strconv.Itoa(retry))
	w.Header().Set(HeaderPool, string(d.BindingPool))
	httputil.WriteJSON(w, http.StatusTooManyRequests, RateLimitBody{
		Error:            "rate_limit_exceeded",
		ErrorDescription: "quota exhausted for the " + string(d.BindingPool) + " window",
		Limit:            d.Limit,
		Remaining:        d.Remaining,
		ResetAt:          d.ResetAt.Unix(),
		RetryAfter:       retry,
		Pool:             string(d.BindingPool),
	})
}
