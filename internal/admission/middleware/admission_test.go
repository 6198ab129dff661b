package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"bookmarks/internal/admission/degrade"
	"bookmarks/internal/admission/principal"
	"bookmarks/internal/admission/tier"
	"bookmarks/internal/identity/cache"
	identity "bookmarks/internal/identity/models"
	identitysvc "bookmarks/internal/identity/service"
	"bookmarks/internal/identity/service/mocks"
	"bookmarks/internal/platform/metrics"
	ratelimitconfig "bookmarks/internal/ratelimit/config"
	"bookmarks/internal/ratelimit/models"
	"bookmarks/internal/ratelimit/service"
	"bookmarks/internal/ratelimit/store/counter"
	id "bookmarks/pkg/domain"
	"bookmarks/pkg/platform/sentinel"
)

type tokenTable map[string]id.SubjectID

func (t tokenTable) VerifyToken(_ context.Context, token string) (id.SubjectID, error) {
	if s, ok := t[token]; ok {
		return s, nil
	}
	return "", fmt.Errorf("token: %w", sentinel.ErrNotFound)
}

// countingLimiter records whether quota was consulted.
type countingLimiter struct {
	inner Limiter
	calls int
}

func (c *countingLimiter) Check(ctx context.Context, p id.Principal, t models.Tier) *models.Decision {
	c.calls++
	return c.inner.Check(ctx, p, t)
}

type degradedLimiter struct{}

func (degradedLimiter) Check(context.Context, id.Principal, models.Tier) *models.Decision {
	return models.FailOpen()
}

type AdmissionSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	source   *mocks.MockSource
	store    *counter.InMemoryStore
	limiter  *countingLimiter
	resolver *principal.Resolver
	lookup   *identitysvc.Service
	metrics  *metrics.Metrics
	authCfg  principal.Config
	now      time.Time
	consent  *string

	seenPrincipal id.Principal
	seenIdentity  *identity.Entry
}

func TestAdmissionSuite(t *testing.T) {
	suite.Run(t, new(AdmissionSuite))
}

func (s *AdmissionSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.source = mocks.NewMockSource(s.ctrl)
	s.now = time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	clock := func() time.Time { return s.now }
	v := "2026-01"
	s.consent = &v

	s.authCfg = principal.Config{SigningKey: "test-signing-key-0123456789", Issuer: "bookmarks-test", PATPrefix: "bm_"}
	resolver, err := principal.New(s.authCfg,
		principal.WithTokenVerifier(tokenTable{"bm_bot": "auth0|bot"}),
		principal.WithClock(clock),
	)
	s.Require().NoError(err)
	s.resolver = resolver

	s.store = counter.NewInMemoryStore(clock)
	cfg := ratelimitconfig.DefaultConfig()
	cfg.Limits[models.TierSensitive] = ratelimitconfig.Limit{Short: 20, Long: 250}
	limiter, err := service.New(s.store, degrade.New(), service.WithConfig(cfg), service.WithClock(clock))
	s.Require().NoError(err)
	s.limiter = &countingLimiter{inner: limiter}

	lookup, err := identitysvc.New(cache.NewInMemory(clock), s.source, identitysvc.WithClock(clock))
	s.Require().NoError(err)
	s.lookup = lookup
	s.metrics = metrics.New(prometheus.NewRegistry())

	s.source.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, subject id.SubjectID, claims identity.Claims) (*identity.Entry, error) {
			return &identity.Entry{
				SubjectID:      subject,
				UserID:         id.UserID(uuid.New()),
				Email:          claims.Email,
				ConsentVersion: s.consent,
			}, nil
		}).AnyTimes()
}

func (s *AdmissionSuite) router(limiter Limiter, cfg Config) http.Handler {
	adm, err := New(s.resolver, tier.Default(), limiter, s.lookup,
		WithConfig(cfg),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)

	ok := func(w http.ResponseWriter, r *http.Request) {
		s.seenPrincipal, _ = PrincipalFrom(r.Context())
		s.seenIdentity, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(adm.Handler)
		r.Get("/bookmarks", ok)
		r.Get("/bookmarks/fetch-metadata", ok)
		r.Post("/consent", ok)
		r.Delete("/tokens/{id}", ok)
	})
	return r
}

func (s *AdmissionSuite) session(subject id.SubjectID) string {
	token, err := principal.IssueSession(s.authCfg, subject, "alice@example.com", s.now, time.Hour)
	s.Require().NoError(err)
	return "Bearer " + token
}

func (s *AdmissionSuite) do(h http.Handler, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Principal resolution
// =============================================================================

func (s *AdmissionSuite) TestMissingCredentialIs401WithoutChargingQuota() {
	h := s.router(s.limiter, Config{})

	rec := s.do(h, http.MethodGet, "/bookmarks", "")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Zero(s.limiter.calls)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.AuthFailures.WithLabelValues("401")))
}

func (s *AdmissionSuite) TestAdmittedRequestCarriesPrincipalAndIdentity() {
	h := s.router(s.limiter, Config{})

	rec := s.do(h, http.MethodGet, "/bookmarks", s.session("auth0|alice"))
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(id.SubjectID("auth0|alice"), s.seenPrincipal.Subject)
	s.Equal(id.MechanismInteractive, s.seenPrincipal.Mechanism)
	s.Require().NotNil(s.seenIdentity)
	s.Equal("alice@example.com", *s.seenIdentity.Email)

	s.Equal("120", rec.Header().Get(HeaderLimit))
	s.Equal("119", rec.Header().Get(HeaderRemaining))
	s.Equal(strconv.FormatInt(time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC).Unix(), 10), rec.Header().Get(HeaderReset))
	s.Empty(rec.Header().Get(HeaderStatus))
}

// =============================================================================
// Rate limiting
// =============================================================================

func (s *AdmissionSuite) TestTwentyFirstSensitiveRequestIs429() {
	h := s.router(s.limiter, Config{})
	auth := s.session("auth0|alice")

	for i := range 20 {
		rec := s.do(h, http.MethodGet, "/bookmarks/fetch-metadata", auth)
		s.Require().Equal(http.StatusOK, rec.Code, "request %d", i+1)
		s.Equal(strconv.Itoa(19-i), rec.Header().Get(HeaderRemaining))
	}

	rec := s.do(h, http.MethodGet, "/bookmarks/fetch-metadata", auth)
	s.Require().Equal(http.StatusTooManyRequests, rec.Code)
	s.Equal("30", rec.Header().Get(HeaderRetryAfter))
	s.Equal("short", rec.Header().Get(HeaderPool))
	s.Equal("0", rec.Header().Get(HeaderRemaining))

	var body RateLimitBody
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
	s.Equal("rate_limit_exceeded", body.Error)
	s.Equal(20, body.Limit)
	s.Equal(0, body.Remaining)
	s.Equal(30, body.RetryAfter)
	s.Equal("short", body.Pool)

	// General tier is untouched.
	s.Equal(http.StatusOK, s.do(h, http.MethodGet, "/bookmarks", auth).Code)
}

func (s *AdmissionSuite) TestDegradedLimiterAdmitsWithMarker() {
	h := s.router(degradedLimiter{}, Config{})

	rec := s.do(h, http.MethodGet, "/bookmarks", s.session("auth0|alice"))
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("degraded", rec.Header().Get(HeaderStatus))
	s.Empty(rec.Header().Get(HeaderLimit))
	s.Empty(rec.Header().Get(HeaderRemaining))
	s.Empty(rec.Header().Get(HeaderReset))
}

// =============================================================================
// Programmatic credentials
// =============================================================================

func (s *AdmissionSuite) TestProgrammaticOnSensitiveIs403BeforeQuota() {
	h := s.router(s.limiter, Config{})

	rec := s.do(h, http.MethodDelete, "/tokens/abc", "Bearer bm_bot")
	s.Equal(http.StatusForbidden, rec.Code)
	s.Zero(s.limiter.calls)

	rec = s.do(h, http.MethodGet, "/bookmarks", "Bearer bm_bot")
	s.Equal(http.StatusOK, rec.Code)
	s.True(s.seenPrincipal.IsProgrammatic())
}

func (s *AdmissionSuite) TestProgrammaticOnSensitiveAllowedByConfig() {
	h := s.router(s.limiter, Config{AllowProgrammaticSensitive: true})

	rec := s.do(h, http.MethodGet, "/bookmarks/fetch-metadata", "Bearer bm_bot")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(1, s.limiter.calls)
}

// =============================================================================
// Consent gate
// =============================================================================

func (s *AdmissionSuite) TestMissingConsentIs451OutsideExemptRoutes() {
	s.consent = nil
	h := s.router(s.limiter, Config{RequiredConsentVersion: "2026-01"})
	auth := s.session("auth0|alice")

	rec := s.do(h, http.MethodGet, "/bookmarks", auth)
	s.Equal(http.StatusUnavailableForLegalReasons, rec.Code)
	s.Contains(rec.Body.String(), "consent_required")

	rec = s.do(h, http.MethodPost, "/consent", auth)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.ConsentChecks.WithLabelValues("exempt")))
}

func (s *AdmissionSuite) TestCurrentConsentPasses() {
	h := s.router(s.limiter, Config{RequiredConsentVersion: "2026-01"})

	rec := s.do(h, http.MethodGet, "/bookmarks", s.session("auth0|alice"))
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.ConsentChecks.WithLabelValues("passed")))
}

// =============================================================================
// Identity source
// =============================================================================

func (s *AdmissionSuite) TestIdentitySourceDownIs503() {
	ctrl := gomock.NewController(s.T())
	source := mocks.NewMockSource(ctrl)
	source.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))
	lookup, err := identitysvc.New(cache.NewInMemory(nil), source)
	s.Require().NoError(err)
	s.lookup = lookup

	rec := s.do(s.router(s.limiter, Config{}), http.MethodGet, "/bookmarks", s.session("auth0|alice"))
	s.Equal(http.StatusServiceUnavailable, rec.Code)
}

func (s *AdmissionSuite) TestNewRequiresCollaborators() {
	_, err := New(nil, tier.Default(), s.limiter, s.lookup)
	s.Error(err)
}
