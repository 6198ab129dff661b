// Package service implements the per-principal, per-tier rate limiter.
//
// Each (subject, tier) has two fixed-window pools, a short one (minutes) and
// a long one (a day). Every check increments both pools in one atomic store
// operation, including checks that end up denied, so probing a quota costs
// quota. A request is denied when either pool's post-increment count exceeds
// its limit.
//
// Usage:
//
//	limiter, _ := service.New(store, policy, service.WithConfig(cfg))
//	decision := limiter.Check(ctx, principal, models.TierSensitive)
//	if !decision.Allowed {
//	    // 429 with Retry-After
//	}
//
// Check never returns an error: store failures go to the degradation policy
// and produce an unrestricted, Degraded decision.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bookmarks/internal/admission/degrade"
	"bookmarks/internal/platform/tracer"
	"bookmarks/internal/ratelimit/config"
	"bookmarks/internal/ratelimit/metrics"
	"bookmarks/internal/ratelimit/models"
	"bookmarks/internal/ratelimit/observability"
	"bookmarks/internal/ratelimit/ports"
	id "bookmarks/pkg/domain"
	"bookmarks/pkg/requestcontext"
)

// Limiter decides admit/deny per principal and tier. Safe for concurrent use;
// it holds no counter state of its own.
type Limiter struct {
	store   ports.CounterStore
	policy  degrade.Policy
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  tracer.Tracer
	now     func(ctx context.Context) time.Time
}

// Option configures a Limiter instance.
type Option func(*Limiter)

// WithLogger sets the structured logger for audit lines.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithConfig overrides the default limits and windows.
func WithConfig(cfg *config.Config) Option {
	return func(l *Limiter) {
		l.config = cfg
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithTracer sets the span tracer.
func WithTracer(t tracer.Tracer) Option {
	return func(l *Limiter) {
		l.tracer = t
	}
}

// WithClock replaces the request-scoped clock. Tests use it to pin window
// positions.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = func(context.Context) time.Time { return now() }
	}
}

// New creates a limiter. Both the store and the policy are required.
func New(store ports.CounterStore, policy degrade.Policy, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("counter store is required")
	}
	if policy == nil {
		return nil, errors.New("degradation policy is required")
	}

	l := &Limiter{
		store:  store,
		policy: policy,
		config: config.DefaultConfig(),
		tracer: tracer.NewNoop(),
		now:    requestcontext.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Check increments both pools for (principal, tier) and decides admission.
func (l *Limiter) Check(ctx context.Context, principal id.Principal, tier models.Tier) *models.Decision {
	start := time.Now()
	ctx, span := l.tracer.Start(ctx, tracer.SpanRateLimitCheck,
		tracer.String(tracer.AttrSubject, tracer.HashSubject(string(principal.Subject))),
		tracer.String(tracer.AttrTier, string(tier)),
	)

	decision := l.check(ctx, principal, tier)

	span.SetAttributes(
		tracer.Bool(tracer.AttrAllowed, decision.Allowed),
		tracer.Bool(tracer.AttrDegraded, decision.Degraded),
		tracer.String(tracer.AttrBindingPool, string(decision.BindingPool)),
		tracer.Int64(tracer.AttrRemaining, int64(decision.Remaining)),
	)
	span.End(nil)

	if l.metrics != nil {
		l.metrics.ObserveCheckDuration(time.Since(start).Seconds())
		l.metrics.RecordDecision(string(tier), outcome(decision))
	}
	return decision
}

func (l *Limiter) check(ctx context.Context, principal id.Principal, tier models.Tier) *models.Decision {
	limit, ok := l.config.LimitFor(tier)
	if !ok {
		// The classifier only emits known tiers; anything else is charged as general.
		tier = models.TierGeneral
		limit, _ = l.config.LimitFor(tier)
	}

	now := l.now(ctx)
	shortWindow := models.WindowAt(models.WindowShort, l.config.ShortWindow, now)
	longWindow := models.WindowAt(models.WindowLong, l.config.LongWindow, now)
	keys := []models.PoolKey{
		models.NewPoolKey(principal.Subject, tier, shortWindow),
		models.NewPoolKey(principal.Subject, tier, longWindow),
	}

	counts, err := l.store.IncrementPools(ctx, keys...)
	if err != nil {
		l.policy.Fallback(ctx, degrade.SubsystemRateLimit, "increment_pools", err)
		return models.FailOpen()
	}
	l.policy.Success(ctx, degrade.SubsystemRateLimit)

	short := models.PoolUsage{Kind: models.WindowShort, Count: counts[0], Limit: limit.Short, ResetAt: shortWindow.ResetAt()}
	long := models.PoolUsage{Kind: models.WindowLong, Count: counts[1], Limit: limit.Long, ResetAt: longWindow.ResetAt()}
	decision := decide(now, short, long)

	if !decision.Allowed {
		if l.metrics != nil {
			l.metrics.RecordDenial(string(tier), string(decision.BindingPool))
		}
		observability.LogDenial(ctx, l.logger, principal, tier, decision)
	}
	return decision
}

// decide turns post-increment pool usage into a decision.
//
// Denied: the binding pool is the short one if it is exceeded, else the long
// one. Limit and Remaining come from the binding pool; ResetAt is the latest
// reset among exceeded pools, since the request cannot pass before all of
// them roll over.
//
// Allowed: the more restrictive pool is reported so clients see the quota
// they will hit first.
func decide(now time.Time, short, long models.PoolUsage) *models.Decision {
	if short.Exceeded() || long.Exceeded() {
		binding := long
		if short.Exceeded() {
			binding = short
		}
		resetAt := binding.ResetAt
		for _, p := range []models.PoolUsage{short, long} {
			if p.Exceeded() && p.ResetAt.After(resetAt) {
				resetAt = p.ResetAt
			}
		}
		retry := resetAt.Sub(now)
		if retry < 0 {
			retry = 0
		}
		return &models.Decision{
			Allowed:     false,
			Limit:       binding.Limit,
			Remaining:   binding.Remaining(),
			ResetAt:     resetAt,
			RetryAfter:  retry,
			BindingPool: binding.Kind,
		}
	}

	reported := moreRestrictive(short, long)
	return &models.Decision{
		Allowed:     true,
		Limit:       reported.Limit,
		Remaining:   reported.Remaining(),
		ResetAt:     reported.ResetAt,
		BindingPool: models.WindowNone,
	}
}

// moreRestrictive prefers fewer remaining, then the earlier reset.
func moreRestrictive(a, b models.PoolUsage) models.PoolUsage {
	if a.Remaining() != b.Remaining() {
		if a.Remaining() < b.Remaining() {
			return a
		}
		return b
	}
	if b.ResetAt.Before(a.ResetAt) {
		return b
	}
	return a
}

func outcome(d *models.Decision) string {
	switch {
	case d.Degraded:
		return "degraded"
	case d.Allowed:
		return "allowed"
	default:
		return "denied"
	}
}
