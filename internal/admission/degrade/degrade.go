// Package degrade holds the fail-open policy shared by the rate limiter and
// the identity cache.
//
// When the shared store is unreachable, slow, or missing the counter script,
// callers hand the error to a Policy and take their fallback path: the
// limiter admits without enforcement and the cache reports a miss. The policy
// makes every fallback observable (a counter per subsystem and reason, a
// sampled warning, degraded/recovered transitions) so a silently broken store
// shows up on dashboards instead of in incident reviews.
package degrade

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bookmarks/pkg/platform/circuit"
	"bookmarks/pkg/platform/sentinel"
	"bookmarks/pkg/requestcontext"
)

// Subsystem names the component whose store call failed.
type Subsystem string

const (
	SubsystemRateLimit     Subsystem = "ratelimit"
	SubsystemIdentityCache Subsystem = "identity_cache"
)

// Reason classifies a store failure.
type Reason string

const (
	ReasonUnreachable       Reason = "unreachable"
	ReasonTimeout           Reason = "timeout"
	ReasonScriptUnavailable Reason = "script_unavailable"
)

// Policy absorbs backing-store failures. Implementations must be safe for
// concurrent use.
type Policy interface {
	// Fallback records that subsystem is about to fail open because op
	// returned err, and returns how the failure was classified.
	Fallback(ctx context.Context, subsystem Subsystem, op string, err error) Reason
	// Success records a store call that worked, closing any open degraded period.
	Success(ctx context.Context, subsystem Subsystem)
}

// Classify maps a store error to a Reason. Script errors are checked first so
// a reachable store with a flushed script cache is reported distinctly. A
// failed dial is unreachable even when the deadline cut the dial short.
func Classify(err error) Reason {
	if errors.Is(err, sentinel.ErrScriptUnavailable) {
		return ReasonScriptUnavailable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ReasonUnreachable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonUnreachable
}

// FailOpen is the production Policy.
type FailOpen struct {
	logger           *slog.Logger
	metrics          *Metrics
	logEvery         time.Duration
	logBurst         int
	failureThreshold int
	successThreshold int

	mu    sync.Mutex
	state map[Subsystem]*subsystemState
}

type subsystemState struct {
	breaker    *circuit.Breaker
	logLimiter *rate.Limiter
	suppressed int
}

// Option configures a FailOpen instance.
type Option func(*FailOpen)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *FailOpen) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the fallback counters and degraded gauges.
func WithMetrics(m *Metrics) Option {
	return func(p *FailOpen) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithLogSampling bounds fallback warnings per subsystem to burst lines, then
// one per interval. Suppressed lines are still counted in metrics.
func WithLogSampling(interval time.Duration, burst int) Option {
	return func(p *FailOpen) {
		if interval > 0 && burst > 0 {
			p.logEvery = interval
			p.logBurst = burst
		}
	}
}

// WithThresholds sets consecutive failures before a subsystem is reported
// degraded and consecutive successes before it is reported recovered.
func WithThresholds(failures, successes int) Option {
	return func(p *FailOpen) {
		p.failureThreshold = failures
		p.successThreshold = successes
	}
}

// New creates a fail-open policy.
func New(opts ...Option) *FailOpen {
	p := &FailOpen{
		logger:           slog.New(slog.DiscardHandler),
		logEvery:         time.Second,
		logBurst:         5,
		failureThreshold: 5,
		successThreshold: 3,
		state:            make(map[Subsystem]*subsystemState),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	return p
}

func (p *FailOpen) stateFor(subsystem Subsystem) *subsystemState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.state[subsystem]
	if !ok {
		st = &subsystemState{
			breaker: circuit.New(string(subsystem),
				circuit.WithFailureThreshold(p.failureThreshold),
				circuit.WithSuccessThreshold(p.successThreshold),
			),
			logLimiter: rate.NewLimiter(rate.Every(p.logEvery), p.logBurst),
		}
		p.state[subsystem] = st
	}
	return st
}

// Fallback implements Policy.
func (p *FailOpen) Fallback(ctx context.Context, subsystem Subsystem, op string, err error) Reason {
	reason := Classify(err)
	p.metrics.Fallbacks.WithLabelValues(string(subsystem), string(reason)).Inc()

	st := p.stateFor(subsystem)
	if change := st.breaker.RecordFailure(); change.Opened {
		p.metrics.Degraded.WithLabelValues(string(subsystem)).Set(1)
		p.logger.ErrorContext(ctx, "backing store degraded, admission failing open",
			"subsystem", subsystem,
			"reason", reason,
		)
	}

	suppressed, ok := p.sample(st)
	if !ok {
		return reason
	}

	msg := "backing store unavailable, failing open"
	if reason == ReasonScriptUnavailable {
		msg = "counter script unavailable, failing open"
	}
	attrs := []any{
		"subsystem", subsystem,
		"reason", reason,
		"op", op,
		"error", err,
	}
	if suppressed > 0 {
		attrs = append(attrs, "suppressed", suppressed)
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	p.logger.WarnContext(ctx, msg, attrs...)
	return reason
}

// sample reports whether a warning may be written now and how many were
// dropped since the last one.
func (p *FailOpen) sample(st *subsystemState) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !st.logLimiter.Allow() {
		st.suppressed++
		return 0, false
	}
	n := st.suppressed
	st.suppressed = 0
	return n, true
}

// Success implements Policy.
func (p *FailOpen) Success(ctx context.Context, subsystem Subsystem) {
	st := p.stateFor(subsystem)
	if change := st.breaker.RecordSuccess(); change.Closed {
		p.metrics.Degraded.WithLabelValues(string(subsystem)).Set(0)
		p.logger.InfoContext(ctx, "backing store recovered",
			"subsystem", subsystem,
			"degraded_seconds", int(change.OpenFor.Seconds()),
		)
	}
}

// IsDegraded reports whether subsystem is currently past the failure threshold.
func (p *FailOpen) IsDegraded(subsystem Subsystem) bool {
	return p.stateFor(subsystem).breaker.IsOpen()
}
