// Package tracer is a small tracing abstraction over OpenTelemetry for the
// admission layer.
//
// Services depend on the Tracer interface; production wires OTelTracer and
// tests use NoopTracer. Subjects are hashed before they are attached to spans.
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span. A non-nil err marks it failed.
	// End must be called exactly once, typically via defer.
	End(err error)

	SetAttributes(attrs ...Attribute)

	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a new span; the returned context carries it.
	//
	// Example:
	//   ctx, span := t.Start(ctx, tracer.SpanRateLimitCheck,
	//       tracer.String(tracer.AttrTier, "sensitive"),
	//   )
	//   defer span.End(nil)
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int64 creates an int64 attribute.
func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashSubject returns a short SHA-256 prefix of a subject so traces can be
// correlated without carrying the raw identity-provider id.
func HashSubject(subject string) string {
	if subject == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(hash[:8])
}

// Span names.
const (
	SpanRateLimitCheck = "ratelimit.check"
	SpanIdentityLookup = "identity.lookup"
	SpanIdentityFetch  = "identity.fetch"
)

// Attribute keys.
const (
	AttrSubject     = "subject_hash"
	AttrTier        = "tier"
	AttrAllowed     = "allowed"
	AttrDegraded    = "degraded"
	AttrBindingPool = "binding_pool"
	AttrRemaining   = "remaining"
	AttrCacheHit    = "cache.hit"
	AttrStale       = "cache.stale"
	AttrShared      = "fetch.shared"
)
