package models

import (
	"fmt"
	"strings"
	"time"

	id "bookmarks/pkg/domain"
)

// KeyPrefix namespaces rate limit counters in the shared store.
const KeyPrefix = "rl"

// Window is a fixed, wall-clock aligned bucket. Index is floor(now / Length),
// so a request landing exactly on a boundary belongs to the new window.
type Window struct {
	Kind   WindowKind
	Length time.Duration
	Index  int64
}

// WindowAt returns the window of the given kind and length containing now.
func WindowAt(kind WindowKind, length time.Duration, now time.Time) Window {
	ms := length.Milliseconds()
	return Window{Kind: kind, Length: length, Index: floorDiv(now.UnixMilli(), ms)}
}

// Start is the first instant of the window.
func (w Window) Start() time.Time {
	return time.UnixMilli(w.Index * w.Length.Milliseconds())
}

// ResetAt is the first instant of the next window.
func (w Window) ResetAt() time.Time {
	return w.Start().Add(w.Length)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// PoolKey is a value object for a counter key:
//
//	rl:{<subject>}:<tier>:<kind>:<index>
//
// The braces form a Redis Cluster hash tag so both pools of a subject land on
// one slot and can be incremented by a single script.
type PoolKey struct {
	subject string
	tier    Tier
	window  Window
}

// NewPoolKey builds the counter key for one pool of (subject, tier).
func NewPoolKey(subject id.SubjectID, tier Tier, window Window) PoolKey {
	return PoolKey{
		subject: sanitizeKeySegment(string(subject)),
		tier:    tier,
		window:  window,
	}
}

// String returns the formatted key for storage lookup.
func (k PoolKey) String() string {
	return fmt.Sprintf("%s:{%s}:%s:%s:%d", KeyPrefix, k.subject, k.tier, k.window.Kind, k.window.Index)
}

// TTL is the expiry applied when the counter is created.
func (k PoolKey) TTL() time.Duration {
	return k.window.Length
}

// sanitizeKeySegment escapes delimiter characters so a subject containing
// ':' or braces cannot collide with another subject's key or escape the
// hash tag.
//
// Escape rules (order matters):
//  1. '_' to '__' (escape the escape character first)
//  2. ':' to '_c'
//  3. '{' to '_o' and '}' to '_b'
//
// Examples:
//   - "auth0:admin" → "auth0_cadmin"
//   - "auth0_admin" → "auth0__admin"
//   - "a}b"         → "a_bb"
func sanitizeKeySegment(s string) string {
	s = strings.ReplaceAll(s, "_", "__")
	s = strings.ReplaceAll(s, ":", "_c")
	s = strings.ReplaceAll(s, "{", "_o")
	s = strings.ReplaceAll(s, "}", "_b")
	return s
}
