package models

import (
	"time"

	dErrors "bookmarks/pkg/domain-errors"
)

// Tier is a quota namespace. Tiers never share counters.
type Tier string

const (
	// TierGeneral covers ordinary per-user data access.
	TierGeneral Tier = "general"
	// TierSensitive covers outbound-network, credential and account operations.
	TierSensitive Tier = "sensitive"
)

func (t Tier) IsValid() bool {
	return t == TierGeneral || t == TierSensitive
}

func (t Tier) String() string {
	return string(t)
}

// ParseTier validates a tier name from configuration.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid tier: must be 'general' or 'sensitive'")
	}
	return t, nil
}

// WindowKind names one of the two pools kept per (principal, tier).
type WindowKind string

const (
	WindowShort WindowKind = "short"
	WindowLong  WindowKind = "long"
	// WindowNone marks a decision no pool refused.
	WindowNone WindowKind = "none"
)

// PoolUsage is one pool's state right after this request's increment.
type PoolUsage struct {
	Kind    WindowKind
	Count   int64
	Limit   int
	ResetAt time.Time
}

// Exceeded reports count > limit. Counts are never clamped, so a pool may
// sit above its limit for the rest of the window.
func (p PoolUsage) Exceeded() bool {
	return p.Count > int64(p.Limit)
}

// Remaining is max(0, limit - count).
func (p PoolUsage) Remaining() int {
	r := int64(p.Limit) - p.Count
	if r < 0 {
		return 0
	}
	return int(r)
}

// Decision is the admission outcome for one request.
//
// A degraded decision (store unavailable) is Allowed with zero Limit and a
// zero ResetAt; callers must not emit quota headers for it.
type Decision struct {
	Allowed     bool          `json:"allowed"`
	Limit       int           `json:"limit"`
	Remaining   int           `json:"remaining"`
	ResetAt     time.Time     `json:"reset_at"`
	RetryAfter  time.Duration `json:"-"`
	BindingPool WindowKind    `json:"binding_pool"`
	Degraded    bool          `json:"degraded,omitempty"`
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for headers.
func (d *Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

// FailOpen is the decision returned when the counter store cannot be used.
func FailOpen() *Decision {
	return &Decision{Allowed: true, BindingPool: WindowNone, Degraded: true}
}
