// Package observability writes the limiter's audit trail.
package observability

import (
	"context"
	"log/slog"

	"bookmarks/internal/ratelimit/models"
	id "bookmarks/pkg/domain"
	"bookmarks/pkg/requestcontext"
)

// EventQuotaExceeded is the audit event for a denied admission.
const EventQuotaExceeded = "rate_limit_exceeded"

// LogDenial records a quota denial. Denials are expected outcomes, so the line
// is written at INFO and tagged log_type=audit for downstream filtering.
func LogDenial(ctx context.Context, logger *slog.Logger, principal id.Principal, tier models.Tier, d *models.Decision) {
	if logger == nil || d == nil {
		return
	}
	attrs := []any{
		"event", EventQuotaExceeded,
		"log_type", "audit",
		"subject", principal.Subject,
		"mechanism", principal.Mechanism,
		"tier", tier,
		"pool", d.BindingPool,
		"limit", d.Limit,
		"reset_at", d.ResetAt.Unix(),
		"retry_after_seconds", d.RetryAfterSeconds(),
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	logger.InfoContext(ctx, EventQuotaExceeded, attrs...)
}
