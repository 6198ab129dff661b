package tracer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"bookmarks/internal/platform/tracer"
)

func TestNoopTracer(t *testing.T) {
	tr := tracer.NewNoop()
	ctx := context.Background()

	newCtx, span := tr.Start(ctx, tracer.SpanRateLimitCheck, tracer.String(tracer.AttrTier, "general"))
	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)

	span.SetAttributes(tracer.Bool(tracer.AttrAllowed, true))
	span.AddEvent("evt", tracer.Int64("n", 1))
	span.End(errors.New("boom"))
}

func TestOTelTracerWithInjectedProvider(t *testing.T) {
	tr := tracer.NewOTel("bookmarks/test", tracer.WithOTelTracer(noop.NewTracerProvider().Tracer("t")))

	_, span := tr.Start(context.Background(), tracer.SpanIdentityLookup,
		tracer.String(tracer.AttrSubject, tracer.HashSubject("auth0|1")),
		tracer.Duration("elapsed", 3*time.Millisecond),
	)
	span.SetAttributes(tracer.Bool(tracer.AttrCacheHit, false))
	span.End(errors.New("fetch failed"))
}

func TestHashSubject(t *testing.T) {
	assert.Empty(t, tracer.HashSubject(""))
	assert.Len(t, tracer.HashSubject("auth0|abc"), 16)
	assert.Equal(t, tracer.HashSubject("auth0|abc"), tracer.HashSubject("auth0|abc"))
	assert.NotEqual(t, tracer.HashSubject("auth0|abc"), tracer.HashSubject("auth0|abd"))
}
