package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNowFallsBackToWallClock(t *testing.T) {
	before := time.Now()
	got := Now(context.Background())
	assert.False(t, got.Before(before))
}

func TestWithTimePinsNow(t *testing.T) {
	pinned := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := WithTime(context.Background(), pinned)

	assert.Equal(t, pinned, Now(ctx))
	assert.Equal(t, pinned, Now(ctx), "repeated reads return the same instant")
}

func TestRequestIDAndClientIP(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, ClientIP(ctx))

	ctx = WithClientIP(WithRequestID(ctx, "req-1"), "10.0.0.7")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "10.0.0.7", ClientIP(ctx))
}
