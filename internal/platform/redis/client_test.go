package redis

import (
	"context"
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookmarks/internal/platform/config"
)

func TestClientHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	c := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}), prometheus.NewRegistry())
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Health(context.Background()))

	mr.Close()
	assert.Error(t, c.Health(context.Background()))
}

func TestRecordPoolStats(t *testing.T) {
	mr := miniredis.RunT(t)
	c := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}), prometheus.NewRegistry())
	t.Cleanup(func() { _ = c.Close() })

	for range 3 {
		require.NoError(t, c.Ping(context.Background()).Err())
	}
	c.RecordPoolStats()
	first := testutil.ToFloat64(c.metrics.hits) + testutil.ToFloat64(c.metrics.misses)
	assert.Positive(t, first)
	assert.Equal(t, float64(c.PoolStats().TotalConns), testutil.ToFloat64(c.metrics.totalConns))

	// A second sample with no traffic adds nothing.
	c.RecordPoolStats()
	second := testutil.ToFloat64(c.metrics.hits) + testutil.ToFloat64(c.metrics.misses)
	assert.Equal(t, first, second)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), configWithURL("://nope"), prometheus.NewRegistry())
	assert.Error(t, err)
}

// Justification: a dead Redis has to fail fast enough that the failure is
// seen as a refused dial, inside the per-call store timeout.
func TestNewBoundsDialRetriesAndSurvivesDeadStore(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := configWithURL("redis://" + addr + "/0")
	cfg.DialRetries = 1
	c, err := New(context.Background(), cfg, prometheus.NewRegistry())
	require.Error(t, err, "initial ping fails")
	require.NotNil(t, c, "a usable client is still returned")
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, 1, c.Options().DialerRetries)

	var opErr *net.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "dial", opErr.Op)
}

func configWithURL(url string) config.RedisConfig {
	return config.RedisConfig{URL: url, PoolSize: 1}
}
