//go:build integration

package counter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bookmarks/internal/ratelimit/models"
	"bookmarks/pkg/platform/sentinel"
	"bookmarks/pkg/testutil"
	"bookmarks/pkg/testutil/containers"
)

// RedisStoreIntegrationSuite repeats the script checks against a real Redis.
//
// Justification: miniredis emulates Lua through gopher-lua; EVALSHA, NOSCRIPT
// and PEXPIRE behaviour must also hold on the server the limiter ships with.
type RedisStoreIntegrationSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisStore
	ctx   context.Context
	now   time.Time
}

func TestRedisStoreIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreIntegrationSuite))
}

func (s *RedisStoreIntegrationSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisStoreIntegrationSuite) SetupTest() {
	s.ctx = context.Background()
	s.Require().NoError(s.redis.Flush(s.ctx))

	store, err := NewRedisStore(s.redis.Client, WithTimeout(time.Second))
	s.Require().NoError(err)
	s.store = store
	s.now = time.Now()

	loaded, err := s.store.EnsureScript(s.ctx)
	s.Require().NoError(err)
	s.True(loaded)
}

func (s *RedisStoreIntegrationSuite) keys() (models.PoolKey, models.PoolKey) {
	short := models.NewPoolKey("auth0|it", models.TierSensitive, models.WindowAt(models.WindowShort, time.Minute, s.now))
	long := models.NewPoolKey("auth0|it", models.TierSensitive, models.WindowAt(models.WindowLong, 24*time.Hour, s.now))
	return short, long
}

func (s *RedisStoreIntegrationSuite) TestConcurrentIncrementsAreExact() {
	short, long := s.keys()

	result := testutil.RunConcurrent(200, func(int) error {
		_, err := s.store.IncrementPools(s.ctx, short, long)
		return err
	})
	s.Equal(int32(200), result.Successes)

	for _, key := range []models.PoolKey{short, long} {
		v, err := s.redis.Client.Get(s.ctx, key.String()).Int64()
		s.Require().NoError(err)
		s.Equal(int64(200), v, key.String())
	}
}

func (s *RedisStoreIntegrationSuite) TestTTLMatchesWindowLength() {
	short, long := s.keys()
	_, err := s.store.IncrementPools(s.ctx, short, long)
	s.Require().NoError(err)

	shortTTL, err := s.redis.Client.PTTL(s.ctx, short.String()).Result()
	s.Require().NoError(err)
	longTTL, err := s.redis.Client.PTTL(s.ctx, long.String()).Result()
	s.Require().NoError(err)

	s.InDelta(time.Minute.Seconds(), shortTTL.Seconds(), 1)
	s.InDelta((24 * time.Hour).Seconds(), longTTL.Seconds(), 1)
}

func (s *RedisStoreIntegrationSuite) TestScriptFlushIsReportedAndRecovered() {
	short, long := s.keys()
	s.Require().NoError(s.redis.Client.ScriptFlush(s.ctx).Err())

	_, err := s.store.IncrementPools(s.ctx, short, long)
	s.True(errors.Is(err, sentinel.ErrScriptUnavailable), "got %v", err)

	s.store.WaitReload()
	counts, err := s.store.IncrementPools(s.ctx, short, long)
	s.Require().NoError(err)
	s.Equal([]int64{1, 1}, counts)
}
