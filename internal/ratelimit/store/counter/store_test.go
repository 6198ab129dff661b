package counter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"bookmarks/internal/ratelimit/models"
	"bookmarks/pkg/platform/sentinel"
	"bookmarks/pkg/testutil"
)

// RedisStoreSuite runs the real increment script against miniredis.
//
// Justification: atomicity and TTL handling live in Lua, so only a real
// script engine can verify them.
type RedisStoreSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *redis.Client
	store  *RedisStore
	ctx    context.Context
	now    time.Time
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.T().Cleanup(func() { _ = s.client.Close() })

	store, err := NewRedisStore(s.client, WithTimeout(time.Second))
	s.Require().NoError(err)
	s.store = store
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

	_, err = s.store.EnsureScript(s.ctx)
	s.Require().NoError(err)
}

func (s *RedisStoreSuite) keys() (models.PoolKey, models.PoolKey) {
	short := models.NewPoolKey("auth0|1", models.TierGeneral, models.WindowAt(models.WindowShort, time.Minute, s.now))
	long := models.NewPoolKey("auth0|1", models.TierGeneral, models.WindowAt(models.WindowLong, 24*time.Hour, s.now))
	return short, long
}

// =============================================================================
// Increment semantics
// =============================================================================

func (s *RedisStoreSuite) TestIncrementsBothPoolsAndSetsTTL() {
	short, long := s.keys()

	counts, err := s.store.IncrementPools(s.ctx, short, long)
	s.Require().NoError(err)
	s.Equal([]int64{1, 1}, counts)

	counts, err = s.store.IncrementPools(s.ctx, short, long)
	s.Require().NoError(err)
	s.Equal([]int64{2, 2}, counts)

	s.Equal(time.Minute, s.mr.TTL(short.String()))
	s.Equal(24*time.Hour, s.mr.TTL(long.String()))
}

func (s *RedisStoreSuite) TestCounterExpiresWithItsWindow() {
	short, long := s.keys()
	_, err := s.store.IncrementPools(s.ctx, short, long)
	s.Require().NoError(err)

	s.mr.FastForward(time.Minute)
	s.False(s.mr.Exists(short.String()))
	s.True(s.mr.Exists(long.String()))
}

func (s *RedisStoreSuite) TestRepairsKeyWithoutTTL() {
	short, _ := s.keys()
	s.Require().NoError(s.mr.Set(short.String(), "4"))

	counts, err := s.store.IncrementPools(s.ctx, short)
	s.Require().NoError(err)
	s.Equal([]int64{5}, counts)
	s.Equal(time.Minute, s.mr.TTL(short.String()))
}

func (s *RedisStoreSuite) TestConcurrentIncrementsAreNotLost() {
	short, long := s.keys()

	result := testutil.RunConcurrent(50, func(int) error {
		_, err := s.store.IncrementPools(s.ctx, short, long)
		return err
	})

	s.Equal(int32(50), result.Successes)
	v, err := s.client.Get(s.ctx, short.String()).Int64()
	s.Require().NoError(err)
	s.Equal(int64(50), v)
}

// =============================================================================
// Failures
// =============================================================================

func (s *RedisStoreSuite) TestScriptFlushReportsScriptUnavailableThenReloads() {
	short, long := s.keys()
	s.Require().NoError(s.client.ScriptFlush(s.ctx).Err())

	_, err := s.store.IncrementPools(s.ctx, short, long)
	s.True(errors.Is(err, sentinel.ErrScriptUnavailable), "got %v", err)

	s.store.WaitReload()
	counts, err := s.store.IncrementPools(s.ctx, short, long)
	s.Require().NoError(err)
	s.Equal([]int64{1, 1}, counts)
}

func (s *RedisStoreSuite) TestEnsureScriptIsIdempotent() {
	loaded, err := s.store.EnsureScript(s.ctx)
	s.Require().NoError(err)
	s.False(loaded)

	s.Require().NoError(s.client.ScriptFlush(s.ctx).Err())
	loaded, err = s.store.EnsureScript(s.ctx)
	s.Require().NoError(err)
	s.True(loaded)
}

func (s *RedisStoreSuite) TestStoreDownReturnsError() {
	short, long := s.keys()
	s.mr.SetError("LOADING Redis is loading the dataset in memory")

	_, err := s.store.IncrementPools(s.ctx, short, long)
	s.Error(err)
	s.False(errors.Is(err, sentinel.ErrScriptUnavailable))
}

func (s *RedisStoreSuite) TestNilClientRejected() {
	_, err := NewRedisStore(nil)
	s.Error(err)
}

// =============================================================================
// In-memory store
// =============================================================================

func TestInMemoryStore(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	store := NewInMemoryStore(func() time.Time { return now })
	ctx := context.Background()
	short := models.NewPoolKey("u", models.TierGeneral, models.WindowAt(models.WindowShort, time.Minute, now))
	long := models.NewPoolKey("u", models.TierGeneral, models.WindowAt(models.WindowLong, 24*time.Hour, now))

	result := testutil.RunConcurrent(40, func(int) error {
		_, err := store.IncrementPools(ctx, short, long)
		return err
	})
	require.Equal(t, int32(40), result.Successes)
	assert.Equal(t, int64(40), store.Count(short))

	now = now.Add(time.Minute)
	assert.Zero(t, store.Count(short), "short pool should have expired")
	assert.Equal(t, int64(40), store.Count(long))

	counts, err := store.IncrementPools(ctx, short, long)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 41}, counts)
}
