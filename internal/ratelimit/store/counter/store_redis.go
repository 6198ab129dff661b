// Package counter implements the shared counter store behind the limiter.
package counter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"bookmarks/internal/ratelimit/models"
	"bookmarks/pkg/platform/sentinel"
)

// incrementPoolsScript increments every key in KEYS and returns the new
// counts. ARGV[i] is the TTL in milliseconds for KEYS[i]. The TTL is set
// when the key is created and repaired if a key ever exists without one, so a
// counter can never outlive its window indefinitely.
var incrementPoolsScript = redis.NewScript(`
local counts = {}
for i, key in ipairs(KEYS) do
  local count = redis.call('INCR', key)
  if count == 1 or redis.call('PTTL', key) == -1 then
    redis.call('PEXPIRE', key, ARGV[i])
  end
  counts[i] = count
end
return counts
`)

const reloadTimeout = 2 * time.Second

// RedisStore runs the increment script with EVALSHA. The script is loaded at
// startup and by the maintenance loop; a NOSCRIPT reply is reported as
// sentinel.ErrScriptUnavailable and schedules a background reload.
type RedisStore struct {
	client    redis.Scripter
	timeout   time.Duration
	logger    *slog.Logger
	reloading atomic.Bool
}

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithTimeout bounds each script call. Default is 100ms.
func WithTimeout(d time.Duration) Option {
	return func(s *RedisStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *RedisStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedisStore creates a store over any go-redis client.
func NewRedisStore(client redis.Scripter, opts ...Option) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	s := &RedisStore{
		client:  client,
		timeout: 100 * time.Millisecond,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureScript loads the increment script if the server does not have it.
// It reports whether a load was needed.
func (s *RedisStore) EnsureScript(ctx context.Context) (bool, error) {
	exists, err := incrementPoolsScript.Exists(ctx, s.client).Result()
	if err != nil {
		return false, fmt.Errorf("check counter script: %w", err)
	}
	if len(exists) == 1 && exists[0] {
		return false, nil
	}
	if err := incrementPoolsScript.Load(ctx, s.client).Err(); err != nil {
		return false, fmt.Errorf("load counter script: %w", err)
	}
	return true, nil
}

// IncrementPools implements ports.CounterStore.
func (s *RedisStore) IncrementPools(ctx context.Context, keys ...models.PoolKey) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	names := make([]string, len(keys))
	ttls := make([]any, len(keys))
	for i, k := range keys {
		names[i] = k.String()
		ttls[i] = strconv.FormatInt(k.TTL().Milliseconds(), 10)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	counts, err := incrementPoolsScript.EvalSha(ctx, s.client, names, ttls...).Int64Slice()
	if err != nil {
		if redis.HasErrorPrefix(err, "NOSCRIPT") {
			s.reloadAsync(ctx)
			return nil, fmt.Errorf("increment pools: %w", sentinel.ErrScriptUnavailable)
		}
		return nil, fmt.Errorf("increment pools: %w", err)
	}
	if len(counts) != len(keys) {
		return nil, fmt.Errorf("increment pools: script returned %d counts for %d keys", len(counts), len(keys))
	}
	return counts, nil
}

// reloadAsync reloads the script once in the background. The failed call is
// still reported so it takes the fail-open path.
func (s *RedisStore) reloadAsync(ctx context.Context) {
	if !s.reloading.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.reloading.Store(false)
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reloadTimeout)
		defer cancel()
		if _, err := s.EnsureScript(ctx); err != nil {
			s.logger.WarnContext(ctx, "counter script reload failed", "error", err)
			return
		}
		s.logger.InfoContext(ctx, "counter script reloaded")
	}()
}

// WaitReload blocks until a pending background reload finishes. Tests use it
// to make reload ordering deterministic.
func (s *RedisStore) WaitReload() {
	for s.reloading.Load() {
		time.Sleep(time.Millisecond)
	}
}
