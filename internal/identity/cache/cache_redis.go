// Package cache implements the identity cache in Redis and in memory.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"bookmarks/internal/admission/degrade"
	"bookmarks/internal/identity/models"
	id "bookmarks/pkg/domain"
	"bookmarks/pkg/platform/sentinel"
)

const (
	keyPrefix           = "identity:"
	generationKeyPrefix = "identity-gen:"

	defaultTimeout = 100 * time.Millisecond

	// generationTTL only needs to outlive the slowest in-flight fetch; every
	// Invalidate refreshes it.
	generationTTL = 24 * time.Hour
)

// putIfGenerationScript writes the entry only while the subject's generation
// is unchanged. A missing generation key reads as 0.
//
// KEYS[1] = entry key, KEYS[2] = generation key
// ARGV[1] = expected generation, ARGV[2] = payload, ARGV[3] = ttl in ms
var putIfGenerationScript = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if (current or '0') ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// entryJSON is the stored form. Email and consent are encoded as explicit
// nulls so a nil email survives the round trip as nil.
type entryJSON struct {
	SubjectID      string  `json:"subject_id"`
	UserID         string  `json:"user_id"`
	Email          *string `json:"email"`
	EmailManaged   bool    `json:"email_managed,omitempty"`
	ConsentVersion *string `json:"consent_version"`
	CachedAt       int64   `json:"cached_at"` // Unix nano
	TTLMillis      int64   `json:"ttl_ms"`
}

func entryToJSON(e *models.Entry) *entryJSON {
	return &entryJSON{
		SubjectID:      string(e.SubjectID),
		UserID:         uuid.UUID(e.UserID).String(),
		Email:          e.Email,
		EmailManaged:   e.EmailManaged,
		ConsentVersion: e.ConsentVersion,
		CachedAt:       e.CachedAt.UnixNano(),
		TTLMillis:      e.TTL.Milliseconds(),
	}
}

func entryFromJSON(j *entryJSON) (*models.Entry, error) {
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	return &models.Entry{
		SubjectID:      id.SubjectID(j.SubjectID),
		UserID:         id.UserID(userID),
		Email:          j.Email,
		EmailManaged:   j.EmailManaged,
		ConsentVersion: j.ConsentVersion,
		CachedAt:       time.Unix(0, j.CachedAt),
		TTL:            time.Duration(j.TTLMillis) * time.Millisecond,
	}, nil
}

// RedisCache stores identity snapshots as JSON strings with a TTL. Store
// failures go to the degradation policy; Get then reports a miss.
type RedisCache struct {
	client  redis.Cmdable
	policy  degrade.Policy
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a RedisCache.
type Option func(*RedisCache)

// WithTimeout bounds every Redis round trip.
func WithTimeout(d time.Duration) Option {
	return func(c *RedisCache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *RedisCache) {
		c.logger = logger
	}
}

// NewRedis constructs a Redis-backed identity cache.
func NewRedis(client redis.Cmdable, policy degrade.Policy, opts ...Option) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if policy == nil {
		return nil, errors.New("degradation policy is required")
	}
	c := &RedisCache{
		client:  client,
		policy:  policy,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func key(subject id.SubjectID) string {
	return keyPrefix + string(subject)
}

func generationKey(subject id.SubjectID) string {
	return generationKeyPrefix + string(subject)
}

// Get returns the cached snapshot. Unreachable store, timeout and undecodable
// payloads are all misses.
func (c *RedisCache) Get(ctx context.Context, subject id.SubjectID) (*models.Entry, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.client.Get(ctx, key(subject)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.policy.Success(ctx, degrade.SubsystemIdentityCache)
		return nil, false
	}
	if err != nil {
		c.policy.Fallback(ctx, degrade.SubsystemIdentityCache, "get", err)
		return nil, false
	}
	c.policy.Success(ctx, degrade.SubsystemIdentityCache)

	var j entryJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		c.warn(ctx, "discarding undecodable identity entry", err)
		return nil, false
	}
	entry, err := entryFromJSON(&j)
	if err != nil {
		c.warn(ctx, "discarding undecodable identity entry", err)
		return nil, false
	}
	return entry, true
}

// Put replaces the subject's entry unconditionally. A failed write is
// reported to the policy and returned; callers may ignore it since the next
// Get simply misses.
func (c *RedisCache) Put(ctx context.Context, subject id.SubjectID, entry *models.Entry, ttl time.Duration) error {
	payload, err := encode(entry, ttl)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Set(ctx, key(subject), payload, ttl).Err(); err != nil {
		c.policy.Fallback(ctx, degrade.SubsystemIdentityCache, "put", err)
		return fmt.Errorf("put identity entry: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	c.policy.Success(ctx, degrade.SubsystemIdentityCache)
	return nil
}

// PutIfGeneration stores the entry only if no Invalidate ran since gen was
// read. A refused write is not an error.
func (c *RedisCache) PutIfGeneration(ctx context.Context, subject id.SubjectID, gen int64, entry *models.Entry, ttl time.Duration) (bool, error) {
	payload, err := encode(entry, ttl)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stored, err := putIfGenerationScript.Run(ctx, c.client,
		[]string{key(subject), generationKey(subject)},
		strconv.FormatInt(gen, 10), payload, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		c.policy.Fallback(ctx, degrade.SubsystemIdentityCache, "put", err)
		return false, fmt.Errorf("put identity entry: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	c.policy.Success(ctx, degrade.SubsystemIdentityCache)
	return stored == 1, nil
}

// Generation reads the subject's invalidation counter. A subject that was
// never invalidated is at generation 0.
func (c *RedisCache) Generation(ctx context.Context, subject id.SubjectID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	gen, err := c.client.Get(ctx, generationKey(subject)).Int64()
	if errors.Is(err, redis.Nil) {
		c.policy.Success(ctx, degrade.SubsystemIdentityCache)
		return 0, nil
	}
	if err != nil {
		c.policy.Fallback(ctx, degrade.SubsystemIdentityCache, "generation", err)
		return 0, fmt.Errorf("read identity generation: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	c.policy.Success(ctx, degrade.SubsystemIdentityCache)
	return gen, nil
}

// Invalidate deletes the subject's entry and advances its generation in one
// transaction. Deleting a missing entry succeeds.
func (c *RedisCache) Invalidate(ctx context.Context, subject id.SubjectID) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key(subject))
		pipe.Incr(ctx, generationKey(subject))
		pipe.Expire(ctx, generationKey(subject), generationTTL)
		return nil
	})
	if err != nil {
		c.policy.Fallback(ctx, degrade.SubsystemIdentityCache, "invalidate", err)
		return fmt.Errorf("invalidate identity entry: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	c.policy.Success(ctx, degrade.SubsystemIdentityCache)
	return nil
}

func encode(entry *models.Entry, ttl time.Duration) ([]byte, error) {
	if entry == nil {
		return nil, fmt.Errorf("entry is required: %w", sentinel.ErrInvalidInput)
	}
	if ttl < time.Millisecond {
		return nil, fmt.Errorf("ttl must be at least 1ms: %w", sentinel.ErrInvalidInput)
	}
	payload, err := json.Marshal(entryToJSON(entry))
	if err != nil {
		return nil, fmt.Errorf("marshal identity entry: %w", err)
	}
	return payload, nil
}

func (c *RedisCache) warn(ctx context.Context, msg string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.WarnContext(ctx, msg, "error", err)
}
