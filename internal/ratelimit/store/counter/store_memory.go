package counter

import (
	"context"
	"sync"
	"time"

	"bookmarks/internal/ratelimit/models"
	psync "bookmarks/pkg/platform/sync"
)

// InMemoryStore implements ports.CounterStore inside the process. State is
// not shared between replicas; use it for tests and single-process
// development only.
type InMemoryStore struct {
	locks *psync.ShardedMutex
	now   func() time.Time

	// mu guards the map structure; entry updates are serialised by locks.
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	count     int64
	expiresAt time.Time
}

// NewInMemoryStore creates an empty store. now defaults to time.Now.
func NewInMemoryStore(now func() time.Time) *InMemoryStore {
	if now == nil {
		now = time.Now
	}
	return &InMemoryStore{
		locks:   psync.NewShardedMutex(),
		now:     now,
		entries: make(map[string]*entry),
	}
}

// IncrementPools implements ports.CounterStore. All shards touched by keys
// are held for the whole update so the increments are atomic as a group.
func (s *InMemoryStore) IncrementPools(ctx context.Context, keys ...models.PoolKey) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}

	unlock := s.locks.LockAll(names...)
	defer unlock()

	now := s.now()
	counts := make([]int64, len(keys))
	for i, k := range keys {
		e, ok := s.get(names[i])
		if !ok || !now.Before(e.expiresAt) {
			e = &entry{expiresAt: now.Add(k.TTL())}
			s.set(names[i], e)
		}
		e.count++
		counts[i] = e.count
	}
	return counts, nil
}

// Count returns the live count for a key, for assertions.
func (s *InMemoryStore) Count(key models.PoolKey) int64 {
	name := key.String()
	s.locks.Lock(name)
	defer s.locks.Unlock(name)
	e, ok := s.get(name)
	if !ok || !s.now().Before(e.expiresAt) {
		return 0
	}
	return e.count
}

func (s *InMemoryStore) get(key string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

func (s *InMemoryStore) set(key string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
}
