package cache

import (
	"context"
	"sync"
	"time"

	"bookmarks/internal/identity/models"
	id "bookmarks/pkg/domain"
)

type memoryEntry struct {
	entry     *models.Entry
	expiresAt time.Time
}

// InMemoryCache is a process-local identity cache for tests and
// single-instance development. Expired entries are dropped lazily on Put.
// Generations are kept for the life of the process.
type InMemoryCache struct {
	mu          sync.RWMutex
	entries     map[id.SubjectID]*memoryEntry
	generations map[id.SubjectID]int64
	now         func() time.Time
}

// NewInMemory creates an empty cache. A nil clock uses time.Now.
func NewInMemory(now func() time.Time) *InMemoryCache {
	if now == nil {
		now = time.Now
	}
	return &InMemoryCache{
		entries:     make(map[id.SubjectID]*memoryEntry),
		generations: make(map[id.SubjectID]int64),
		now:         now,
	}
}

func (c *InMemoryCache) Get(_ context.Context, subject id.SubjectID) (*models.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[subject]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.entry, true
}

func (c *InMemoryCache) Put(_ context.Context, subject id.SubjectID, entry *models.Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[subject] = &memoryEntry{entry: entry, expiresAt: c.now().Add(ttl)}
	c.cleanupExpiredLocked(10)
	return nil
}

func (c *InMemoryCache) PutIfGeneration(_ context.Context, subject id.SubjectID, gen int64, entry *models.Entry, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[subject] != gen {
		return false, nil
	}
	c.entries[subject] = &memoryEntry{entry: entry, expiresAt: c.now().Add(ttl)}
	c.cleanupExpiredLocked(10)
	return true, nil
}

func (c *InMemoryCache) Generation(_ context.Context, subject id.SubjectID) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.generations[subject], nil
}

func (c *InMemoryCache) Invalidate(_ context.Context, subject id.SubjectID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, subject)
	c.generations[subject]++
	return nil
}

// cleanupExpiredLocked removes up to maxCleanup expired entries.
// Must be called with lock held.
func (c *InMemoryCache) cleanupExpiredLocked(maxCleanup int) {
	now := c.now()
	cleaned := 0
	for subject, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, subject)
			cleaned++
			if cleaned >= maxCleanup {
				break
			}
		}
	}
}
