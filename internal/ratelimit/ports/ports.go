// Package ports defines the interfaces the ratelimit module consumes.
package ports

import (
	"context"

	"bookmarks/internal/ratelimit/models"
)

// CounterStore is the shared, networked counter store.
type CounterStore interface {
	// IncrementPools increments every key by one in a single atomic operation,
	// setting each key's TTL when it is created, and returns the
	// post-increment counts in key order. Implementations must not split the
	// read and the write into separate round trips.
	IncrementPools(ctx context.Context, keys ...models.PoolKey) ([]int64, error)
}
