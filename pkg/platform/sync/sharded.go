package sync

import (
	"sync"
)

// ShardedMutex distributes locking across a fixed set of shards picked by a
// hash of the key, so unrelated counter keys rarely contend.
type ShardedMutex struct {
	shards [32]sync.Mutex
}

// NewShardedMutex creates a new ShardedMutex with 32 shards.
func NewShardedMutex() *ShardedMutex {
	return &ShardedMutex{}
}

// Lock acquires the lock for the given key's shard.
func (m *ShardedMutex) Lock(key string) {
	m.shards[m.shardFor(key)].Lock()
}

// Unlock releases the lock for the given key's shard.
func (m *ShardedMutex) Unlock(key string) {
	m.shards[m.shardFor(key)].Unlock()
}

// LockAll acquires every shard touched by keys in ascending shard order.
// Callers that need several keys at once must use this to avoid lock-order
// inversions. It returns the matching unlock func.
func (m *ShardedMutex) LockAll(keys ...string) func() {
	var picked [32]bool
	for _, k := range keys {
		picked[m.shardFor(k)] = true
	}
	for i := range m.shards {
		if picked[i] {
			m.shards[i].Lock()
		}
	}
	return func() {
		for i := len(m.shards) - 1; i >= 0; i-- {
			if picked[i] {
				m.shards[i].Unlock()
			}
		}
	}
}

func (m *ShardedMutex) shardFor(key string) int {
	if key == "" {
		return 0
	}
	return int(hashString(key) % uint32(len(m.shards)))
}

// djb2-style
func hashString(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}
