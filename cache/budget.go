// Package cache holds downloaded piece data in memory only, under one hard
// process-wide byte budget. Nothing is ever spilled to disk; under pressure
// the least-recently-used chunk across every owner is evicted and its owner
// reports "not resident" on the next read.
package cache

import (
	"sync"

	"github.com/exzos28/torrent-streamer/metrics"
)

type chunkKey struct {
	owner string
	index int
}

type chunk struct {
	key      chunkKey
	size     int64
	lastUsed uint64
}

// Budget is the process-wide memory budget shared by every Cache. It owns
// the eviction policy: strict global LRU ordered by a monotonically
// increasing counter, so ties cannot occur.
//
// One Budget instance is created at startup and injected into every cache
// constructor; it lives for the whole process.
type Budget struct {
	mu      sync.Mutex
	max     int64
	total   int64
	counter uint64
	chunks  map[chunkKey]*chunk
	owners  map[string]*Cache
}

func NewBudget(maxBytes int64) *Budget {
	return &Budget{
		max:    maxBytes,
		chunks: make(map[chunkKey]*chunk),
		owners: make(map[string]*Cache),
	}
}

func (b *Budget) MaxBytes() int64 {
	return b.max
}

// Resident reports the bytes currently registered across all owners.
func (b *Budget) Resident() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *Budget) register(c *Cache) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owners[c.id] = c
}

// put registers a chunk and stores its data, evicting global-LRU chunks
// first if the budget would be exceeded. The check, the eviction and the
// registration happen under one lock so the byte invariant is never even
// transiently violated by a concurrent put.
func (b *Budget) put(c *Cache, index int, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.owners[c.id]; !ok {
		// owner already closed
		return
	}

	size := int64(len(data))
	key := chunkKey{owner: c.id, index: index}
	if old, ok := b.chunks[key]; ok {
		b.total -= old.size
		delete(b.chunks, key)
	}

	for b.total+size > b.max {
		victim := b.lruLocked()
		if victim == nil {
			break
		}
		delete(b.chunks, victim.key)
		b.total -= victim.size
		b.owners[victim.key.owner].evict(victim.key.index)
		metrics.CacheEvictions.Inc()
	}

	b.counter++
	b.chunks[key] = &chunk{key: key, size: size, lastUsed: b.counter}
	b.total += size
	c.store(index, data)
	metrics.CacheResidentBytes.Set(float64(b.total))
}

// touch refreshes a chunk's LRU position. False means the chunk is not
// registered (never written, evicted, or owner closed).
func (b *Budget) touch(owner string, index int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.chunks[chunkKey{owner: owner, index: index}]
	if !ok {
		return false
	}
	b.counter++
	entry.lastUsed = b.counter
	return true
}

// release unregisters an owner and every chunk it holds. Idempotent; runs
// on normal teardown and on abnormal stream termination alike.
func (b *Budget) release(owner string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.owners, owner)
	for key, entry := range b.chunks {
		if key.owner == owner {
			b.total -= entry.size
			delete(b.chunks, key)
		}
	}
	metrics.CacheResidentBytes.Set(float64(b.total))
}

func (b *Budget) lruLocked() *chunk {
	var victim *chunk
	for _, entry := range b.chunks {
		if victim == nil || entry.lastUsed < victim.lastUsed {
			victim = entry
		}
	}
	return victim
}
