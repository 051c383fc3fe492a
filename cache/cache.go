package cache

import (
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"
)

// Cache is the per-transfer piece store. Writes register their size with
// the shared Budget; reads of evicted pieces report not-resident so the
// engine re-fetches instead of serving stale or zeroed bytes.
type Cache struct {
	id     string
	budget *Budget

	mu       sync.RWMutex
	data     map[int][]byte
	complete map[int]bool
	evicted  mapset.Set
	closed   bool
}

func NewCache(budget *Budget) *Cache {
	c := &Cache{
		id:       uuid.NewString(),
		budget:   budget,
		data:     make(map[int][]byte),
		complete: make(map[int]bool),
		evicted:  mapset.NewSet(),
	}
	budget.register(c)
	return c
}

func (c *Cache) ID() string {
	return c.id
}

// Put stores a piece's bytes. Storage and budget registration happen
// atomically under the budget lock; see Budget.put.
func (c *Cache) Put(index int, data []byte) {
	c.budget.put(c, index, data)
}

// Get returns a piece's bytes and refreshes its LRU position. The second
// return is false for pieces never written, evicted, or torn down.
func (c *Cache) Get(index int) ([]byte, bool) {
	if !c.budget.touch(c.id, index) {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.data[index]
	return data, ok
}

// Evicted reports whether a piece was discarded under memory pressure
// since it was last written.
func (c *Cache) Evicted(index int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.evicted.Contains(index)
}

func (c *Cache) MarkComplete(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.complete[index] = true
}

func (c *Cache) MarkNotComplete(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.complete, index)
}

// Complete reports whether a piece is verified complete AND still
// resident. An evicted piece is not complete, which is what forces the
// engine to fetch it again.
func (c *Cache) Complete(index int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, resident := c.data[index]; !resident {
		return false
	}
	return c.complete[index]
}

// Close unregisters every chunk this cache owns. Idempotent, and safe to
// call from disconnect paths while other goroutines still hold the cache.
func (c *Cache) Close() {
	c.budget.release(c.id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.data = make(map[int][]byte)
	c.complete = make(map[int]bool)
	c.evicted.Clear()
}

// store is called by the budget with its lock held; lock order is always
// budget.mu then cache.mu.
func (c *Cache) store(index int, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.data[index] = data
	c.evicted.Remove(index)
}

// evict is called by the budget when this cache's chunk is chosen as the
// global LRU victim. The marker set is what turns the next Get into an
// explicit not-resident answer.
func (c *Cache) evict(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, index)
	delete(c.complete, index)
	c.evicted.Add(index)
}
