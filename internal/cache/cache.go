package cache

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type entry struct {
	key     string
	value   []byte
	expires time.Time
	index   int // position in the expiry heap
}

// expiryHeap orders entries by expiry, soonest first.
type expiryHeap []*entry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expires.Before(h[j].expires) }
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// ChunkCache is the in-process hot tier: a TTL map bounded by entry count.
// Reads are latency critical; every method takes a single mutex, and no
// operation scans the whole map while holding it.
type ChunkCache struct {
	m          sync.Mutex
	entries    map[string]*entry
	expiry     expiryHeap
	maxEntries int
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache holding at most maxEntries values. Zero means unbounded.
func New(maxEntries int) *ChunkCache {
	return &ChunkCache{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a copy of a live value. Expired values are dropped on read.
func (c *ChunkCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.m.Lock()
	defer c.m.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	if !c.now().Before(e.expires) {
		c.removeLocked(e)
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	return append([]byte(nil), e.value...), true, nil
}

// Set stores a copy of value for ttl. When the cache is full the value
// closest to expiry, which is an expired one if any exist, is evicted.
func (c *ChunkCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.m.Lock()
	defer c.m.Unlock()

	expires := c.now().Add(ttl)
	if e, exists := c.entries[key]; exists {
		e.value = append([]byte(nil), value...)
		e.expires = expires
		heap.Fix(&c.expiry, e.index)
		return nil
	}
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.removeLocked(c.expiry[0])
	}
	e := &entry{key: key, value: append([]byte(nil), value...), expires: expires}
	c.entries[key] = e
	heap.Push(&c.expiry, e)
	return nil
}

// Delete drops a key.
func (c *ChunkCache) Delete(key string) {
	c.m.Lock()
	defer c.m.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Sweep drops expired values and reports how many were removed.
func (c *ChunkCache) Sweep() int {
	c.m.Lock()
	defer c.m.Unlock()

	now := c.now()
	n := 0
	for len(c.expiry) > 0 && !now.Before(c.expiry[0].expires) {
		c.removeLocked(c.expiry[0])
		n++
	}
	return n
}

func (c *ChunkCache) removeLocked(e *entry) {
	heap.Remove(&c.expiry, e.index)
	delete(c.entries, e.key)
}

// Len returns the number of stored values, expired ones included.
func (c *ChunkCache) Len() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.entries)
}

// Stats returns hit and miss counts since creation.
func (c *ChunkCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Run sweeps every interval until ctx is done.
func (c *ChunkCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
