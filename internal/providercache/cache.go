// Package providercache caches traffic-provider responses in process
// memory so that concurrent enrichment runs (and repeated calls for the
// same cell within a TTL window) don't re-pay an upstream HTTP round
// trip. It shards by xxhash of the key the way internal/hotness/expdecay
// shards its decay counters, trading one global lock for 64 narrower
// ones under concurrent enrichment fan-out.
package providercache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	xxhash "github.com/cespare/xxhash/v2"

	"github.com/citygrid/h3delay/internal/model"
)

const numShards = 64

type entry struct {
	sample    model.TrafficSample
	expiresAt time.Time
}

type shard struct {
	mu    sync.RWMutex
	store *lru.Cache[string, entry]
}

// Cache is a sharded, TTL-bounded LRU of provider responses, keyed by
// whatever string the caller chooses (cell id, or cell+date for
// callers that want per-day isolation).
type Cache struct {
	ttl time.Duration
	now func() time.Time

	shards [numShards]*shard
}

// New builds a Cache with perShardSize entries per shard (so total
// capacity is roughly numShards*perShardSize) and responses considered
// stale after ttl.
func New(perShardSize int, ttl time.Duration) (*Cache, error) {
	if perShardSize <= 0 {
		perShardSize = 64
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &Cache{ttl: ttl, now: time.Now}
	for i := range c.shards {
		store, err := lru.New[string, entry](perShardSize)
		if err != nil {
			return nil, err
		}
		c.shards[i] = &shard{store: store}
	}
	return c, nil
}

func (c *Cache) pick(key string) *shard {
	h := xxhash.Sum64String(key)
	idx := h & (uint64(len(c.shards)) - 1)
	return c.shards[idx]
}

// Get returns the cached sample for key if present and not expired.
func (c *Cache) Get(key string) (model.TrafficSample, bool) {
	if key == "" {
		return model.TrafficSample{}, false
	}
	s := c.pick(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.store.Get(key)
	if !ok {
		return model.TrafficSample{}, false
	}
	if c.now().After(e.expiresAt) {
		s.store.Remove(key)
		return model.TrafficSample{}, false
	}
	return e.sample, true
}

// Set stores sample under key, evicting the shard's least-recently-used
// entry if the shard is at capacity.
func (c *Cache) Set(key string, sample model.TrafficSample) {
	if key == "" {
		return
	}
	s := c.pick(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Add(key, entry{sample: sample, expiresAt: c.now().Add(c.ttl)})
}

// Len returns the total number of live entries across all shards,
// including ones that have expired but not yet been evicted by a Get.
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += s.store.Len()
		s.mu.RUnlock()
	}
	return total
}
