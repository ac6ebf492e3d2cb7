package engine

import (
	"hash/fnv"
	"sync"
	"time"

	"livewatch/internal/verification"
)

// DefaultCacheShards is the number of lock stripes in a resultCache.
const DefaultCacheShards = 32

type cacheEntry struct {
	result  verification.Result
	expires time.Time
}

// cacheShard guards a slice of the key space. generation advances on every
// delete so a resolution started before an invalidation cannot repopulate the
// shard with a stale verdict.
type cacheShard struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	generation uint64
}

// resultCache is a lock-striped TTL cache keyed by channel id. Channels in
// different shards never contend.
type resultCache struct {
	shards []*cacheShard
}

func newResultCache(shards int) *resultCache {
	if shards <= 0 {
		shards = DefaultCacheShards
	}
	c := &resultCache{shards: make([]*cacheShard, shards)}
	for i := range c.shards {
		c.shards[i] = &cacheShard{entries: make(map[string]cacheEntry)}
	}
	return c
}

func (c *resultCache) shard(key string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

func (c *resultCache) get(key string, now time.Time) (verification.Result, bool) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return verification.Result{}, false
	}
	if !now.Before(entry.expires) {
		delete(s.entries, key)
		return verification.Result{}, false
	}
	return entry.result, true
}

// generation returns the token a later setIfCurrent must present.
func (c *resultCache) generation(key string) uint64 {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// setIfCurrent stores result unless the shard was invalidated since gen was
// read. It reports whether the value was stored.
func (c *resultCache) setIfCurrent(key string, gen uint64, result verification.Result, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false
	}
	s.entries[key] = cacheEntry{result: result, expires: now.Add(ttl)}
	return true
}

func (c *resultCache) delete(key string) {
	s := c.shard(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.generation++
	s.mu.Unlock()
}

func (c *resultCache) clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[string]cacheEntry)
		s.generation++
		s.mu.Unlock()
	}
}

func (c *resultCache) len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}
