package pipelineservice

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"chainintel/internal/metrics"
)

// SeenCache is the live path's bounded set of recently handled tx hashes.
// When full it is cleared entirely and hashes seen before the reset fall
// through to the status store.
type SeenCache struct {
	set    *xsync.Map[string, struct{}]
	max    int
	resets atomic.Int64
}

// NewSeenCache creates a cache holding at most max keys
func NewSeenCache(max int) *SeenCache {
	if max <= 0 {
		max = 10000
	}
	return &SeenCache{set: xsync.NewMap[string, struct{}](), max: max}
}

// Contains reports whether key was added since the last reset
func (c *SeenCache) Contains(key string) bool {
	_, ok := c.set.Load(key)
	return ok
}

// Add inserts key, clearing the whole set first when it is full.
// It reports whether a reset happened.
func (c *SeenCache) Add(key string) bool {
	reset := false
	if c.set.Size() >= c.max {
		c.set.Clear()
		c.resets.Add(1)
		metrics.SeenCacheResets.Inc()
		reset = true
	}
	c.set.Store(key, struct{}{})
	metrics.SeenCacheSize.Set(float64(c.set.Size()))
	return reset
}

// Size returns the number of cached keys
func (c *SeenCache) Size() int {
	return c.set.Size()
}

// Resets returns how many times the cache was cleared
func (c *SeenCache) Resets() int64 {
	return c.resets.Load()
}
