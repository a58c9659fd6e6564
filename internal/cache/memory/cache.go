// Package memory provides an in-process TTL cache for entitlement snapshots.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// DefaultMaxSize bounds the number of entries held when none is configured
const DefaultMaxSize = 10000

var errStopped = errors.New("memory cache is stopped")

// entry is one cached value
type entry struct {
	value     []byte
	cachedAt  time.Time
	expiresAt time.Time
	hitCount  int
}

// Stats is a point-in-time view of cache usage
type Stats struct {
	Entries    int     `json:"entries"`
	MaxSize    int     `json:"max_size"`
	HitCount   int64   `json:"hit_count"`
	MissCount  int64   `json:"miss_count"`
	HitRatio   float64 `json:"hit_ratio"`
	Evictions  int64   `json:"evictions"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

// Cache is a size-bounded map with per-entry expiry. The oldest entry is
// evicted when the cache is full.
type Cache struct {
	entries   map[string]entry
	mutex     sync.RWMutex
	maxSize   int
	hitCount  int64
	missCount int64
	evictions int64
	lastTTL   time.Duration
	now       func() time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once
	stopped   bool
}

// New creates a cache and starts its expiry sweep. Call Stop to end the sweep.
func New(maxSize int, sweepInterval time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	c := &Cache{
		entries:  make(map[string]entry),
		maxSize:  maxSize,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	go c.cleanup(sweepInterval)

	return c
}

// Get returns the value stored under key if it has not expired
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopped {
		return nil, false, errStopped
	}

	e, exists := c.entries[key]
	if !exists || !c.now().Before(e.expiresAt) {
		if exists {
			delete(c.entries, key)
		}
		c.missCount++
		return nil, false, nil
	}

	e.hitCount++
	c.entries[key] = e
	c.hitCount++

	return e.value, true, nil
}

// Set stores value under key for ttl
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopped {
		return errStopped
	}

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := c.now()
	c.lastTTL = ttl
	c.entries[key] = entry{
		value:     append([]byte(nil), value...),
		cachedAt:  now,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// DeletePrefix removes every entry whose key starts with prefix
func (c *Cache) DeletePrefix(_ context.Context, prefix string) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopped {
		return 0, errStopped
	}

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Ping reports whether the cache still accepts requests
func (c *Cache) Ping(context.Context) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.stopped {
		return errStopped
	}
	return nil
}

// GetStats returns cache statistics
func (c *Cache) GetStats() Stats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	totalRequests := c.hitCount + c.missCount
	hitRatio := float64(0)
	if totalRequests > 0 {
		hitRatio = float64(c.hitCount) / float64(totalRequests)
	}

	return Stats{
		Entries:    len(c.entries),
		MaxSize:    c.maxSize,
		HitCount:   c.hitCount,
		MissCount:  c.missCount,
		HitRatio:   hitRatio,
		Evictions:  c.evictions,
		TTLSeconds: c.lastTTL.Seconds(),
	}
}

func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, e := range c.entries {
		if oldestKey == "" || e.cachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.cachedAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

// sweep drops expired entries
func (c *Cache) sweep() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Stop ends the sweep goroutine. Later calls fail.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		c.mutex.Lock()
		c.stopped = true
		c.mutex.Unlock()
		close(c.stopChan)
	})
}

func (c *Cache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopChan:
			return
		}
	}
}
