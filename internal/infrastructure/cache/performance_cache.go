// Package cache provides the performance caching layer for the context
// gateway. This file implements the core engine: a bounded in-memory cache
// with LRU eviction, per-entry TTL and dependency-driven invalidation.
package cache

import (
	"container/list"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"contextgw-backend/internal/infrastructure/events"
)

// nominalEntrySize is charged for values that cannot be JSON-encoded
// (cycles, channels, function values). The canonical-encoding heuristic has
// no answer for those, so they get a fixed nominal charge.
const nominalEntrySize = 512

// PerformanceCache provides an in-memory cache with LRU eviction, TTL support
// and dependency-tag invalidation. This implementation is thread-safe and
// suitable for single-instance deployments.
//
// Key Features:
//   - LRU (Least Recently Used) eviction policy
//   - Lazy TTL checks on read plus a background expiry sweep
//   - Dependency-tag bulk invalidation
//   - Entry-count and byte-size ceilings
//   - Hit rate statistics
type PerformanceCache struct {
	mu          sync.RWMutex
	name        string
	entries     map[string]*cacheEntry
	lruList     *list.List
	deps        map[string]map[string]struct{} // dependency tag -> set of keys
	maxEntries  int
	maxSize     int64
	currentSize int64
	ttl         time.Duration

	// Statistics
	hits      int64
	misses    int64
	evictions int64

	now    func() time.Time
	bus    *events.Bus
	logger *zap.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// cacheEntry represents a single cached entry.
type cacheEntry struct {
	key          string
	value        any
	size         int64
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  int64
	dependencies []string
	lruElement   *list.Element
}

// Config configures a PerformanceCache instance.
type Config struct {
	// Name labels the cache in events, logs and metrics.
	Name string

	MaxEntries int
	MaxSize    int64
	TTL        time.Duration

	// Clock overrides the time source. Nil means time.Now; tests inject a
	// fake clock to exercise TTL behavior deterministically.
	Clock func() time.Time
}

// New creates a new PerformanceCache with the specified configuration.
func New(cfg Config, bus *events.Bus, logger *zap.Logger) *PerformanceCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &PerformanceCache{
		name:       cfg.Name,
		entries:    make(map[string]*cacheEntry),
		lruList:    list.New(),
		deps:       make(map[string]map[string]struct{}),
		maxEntries: cfg.MaxEntries,
		maxSize:    cfg.MaxSize,
		ttl:        cfg.TTL,
		now:        now,
		bus:        bus,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Get retrieves a value from the cache. An entry older than the TTL is
// treated as a miss and removed; expiry is evaluated lazily here as well as
// by the background sweep.
func (c *PerformanceCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		return nil, false
	}

	if c.expired(entry, c.now()) {
		c.removeEntry(entry)
		c.misses++
		c.publishEvicted(entry, "ttl")
		return nil, false
	}

	entry.lastAccessed = c.now()
	entry.accessCount++
	c.lruList.MoveToFront(entry.lruElement)
	c.hits++

	return entry.value, true
}

// Set stores a value in the cache, evicting least-recently-used entries as
// needed to respect the size and count ceilings. Declared dependency tags are
// merged into the dependency graph.
func (c *PerformanceCache) Set(key string, value any, dependencies ...string) {
	size := estimateSize(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Overwriting an existing key first retires the old entry entirely,
	// including its dependency registrations.
	if existing, exists := c.entries[key]; exists {
		c.removeEntry(existing)
	}

	c.ensureSpace(size)

	entry := &cacheEntry{
		key:          key,
		value:        value,
		size:         size,
		createdAt:    c.now(),
		lastAccessed: c.now(),
		dependencies: dependencies,
	}
	entry.lruElement = c.lruList.PushFront(entry)
	c.entries[key] = entry
	c.currentSize += size

	for _, tag := range dependencies {
		keys, ok := c.deps[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.deps[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

// Delete removes an entry and reports whether it existed. Calling it again
// for the same key is a no-op returning false.
func (c *PerformanceCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return false
	}
	c.removeEntry(entry)
	return true
}

// InvalidateByDependency deletes every key currently associated with the tag
// and discards the tag's record. Returns the number of keys deleted.
func (c *PerformanceCache) InvalidateByDependency(tag string) int {
	c.mu.Lock()

	keys, ok := c.deps[tag]
	if !ok {
		c.mu.Unlock()
		return 0
	}

	count := 0
	for key := range keys {
		if entry, exists := c.entries[key]; exists {
			c.removeEntry(entry)
			count++
		}
	}
	// removeEntry prunes per-key tag references; the tag record itself is
	// fully discarded so later registrations start fresh.
	delete(c.deps, tag)
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(events.CacheInvalidated{
			Cache:     c.name,
			Tag:       tag,
			Count:     count,
			Timestamp: c.now(),
		})
	}

	c.logger.Debug("Invalidated cache entries by dependency",
		zap.String("cache", c.name),
		zap.String("tag", tag),
		zap.Int("count", count),
	)

	return count
}

// ensureSpace evicts least-recently-used entries until the new entry fits
// under both ceilings, or there is nothing left to evict. A single entry
// larger than maxSize therefore evicts everything and is still inserted;
// this best-effort behavior is intentional.
func (c *PerformanceCache) ensureSpace(size int64) {
	for (c.currentSize+size > c.maxSize || len(c.entries) >= c.maxEntries) && c.lruList.Len() > 0 {
		oldest := c.lruList.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*cacheEntry)
		c.removeEntry(entry)
		c.evictions++
		c.publishEvicted(entry, "lru")
	}
}

// removeEntry removes an entry from the map, LRU list, size tracker and
// dependency graph (must be called with lock held).
func (c *PerformanceCache) removeEntry(entry *cacheEntry) {
	if entry.lruElement != nil {
		c.lruList.Remove(entry.lruElement)
	}
	delete(c.entries, entry.key)
	c.currentSize -= entry.size

	for _, tag := range entry.dependencies {
		if keys, ok := c.deps[tag]; ok {
			delete(keys, entry.key)
			if len(keys) == 0 {
				delete(c.deps, tag)
			}
		}
	}
}

func (c *PerformanceCache) expired(entry *cacheEntry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(entry.createdAt) > c.ttl
}

func (c *PerformanceCache) publishEvicted(entry *cacheEntry, reason string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.CacheEvicted{
		Cache:     c.name,
		Key:       entry.key,
		Size:      entry.size,
		Reason:    reason,
		Timestamp: c.now(),
	})
}

// StartCleanup starts the background sweep that removes expired entries at a
// fixed interval. It is a safety net independent of the lazy check in Get.
func (c *PerformanceCache) StartCleanup(interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.cleanupExpired()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the background sweep.
func (c *PerformanceCache) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// cleanupExpired removes expired entries.
func (c *PerformanceCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var toRemove []*cacheEntry
	for _, entry := range c.entries {
		if c.expired(entry, now) {
			toRemove = append(toRemove, entry)
		}
	}

	for _, entry := range toRemove {
		c.removeEntry(entry)
		c.publishEvicted(entry, "ttl")
	}

	if len(toRemove) > 0 {
		c.logger.Debug("Cleaned up expired cache entries",
			zap.String("cache", c.name),
			zap.Int("count", len(toRemove)),
		)
	}
}

// Metrics holds cache statistics.
type Metrics struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hitRate"`
	Entries   int     `json:"entries"`
	TotalSize int64   `json:"totalSize"`
}

// KeyAccess reports how often a key has been read.
type KeyAccess struct {
	Key         string `json:"key"`
	AccessCount int64  `json:"accessCount"`
}

// DetailedMetrics extends Metrics with memory utilization and hot keys.
type DetailedMetrics struct {
	Metrics
	MemoryUtilization float64     `json:"memoryUtilization"` // totalSize / maxSize
	TopAccessed       []KeyAccess `json:"topAccessed"`
}

// GetMetrics returns the current cache statistics.
func (c *PerformanceCache) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metricsLocked()
}

func (c *PerformanceCache) metricsLocked() Metrics {
	hitRate := float64(0)
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Metrics{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		HitRate:   hitRate,
		Entries:   len(c.entries),
		TotalSize: c.currentSize,
	}
}

// GetDetailedMetrics returns statistics plus memory utilization and the
// topN most-accessed keys.
func (c *PerformanceCache) GetDetailedMetrics(topN int) DetailedMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	utilization := float64(0)
	if c.maxSize > 0 {
		utilization = float64(c.currentSize) / float64(c.maxSize)
	}

	accesses := make([]KeyAccess, 0, len(c.entries))
	for key, entry := range c.entries {
		accesses = append(accesses, KeyAccess{Key: key, AccessCount: entry.accessCount})
	}
	sort.Slice(accesses, func(i, j int) bool {
		if accesses[i].AccessCount != accesses[j].AccessCount {
			return accesses[i].AccessCount > accesses[j].AccessCount
		}
		return accesses[i].Key < accesses[j].Key
	})
	if topN > 0 && len(accesses) > topN {
		accesses = accesses[:topN]
	}

	return DetailedMetrics{
		Metrics:           c.metricsLocked(),
		MemoryUtilization: utilization,
		TopAccessed:       accesses,
	}
}

// Len returns the current number of entries.
func (c *PerformanceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// estimateSize approximates the memory footprint of a value as the byte
// length of its canonical JSON encoding. Values that cannot be encoded get a
// fixed nominal size.
func estimateSize(value any) int64 {
	data, err := json.Marshal(value)
	if err != nil {
		return nominalEntrySize
	}
	return int64(len(data))
}
