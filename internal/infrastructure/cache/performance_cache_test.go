package cache

import (
	"strings"
	"testing"
	"time"

	"contextgw-backend/internal/infrastructure/events"
)

func newTestCache(maxEntries int, maxSize int64, ttl time.Duration, clock *fakeClock) *PerformanceCache {
	cfg := Config{
		Name:       "test",
		MaxEntries: maxEntries,
		MaxSize:    maxSize,
		TTL:        ttl,
	}
	if clock != nil {
		cfg.Clock = clock.Now
	}
	return New(cfg, nil, nil)
}

type fakeClock struct {
	current time.Time
}

func (f *fakeClock) Now() time.Time { return f.current }

func (f *fakeClock) Advance(d time.Duration) { f.current = f.current.Add(d) }

// sumEntrySizes recomputes the size total from the live entries.
func sumEntrySizes(c *PerformanceCache) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, e := range c.entries {
		total += e.size
	}
	return total
}

func TestSizeAccountingInvariant(t *testing.T) {
	c := newTestCache(100, 1<<20, time.Hour, nil)

	// Interleave sets, overwrites and deletes; the tracked total must match
	// the recomputed sum at every observation point.
	ops := []func(){
		func() { c.Set("a", "small") },
		func() { c.Set("b", strings.Repeat("x", 100)) },
		func() { c.Set("a", strings.Repeat("y", 500)) }, // overwrite with larger value
		func() { c.Delete("b") },
		func() { c.Set("c", map[string]int{"n": 1}) },
		func() { c.Delete("b") }, // second delete, no-op
		func() { c.Set("a", "tiny again") },
		func() { c.Delete("a") },
	}

	for i, op := range ops {
		op()
		if got, want := c.GetMetrics().TotalSize, sumEntrySizes(c); got != want {
			t.Fatalf("after op %d: totalSize = %d, recomputed sum = %d", i, got, want)
		}
	}
}

func TestLRUEviction(t *testing.T) {
	c := newTestCache(2, 1<<20, time.Hour, nil)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Error("a should have been evicted as least recently used")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b should still be present")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should still be present")
	}
	if got := c.GetMetrics().Evictions; got != 1 {
		t.Errorf("evictions = %d, want 1", got)
	}
}

func TestLRUEviction_AccessRefreshesRecency(t *testing.T) {
	c := newTestCache(2, 1<<20, time.Hour, nil)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a is now more recently used than b
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted, not a")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive after being accessed")
	}
}

func TestBoundsHoldAfterSet(t *testing.T) {
	c := newTestCache(5, 200, time.Hour, nil)

	for i := 0; i < 20; i++ {
		c.Set(strings.Repeat("k", i+1), strings.Repeat("v", 10))

		m := c.GetMetrics()
		if m.Entries > 5 {
			t.Fatalf("entry count %d exceeds maxEntries", m.Entries)
		}
		if m.TotalSize > 200 {
			t.Fatalf("totalSize %d exceeds maxSize", m.TotalSize)
		}
	}
}

func TestOversizedEntry_BestEffortInsert(t *testing.T) {
	c := newTestCache(10, 50, time.Hour, nil)

	c.Set("small1", "aa")
	c.Set("small2", "bb")
	// Larger than maxSize by itself: everything is evicted and the entry is
	// still inserted.
	c.Set("huge", strings.Repeat("z", 500))

	if _, ok := c.Get("small1"); ok {
		t.Error("small1 should have been evicted")
	}
	if _, ok := c.Get("huge"); !ok {
		t.Error("oversized entry is accepted best-effort")
	}
	if got := c.Len(); got != 1 {
		t.Errorf("entry count = %d, want 1", got)
	}
}

func TestTTL_LazyExpiryOnGet(t *testing.T) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	c := newTestCache(10, 1<<20, time.Minute, clock)

	c.Set("k", "v")

	if _, ok := c.Get("k"); !ok {
		t.Fatal("fresh entry should be a hit")
	}

	clock.Advance(2 * time.Minute)

	if _, ok := c.Get("k"); ok {
		t.Error("expired entry must be treated as a miss")
	}
	if got := c.Len(); got != 0 {
		t.Errorf("expired entry must be removed on read, %d entries remain", got)
	}

	m := c.GetMetrics()
	if m.Hits != 1 || m.Misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", m.Hits, m.Misses)
	}
}

func TestTTL_BackgroundSweep(t *testing.T) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	c := newTestCache(10, 1<<20, time.Minute, clock)

	c.Set("k1", "v1")
	c.Set("k2", "v2")
	clock.Advance(2 * time.Minute)

	// Drive the sweep directly instead of waiting on the ticker.
	c.cleanupExpired()

	if got := c.Len(); got != 0 {
		t.Errorf("sweep left %d entries", got)
	}
}

func TestDependencyInvalidation(t *testing.T) {
	c := newTestCache(10, 1<<20, time.Hour, nil)

	c.Set("k1", "v1", "fileX")
	c.Set("k2", "v2", "fileX", "fileY")
	c.Set("k3", "v3", "fileY")

	if got := c.InvalidateByDependency("fileX"); got != 2 {
		t.Errorf("invalidated %d keys, want 2", got)
	}
	if _, ok := c.Get("k1"); ok {
		t.Error("k1 should be gone")
	}
	if _, ok := c.Get("k2"); ok {
		t.Error("k2 should be gone")
	}
	if _, ok := c.Get("k3"); !ok {
		t.Error("k3 depends only on fileY and must survive")
	}

	// The tag record is discarded; a fresh registration starts clean.
	c.Set("k4", "v4", "fileX")
	if got := c.InvalidateByDependency("fileX"); got != 1 {
		t.Errorf("fresh tag registration invalidated %d keys, want 1", got)
	}
}

func TestDependencyGraph_NoDanglingReferencesAfterDelete(t *testing.T) {
	c := newTestCache(10, 1<<20, time.Hour, nil)

	c.Set("k1", "v1", "tagA", "tagB")
	c.Delete("k1")

	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.deps["tagA"]; ok {
		t.Error("empty tagA set must be pruned")
	}
	if _, ok := c.deps["tagB"]; ok {
		t.Error("empty tagB set must be pruned")
	}
}

func TestDelete_Idempotent(t *testing.T) {
	c := newTestCache(10, 1<<20, time.Hour, nil)

	c.Set("k", "v")

	if !c.Delete("k") {
		t.Error("first delete should report true")
	}
	before := c.GetMetrics()

	if c.Delete("k") {
		t.Error("second delete should report false")
	}
	after := c.GetMetrics()

	if before != after {
		t.Errorf("second delete changed metrics: %+v -> %+v", before, after)
	}
}

func TestOverwrite_ReplacesDependencies(t *testing.T) {
	c := newTestCache(10, 1<<20, time.Hour, nil)

	c.Set("k", "v1", "oldTag")
	c.Set("k", "v2", "newTag")

	if got := c.InvalidateByDependency("oldTag"); got != 0 {
		t.Errorf("stale tag invalidated %d keys, want 0", got)
	}
	if _, ok := c.Get("k"); !ok {
		t.Error("k must survive invalidation of its replaced tag")
	}
	if got := c.InvalidateByDependency("newTag"); got != 1 {
		t.Errorf("current tag invalidated %d keys, want 1", got)
	}
}

func TestDetailedMetrics_TopAccessed(t *testing.T) {
	c := newTestCache(10, 1<<20, time.Hour, nil)

	c.Set("hot", 1)
	c.Set("warm", 2)
	c.Set("cold", 3)
	for i := 0; i < 5; i++ {
		c.Get("hot")
	}
	c.Get("warm")

	dm := c.GetDetailedMetrics(2)
	if len(dm.TopAccessed) != 2 {
		t.Fatalf("topAccessed length = %d, want 2", len(dm.TopAccessed))
	}
	if dm.TopAccessed[0].Key != "hot" || dm.TopAccessed[0].AccessCount != 5 {
		t.Errorf("top key = %+v, want hot/5", dm.TopAccessed[0])
	}
	if dm.TopAccessed[1].Key != "warm" {
		t.Errorf("second key = %s, want warm", dm.TopAccessed[1].Key)
	}
	if dm.MemoryUtilization <= 0 {
		t.Error("memory utilization should be positive with live entries")
	}
}

func TestEvictionEvents(t *testing.T) {
	bus := events.NewBus(nil)
	var evicted []events.CacheEvicted
	bus.Subscribe(events.EventCacheEvicted, func(e events.Event) {
		evicted = append(evicted, e.(events.CacheEvicted))
	})

	c := New(Config{Name: "evtest", MaxEntries: 1, MaxSize: 1 << 20, TTL: time.Hour}, bus, nil)
	c.Set("a", 1)
	c.Set("b", 2)

	if len(evicted) != 1 {
		t.Fatalf("got %d eviction events, want 1", len(evicted))
	}
	if evicted[0].Key != "a" || evicted[0].Reason != "lru" || evicted[0].Cache != "evtest" {
		t.Errorf("unexpected event payload: %+v", evicted[0])
	}
}

func TestEstimateSize_NonSerializableFallback(t *testing.T) {
	if got := estimateSize(make(chan int)); got != nominalEntrySize {
		t.Errorf("non-serializable size = %d, want nominal %d", got, nominalEntrySize)
	}
	if got := estimateSize("abcd"); got != int64(len(`"abcd"`)) {
		t.Errorf("string size = %d, want canonical JSON length", got)
	}
}
