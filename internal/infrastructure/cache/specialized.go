package cache

import (
	"time"

	"go.uber.org/zap"

	"contextgw-backend/internal/analysis"
	"contextgw-backend/internal/infrastructure/events"
)

// Store is the capability set the specialized caches build on. It is
// satisfied by PerformanceCache and lets tests substitute a fake engine.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any, dependencies ...string)
	Delete(key string) bool
	InvalidateByDependency(tag string) int
	GetMetrics() Metrics
	GetDetailedMetrics(topN int) DetailedMetrics
	StartCleanup(interval time.Duration)
	Stop()
}

var _ Store = (*PerformanceCache)(nil)

// SemanticAnalysisCache caches per-document analyses keyed by a content hash
// of the file path and content. Each entry declares its file path as a
// dependency tag so a file change evicts exactly the results derived from it.
type SemanticAnalysisCache struct {
	store Store
}

// NewSemanticAnalysisCache creates the semantic cache with its tuned engine.
func NewSemanticAnalysisCache(maxEntries int, maxSize int64, ttl time.Duration, bus *events.Bus, logger *zap.Logger) *SemanticAnalysisCache {
	return &SemanticAnalysisCache{
		store: New(Config{
			Name:       "semantic",
			MaxEntries: maxEntries,
			MaxSize:    maxSize,
			TTL:        ttl,
		}, bus, logger),
	}
}

// NewSemanticAnalysisCacheWithStore wraps an existing engine; used by tests.
func NewSemanticAnalysisCacheWithStore(store Store) *SemanticAnalysisCache {
	return &SemanticAnalysisCache{store: store}
}

// Key derives the cache key for a document.
func (c *SemanticAnalysisCache) Key(path string, content []byte) string {
	return SemanticKey(path, content)
}

// Get returns the cached analysis for a key, if present and fresh.
func (c *SemanticAnalysisCache) Get(key string) (*analysis.DocumentAnalysis, bool) {
	value, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	doc, ok := value.(*analysis.DocumentAnalysis)
	return doc, ok
}

// Set caches an analysis, tagging it with the document's file path.
func (c *SemanticAnalysisCache) Set(key string, doc *analysis.DocumentAnalysis) {
	c.store.Set(key, doc, doc.Path)
}

// InvalidateFile evicts every cached analysis derived from the file.
func (c *SemanticAnalysisCache) InvalidateFile(path string) int {
	return c.store.InvalidateByDependency(path)
}

// Engine exposes the underlying store for metrics and lifecycle management.
func (c *SemanticAnalysisCache) Engine() Store { return c.store }

// CrossDomainCache caches cross-domain analysis results keyed by the sorted
// participating file-path list. Entries declare every participating path as
// a dependency tag.
type CrossDomainCache struct {
	store Store
}

// NewCrossDomainCache creates the cross-domain cache with its tuned engine.
func NewCrossDomainCache(maxEntries int, maxSize int64, ttl time.Duration, bus *events.Bus, logger *zap.Logger) *CrossDomainCache {
	return &CrossDomainCache{
		store: New(Config{
			Name:       "crossdomain",
			MaxEntries: maxEntries,
			MaxSize:    maxSize,
			TTL:        ttl,
		}, bus, logger),
	}
}

// NewCrossDomainCacheWithStore wraps an existing engine; used by tests.
func NewCrossDomainCacheWithStore(store Store) *CrossDomainCache {
	return &CrossDomainCache{store: store}
}

// Key derives the cache key for a file set.
func (c *CrossDomainCache) Key(paths []string) string {
	return CrossDomainKey(paths)
}

// Get returns the cached cross-domain result for a key.
func (c *CrossDomainCache) Get(key string) (*analysis.CrossDomainResult, bool) {
	value, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	result, ok := value.(*analysis.CrossDomainResult)
	return result, ok
}

// Set caches a cross-domain result, tagging it with every participating path.
func (c *CrossDomainCache) Set(key string, result *analysis.CrossDomainResult) {
	c.store.Set(key, result, result.Paths...)
}

// InvalidateFile evicts every cached result that involved the file.
func (c *CrossDomainCache) InvalidateFile(path string) int {
	return c.store.InvalidateByDependency(path)
}

// Engine exposes the underlying store for metrics and lifecycle management.
func (c *CrossDomainCache) Engine() Store { return c.store }
