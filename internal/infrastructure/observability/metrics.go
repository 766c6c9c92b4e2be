// Package observability exposes Prometheus metrics for the performance
// layer: orchestrator operations, cache behavior, and rollback activity.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the application. Each instance
// owns its registry so tests never collide on duplicate registration.
type Collector struct {
	registry *prometheus.Registry

	// Orchestrator metrics
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	QueueDepth        prometheus.Gauge
	CacheMemoryBytes  *prometheus.GaugeVec

	// Cache metrics
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheEvictions     *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec

	// Rollback metrics
	RollbacksCreated  prometheus.Counter
	RollbacksExecuted prometheus.Counter
	RollbacksFailed   prometheus.Counter
}

// NewCollector creates a metrics collector with the given namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	operations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of orchestrated operations",
		},
		[]string{"operation", "status"},
	)

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Orchestrated operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_depth",
			Help:      "Current number of tasks waiting in the worker pool queue",
		},
	)

	cacheMemoryBytes := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_memory_bytes",
			Help:      "Estimated memory held by each cache",
		},
		[]string{"cache"},
	)

	cacheHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache"},
	)

	cacheMisses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache"},
	)

	cacheEvictions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of cache evictions by reason",
		},
		[]string{"cache", "reason"},
	)

	cacheInvalidations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Total number of entries removed by dependency invalidation",
		},
		[]string{"cache"},
	)

	rollbacksCreated := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_created_total",
			Help:      "Total number of rollback snapshots created",
		},
	)

	rollbacksExecuted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_executed_total",
			Help:      "Total number of rollbacks executed successfully",
		},
	)

	rollbacksFailed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_failed_total",
			Help:      "Total number of failed rollback executions",
		},
	)

	registry.MustRegister(
		operations,
		operationDuration,
		queueDepth,
		cacheMemoryBytes,
		cacheHits,
		cacheMisses,
		cacheEvictions,
		cacheInvalidations,
		rollbacksCreated,
		rollbacksExecuted,
		rollbacksFailed,
	)

	return &Collector{
		registry:           registry,
		Operations:         operations,
		OperationDuration:  operationDuration,
		QueueDepth:         queueDepth,
		CacheMemoryBytes:   cacheMemoryBytes,
		CacheHits:          cacheHits,
		CacheMisses:        cacheMisses,
		CacheEvictions:     cacheEvictions,
		CacheInvalidations: cacheInvalidations,
		RollbacksCreated:   rollbacksCreated,
		RollbacksExecuted:  rollbacksExecuted,
		RollbacksFailed:    rollbacksFailed,
	}
}

// RecordOperation records one orchestrated operation's outcome and duration.
func (c *Collector) RecordOperation(operation, status string, duration time.Duration) {
	c.Operations.WithLabelValues(operation, status).Inc()
	c.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheLookup records a cache hit or miss.
func (c *Collector) RecordCacheLookup(cache string, hit bool) {
	if hit {
		c.CacheHits.WithLabelValues(cache).Inc()
	} else {
		c.CacheMisses.WithLabelValues(cache).Inc()
	}
}

// RecordQueueDepth records the current worker pool queue depth.
func (c *Collector) RecordQueueDepth(depth int) {
	c.QueueDepth.Set(float64(depth))
}

// RecordCacheMemory records the estimated bytes held by one cache.
func (c *Collector) RecordCacheMemory(cache string, bytes int64) {
	c.CacheMemoryBytes.WithLabelValues(cache).Set(float64(bytes))
}

// GetRegistry returns the Prometheus registry for this collector.
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}
