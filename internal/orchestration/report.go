package orchestration

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"contextgw-backend/internal/infrastructure/cache"
	"contextgw-backend/internal/infrastructure/events"
)

// performanceTracker keeps request counters and a bounded response-time
// history for percentile reporting.
type performanceTracker struct {
	mu             sync.Mutex
	historySize    int
	history        []time.Duration
	totalRequests  int64
	failedRequests int64
	cacheHits      int64
}

func newPerformanceTracker(historySize int) *performanceTracker {
	if historySize <= 0 {
		historySize = 1000
	}
	return &performanceTracker{
		historySize: historySize,
		history:     make([]time.Duration, 0, historySize),
	}
}

func (t *performanceTracker) record(elapsed time.Duration, failed, cacheHit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRequests++
	if failed {
		t.failedRequests++
	}
	if cacheHit {
		t.cacheHits++
	}
	t.history = append(t.history, elapsed)
	if len(t.history) > t.historySize {
		t.history = t.history[len(t.history)-t.historySize:]
	}
}

// snapshot returns counters plus a copy of the history for percentile math.
func (t *performanceTracker) snapshot() (total, failed, hits int64, history []time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	history = append([]time.Duration(nil), t.history...)
	return t.totalRequests, t.failedRequests, t.cacheHits, history
}

// percentile computes the nearest-rank percentile over sorted samples.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// ResponseTimes summarizes the tracked latency distribution.
type ResponseTimes struct {
	Average time.Duration `json:"average"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
	Samples int           `json:"samples"`
}

// PerformanceReport is the orchestrator-wide metrics aggregate.
type PerformanceReport struct {
	TotalRequests  int64                 `json:"totalRequests"`
	FailedRequests int64                 `json:"failedRequests"`
	CacheHits      int64                 `json:"cacheHits"`
	CacheHitRate   float64               `json:"cacheHitRate"`
	ResponseTimes  ResponseTimes         `json:"responseTimes"`
	QueueDepth     int                   `json:"queueDepth"`
	MemoryUsed     int64                 `json:"memoryUsed"`
	SemanticCache  cache.DetailedMetrics `json:"semanticCache"`
	CrossDomain    cache.DetailedMetrics `json:"crossDomainCache"`
	GeneratedAt    time.Time             `json:"generatedAt"`
}

// HealthStatus is the health check result.
type HealthStatus struct {
	Healthy  bool     `json:"healthy"`
	Warnings []string `json:"warnings"`
}

// GetPerformanceReport aggregates request tracking, latency percentiles, and
// per-cache statistics into one report.
func (o *Orchestrator) GetPerformanceReport() PerformanceReport {
	total, failed, hits, history := o.tracker.snapshot()

	sort.Slice(history, func(i, j int) bool { return history[i] < history[j] })
	var sum time.Duration
	for _, d := range history {
		sum += d
	}
	times := ResponseTimes{
		P50:     percentile(history, 50),
		P95:     percentile(history, 95),
		P99:     percentile(history, 99),
		Samples: len(history),
	}
	if len(history) > 0 {
		times.Average = sum / time.Duration(len(history))
	}

	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return PerformanceReport{
		TotalRequests:  total,
		FailedRequests: failed,
		CacheHits:      hits,
		CacheHitRate:   hitRate,
		ResponseTimes:  times,
		QueueDepth:     o.pool.QueueDepth(),
		MemoryUsed:     o.cacheMemory(),
		SemanticCache:  o.semanticCache.Engine().GetDetailedMetrics(10),
		CrossDomain:    o.crossCache.Engine().GetDetailedMetrics(10),
		GeneratedAt:    o.now(),
	}
}

// HealthCheck evaluates current metrics against the configured alert
// thresholds. Any breach is reported as a warning and published as an alert.
func (o *Orchestrator) HealthCheck() HealthStatus {
	report := o.GetPerformanceReport()

	o.thresholdMu.RLock()
	maxAvg := o.config.MaxAvgResponseTime
	maxMem := o.config.MaxMemoryBytes
	maxQueue := o.config.MaxQueueDepth
	o.thresholdMu.RUnlock()

	var warnings []string
	if maxAvg > 0 && report.ResponseTimes.Average > maxAvg {
		warnings = append(warnings, fmt.Sprintf(
			"average response time %v exceeds threshold %v",
			report.ResponseTimes.Average, maxAvg))
	}
	if maxMem > 0 && report.MemoryUsed > maxMem {
		warnings = append(warnings, fmt.Sprintf(
			"cache memory %d bytes exceeds threshold %d",
			report.MemoryUsed, maxMem))
	}
	if maxQueue > 0 && report.QueueDepth > maxQueue {
		warnings = append(warnings, fmt.Sprintf(
			"worker queue depth %d exceeds threshold %d",
			report.QueueDepth, maxQueue))
	}

	if len(warnings) > 0 && o.bus != nil {
		o.bus.Publish(events.OrchestratorAlert{
			Warnings:  warnings,
			Timestamp: o.now(),
		})
	}
	return HealthStatus{
		Healthy:  len(warnings) == 0,
		Warnings: warnings,
	}
}
