package orchestration

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"contextgw-backend/internal/analysis"
	"contextgw-backend/internal/config"
	"contextgw-backend/internal/errors"
	"contextgw-backend/internal/infrastructure/cache"
	"contextgw-backend/internal/infrastructure/concurrency"
	"contextgw-backend/internal/infrastructure/events"
	"contextgw-backend/internal/infrastructure/fileops"
	"contextgw-backend/internal/infrastructure/observability"
	"contextgw-backend/internal/rollback"
)

// Operation labels used for metrics and logging.
const (
	OpSemanticAnalysis    = "semantic_analysis"
	OpCrossDomainAnalysis = "cross_domain_analysis"
	OpHolisticUpdate      = "holistic_update"
)

// Orchestrator is the public entry point of the performance layer. Each of
// its three operations follows the same shape: cache check, parallel or
// sequential compute, optimization, cache store. Compute failures surface as
// data in the result envelope, never as returned errors.
type Orchestrator struct {
	config   config.OrchestratorConfig
	basePath string

	semanticCache *cache.SemanticAnalysisCache
	crossCache    *cache.CrossDomainCache
	analyzer      analysis.SemanticAnalyzer
	correlator    analysis.CrossDomainAnalyzer
	optimizer     analysis.MemoryOptimizer
	pool          *concurrency.WorkerPool
	rollbackMgr   *rollback.Manager
	executor      *fileops.Executor
	bus           *events.Bus
	collector     *observability.Collector
	logger        *zap.Logger
	breaker       *gobreaker.CircuitBreaker

	// tracker owns request counters and the response-time history.
	tracker *performanceTracker

	// domainLocks serializes holistic updates that touch the same domain.
	domainMu    sync.Mutex
	domainLocks map[string]*sync.Mutex

	// thresholdMu guards the alert thresholds, which config hot reloads
	// may change while health checks read them.
	thresholdMu sync.RWMutex

	now func() time.Time
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	SemanticCache *cache.SemanticAnalysisCache
	CrossCache    *cache.CrossDomainCache
	Analyzer      analysis.SemanticAnalyzer
	Correlator    analysis.CrossDomainAnalyzer
	Optimizer     analysis.MemoryOptimizer
	Pool          *concurrency.WorkerPool
	RollbackMgr   *rollback.Manager
	Executor      *fileops.Executor
	Bus           *events.Bus
	Collector     *observability.Collector
	Logger        *zap.Logger
}

// New creates an orchestrator. Collector may be nil; everything else is
// required.
func New(cfg config.OrchestratorConfig, basePath string, deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "analysis",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Orchestrator{
		config:        cfg,
		basePath:      basePath,
		semanticCache: deps.SemanticCache,
		crossCache:    deps.CrossCache,
		analyzer:      deps.Analyzer,
		correlator:    deps.Correlator,
		optimizer:     deps.Optimizer,
		pool:          deps.Pool,
		rollbackMgr:   deps.RollbackMgr,
		executor:      deps.Executor,
		bus:           deps.Bus,
		collector:     deps.Collector,
		logger:        logger,
		breaker:       breaker,
		tracker:       newPerformanceTracker(cfg.HistorySize),
		domainLocks:   make(map[string]*sync.Mutex),
		now:           time.Now,
	}
}

// Start brings the worker pool up and announces readiness on the event bus.
func (o *Orchestrator) Start() error {
	if o.config.EnableParallel {
		if err := o.pool.Start(); err != nil {
			return err
		}
	}
	o.logger.Info("Performance orchestrator initialized",
		zap.Bool("parallelEnabled", o.config.EnableParallel),
		zap.Int("maxWorkers", o.config.MaxWorkers),
	)
	if o.bus != nil {
		o.bus.Publish(events.OrchestratorInitialized{
			ParallelEnabled: o.config.EnableParallel,
			MaxWorkers:      o.config.MaxWorkers,
			Timestamp:       o.now(),
		})
	}
	return nil
}

// Stop shuts the worker pool down.
func (o *Orchestrator) Stop() {
	o.pool.Stop()
}

// UpdateAlertThresholds applies new health thresholds from a config reload.
// The rest of the orchestrator configuration is fixed at construction.
func (o *Orchestrator) UpdateAlertThresholds(cfg config.OrchestratorConfig) {
	o.thresholdMu.Lock()
	o.config.MaxAvgResponseTime = cfg.MaxAvgResponseTime
	o.config.MaxMemoryBytes = cfg.MaxMemoryBytes
	o.config.MaxQueueDepth = cfg.MaxQueueDepth
	o.thresholdMu.Unlock()
}

// ProcessSemanticAnalysis analyzes the given files, serving previously
// analyzed content from cache. A full cache hit short-circuits compute
// entirely; on a partial hit only the missing files are analyzed.
func (o *Orchestrator) ProcessSemanticAnalysis(ctx context.Context, paths []string) *OperationResult {
	start := o.now()
	requestID := uuid.NewString()

	docs, metrics, err := o.analyzeFiles(ctx, paths)
	elapsed := o.now().Sub(start)
	metrics.TotalTime = elapsed

	if err != nil {
		return o.fail(OpSemanticAnalysis, requestID, elapsed, metrics, err)
	}
	return o.succeed(OpSemanticAnalysis, requestID, elapsed, metrics, docs)
}

// analyzeFiles is the shared semantic pipeline: cache check, compute missing,
// optimize, store. Used by both the semantic and cross-domain operations.
func (o *Orchestrator) analyzeFiles(ctx context.Context, paths []string) (map[string]*analysis.DocumentAnalysis, OperationMetrics, error) {
	metrics := OperationMetrics{OptimizationsApplied: []string{}}
	docs := make(map[string]*analysis.DocumentAnalysis, len(paths))
	keys := make(map[string]string, len(paths))
	var missing []string

	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, metrics, errors.IO("DOCUMENT_READ_FAILED",
				fmt.Sprintf("failed to read %s", path)).
				WithOperation("analyzeFiles").
				WithResource(path).
				WithCause(err).
				Build()
		}
		key := o.semanticCache.Key(path, content)
		keys[path] = key
		if doc, ok := o.semanticCache.Get(key); ok {
			docs[path] = doc
		} else {
			missing = append(missing, path)
		}
	}
	metrics.CacheHit = len(missing) == 0 && len(paths) > 0
	if o.collector != nil {
		o.collector.RecordCacheLookup("semantic", metrics.CacheHit)
	}
	if len(missing) == 0 {
		return docs, metrics, nil
	}

	computed, parallelTasks, err := o.computeAnalyses(ctx, missing)
	if err != nil {
		return nil, metrics, err
	}
	metrics.ParallelTasks = parallelTasks

	computed, tags := o.optimizer.OptimizeDocuments(computed)
	metrics.OptimizationsApplied = tags

	for path, doc := range computed {
		o.semanticCache.Set(keys[path], doc)
		docs[path] = doc
	}
	return docs, metrics, nil
}

// computeAnalyses runs the analyzer over the given paths, fanning out to the
// worker pool when parallel processing is on and there is more than one file.
func (o *Orchestrator) computeAnalyses(ctx context.Context, paths []string) (map[string]*analysis.DocumentAnalysis, int, error) {
	docs := make(map[string]*analysis.DocumentAnalysis, len(paths))

	if !o.config.EnableParallel || len(paths) <= 1 {
		for _, path := range paths {
			doc, err := o.analyzeOne(ctx, path)
			if err != nil {
				return nil, 0, err
			}
			docs[path] = doc
		}
		return docs, 0, nil
	}

	items := make([]concurrency.BatchItem, 0, len(paths))
	for _, path := range paths {
		path := path
		items = append(items, concurrency.BatchItem{
			Key: path,
			Work: func(ctx context.Context) (any, error) {
				return o.analyzeOne(ctx, path)
			},
		})
	}
	results := o.pool.ProcessBatch(ctx, items)
	for path, res := range results {
		if res.Err != nil {
			return nil, len(items), res.Err
		}
		docs[path] = res.Value.(*analysis.DocumentAnalysis)
	}
	return docs, len(items), nil
}

// analyzeOne routes a single analysis through the circuit breaker so a
// persistently failing analyzer stops being hammered.
func (o *Orchestrator) analyzeOne(ctx context.Context, path string) (*analysis.DocumentAnalysis, error) {
	value, err := o.breaker.Execute(func() (any, error) {
		return o.analyzer.Analyze(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return value.(*analysis.DocumentAnalysis), nil
}

// ProcessCrossDomainAnalysis correlates concepts across the domains spanned
// by the given files. The result is keyed by the sorted path list, so call
// order does not fragment the cache.
func (o *Orchestrator) ProcessCrossDomainAnalysis(ctx context.Context, paths []string) *OperationResult {
	start := o.now()
	requestID := uuid.NewString()
	metrics := OperationMetrics{OptimizationsApplied: []string{}}

	key := o.crossCache.Key(paths)
	if result, ok := o.crossCache.Get(key); ok {
		metrics.CacheHit = true
		metrics.TotalTime = o.now().Sub(start)
		if o.collector != nil {
			o.collector.RecordCacheLookup("crossdomain", true)
		}
		return o.succeed(OpCrossDomainAnalysis, requestID, metrics.TotalTime, metrics, result)
	}
	if o.collector != nil {
		o.collector.RecordCacheLookup("crossdomain", false)
	}

	docs, semMetrics, err := o.analyzeFiles(ctx, paths)
	if err != nil {
		metrics.TotalTime = o.now().Sub(start)
		return o.fail(OpCrossDomainAnalysis, requestID, metrics.TotalTime, metrics, err)
	}
	metrics.ParallelTasks = semMetrics.ParallelTasks
	metrics.OptimizationsApplied = semMetrics.OptimizationsApplied

	ordered := make([]*analysis.DocumentAnalysis, 0, len(paths))
	for _, path := range paths {
		if doc, ok := docs[path]; ok {
			ordered = append(ordered, doc)
		}
	}
	mappings, err := o.correlator.Correlate(ctx, ordered)
	if err != nil {
		metrics.TotalTime = o.now().Sub(start)
		return o.fail(OpCrossDomainAnalysis, requestID, metrics.TotalTime, metrics, err)
	}

	result := &analysis.CrossDomainResult{
		Paths:      append([]string(nil), paths...),
		Mappings:   mappings,
		ComputedAt: o.now(),
	}
	o.crossCache.Set(key, result)

	metrics.TotalTime = o.now().Sub(start)
	return o.succeed(OpCrossDomainAnalysis, requestID, metrics.TotalTime, metrics, result)
}

// ProcessHolisticUpdate applies a multi-domain file write under snapshot
// protection. Parallel processing is a hard precondition: without it the
// post-update re-analysis fan-out cannot run, so the request is rejected
// before any snapshot or write happens. Updates touching the same domain are
// serialized; disjoint domains proceed concurrently.
func (o *Orchestrator) ProcessHolisticUpdate(ctx context.Context, req HolisticUpdateRequest) *OperationResult {
	start := o.now()
	requestID := uuid.NewString()
	metrics := OperationMetrics{OptimizationsApplied: []string{}}

	if !o.config.EnableParallel {
		err := errors.Precondition("PARALLEL_PROCESSING_REQUIRED",
			"holistic updates require parallel processing to be enabled").
			WithOperation(OpHolisticUpdate).
			Build()
		metrics.TotalTime = o.now().Sub(start)
		return o.fail(OpHolisticUpdate, requestID, metrics.TotalTime, metrics, err)
	}
	if len(req.Operations) == 0 {
		err := errors.Validation("EMPTY_UPDATE", "holistic update has no operations").
			WithOperation(OpHolisticUpdate).
			Build()
		metrics.TotalTime = o.now().Sub(start)
		return o.fail(OpHolisticUpdate, requestID, metrics.TotalTime, metrics, err)
	}

	updateID := req.UpdateID
	if updateID == "" {
		updateID = uuid.NewString()
	}

	paths := make([]string, 0, len(req.Operations))
	for _, op := range req.Operations {
		paths = append(paths, op.TargetPath)
	}
	domains := analysis.DomainsForPaths(o.basePath, paths)

	unlock := o.lockDomains(domains)
	defer unlock()

	snapshot, err := o.rollbackMgr.CreateHolisticSnapshot(ctx, updateID, o.basePath, domains, req.Operations)
	if err != nil {
		// No snapshot means no safety net: refuse to write anything.
		metrics.TotalTime = o.now().Sub(start)
		return o.fail(OpHolisticUpdate, requestID, metrics.TotalTime, metrics, err)
	}
	rollbackInfo := &RollbackInfo{
		RollbackID:      updateID,
		SnapshotSaved:   true,
		RollbackCapable: true,
	}

	if err := o.executor.Execute(ctx, req.Operations); err != nil {
		errs := []string{err.Error()}
		if !o.rollbackMgr.ExecuteHolisticRollback(ctx, updateID) {
			errs = append(errs, fmt.Sprintf("Rollback failed: rollback execution for update %s did not complete", updateID))
			rollbackInfo.RollbackCapable = false
		}
		metrics.TotalTime = o.now().Sub(start)
		result := o.fail(OpHolisticUpdate, requestID, metrics.TotalTime, metrics, err)
		result.Errors = errs
		result.Rollback = rollbackInfo
		return result
	}

	if err := o.rollbackMgr.MarkCompleted(updateID); err != nil {
		o.logger.Warn("Failed to mark rollback record completed",
			zap.String("updateId", updateID),
			zap.Error(err),
		)
	}

	reanalyzed := o.refreshCaches(ctx, req.Operations)
	metrics.ParallelTasks = reanalyzed

	elapsed := o.now().Sub(start)
	metrics.TotalTime = elapsed
	if o.config.PerformanceTimeout > 0 && elapsed > o.config.PerformanceTimeout {
		// Soft deadline: the work is already done, so warn instead of undoing it.
		warning := fmt.Sprintf("holistic update %s exceeded performance timeout: %v > %v",
			updateID, elapsed, o.config.PerformanceTimeout)
		o.logger.Warn("Performance timeout exceeded",
			zap.String("updateId", updateID),
			zap.Duration("elapsed", elapsed),
			zap.Duration("timeout", o.config.PerformanceTimeout),
		)
		if o.bus != nil {
			o.bus.Publish(events.OrchestratorAlert{
				Warnings:  []string{warning},
				Timestamp: o.now(),
			})
		}
	}

	result := o.succeed(OpHolisticUpdate, requestID, elapsed, metrics, &HolisticUpdateResult{
		UpdateID:          updateID,
		AffectedDomains:   snapshot.AffectedDomains,
		OperationsApplied: len(req.Operations),
		ReanalyzedFiles:   reanalyzed,
	})
	result.Rollback = rollbackInfo
	return result
}

// refreshCaches drops stale cached results for every written path and warms
// the semantic cache for surviving files through the worker pool. Returns the
// number of files re-analyzed.
func (o *Orchestrator) refreshCaches(ctx context.Context, ops []fileops.Operation) int {
	var surviving []string
	for _, op := range ops {
		o.semanticCache.InvalidateFile(op.TargetPath)
		o.crossCache.InvalidateFile(op.TargetPath)
		if op.Type != fileops.OpDelete {
			surviving = append(surviving, op.TargetPath)
		}
	}
	if len(surviving) == 0 {
		return 0
	}
	if _, _, err := o.analyzeFiles(ctx, surviving); err != nil {
		// Warming is best effort; the next read pays the analysis cost.
		o.logger.Warn("Post-update cache refresh failed", zap.Error(err))
		return 0
	}
	return len(surviving)
}

// lockDomains acquires the per-domain mutexes in sorted order to avoid
// deadlock between overlapping updates. The returned func releases them in
// reverse order.
func (o *Orchestrator) lockDomains(domains []string) func() {
	sorted := append([]string(nil), domains...)
	sort.Strings(sorted)

	locks := make([]*sync.Mutex, 0, len(sorted))
	for _, domain := range sorted {
		o.domainMu.Lock()
		lock, ok := o.domainLocks[domain]
		if !ok {
			lock = &sync.Mutex{}
			o.domainLocks[domain] = lock
		}
		o.domainMu.Unlock()
		lock.Lock()
		locks = append(locks, lock)
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// succeed finalizes a successful envelope and records tracking state.
func (o *Orchestrator) succeed(operation, requestID string, elapsed time.Duration, metrics OperationMetrics, payload any) *OperationResult {
	metrics.MemoryUsed = o.cacheMemory()
	o.tracker.record(elapsed, false, metrics.CacheHit)
	if o.collector != nil {
		o.collector.RecordOperation(operation, "success", elapsed)
		o.recordGauges()
	}
	return &OperationResult{
		RequestID: requestID,
		Success:   true,
		Result:    payload,
		Metrics:   metrics,
	}
}

// fail converts an internal error into a failure envelope. Errors never
// propagate past this boundary.
func (o *Orchestrator) fail(operation, requestID string, elapsed time.Duration, metrics OperationMetrics, err error) *OperationResult {
	metrics.MemoryUsed = o.cacheMemory()
	o.tracker.record(elapsed, true, false)
	if o.collector != nil {
		o.collector.RecordOperation(operation, "error", elapsed)
		o.recordGauges()
	}
	o.logger.Error("Operation failed",
		zap.String("operation", operation),
		zap.String("requestId", requestID),
		zap.Error(err),
	)
	return &OperationResult{
		RequestID: requestID,
		Success:   false,
		Error:     err.Error(),
		Metrics:   metrics,
	}
}

// recordGauges refreshes the point-in-time resource gauges after each
// operation so scrapes track the values the health check alerts on.
func (o *Orchestrator) recordGauges() {
	o.collector.RecordQueueDepth(o.pool.QueueDepth())
	o.collector.RecordCacheMemory("semantic", o.semanticCache.Engine().GetMetrics().TotalSize)
	o.collector.RecordCacheMemory("crossdomain", o.crossCache.Engine().GetMetrics().TotalSize)
}

func (o *Orchestrator) cacheMemory() int64 {
	return o.semanticCache.Engine().GetMetrics().TotalSize +
		o.crossCache.Engine().GetMetrics().TotalSize
}
