package orchestration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextgw-backend/internal/analysis"
	"contextgw-backend/internal/config"
	"contextgw-backend/internal/infrastructure/cache"
	"contextgw-backend/internal/infrastructure/concurrency"
	"contextgw-backend/internal/infrastructure/events"
	"contextgw-backend/internal/infrastructure/fileops"
	"contextgw-backend/internal/infrastructure/observability"
	"contextgw-backend/internal/rollback"
)

type testEnv struct {
	orch      *Orchestrator
	basePath  string
	bus       *events.Bus
	rollback  *rollback.Manager
	collector *observability.Collector
}

func newTestEnv(t *testing.T, parallel bool) *testEnv {
	t.Helper()
	root := t.TempDir()
	basePath := filepath.Join(root, "docs")
	require.NoError(t, os.MkdirAll(basePath, 0o755))

	bus := events.NewBus(nil)
	executor := fileops.NewExecutor(nil)
	mgr, err := rollback.NewManager(rollback.Config{
		StateDir:    filepath.Join(root, "state"),
		SnapshotDir: filepath.Join(root, "snapshots"),
		MaxAge:      168 * time.Hour,
		MaxRecords:  50,
	}, executor, bus, nil)
	require.NoError(t, err)

	cfg := config.OrchestratorConfig{
		EnableParallel:     parallel,
		MaxWorkers:         4,
		QueueSize:          64,
		PerformanceTimeout: time.Minute,
		MaxAvgResponseTime: 5 * time.Second,
		MaxMemoryBytes:     100 * 1024 * 1024,
		MaxQueueDepth:      50,
		HistorySize:        100,
	}

	pool := concurrency.NewWorkerPool(context.Background(), concurrency.PoolConfig{
		MaxWorkers: cfg.MaxWorkers,
		QueueSize:  cfg.QueueSize,
	}, nil)

	collector := observability.NewCollector("test")
	orch := New(cfg, basePath, Deps{
		SemanticCache: cache.NewSemanticAnalysisCache(100, 1<<20, time.Minute, bus, nil),
		CrossCache:    cache.NewCrossDomainCache(100, 1<<20, time.Minute, bus, nil),
		Analyzer:      analysis.NewDocumentAnalyzer(basePath),
		Correlator:    analysis.NewConceptCorrelator(),
		Optimizer:     analysis.NewResultOptimizer(50, 50),
		Pool:          pool,
		RollbackMgr:   mgr,
		Executor:      executor,
		Bus:           bus,
		Collector:     collector,
	})
	require.NoError(t, orch.Start())
	t.Cleanup(orch.Stop)

	return &testEnv{orch: orch, basePath: basePath, bus: bus, rollback: mgr, collector: collector}
}

func (e *testEnv) writeDoc(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(e.basePath, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProcessSemanticAnalysis_ComputesAndCaches(t *testing.T) {
	env := newTestEnv(t, true)
	a := env.writeDoc(t, "Analysis/a.md", "# Alpha\n\nUses **caching** and `invalidation`.")
	b := env.writeDoc(t, "Analysis/b.md", "# Beta\n\nAlso about **caching**.")
	c := env.writeDoc(t, "Design/c.md", "# Gamma\n\nCovers **layout**.")
	paths := []string{a, b, c}

	first := env.orch.ProcessSemanticAnalysis(context.Background(), paths)
	require.True(t, first.Success, first.Error)
	assert.False(t, first.Metrics.CacheHit)
	assert.Equal(t, 3, first.Metrics.ParallelTasks)

	docs := first.Result.(map[string]*analysis.DocumentAnalysis)
	require.Len(t, docs, 3)
	assert.Equal(t, "Analysis", docs[a].Domain)
	assert.Contains(t, docs[a].Concepts, "caching")

	// All three previously cached: full hit, no compute dispatched.
	second := env.orch.ProcessSemanticAnalysis(context.Background(), paths)
	require.True(t, second.Success)
	assert.True(t, second.Metrics.CacheHit)
	assert.Equal(t, 0, second.Metrics.ParallelTasks)
}

func TestProcessSemanticAnalysis_SequentialWhenDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.writeDoc(t, "Analysis/a.md", "# A\n\n**one**")
	b := env.writeDoc(t, "Analysis/b.md", "# B\n\n**two**")

	result := env.orch.ProcessSemanticAnalysis(context.Background(), []string{a, b})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 0, result.Metrics.ParallelTasks)
}

type panickingAnalyzer struct {
	inner analysis.SemanticAnalyzer
	trip  string
}

func (p panickingAnalyzer) Analyze(ctx context.Context, path string) (*analysis.DocumentAnalysis, error) {
	if filepath.Base(path) == p.trip {
		panic("analyzer blew up")
	}
	return p.inner.Analyze(ctx, path)
}

func TestProcessSemanticAnalysis_PanickingAnalysisFailsEnvelope(t *testing.T) {
	env := newTestEnv(t, true)
	a := env.writeDoc(t, "Analysis/a.md", "# A\n\n**one**")
	b := env.writeDoc(t, "Analysis/b.md", "# B\n\n**two**")
	env.orch.analyzer = panickingAnalyzer{inner: env.orch.analyzer, trip: "b.md"}

	result := env.orch.ProcessSemanticAnalysis(context.Background(), []string{a, b})
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "panicked")
}

func TestProcessSemanticAnalysis_MissingFileFailsAsEnvelope(t *testing.T) {
	env := newTestEnv(t, true)

	result := env.orch.ProcessSemanticAnalysis(context.Background(),
		[]string{filepath.Join(env.basePath, "Analysis", "missing.md")})
	require.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.NotEmpty(t, result.RequestID)

	report := env.orch.GetPerformanceReport()
	assert.Equal(t, int64(1), report.FailedRequests)
}

func TestProcessCrossDomainAnalysis_CorrelatesAndCaches(t *testing.T) {
	env := newTestEnv(t, true)
	a := env.writeDoc(t, "Analysis/a.md", "# A\n\nShares **indexing** and **storage**.")
	b := env.writeDoc(t, "Design/b.md", "# B\n\nAlso **indexing** plus **storage**.")
	paths := []string{a, b}

	first := env.orch.ProcessCrossDomainAnalysis(context.Background(), paths)
	require.True(t, first.Success, first.Error)
	assert.False(t, first.Metrics.CacheHit)

	result := first.Result.(*analysis.CrossDomainResult)
	require.NotEmpty(t, result.Mappings)
	assert.Contains(t, result.Mappings[0].SharedConcepts, "indexing")

	// Order must not fragment the cache key.
	second := env.orch.ProcessCrossDomainAnalysis(context.Background(), []string{b, a})
	require.True(t, second.Success)
	assert.True(t, second.Metrics.CacheHit)
}

func TestProcessHolisticUpdate_AppliesAndMarksCompleted(t *testing.T) {
	env := newTestEnv(t, true)
	existing := env.writeDoc(t, "Analysis/a.md", "# Old\n\n**old**")

	req := HolisticUpdateRequest{
		UpdateID: "upd-ok",
		Operations: []fileops.Operation{
			{Type: fileops.OpUpdate, TargetPath: existing, Content: []byte("# New\n\n**new**")},
			{Type: fileops.OpCreate, TargetPath: filepath.Join(env.basePath, "Design", "d.md"), Content: []byte("# D\n\n**design**")},
		},
	}
	result := env.orch.ProcessHolisticUpdate(context.Background(), req)
	require.True(t, result.Success, result.Error)

	payload := result.Result.(*HolisticUpdateResult)
	assert.Equal(t, "upd-ok", payload.UpdateID)
	assert.ElementsMatch(t, []string{"Analysis", "Design"}, payload.AffectedDomains)
	assert.Equal(t, 2, payload.OperationsApplied)

	require.NotNil(t, result.Rollback)
	assert.True(t, result.Rollback.SnapshotSaved)
	assert.True(t, result.Rollback.RollbackCapable)

	content, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "# New\n\n**new**", string(content))

	state, err := env.rollback.LoadState("upd-ok")
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusCompleted, state.Status)
}

func TestProcessHolisticUpdate_FailureRollsBack(t *testing.T) {
	env := newTestEnv(t, true)
	a := env.writeDoc(t, "Analysis/a.md", "A")
	blocker := env.writeDoc(t, "Analysis/blocker.md", "present")

	req := HolisticUpdateRequest{
		UpdateID: "upd-bad",
		Operations: []fileops.Operation{
			{Type: fileops.OpUpdate, TargetPath: a, Content: []byte("changed")},
			// create over an existing file fails the batch
			{Type: fileops.OpCreate, TargetPath: blocker, Content: []byte("x")},
		},
	}
	result := env.orch.ProcessHolisticUpdate(context.Background(), req)
	require.False(t, result.Success)
	assert.NotEmpty(t, result.Errors)
	require.NotNil(t, result.Rollback)
	assert.True(t, result.Rollback.RollbackCapable)

	content, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "A", string(content))

	state, err := env.rollback.LoadState("upd-bad")
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusRolledBack, state.Status)
}

// With parallel processing off, the update is rejected up front and no
// snapshot or state artifacts appear on disk.
func TestProcessHolisticUpdate_RequiresParallel(t *testing.T) {
	env := newTestEnv(t, false)

	result := env.orch.ProcessHolisticUpdate(context.Background(), HolisticUpdateRequest{
		UpdateID: "upd-seq",
		Operations: []fileops.Operation{
			{Type: fileops.OpCreate, TargetPath: filepath.Join(env.basePath, "Analysis", "x.md"), Content: []byte("x")},
		},
	})
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "parallel processing")

	_, err := env.rollback.LoadState("upd-seq")
	assert.Error(t, err)
}

func TestProcessHolisticUpdate_EmptyRequest(t *testing.T) {
	env := newTestEnv(t, true)

	result := env.orch.ProcessHolisticUpdate(context.Background(), HolisticUpdateRequest{})
	require.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestProcessHolisticUpdate_InvalidatesStaleCache(t *testing.T) {
	env := newTestEnv(t, true)
	a := env.writeDoc(t, "Analysis/a.md", "# Old\n\n**stale**")

	warm := env.orch.ProcessSemanticAnalysis(context.Background(), []string{a})
	require.True(t, warm.Success)

	update := env.orch.ProcessHolisticUpdate(context.Background(), HolisticUpdateRequest{
		Operations: []fileops.Operation{
			{Type: fileops.OpUpdate, TargetPath: a, Content: []byte("# New\n\n**fresh**")},
		},
	})
	require.True(t, update.Success, update.Error)

	after := env.orch.ProcessSemanticAnalysis(context.Background(), []string{a})
	require.True(t, after.Success)
	docs := after.Result.(map[string]*analysis.DocumentAnalysis)
	assert.Contains(t, docs[a].Concepts, "fresh")
	assert.NotContains(t, docs[a].Concepts, "stale")
}

func TestGetPerformanceReport(t *testing.T) {
	env := newTestEnv(t, true)
	a := env.writeDoc(t, "Analysis/a.md", "# A\n\n**a**")

	require.True(t, env.orch.ProcessSemanticAnalysis(context.Background(), []string{a}).Success)
	require.True(t, env.orch.ProcessSemanticAnalysis(context.Background(), []string{a}).Success)

	report := env.orch.GetPerformanceReport()
	assert.Equal(t, int64(2), report.TotalRequests)
	assert.Equal(t, int64(0), report.FailedRequests)
	assert.Equal(t, int64(1), report.CacheHits)
	assert.InDelta(t, 0.5, report.CacheHitRate, 0.001)
	assert.Equal(t, 2, report.ResponseTimes.Samples)
	assert.Positive(t, report.SemanticCache.Entries)
}

func TestOperationRefreshesResourceGauges(t *testing.T) {
	env := newTestEnv(t, true)
	a := env.writeDoc(t, "Analysis/a.md", "# A\n\n**gauge**")

	require.True(t, env.orch.ProcessSemanticAnalysis(context.Background(), []string{a}).Success)

	mem := testutil.ToFloat64(env.collector.CacheMemoryBytes.WithLabelValues("semantic"))
	assert.Positive(t, mem)
	assert.Zero(t, testutil.ToFloat64(env.collector.QueueDepth))
}

func TestHealthCheck_ThresholdBreaches(t *testing.T) {
	env := newTestEnv(t, true)
	a := env.writeDoc(t, "Analysis/a.md", "# A\n\n**a**")
	require.True(t, env.orch.ProcessSemanticAnalysis(context.Background(), []string{a}).Success)

	assert.True(t, env.orch.HealthCheck().Healthy)

	var alerts []events.OrchestratorAlert
	env.bus.Subscribe(events.EventOrchestratorAlert, func(e events.Event) {
		alerts = append(alerts, e.(events.OrchestratorAlert))
	})

	// Shrink the thresholds until the same load breaches them.
	cfg := env.orch.config
	cfg.MaxAvgResponseTime = time.Nanosecond
	cfg.MaxMemoryBytes = 1
	env.orch.UpdateAlertThresholds(cfg)

	status := env.orch.HealthCheck()
	assert.False(t, status.Healthy)
	assert.Len(t, status.Warnings, 2)
	require.Len(t, alerts, 1)
	assert.Equal(t, status.Warnings, alerts[0].Warnings)
}

func TestPercentile(t *testing.T) {
	samples := []time.Duration{
		1 * time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond,
		4 * time.Millisecond, 5 * time.Millisecond, 6 * time.Millisecond,
		7 * time.Millisecond, 8 * time.Millisecond, 9 * time.Millisecond,
		10 * time.Millisecond,
	}
	assert.Equal(t, 5*time.Millisecond, percentile(samples, 50))
	assert.Equal(t, 10*time.Millisecond, percentile(samples, 95))
	assert.Equal(t, 10*time.Millisecond, percentile(samples, 99))
	assert.Equal(t, time.Duration(0), percentile(nil, 95))
}
