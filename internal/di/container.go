// Package di wires the application together: configuration, logging, caches,
// worker pool, rollback storage, orchestrator, and the MCP and HTTP surfaces.
// Dependencies are constructed explicitly in order and torn down in reverse.
package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"contextgw-backend/internal/analysis"
	"contextgw-backend/internal/config"
	"contextgw-backend/internal/infrastructure/cache"
	"contextgw-backend/internal/infrastructure/concurrency"
	"contextgw-backend/internal/infrastructure/events"
	"contextgw-backend/internal/infrastructure/fileops"
	"contextgw-backend/internal/infrastructure/observability"
	httpiface "contextgw-backend/internal/interfaces/http"
	mcpiface "contextgw-backend/internal/interfaces/mcp"
	"contextgw-backend/internal/orchestration"
	"contextgw-backend/internal/rollback"
)

const (
	metricsNamespace = "contextgw"
	// rollbackCleanupInterval is how often completed records are purged.
	rollbackCleanupInterval = time.Hour
)

// Container owns the application's object graph and lifecycle.
type Container struct {
	Config        *config.Config
	Logger        *zap.Logger
	Bus           *events.Bus
	Collector     *observability.Collector
	SemanticCache *cache.SemanticAnalysisCache
	CrossCache    *cache.CrossDomainCache
	Pool          *concurrency.WorkerPool
	Executor      *fileops.Executor
	RollbackMgr   *rollback.Manager
	Orchestrator  *orchestration.Orchestrator
	Router        *chi.Mux
	MCPServer     *mcpserver.MCPServer
	ConfigWatcher *config.ConfigWatcher

	shutdownFunctions []func() error
	cleanupStop       chan struct{}
}

// NewContainer creates and initializes the container.
func NewContainer() (*Container, error) {
	c := &Container{
		shutdownFunctions: make([]func() error, 0),
		cleanupStop:       make(chan struct{}),
	}
	if err := c.initialize(); err != nil {
		c.Shutdown()
		return nil, fmt.Errorf("failed to initialize container: %w", err)
	}
	return c, nil
}

// initialize sets up all dependencies in the correct order.
func (c *Container) initialize() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	c.Config = cfg

	if err := c.initializeLogger(); err != nil {
		return err
	}

	c.Bus = events.NewBus(c.Logger)
	c.Collector = observability.NewCollector(metricsNamespace)
	observability.BindEventBus(c.Collector, c.Bus)

	c.initializeCaches()

	if err := c.initializeRollback(); err != nil {
		return err
	}

	if err := c.initializeOrchestrator(); err != nil {
		return err
	}

	if err := c.initializeConfigWatcher(); err != nil {
		return err
	}

	c.Router = httpiface.NewRouter(httpiface.RouterDeps{
		Orchestrator: c.Orchestrator,
		RollbackMgr:  c.RollbackMgr,
		Collector:    c.Collector,
		Logger:       c.Logger,
	})
	c.MCPServer = mcpiface.NewServer(c.Orchestrator, c.RollbackMgr)

	c.Logger.Info("Container initialized",
		zap.String("environment", string(c.Config.Environment)),
		zap.String("basePath", c.Config.BasePath),
	)
	return nil
}

func (c *Container) initializeLogger() error {
	var (
		logger *zap.Logger
		err    error
	)
	if c.Config.Environment == config.Production {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	c.Logger = logger
	c.addShutdown(func() error {
		// Sync errors on stderr sinks are expected and ignorable.
		_ = logger.Sync()
		return nil
	})
	return nil
}

func (c *Container) initializeCaches() {
	sem := c.Config.Cache.Semantic
	c.SemanticCache = cache.NewSemanticAnalysisCache(
		sem.MaxEntries, sem.MaxSizeBytes, sem.TTL, c.Bus, c.Logger)
	c.SemanticCache.Engine().StartCleanup(sem.CleanupInterval)
	c.addShutdown(func() error {
		c.SemanticCache.Engine().Stop()
		return nil
	})

	cross := c.Config.Cache.CrossDomain
	c.CrossCache = cache.NewCrossDomainCache(
		cross.MaxEntries, cross.MaxSizeBytes, cross.TTL, c.Bus, c.Logger)
	c.CrossCache.Engine().StartCleanup(cross.CleanupInterval)
	c.addShutdown(func() error {
		c.CrossCache.Engine().Stop()
		return nil
	})
}

func (c *Container) initializeRollback() error {
	c.Executor = fileops.NewExecutor(c.Logger)

	mgr, err := rollback.NewManager(rollback.Config{
		StateDir:    c.resolvePath(c.Config.Rollback.StateDir),
		SnapshotDir: c.resolvePath(c.Config.Rollback.SnapshotDir),
		MaxAge:      c.Config.Rollback.MaxAge,
		MaxRecords:  c.Config.Rollback.MaxRecords,
	}, c.Executor, c.Bus, c.Logger)
	if err != nil {
		return err
	}
	c.RollbackMgr = mgr

	go c.runRollbackCleanup()
	c.addShutdown(func() error {
		close(c.cleanupStop)
		return nil
	})
	return nil
}

func (c *Container) initializeOrchestrator() error {
	orchCfg := c.Config.Orchestrator
	c.Pool = concurrency.NewWorkerPool(context.Background(), concurrency.PoolConfig{
		MaxWorkers: orchCfg.MaxWorkers,
		QueueSize:  orchCfg.QueueSize,
	}, c.Logger)

	c.Orchestrator = orchestration.New(orchCfg, c.Config.BasePath, orchestration.Deps{
		SemanticCache: c.SemanticCache,
		CrossCache:    c.CrossCache,
		Analyzer:      analysis.NewDocumentAnalyzer(c.Config.BasePath),
		Correlator:    analysis.NewConceptCorrelator(),
		Optimizer:     analysis.NewResultOptimizer(100, 50),
		Pool:          c.Pool,
		RollbackMgr:   c.RollbackMgr,
		Executor:      c.Executor,
		Bus:           c.Bus,
		Collector:     c.Collector,
		Logger:        c.Logger,
	})
	if err := c.Orchestrator.Start(); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	c.addShutdown(func() error {
		c.Orchestrator.Stop()
		return nil
	})
	return nil
}

// initializeConfigWatcher hot-reloads configuration in development. Only the
// alert thresholds apply live; everything else needs a restart.
func (c *Container) initializeConfigWatcher() error {
	watcher, err := config.NewConfigWatcher(c.Config, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	watcher.OnChange(func(cfg *config.Config) {
		c.Orchestrator.UpdateAlertThresholds(cfg.Orchestrator)
		c.Logger.Info("Alert thresholds updated; other settings apply on restart")
	})
	c.ConfigWatcher = watcher
	c.addShutdown(func() error {
		watcher.Stop()
		return nil
	})
	return nil
}

// runRollbackCleanup purges completed rollback records on a timer.
func (c *Container) runRollbackCleanup() {
	ticker := time.NewTicker(rollbackCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := c.RollbackMgr.CleanupOldRecords(); err != nil {
				c.Logger.Warn("Rollback cleanup failed", zap.Error(err))
			}
		case <-c.cleanupStop:
			return
		}
	}
}

// resolvePath anchors relative storage paths at the configured base path.
func (c *Container) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Config.BasePath, path)
}

func (c *Container) addShutdown(fn func() error) {
	c.shutdownFunctions = append(c.shutdownFunctions, fn)
}

// Shutdown tears the container down in reverse initialization order. Safe to
// call on a partially initialized container.
func (c *Container) Shutdown() {
	for i := len(c.shutdownFunctions) - 1; i >= 0; i-- {
		if err := c.shutdownFunctions[i](); err != nil && c.Logger != nil {
			c.Logger.Warn("Shutdown step failed", zap.Error(err))
		}
	}
	c.shutdownFunctions = nil
}
