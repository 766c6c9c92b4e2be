// Package concurrency provides the bounded worker pool the orchestrator uses
// for parallel analysis fan-out.
package concurrency

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"contextgw-backend/internal/errors"
)

// PoolConfig contains configuration for the worker pool.
type PoolConfig struct {
	MaxWorkers int
	QueueSize  int
}

// Task represents a unit of work to be executed.
type Task struct {
	ID       string
	Execute  func(ctx context.Context) error
	Callback func(id string, err error)
}

// WorkerPool executes tasks on a fixed set of workers with a bounded queue.
type WorkerPool struct {
	config    PoolConfig
	taskQueue chan Task
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	running   bool
	started   sync.Once // Ensures workers start only once
	logger    *zap.Logger

	tasksExecuted atomic.Int64
	tasksFailed   atomic.Int64
	workerPanics  atomic.Int64
}

// NewWorkerPool creates a worker pool. Zero config values fall back to
// CPU-based defaults.
func NewWorkerPool(ctx context.Context, config PoolConfig, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.NumCPU() * 2
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}

	poolCtx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       poolCtx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start launches the workers. Calling Start on a running pool is an error.
func (p *WorkerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.Conflict("POOL_ALREADY_RUNNING", "worker pool is already running").
			WithOperation("Start").
			WithResource("worker_pool").
			Build()
	}

	for i := 0; i < p.config.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.workerWithRecovery(i)
	}
	p.running = true
	return nil
}

// startLazy starts workers on first task submission.
func (p *WorkerPool) startLazy() {
	p.started.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.running {
			for i := 0; i < p.config.MaxWorkers; i++ {
				p.wg.Add(1)
				go p.workerWithRecovery(i)
			}
			p.running = true
		}
	})
}

// workerWithRecovery processes tasks with panic recovery. A panicking task
// marks itself failed and the worker restarts.
func (p *WorkerPool) workerWithRecovery(id int) {
	defer func() {
		if r := recover(); r != nil {
			p.workerPanics.Add(1)
			p.logger.Error("Worker recovered from panic",
				zap.Int("worker", id),
				zap.Any("panic", r),
			)

			p.mu.Lock()
			if p.running {
				p.wg.Add(1)
				go p.workerWithRecovery(id)
			}
			p.mu.Unlock()
		}
	}()

	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}

			err := p.runTask(task)

			p.tasksExecuted.Add(1)
			if err != nil {
				p.tasksFailed.Add(1)
			}

			if task.Callback != nil {
				task.Callback(task.ID, err)
			}
		}
	}
}

// runTask executes a single task, converting a panic into an error so the
// worker loop and the callback both see a normal failure.
func (p *WorkerPool) runTask(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.workerPanics.Add(1)
			err = errors.Internal("TASK_PANIC", "task panicked").
				WithOperation("runTask").
				WithResource(task.ID).
				WithDetails(panicDetail(r)).
				Build()
		}
	}()
	return task.Execute(p.ctx)
}

// Submit adds a task to the queue, blocking while the queue is full.
func (p *WorkerPool) Submit(task Task) error {
	p.startLazy()

	select {
	case <-p.ctx.Done():
		return errors.Conflict("POOL_SHUTTING_DOWN", "worker pool is shutting down").
			WithOperation("Submit").
			WithResource("worker_pool").
			WithRetryable(true).
			Build()
	default:
	}

	p.mu.RLock()
	if !p.running {
		p.mu.RUnlock()
		return errors.Conflict("POOL_NOT_RUNNING", "worker pool is not running").
			WithOperation("Submit").
			WithResource("worker_pool").
			Build()
	}
	// Keep the lock until we've submitted to prevent Stop() from closing queue
	defer p.mu.RUnlock()

	select {
	case p.taskQueue <- task:
		return nil
	case <-p.ctx.Done():
		return errors.Conflict("POOL_SHUTTING_DOWN", "worker pool is shutting down").
			WithOperation("Submit").
			WithResource("worker_pool").
			WithRetryable(true).
			Build()
	}
}

// Stop gracefully shuts down the worker pool.
func (p *WorkerPool) Stop() {
	p.mu.Lock()

	if !p.running {
		p.mu.Unlock()
		return
	}

	// Mark as not running immediately to prevent new submissions
	p.running = false
	p.cancel()
	close(p.taskQueue)

	// Unlock before waiting to avoid deadlock
	p.mu.Unlock()

	p.wg.Wait()
}

// QueueDepth returns the number of queued tasks not yet picked up.
func (p *WorkerPool) QueueDepth() int {
	return len(p.taskQueue)
}

// Stats reports current pool statistics.
type Stats struct {
	Workers       int   `json:"workers"`
	QueueDepth    int   `json:"queueDepth"`
	QueueCapacity int   `json:"queueCapacity"`
	Running       bool  `json:"running"`
	TasksExecuted int64 `json:"tasksExecuted"`
	TasksFailed   int64 `json:"tasksFailed"`
	WorkerPanics  int64 `json:"workerPanics"`
}

// GetStats returns current pool statistics.
func (p *WorkerPool) GetStats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Stats{
		Workers:       p.config.MaxWorkers,
		QueueDepth:    len(p.taskQueue),
		QueueCapacity: cap(p.taskQueue),
		Running:       p.running,
		TasksExecuted: p.tasksExecuted.Load(),
		TasksFailed:   p.tasksFailed.Load(),
		WorkerPanics:  p.workerPanics.Load(),
	}
}

func panicDetail(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "unknown panic"
}
