package concurrency

import (
	"context"
	"sync"
)

// BatchItem is one unit of a homogeneous fan-out batch.
type BatchItem struct {
	Key  string
	Work func(ctx context.Context) (any, error)
}

// BatchResult is the outcome of one batch item.
type BatchResult struct {
	Value any
	Err   error
}

// ProcessBatch fans the items out to the pool and blocks until every item
// has completed or the context is cancelled. The returned map always has one
// entry per item; a submission failure is recorded as that item's result, and
// a panicking Work func surfaces as that item's error.
func (p *WorkerPool) ProcessBatch(ctx context.Context, items []BatchItem) map[string]BatchResult {
	results := make(map[string]BatchResult, len(items))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, item := range items {
		item := item
		wg.Add(1)

		// The result is recorded in the callback, not the task body, so the
		// entry is written even when Work panics: runTask converts the panic
		// into the error the callback receives.
		var value any
		err := p.Submit(Task{
			ID: item.Key,
			Execute: func(taskCtx context.Context) error {
				// Respect the caller's context, not just the pool's.
				if err := ctx.Err(); err != nil {
					return err
				}
				v, err := item.Work(ctx)
				value = v
				return err
			},
			Callback: func(id string, err error) {
				mu.Lock()
				results[item.Key] = BatchResult{Value: value, Err: err}
				mu.Unlock()
				wg.Done()
			},
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			results[item.Key] = BatchResult{Err: err}
			mu.Unlock()
		}
	}

	wg.Wait()
	return results
}
