// Package pool provides a small, generic worker pool for running batches of
// asynchronous work with a fixed upper bound on concurrency.
//
// The primary type is WorkerPool[T, R], a configurable pool of workers
// which process tasks of type T and return results of type R. The pool
// supports context-aware processing, panic recovery, retry logic with
// exponential backoff, rate limiting, and configurable worker and buffer
// sizes via functional options.
//
// # Basic Usage
//
//	ctx := context.Background()
//	tasks := []int{1, 2, 3, 4}
//	pool := NewWorkerPool[int, int](WithWorkerCount(4))
//	results, err := pool.Process(ctx, tasks, func(ctx context.Context, t int) (int, error) {
//	    return t * 2, nil
//	})
//
// # Processing Modes
//
//   - Process: Processes a slice of tasks and returns results in the same order
//   - ProcessMap: Processes a map of tasks and returns a map of results with matching keys
//
// Process guarantees that results[i] is the outcome of tasks[i] no matter
// which worker produced it or in what order workers finished. At most
// min(workerCount, len(tasks)) tasks are in flight at any moment.
//
// # Error Semantics
//
// If any task function returns an error the whole batch is cancelled and
// Process returns that error. Callers that need per-item failure isolation
// must catch inside the task function and encode the failure in R; see the
// conncheck package for an example of that pattern.
//
// # Retry Logic
//
// Tasks can be automatically retried with exponential backoff on failure:
//
//	pool := NewWorkerPool[string, string](
//	    WithWorkerCount(4),
//	    WithRetryPolicy(3, 100*time.Millisecond), // 3 attempts, 100ms initial delay
//	)
//
// Retry delays increase exponentially: 100ms, 200ms, 400ms, etc.
//
// # Rate Limiting
//
// Throughput against an external API can be capped:
//
//	pool := NewWorkerPool[string, string](
//	    WithWorkerCount(8),
//	    WithRateLimit(10, 5), // 10 tasks/sec, burst of 5
//	)
package pool
