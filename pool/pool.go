package pool

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/provrun/provrun/internal/backoff"
)

// WorkerPool is a generic, bounded-concurrency pool for batch processing.
// It runs a collection of tasks through a caller-supplied function with a
// fixed upper bound on how many run at once, while keeping results aligned
// with the input positions.
//
// Type parameters:
//   - T: The input task type
//   - R: The result type
type WorkerPool[T any, R any] struct {
	workerCount     int
	taskBuffer      int
	maxAttempts     int
	retrySchedule   backoff.Schedule
	rateLimiter     *rate.Limiter
	continueOnError bool

	beforeTaskStart func(T)
	onTaskEnd       func(T, R, error)
	onRetry         func(T, int, error)
}

// NewWorkerPool creates a new worker pool with the given options.
// Default configuration: workers = GOMAXPROCS, buffer = worker count.
func NewWorkerPool[T any, R any](opts ...WorkerPoolOption) *WorkerPool[T, R] {
	cfg := &workerPoolConfig{
		workerCount:  runtime.GOMAXPROCS(0),
		taskBuffer:   0, // Will be set to workerCount if not specified
		maxAttempts:  1,
		initialDelay: 0,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.taskBuffer == 0 {
		cfg.taskBuffer = cfg.workerCount
	}

	var zeroT T
	var zeroR R
	expectedTaskType := fmt.Sprintf("%T", zeroT)
	expectedResultType := fmt.Sprintf("%T", zeroR)

	beforeTaskStart, onTaskEnd, onRetry := checkfuncs[T, R](cfg, expectedTaskType, expectedResultType)

	return &WorkerPool[T, R]{
		workerCount:     max(1, cfg.workerCount),
		taskBuffer:      cfg.taskBuffer,
		maxAttempts:     cfg.maxAttempts,
		retrySchedule:   backoff.Exponential{Initial: cfg.initialDelay},
		rateLimiter:     cfg.rateLimiter,
		beforeTaskStart: beforeTaskStart,
		onTaskEnd:       onTaskEnd,
		onRetry:         onRetry,
		continueOnError: cfg.continueOnError,
	}
}

// Process executes tasks concurrently using a pool of workers.
//
// The returned slice has the same length as tasks and results[i] is always
// the outcome of processFn(ctx, tasks[i]), regardless of which worker ran it
// or in what order workers finished. At most min(workerCount, len(tasks))
// invocations of processFn are in flight at any moment.
//
// If any worker returns an error, all workers are cancelled and the error is
// returned; the result slice may be partially filled. Callers needing
// per-item failure isolation must catch inside processFn and encode the
// failure in R instead of returning an error.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - tasks: Slice of tasks to process
//   - processFn: Function to process each task
//
// Returns:
//   - results: Slice of all results (may be partial if errors occurred)
//   - error: First error encountered, if any
func (wp *WorkerPool[T, R]) Process(
	ctx context.Context,
	tasks []T,
	processFn ProcessFunc[T, R],
) ([]R, error) {
	if len(tasks) == 0 {
		return []R{}, nil
	}

	g, ctx := errgroup.WithContext(ctx)

	taskChan := make(chan indexedTask[T], wp.taskBuffer)
	resultChan := make(chan Result[R], len(tasks))

	numWorkers := min(wp.workerCount, len(tasks))
	for i := 0; i < numWorkers; i++ {
		g.Go(func() error {
			return wp.worker(ctx, taskChan, resultChan, processFn)
		})
	}

	g.Go(func() error {
		defer close(taskChan)
		for idx, task := range tasks {
			select {
			case taskChan <- indexedTask[T]{index: idx, task: task}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	// Collect results asynchronously
	results := make([]R, len(tasks))
	var collectionErr error
	var collectionWg sync.WaitGroup
	collectionWg.Add(1)

	go func() {
		defer collectionWg.Done()
		for result := range resultChan {
			if result.Error != nil {
				collectionErr = result.Error
				continue
			}
			if result.Index >= 0 && result.Index < len(results) {
				results[result.Index] = result.Value
			}
		}
	}()

	// Wait for all workers to complete
	if err := g.Wait(); err != nil {
		close(resultChan)
		collectionWg.Wait()
		return results, err
	}

	// Close result channel and wait for collection to complete
	close(resultChan)
	collectionWg.Wait()

	if collectionErr != nil {
		return results, collectionErr
	}

	return results, nil
}

// ProcessMap is similar to Process but works with map inputs instead of slices.
// Useful when tasks are naturally represented as a map, such as account ids
// mapped to backend task ids.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - tasks: Map of tasks to process
//   - processFn: Function to process each task
//
// Returns:
//   - results: Map of results with the same keys as input tasks
//   - error: First error encountered, if any
func (wp *WorkerPool[T, R]) ProcessMap(
	ctx context.Context,
	tasks map[string]T,
	processFn ProcessFunc[T, R],
) (map[string]R, error) {
	if len(tasks) == 0 {
		return map[string]R{}, nil
	}

	type keyedTask struct {
		task T
		key  string
	}

	type keyedResult struct {
		value R
		err   error
		key   string
	}

	g, ctx := errgroup.WithContext(ctx)

	taskChan := make(chan keyedTask, wp.taskBuffer)
	resultChan := make(chan keyedResult, len(tasks))

	numWorkers := min(wp.workerCount, len(tasks))
	for i := 0; i < numWorkers; i++ {
		g.Go(func() error {
			for {
				select {
				case task, ok := <-taskChan:
					if !ok {
						return nil
					}
					if wp.rateLimiter != nil {
						if err := wp.rateLimiter.Wait(ctx); err != nil {
							return err
						}
					}
					if wp.beforeTaskStart != nil {
						wp.beforeTaskStart(task.task)
					}
					result, err := wp.processWithRecovery(ctx, task.task, processFn)
					if wp.onTaskEnd != nil {
						wp.onTaskEnd(task.task, result, err)
					}
					select {
					case resultChan <- keyedResult{key: task.key, value: result, err: err}:
					case <-ctx.Done():
						return ctx.Err()
					}
					if err != nil && !wp.continueOnError {
						return err // Stop on first error
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
	}

	// Send tasks asynchronously
	g.Go(func() error {
		defer close(taskChan)
		for key, task := range tasks {
			select {
			case taskChan <- keyedTask{key: key, task: task}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	// Collect results asynchronously
	results := make(map[string]R, len(tasks))
	var collectionErr error
	var collectionWg sync.WaitGroup
	collectionWg.Add(1)

	go func() {
		defer collectionWg.Done()
		for result := range resultChan {
			if result.err != nil {
				collectionErr = result.err
				continue
			}
			results[result.key] = result.value
		}
	}()

	// Wait for all workers to complete
	if err := g.Wait(); err != nil {
		close(resultChan)
		collectionWg.Wait()
		return results, err
	}

	// Close result channel and wait for collection to complete
	close(resultChan)
	collectionWg.Wait()

	if collectionErr != nil {
		return results, collectionErr
	}

	return results, nil
}

// Run is a convenience wrapper for one-off batches: it builds a pool bounded
// at limit workers and processes tasks with fn, preserving input order.
// Non-positive limits are normalized to 1.
func Run[T any, R any](
	ctx context.Context,
	tasks []T,
	limit int,
	fn ProcessFunc[T, R],
) ([]R, error) {
	wp := NewWorkerPool[T, R](WithWorkerCount(limit))
	return wp.Process(ctx, tasks, fn)
}
