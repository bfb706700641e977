package pool

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// WorkerPoolOption is a functional option for configuring the worker pool.
type WorkerPoolOption func(*workerPoolConfig)

type workerPoolConfig struct {
	workerCount     int
	taskBuffer      int
	maxAttempts     int
	initialDelay    time.Duration
	rateLimiter     *rate.Limiter
	continueOnError bool

	// Hooks are stored untyped because options are shared across pool
	// instantiations with different type parameters. The recorded type
	// strings are validated against the pool's own types at construction.
	beforeTaskStart     func(any)
	beforeTaskStartType string
	onTaskEnd           func(any, any, error)
	onTaskEndTaskType   string
	onTaskEndResultType string
	onRetry             func(any, int, error)
	onRetryType         string
}

// WithWorkerCount sets the number of concurrent workers.
// Values below 1 are clamped to 1, so a pool always makes progress.
// If not specified, defaults to runtime.GOMAXPROCS(0).
func WithWorkerCount(count int) WorkerPoolOption {
	return func(cfg *workerPoolConfig) {
		cfg.workerCount = max(1, count)
	}
}

// WithTaskBuffer sets the buffer size for the task channel.
// A larger buffer can improve throughput but uses more memory.
// If not specified, defaults to the number of workers.
func WithTaskBuffer(size int) WorkerPoolOption {
	return func(cfg *workerPoolConfig) {
		if size >= 0 {
			cfg.taskBuffer = size
		}
	}
}

// WithRetryPolicy sets a retry policy for task processing.
// maxAttempts specifies the maximum number of attempts for each task.
// initialDelay specifies the delay before the first retry, subsequent retries
// will use exponential backoff. If not specified, no retries are performed.
func WithRetryPolicy(maxAttempts int, initialDelay time.Duration) WorkerPoolOption {
	return func(cfg *workerPoolConfig) {
		if maxAttempts > 0 {
			cfg.maxAttempts = maxAttempts
		}

		if initialDelay > 0 {
			cfg.initialDelay = initialDelay
		}
	}
}

// WithRateLimit sets a rate limiter for controlling task throughput.
// tasksPerSecond specifies the maximum number of tasks to process per second.
// burst specifies the maximum number of tasks that can be processed in a burst.
// This is useful for preventing overwhelming external services or APIs.
// If not specified, no rate limiting is applied.
//
// Example:
//
//	WithRateLimit(10, 5) // Allow 10 tasks/sec with burst of 5
func WithRateLimit(tasksPerSecond float64, burst int) WorkerPoolOption {
	return func(cfg *workerPoolConfig) {
		if tasksPerSecond > 0 && burst > 0 {
			cfg.rateLimiter = rate.NewLimiter(rate.Limit(tasksPerSecond), burst)
		}
	}
}

// WithContinueOnError keeps the remaining workers running after a task
// function returns an error instead of cancelling the whole batch.
// The first error encountered is still returned after all tasks finish.
func WithContinueOnError() WorkerPoolOption {
	return func(cfg *workerPoolConfig) {
		cfg.continueOnError = true
	}
}

// WithBeforeTaskStart registers a hook invoked just before each task is
// processed. The hook's task type must match the pool's task type.
func WithBeforeTaskStart[T any](fn func(T)) WorkerPoolOption {
	return func(cfg *workerPoolConfig) {
		if fn == nil {
			return
		}
		var zero T
		cfg.beforeTaskStart = func(task any) { fn(task.(T)) }
		cfg.beforeTaskStartType = fmt.Sprintf("%T", zero)
	}
}

// WithOnTaskEnd registers a hook invoked after each task finishes, with the
// task, its result and the processing error (nil on success).
func WithOnTaskEnd[T any, R any](fn func(T, R, error)) WorkerPoolOption {
	return func(cfg *workerPoolConfig) {
		if fn == nil {
			return
		}
		var zeroT T
		var zeroR R
		cfg.onTaskEnd = func(task, result any, err error) { fn(task.(T), result.(R), err) }
		cfg.onTaskEndTaskType = fmt.Sprintf("%T", zeroT)
		cfg.onTaskEndResultType = fmt.Sprintf("%T", zeroR)
	}
}

// WithOnRetry registers a hook invoked before each retry attempt, with the
// task, the 1-indexed attempt number about to run, and the previous error.
func WithOnRetry[T any](fn func(T, int, error)) WorkerPoolOption {
	return func(cfg *workerPoolConfig) {
		if fn == nil {
			return
		}
		var zero T
		cfg.onRetry = func(task any, attempt int, err error) { fn(task.(T), attempt, err) }
		cfg.onRetryType = fmt.Sprintf("%T", zero)
	}
}
