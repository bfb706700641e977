package pool

import (
	"fmt"
)

// checkfuncs validates user-supplied hook functions against expected type signatures and returns
// safe wrapper functions for use within the worker pool. This ensures that user-provided hooks for
// task start, task end, and retry events match the types of tasks and results configured for the pool.
//
// Parameters:
//   - cfg: The worker pool configuration struct containing optional hook function fields and their type records.
//   - expectedTaskType: String representation of the expected task type (as computed by fmt.Sprintf("%T", ...)).
//   - expectedResultType: String representation of the expected result type.
//
// Returns:
//   - beforeTaskStart: Function to be called before each task starts (or nil if not configured).
//   - onTaskEnd: Function to be called after each task ends (or nil if not configured).
//   - onRetry: Function to be called on every retry attempt (or nil if not configured).
//
// Panics:
//
//	If any user-supplied hook function's type does not match the expected task/result types.
//	The panic message describes the type mismatch reason.
func checkfuncs[T any, R any](
	cfg *workerPoolConfig,
	expectedTaskType, expectedResultType string,
) (
	beforeTaskStart func(T),
	onTaskEnd func(T, R, error),
	onRetry func(T, int, error),
) {
	if cfg.beforeTaskStart != nil {
		if cfg.beforeTaskStartType != expectedTaskType {
			panic(fmt.Sprintf("WithBeforeTaskStart hook expects task type %s, but pool processes type %s",
				cfg.beforeTaskStartType, expectedTaskType))
		}
		beforeTaskStart = func(task T) {
			cfg.beforeTaskStart(task)
		}
	}

	if cfg.onTaskEnd != nil {
		if cfg.onTaskEndTaskType != expectedTaskType {
			panic(fmt.Sprintf("WithOnTaskEnd hook expects task type %s, but pool processes type %s",
				cfg.onTaskEndTaskType, expectedTaskType))
		}
		if cfg.onTaskEndResultType != expectedResultType {
			panic(fmt.Sprintf("WithOnTaskEnd hook expects result type %s, but pool produces type %s",
				cfg.onTaskEndResultType, expectedResultType))
		}
		onTaskEnd = func(task T, result R, err error) {
			cfg.onTaskEnd(task, result, err)
		}
	}

	if cfg.onRetry != nil {
		if cfg.onRetryType != expectedTaskType {
			panic(fmt.Sprintf("WithOnRetry hook expects task type %s, but pool processes type %s",
				cfg.onRetryType, expectedTaskType))
		}
		onRetry = func(task T, attempt int, err error) {
			cfg.onRetry(task, attempt, err)
		}
	}

	return beforeTaskStart, onTaskEnd, onRetry
}
