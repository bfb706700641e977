package pool

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// worker is the core worker function that processes tasks from the task channel.
// It includes panic recovery to prevent a single task from crashing the entire pool.
func (wp *WorkerPool[T, R]) worker(
	ctx context.Context,
	taskChan <-chan indexedTask[T],
	resultChan chan<- Result[R],
	processFn ProcessFunc[T, R],
) error {
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
			case resultChan <- Result[R]{Value: result, Error: err, Index: task.index}:
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
}

// processWithRecovery executes a task with panic recovery and retry logic.
// If a panic occurs, it's converted to an error to prevent crashing the worker.
// Retries use exponential backoff if a retry policy is configured.
func (wp *WorkerPool[T, R]) processWithRecovery(
	ctx context.Context,
	task T,
	processFn ProcessFunc[T, R],
) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("worker panic: %v\nstack trace:\n%s", r, buf[:n])
		}
	}()

	maxAttempts := max(wp.maxAttempts, 1)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if delay := wp.retrySchedule.Delay(attempt - 1); delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return result, ctx.Err()
				}
			}
		}

		result, err = processFn(ctx, task)
		if err == nil {
			return result, nil
		}

		if wp.onRetry != nil && attempt < maxAttempts-1 {
			wp.onRetry(task, attempt+1, err)
		}
	}

	return result, err
}
