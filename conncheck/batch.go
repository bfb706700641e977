package conncheck

import (
	"context"

	"github.com/provrun/provrun/pool"
)

// batchConcurrency bounds how many connection-test tasks are polled at once.
const batchConcurrency = 5

// TestConnections polls the connection-test tasks for many accounts
// concurrently, at most batchConcurrency at a time. tasks maps account ids
// to backend task ids; the returned map carries one Verdict per account id.
//
// Cancellation is observed by the pollers, not the pool: cancelling ctx
// makes every in-flight and not-yet-started poll settle with a cancellation
// verdict, and the batch still returns a full verdict map. Poll never
// fails, so the error return is always nil; it exists only to satisfy the
// pool contract.
func TestConnections(
	ctx context.Context,
	tasks map[string]string,
	getTask GetTaskFunc,
	opts ...Option,
) (map[string]Verdict, error) {
	wp := pool.NewWorkerPool[string, Verdict](pool.WithWorkerCount(batchConcurrency))

	// The pool runs on a detached context so that an aborted batch still
	// produces a verdict for every account instead of a pool error.
	return wp.ProcessMap(context.WithoutCancel(ctx), tasks, func(_ context.Context, taskID string) (Verdict, error) {
		return Poll(ctx, taskID, getTask, opts...), nil
	})
}
