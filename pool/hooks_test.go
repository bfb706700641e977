package pool

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestWorkerPool_Hooks_BeforeAndAfter(t *testing.T) {
	var started, ended atomic.Int32

	pool := NewWorkerPool[int, int](
		WithWorkerCount(2),
		WithBeforeTaskStart[int](func(task int) { started.Add(1) }),
		WithOnTaskEnd[int, int](func(task, result int, err error) {
			ended.Add(1)
			if err == nil && result != task*2 {
				t.Errorf("hook saw result %d for task %d", result, task)
			}
		}),
	)

	tasks := []int{1, 2, 3, 4, 5}
	_, err := pool.Process(context.Background(), tasks, func(ctx context.Context, task int) (int, error) {
		return task * 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if started.Load() != int32(len(tasks)) {
		t.Errorf("before hook ran %d times, want %d", started.Load(), len(tasks))
	}
	if ended.Load() != int32(len(tasks)) {
		t.Errorf("end hook ran %d times, want %d", ended.Load(), len(tasks))
	}
}

func TestNewWorkerPool_HookTypeMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for mismatched hook task type")
		}
	}()

	// hook typed for string tasks attached to an int pool
	NewWorkerPool[int, int](WithBeforeTaskStart[string](func(task string) {}))
}
