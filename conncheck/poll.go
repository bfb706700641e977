package conncheck

import (
	"context"
	"log/slog"
	"time"

	"github.com/provrun/provrun/internal/backoff"
)

// Task states reported by the backend. Everything outside this set is
// treated as protocol drift and fails the poll immediately.
const (
	StateAvailable = "available"
	StateScheduled = "scheduled"
	StateExecuting = "executing"
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Verdict messages. These are part of the package's contract; callers match
// on them to distinguish cancellation and timeout from genuine failures.
const (
	MsgCancelled       = "Connection test cancelled."
	MsgTimedOut        = "Connection test timed out."
	MsgUnexpectedState = "Unexpected task state."
	MsgNotConnected    = "Connection failed for this account."
	MsgTaskFailed      = "Connection test task failed."
)

const defaultMaxRetries = 20

// defaultDelays is the wait schedule between poll attempts; the last entry
// repeats once the table is exhausted.
var defaultDelays = []time.Duration{2 * time.Second, 3 * time.Second, 5 * time.Second}

// Verdict is the final determination for one connection-test task.
// Exactly one Verdict is produced per Poll call, including on cancellation
// and timeout.
type Verdict struct {
	Success bool
	Error   string
}

// TaskResult carries the terminal outcome embedded in a completed or failed
// task. Connected is a pointer because the backend may omit it; an absent
// value is treated as connected.
type TaskResult struct {
	Connected *bool
	Error     string
}

// TaskStatus is the state snapshot of a backend task.
type TaskStatus struct {
	State  string
	Result TaskResult
}

// TaskResponse is the outcome of one task fetch. A non-empty Error means
// the fetch itself failed (transport, decode, or backend error) and Task is
// not meaningful. Fetchers must report failures here rather than panicking,
// so that Poll can keep its never-fails contract.
type TaskResponse struct {
	Error string
	Task  *TaskStatus
}

// GetTaskFunc fetches the current state of a task by id.
type GetTaskFunc func(ctx context.Context, taskID string) TaskResponse

// SleepFunc waits for d or until ctx is cancelled, whichever comes first.
// Injectable for tests; implementations must return promptly on
// cancellation and must not report an error.
type SleepFunc func(ctx context.Context, d time.Duration)

// Option configures Poll and TestConnections.
type Option func(*options)

type options struct {
	sleep      SleepFunc
	maxRetries int
	delays     backoff.Table
	logger     *slog.Logger
}

// WithSleep replaces the timer-based wait between attempts.
func WithSleep(fn SleepFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// WithMaxRetries caps the number of fetch attempts. Defaults to 20.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithDelays replaces the wait schedule between attempts. The last entry
// repeats for attempts beyond the table length.
func WithDelays(delays []time.Duration) Option {
	return func(o *options) {
		if len(delays) > 0 {
			o.delays = backoff.Table{Delays: delays}
		}
	}
}

// WithLogger attaches a logger for per-attempt state logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts ...Option) *options {
	o := &options{
		sleep:      sleepWithContext,
		maxRetries: defaultMaxRetries,
		delays:     backoff.Table{Delays: defaultDelays},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// sleepWithContext is the default SleepFunc: a real timer that unblocks
// early on cancellation.
func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// inProgress reports whether state means the task is still being worked on.
func inProgress(state string) bool {
	switch state {
	case StateAvailable, StateScheduled, StateExecuting, StatePending, StateRunning:
		return true
	}
	return false
}

// Poll fetches the task with getTask until it reaches a terminal state,
// ctx is cancelled, or the attempt budget runs out. It never returns an
// error; every outcome is reduced to a Verdict:
//
//   - "completed" with result.connected true (or absent) → success
//   - "completed" with result.connected false → failure, backend error or MsgNotConnected
//   - "failed" → failure, backend error or MsgTaskFailed
//   - in-progress state → wait on the delay schedule, try again
//   - any other state → failure, MsgUnexpectedState, no further attempts
//   - cancellation → failure, MsgCancelled (checked before every fetch and
//     again after, discarding a response that raced the cancellation)
//   - attempts exhausted → failure, MsgTimedOut
func Poll(ctx context.Context, taskID string, getTask GetTaskFunc, opts ...Option) Verdict {
	o := newOptions(opts...)

	for attempt := 0; attempt < o.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return Verdict{Error: MsgCancelled}
		}

		resp := getTask(ctx, taskID)
		if resp.Error != "" {
			return Verdict{Error: resp.Error}
		}
		if ctx.Err() != nil {
			return Verdict{Error: MsgCancelled}
		}

		var state string
		var result TaskResult
		if resp.Task != nil {
			state = resp.Task.State
			result = resp.Task.Result
		}

		if o.logger != nil {
			o.logger.Debug("connection test task polled",
				"task_id", taskID,
				"attempt", attempt+1,
				"state", state,
			)
		}

		switch {
		case state == StateCompleted:
			connected := true
			if result.Connected != nil {
				connected = *result.Connected
			}
			if connected {
				return Verdict{Success: true}
			}
			return Verdict{Error: orDefault(result.Error, MsgNotConnected)}

		case state == StateFailed:
			return Verdict{Error: orDefault(result.Error, MsgTaskFailed)}

		case inProgress(state):
			o.sleep(ctx, o.delays.Delay(attempt))

		default:
			return Verdict{Error: MsgUnexpectedState}
		}
	}

	return Verdict{Error: MsgTimedOut}
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
