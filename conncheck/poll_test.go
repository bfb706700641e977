package conncheck

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeFetcher serves a scripted sequence of responses; the last response
// repeats if polled beyond the script.
type fakeFetcher struct {
	mu        sync.Mutex
	responses []TaskResponse
	calls     int
}

func (f *fakeFetcher) get(ctx context.Context, taskID string) TaskResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i]
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// sleepRecorder captures requested delays without actually waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func stateResponse(state string) TaskResponse {
	return TaskResponse{Task: &TaskStatus{State: state}}
}

func completedResponse(connected *bool, errMsg string) TaskResponse {
	return TaskResponse{Task: &TaskStatus{
		State:  StateCompleted,
		Result: TaskResult{Connected: connected, Error: errMsg},
	}}
}

func boolPtr(b bool) *bool { return &b }

func TestPoll_DefaultBackoffSequence(t *testing.T) {
	fetcher := &fakeFetcher{responses: []TaskResponse{
		stateResponse(StateRunning),
		stateResponse(StatePending),
		completedResponse(boolPtr(true), ""),
	}}
	sleeper := &sleepRecorder{}

	verdict := Poll(context.Background(), "task-1", fetcher.get, WithSleep(sleeper.sleep))

	if !verdict.Success {
		t.Fatalf("expected success, got %+v", verdict)
	}
	if got := fetcher.callCount(); got != 3 {
		t.Errorf("expected 3 fetches, got %d", got)
	}

	want := []time.Duration{2 * time.Second, 3 * time.Second}
	got := sleeper.recorded()
	if len(got) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPoll_LastDelayRepeatsWhenTableExhausted(t *testing.T) {
	fetcher := &fakeFetcher{responses: []TaskResponse{stateResponse(StateRunning)}}
	sleeper := &sleepRecorder{}

	verdict := Poll(context.Background(), "task-1", fetcher.get,
		WithSleep(sleeper.sleep),
		WithMaxRetries(5),
	)

	if verdict.Success || verdict.Error != MsgTimedOut {
		t.Fatalf("expected timeout verdict, got %+v", verdict)
	}
	if got := fetcher.callCount(); got != 5 {
		t.Errorf("expected 5 fetches, got %d", got)
	}

	want := []time.Duration{2 * time.Second, 3 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second}
	got := sleeper.recorded()
	if len(got) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPoll_CancelledBeforeFirstFetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var fetches atomic.Int32
	verdict := Poll(ctx, "task-1", func(ctx context.Context, taskID string) TaskResponse {
		fetches.Add(1)
		return stateResponse(StateRunning)
	})

	if verdict.Success || verdict.Error != MsgCancelled {
		t.Fatalf("expected cancellation verdict, got %+v", verdict)
	}
	if fetches.Load() != 0 {
		t.Errorf("expected no fetch after cancellation, got %d", fetches.Load())
	}
}

func TestPoll_CancelledDuringFirstSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &fakeFetcher{responses: []TaskResponse{stateResponse(StateExecuting)}}

	verdict := Poll(ctx, "task-1", fetcher.get,
		WithSleep(func(ctx context.Context, d time.Duration) {
			cancel() // signal fires mid-wait
		}),
	)

	if verdict.Success || verdict.Error != MsgCancelled {
		t.Fatalf("expected cancellation verdict, got %+v", verdict)
	}
	if got := fetcher.callCount(); got != 1 {
		t.Errorf("expected exactly 1 fetch, got %d", got)
	}
}

func TestPoll_CancelledDuringFetchDiscardsResponse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	verdict := Poll(ctx, "task-1", func(ctx context.Context, taskID string) TaskResponse {
		cancel()
		// a terminal response racing the cancellation must not win
		return completedResponse(boolPtr(true), "")
	})

	if verdict.Success || verdict.Error != MsgCancelled {
		t.Fatalf("expected cancellation verdict, got %+v", verdict)
	}
}

func TestPoll_FetchErrorReturnedVerbatim(t *testing.T) {
	fetcher := &fakeFetcher{responses: []TaskResponse{{Error: "task not found"}}}

	verdict := Poll(context.Background(), "task-1", fetcher.get)
	if verdict.Success || verdict.Error != "task not found" {
		t.Fatalf("expected fetch error verdict, got %+v", verdict)
	}
	if got := fetcher.callCount(); got != 1 {
		t.Errorf("expected 1 fetch, got %d", got)
	}
}

func TestPoll_TerminalVerdicts(t *testing.T) {
	tests := []struct {
		name     string
		response TaskResponse
		want     Verdict
	}{
		{
			name:     "completed and connected",
			response: completedResponse(boolPtr(true), ""),
			want:     Verdict{Success: true},
		},
		{
			name:     "completed with connected absent defaults to success",
			response: completedResponse(nil, ""),
			want:     Verdict{Success: true},
		},
		{
			name:     "completed but not connected uses backend error",
			response: completedResponse(boolPtr(false), "bad credentials"),
			want:     Verdict{Error: "bad credentials"},
		},
		{
			name:     "completed but not connected without backend error",
			response: completedResponse(boolPtr(false), ""),
			want:     Verdict{Error: MsgNotConnected},
		},
		{
			name: "failed uses backend error",
			response: TaskResponse{Task: &TaskStatus{
				State:  StateFailed,
				Result: TaskResult{Error: "provider unreachable"},
			}},
			want: Verdict{Error: "provider unreachable"},
		},
		{
			name:     "failed without backend error",
			response: stateResponse(StateFailed),
			want:     Verdict{Error: MsgTaskFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &fakeFetcher{responses: []TaskResponse{tt.response}}
			got := Poll(context.Background(), "task-1", fetcher.get)
			if got != tt.want {
				t.Errorf("Poll() = %+v, want %+v", got, tt.want)
			}
			if fetcher.callCount() != 1 {
				t.Errorf("terminal state should stop polling, saw %d fetches", fetcher.callCount())
			}
		})
	}
}

func TestPoll_UnexpectedStateFailsFast(t *testing.T) {
	tests := []struct {
		name     string
		response TaskResponse
	}{
		{name: "unknown state", response: stateResponse("paused")},
		{name: "empty state", response: stateResponse("")},
		{name: "missing task payload", response: TaskResponse{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &fakeFetcher{responses: []TaskResponse{tt.response}}
			sleeper := &sleepRecorder{}

			verdict := Poll(context.Background(), "task-1", fetcher.get, WithSleep(sleeper.sleep))
			if verdict.Success || verdict.Error != MsgUnexpectedState {
				t.Fatalf("expected unexpected-state verdict, got %+v", verdict)
			}
			if fetcher.callCount() != 1 {
				t.Errorf("expected no retry on unrecognized state, saw %d fetches", fetcher.callCount())
			}
			if len(sleeper.recorded()) != 0 {
				t.Errorf("expected no sleep on unrecognized state, saw %v", sleeper.recorded())
			}
		})
	}
}

func TestPoll_AllInProgressStatesKeepPolling(t *testing.T) {
	for _, state := range []string{StateAvailable, StateScheduled, StateExecuting, StatePending, StateRunning} {
		t.Run(state, func(t *testing.T) {
			fetcher := &fakeFetcher{responses: []TaskResponse{
				stateResponse(state),
				completedResponse(boolPtr(true), ""),
			}}

			verdict := Poll(context.Background(), "task-1", fetcher.get,
				WithSleep(func(ctx context.Context, d time.Duration) {}))
			if !verdict.Success {
				t.Fatalf("expected success after %s then completed, got %+v", state, verdict)
			}
			if fetcher.callCount() != 2 {
				t.Errorf("expected 2 fetches, got %d", fetcher.callCount())
			}
		})
	}
}

func TestPoll_CustomDelaysAndRetries(t *testing.T) {
	fetcher := &fakeFetcher{responses: []TaskResponse{stateResponse(StateScheduled)}}
	sleeper := &sleepRecorder{}

	verdict := Poll(context.Background(), "task-1", fetcher.get,
		WithSleep(sleeper.sleep),
		WithMaxRetries(3),
		WithDelays([]time.Duration{time.Second}),
	)

	if verdict.Error != MsgTimedOut {
		t.Fatalf("expected timeout, got %+v", verdict)
	}
	for i, d := range sleeper.recorded() {
		if d != time.Second {
			t.Errorf("delay[%d] = %v, want 1s", i, d)
		}
	}
}

func TestSleepWithContext_ReturnsEarlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	sleepWithContext(ctx, 5*time.Second)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("sleep did not unblock on cancellation, took %v", elapsed)
	}
}
