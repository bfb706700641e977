package backoff

import (
	"testing"
	"time"
)

func TestExponential_Delay(t *testing.T) {
	tests := []struct {
		name    string
		initial time.Duration
		max     time.Duration
		attempt int
		want    time.Duration
	}{
		{
			name:    "first attempt returns initial delay",
			initial: 100 * time.Millisecond,
			attempt: 0,
			want:    100 * time.Millisecond,
		},
		{
			name:    "second attempt doubles",
			initial: 100 * time.Millisecond,
			attempt: 1,
			want:    200 * time.Millisecond,
		},
		{
			name:    "third attempt quadruples",
			initial: 1 * time.Second,
			attempt: 2,
			want:    4 * time.Second,
		},
		{
			name:    "respects max delay",
			initial: 1 * time.Second,
			max:     3 * time.Second,
			attempt: 10,
			want:    3 * time.Second,
		},
		{
			name:    "negative attempt returns zero",
			initial: 1 * time.Second,
			attempt: -1,
			want:    0,
		},
		{
			name:    "zero initial returns zero",
			initial: 0,
			attempt: 5,
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Exponential{Initial: tt.initial, Max: tt.max}.Delay(tt.attempt)
			if got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestExponential_Delay_LargeAttemptDoesNotOverflow(t *testing.T) {
	e := Exponential{Initial: time.Second, Max: 30 * time.Second}
	got := e.Delay(1000)
	if got != 30*time.Second {
		t.Errorf("Delay(1000) = %v, want %v", got, 30*time.Second)
	}
}

func TestTable_Delay(t *testing.T) {
	table := Table{Delays: []time.Duration{
		2 * time.Second,
		3 * time.Second,
		5 * time.Second,
	}}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 3 * time.Second},
		{2, 5 * time.Second},
		{3, 5 * time.Second}, // last entry repeats
		{19, 5 * time.Second},
		{-1, 0},
	}

	for _, tt := range tests {
		if got := table.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestTable_Delay_Empty(t *testing.T) {
	if got := (Table{}).Delay(0); got != 0 {
		t.Errorf("empty table Delay(0) = %v, want 0", got)
	}
}
