// Package backoff provides the delay schedules used between retry and poll
// attempts. A Schedule maps a 0-indexed attempt number to the duration to
// wait before that attempt runs.
package backoff

import (
	"math"
	"time"
)

const (
	maxShift = 63 // Prevent overflow in exponential calculation
)

// Schedule defines how inter-attempt delays are calculated.
type Schedule interface {
	// Delay returns the duration to wait before the given attempt.
	// attempt is 0-indexed (0 = first retry after the initial failure,
	// or the first wait between poll attempts).
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay with each attempt: Initial * 2^attempt.
// If Max is non-zero the delay is capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay calculates the exponential delay for the given attempt.
// For example, with Initial=1s:
//   - attempt 0: 1s
//   - attempt 1: 2s
//   - attempt 2: 4s
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 0 || e.Initial <= 0 {
		return 0
	}
	if attempt > maxShift {
		attempt = maxShift
	}

	f := float64(e.Initial) * math.Pow(2, float64(attempt))
	if e.Max > 0 && f >= float64(e.Max) {
		return e.Max
	}
	if f >= float64(math.MaxInt64) {
		return math.MaxInt64
	}
	return time.Duration(f)
}

// Table walks a fixed list of delays; once the list is exhausted the last
// entry repeats for every further attempt. An empty table yields 0.
type Table struct {
	Delays []time.Duration
}

// Delay returns the table entry for the attempt, repeating the final entry.
func (t Table) Delay(attempt int) time.Duration {
	if len(t.Delays) == 0 || attempt < 0 {
		return 0
	}
	if attempt >= len(t.Delays) {
		return t.Delays[len(t.Delays)-1]
	}
	return t.Delays[attempt]
}
