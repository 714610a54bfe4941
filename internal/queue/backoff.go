package queue

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the delay before the next attempt of a failed job.
type Backoff interface {
	// Delay returns the wait after attempt n (1-indexed) failed.
	Delay(attempt int) time.Duration
}

// BackoffFunc adapts a function to Backoff.
type BackoffFunc func(attempt int) time.Duration

func (f BackoffFunc) Delay(attempt int) time.Duration { return f(attempt) }

// ExponentialJitter spreads retries over [0, min(Initial*2^(attempt-1), Max)].
type ExponentialJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialJitter creates an exponential backoff with full jitter.
func NewExponentialJitter(initial, maxDelay time.Duration) *ExponentialJitter {
	return &ExponentialJitter{Initial: initial, Max: maxDelay}
}

func (e *ExponentialJitter) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ceiling := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && ceiling > float64(e.Max) {
		ceiling = float64(e.Max)
	}
	return time.Duration(rand.Float64() * ceiling) //nolint:gosec // jitter does not need crypto rand
}
