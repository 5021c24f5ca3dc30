// Package backoff computes retry delays for failed jobs.
package backoff

import (
	"math"
	"time"
)

// Strategy computes the delay before the next attempt after attempt n failed.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max). With Initial of two minutes that is
// 2m, 4m, 8m for attempts 1, 2, 3.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max. Attempts below 1 are
// treated as 1.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	f := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if f > float64(math.MaxInt64) {
		f = float64(math.MaxInt64)
	}
	d := time.Duration(f)
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}
