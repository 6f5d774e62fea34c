// internal/upstream/backoff.go
package upstream

import (
	"math"
	"time"
)

// Backoff computes reconnect delays: InitialDelay * Multiplier^failures,
// capped at MaxDelay. A successful reconnect resets the failure count.
type Backoff struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	failures int
}

// DefaultBackoff returns the reconnect policy used against the upstream
// feed: 1s initial delay, 2x multiplier, 30s cap.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// Next records one more consecutive failure and returns the delay to wait
// before the next attempt.
func (b *Backoff) Next() time.Duration {
	delay := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(b.failures))
	b.failures++
	if delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(delay)
}

// Reset clears the consecutive-failure count.
func (b *Backoff) Reset() {
	b.failures = 0
}

// Failures returns the current consecutive-failure count.
func (b *Backoff) Failures() int {
	return b.failures
}
