package ratelimit

import (
	"sync"
	"time"
)

// Breaker gates cache calls with a consecutive-failure counter. On reaching
// the threshold it opens for the reset interval; while open, callers bypass
// the limiter entirely. After the interval a half-open probe is permitted
// and a single success closes the breaker.
type Breaker struct {
	mu          sync.Mutex
	failures    int
	open        bool
	lastFailure time.Time

	threshold     int
	resetInterval time.Duration
	now           func() time.Time
}

// NewBreaker builds a breaker. Zero values select the defaults: 5
// consecutive failures, 30 second reset interval.
func NewBreaker(threshold int, resetInterval time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetInterval <= 0 {
		resetInterval = 30 * time.Second
	}
	return &Breaker{
		threshold:     threshold,
		resetInterval: resetInterval,
		now:           time.Now,
	}
}

// Allow reports whether a cache call should be attempted. While open and
// inside the reset interval it returns false; once the interval elapses the
// call proceeds as a half-open probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	return b.now().Sub(b.lastFailure) >= b.resetInterval
}

// RecordSuccess resets the failure counter and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
}

// RecordFailure bumps the counter and opens the breaker at the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	if b.failures >= b.threshold {
		b.open = true
	}
}

// IsOpen reports the current state.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
