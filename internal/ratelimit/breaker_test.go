package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen(), "below threshold stays closed")

	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.False(t, b.Allow(), "open breaker blocks calls inside the reset interval")
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen(), "successes reset the consecutive-failure count")
}

func TestBreaker_HalfOpenProbeAfterInterval(t *testing.T) {
	b := NewBreaker(1, 10*time.Second)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	assert.False(t, b.Allow())

	clock = clock.Add(11 * time.Second)
	assert.True(t, b.Allow(), "reset interval elapsed, half-open probe permitted")

	// A single probe success closes the breaker.
	b.RecordSuccess()
	assert.False(t, b.IsOpen())
	assert.True(t, b.Allow())
}

func TestBreaker_Defaults(t *testing.T) {
	b := NewBreaker(0, 0)
	assert.Equal(t, 5, b.threshold)
	assert.Equal(t, 30*time.Second, b.resetInterval)
}
