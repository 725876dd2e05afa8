package stepexec

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	breaker := NewCircuitBreaker(BreakerSettings{FailureThreshold: 3, Cooldown: time.Minute})
	fail := func() (any, error) { return nil, errors.New("down") }

	for range 3 {
		_, err := breaker.Execute(fail)
		require.Error(t, err)
	}

	assert.Equal(t, BreakerOpen, breaker.State())

	_, err := breaker.Execute(func() (any, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	breaker := NewCircuitBreaker(BreakerSettings{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	_, err := breaker.Execute(func() (any, error) { return nil, errors.New("down") })
	require.Error(t, err)
	assert.Equal(t, BreakerOpen, breaker.State())

	time.Sleep(20 * time.Millisecond)

	out, err := breaker.Execute(func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, BreakerClosed, breaker.State())
	assert.Equal(t, 0, breaker.FailureCount())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	breaker := NewCircuitBreaker(BreakerSettings{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	_, err := breaker.Execute(func() (any, error) { return nil, errors.New("down") })
	require.Error(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = breaker.Execute(func() (any, error) { return nil, errors.New("still down") })
	require.Error(t, err)
	assert.Equal(t, BreakerOpen, breaker.State())
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	limiter := NewRateLimiter(2, 30*time.Millisecond)

	assert.True(t, limiter.Allow("contact-1"))
	assert.True(t, limiter.Allow("contact-1"))
	assert.False(t, limiter.Allow("contact-1"))
	assert.Equal(t, 0, limiter.Remaining("contact-1"))

	// Separate keys have separate windows.
	assert.True(t, limiter.Allow("contact-2"))

	time.Sleep(40 * time.Millisecond)

	assert.True(t, limiter.Allow("contact-1"), "window expiry frees capacity")
}

func TestRateLimiter_Reset(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)

	assert.True(t, limiter.Allow("contact-1"))
	assert.False(t, limiter.Allow("contact-1"))

	limiter.Reset("contact-1")
	assert.True(t, limiter.Allow("contact-1"))
}
