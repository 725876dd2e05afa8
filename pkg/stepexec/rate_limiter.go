package stepexec

import (
	"sync"
	"time"
)

// RateLimiter is a sliding time-window counter per key. Requests
// beyond the window's maximum are rejected without side effects.
type RateLimiter struct {
	maxRequests int
	window      time.Duration

	mu       sync.Mutex
	requests map[string][]time.Time
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 100
	}

	if window <= 0 {
		window = time.Minute
	}

	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
	}
}

// Allow records and admits a request for key unless the window is
// exhausted.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	recent := l.prune(key, now)

	if len(recent) >= l.maxRequests {
		l.requests[key] = recent

		return false
	}

	l.requests[key] = append(recent, now)

	return true
}

// Remaining returns how many requests the key may still make in the
// current window.
func (l *RateLimiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(key, time.Now())
	l.requests[key] = recent

	remaining := l.maxRequests - len(recent)
	if remaining < 0 {
		return 0
	}

	return remaining
}

// Reset clears the window for key.
func (l *RateLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.requests, key)
}

func (l *RateLimiter) prune(key string, now time.Time) []time.Time {
	windowStart := now.Add(-l.window)
	recent := l.requests[key][:0]

	for _, t := range l.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	return recent
}
