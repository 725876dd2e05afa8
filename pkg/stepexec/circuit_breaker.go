package stepexec

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// invoking it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the current circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerSettings configures a CircuitBreaker.
type BreakerSettings struct {
	// FailureThreshold is the consecutive failure count that opens
	// the circuit.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before allowing a
	// half-open trial call.
	Cooldown time.Duration
}

// CircuitBreaker protects fragile external calls. Closed passes calls
// through; open rejects immediately until the cooldown elapses;
// half-open allows one trial call whose success closes the circuit and
// whose failure reopens it.
type CircuitBreaker struct {
	settings BreakerSettings

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	lastFailureTime time.Time
}

func NewCircuitBreaker(settings BreakerSettings) *CircuitBreaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}

	if settings.Cooldown <= 0 {
		settings.Cooldown = time.Minute
	}

	return &CircuitBreaker{
		settings: settings,
		state:    BreakerClosed,
	}
}

// Execute runs fn through the breaker.
func (b *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	if err := b.allow(); err != nil {
		return nil, err
	}

	output, err := fn()
	if err != nil {
		b.recordFailure()

		return nil, err
	}

	b.recordSuccess()

	return output, nil
}

// State returns the current breaker state, accounting for an elapsed
// cooldown.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && time.Since(b.lastFailureTime) > b.settings.Cooldown {
		return BreakerHalfOpen
	}

	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.failureCount
}

func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if time.Since(b.lastFailureTime) > b.settings.Cooldown {
			b.state = BreakerHalfOpen

			return nil
		}

		return ErrCircuitOpen
	}

	return nil
}

func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	if b.state == BreakerHalfOpen || b.failureCount >= b.settings.FailureThreshold {
		b.state = BreakerOpen
	}
}

func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
		b.failureCount = 0
	}
}
