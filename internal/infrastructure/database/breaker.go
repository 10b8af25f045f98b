package database

import (
	"errors"
	"sync"
	"time"

	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/clock"
)

// ErrCircuitOpen is returned instead of calling the database while the breaker is open
var ErrCircuitOpen = errors.New("database circuit breaker is open")

const (
	DefaultBreakerThreshold = 5
	DefaultBreakerTimeout   = 30 * time.Second
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker opens after threshold consecutive failures and lets a single
// probe through once timeout has passed.
type CircuitBreaker struct {
	mu              sync.Mutex
	failureCount    int
	lastFailureTime time.Time
	state           CircuitState
	timeout         time.Duration
	threshold       int
	clock           clock.Clock
}

// NewCircuitBreaker creates a closed breaker. A nil clock uses wall time.
func NewCircuitBreaker(threshold int, timeout time.Duration, c clock.Clock) *CircuitBreaker {
	if c == nil {
		c = clock.Real{}
	}
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	return &CircuitBreaker{
		threshold: threshold,
		timeout:   timeout,
		state:     CircuitClosed,
		clock:     c,
	}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.clock.Now().Sub(cb.lastFailureTime) > cb.timeout {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	default:
		// one probe at a time while half open
		return false
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.state = CircuitClosed
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.clock.Now()

	if cb.state == CircuitHalfOpen || cb.failureCount >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// Record feeds the outcome of one database call to the breaker. A statement
// error still proves the database answered, so only transient failures count
// against it.
func (cb *CircuitBreaker) Record(err error) {
	if IsTransient(err) {
		cb.RecordFailure()
		return
	}
	cb.RecordSuccess()
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
