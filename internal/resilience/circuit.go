// Package resilience provides retry and circuit breaker patterns for
// external service calls.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrCircuitOpen is returned when a call is rejected because the breaker is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker is a consecutive-failure circuit breaker guarding one upstream.
// After FailureThreshold consecutive failures calls are rejected until
// ResetTimeout has passed; the next call is then allowed through as a probe,
// closing the breaker on success and reopening it on failure.
type Breaker struct {
	failureThreshold int
	resetTimeout     time.Duration

	mu          sync.Mutex
	failures    int
	open        bool
	lastFailure time.Time
	nowFunc     func() time.Time
}

// NewBreaker creates a breaker. Non-positive arguments fall back to a
// threshold of 5 failures and a 30s reset timeout.
func NewBreaker(failureThreshold int, resetTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		nowFunc:          time.Now,
	}
}

// Allow reports whether a call may proceed. An open breaker past its reset
// timeout allows one probe call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	return b.nowFunc().Sub(b.lastFailure) >= b.resetTimeout
}

// Record updates the breaker with the outcome of a call.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.open = false
		return
	}

	b.failures++
	b.lastFailure = b.nowFunc()
	if b.failures >= b.failureThreshold {
		b.open = true
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	return !b.Allow()
}
