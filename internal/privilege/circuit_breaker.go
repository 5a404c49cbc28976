// Package privilege implements the privacy-preserving classification
// envelope: a circuit-broken wrapper around any reasoning model that emits
// decisions carrying only salted hashes and excerpt-free summaries.
package privilege

import (
	"sync"
	"time"

	"rexlit/internal/rexerr"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// CircuitBreaker prevents cascading failures when the underlying model is
// struggling. CLOSED counts consecutive failures and opens at the
// threshold; OPEN rejects calls until the timeout elapses; HALF_OPEN admits
// a limited number of probes, closing on success and re-opening on failure.
type CircuitBreaker struct {
	FailureThreshold int
	Timeout          time.Duration
	HalfOpenMaxCalls int

	mu              sync.Mutex
	state           State
	failures        int
	lastFailureTime time.Time
	halfOpenCalls   int
	now             func() time.Time
}

// NewCircuitBreaker builds a breaker with the given thresholds.
func NewCircuitBreaker(failureThreshold int, timeout time.Duration, halfOpenMaxCalls int) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if halfOpenMaxCalls <= 0 {
		halfOpenMaxCalls = 1
	}
	return &CircuitBreaker{
		FailureThreshold: failureThreshold,
		Timeout:          timeout,
		HalfOpenMaxCalls: halfOpenMaxCalls,
		state:            StateClosed,
		now:              time.Now,
	}
}

// Call executes fn with breaker protection. An open circuit fails fast with
// CircuitBreakerOpen; fn's own error propagates and counts as a failure.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	if err := fn(); err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) >= cb.Timeout {
			cb.state = StateHalfOpen
			cb.halfOpenCalls = 0
		} else {
			return rexerr.New(rexerr.CircuitBreakerOpen, "",
				"circuit breaker is OPEN after %d failures; retry after %s", cb.failures, cb.Timeout)
		}
	}
	return nil
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenCalls++
		if cb.halfOpenCalls >= cb.HalfOpenMaxCalls {
			cb.state = StateClosed
			cb.failures = 0
		}
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.now()
	if cb.state == StateHalfOpen || cb.failures >= cb.FailureThreshold {
		cb.state = StateOpen
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCalls = 0
}
