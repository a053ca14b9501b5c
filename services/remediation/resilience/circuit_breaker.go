// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience provides failure isolation for calls to external
// dependencies. Every outbound call the pipeline makes (policy service,
// connectors) goes through a named circuit breaker obtained from the
// process-wide Registry.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
//
// # States
//
//   - Closed: Normal operation, requests flow through
//   - Open: Circuit tripped, requests are rejected immediately
//   - HalfOpen: Testing if the dependency recovered, limited requests allowed
//
// # State Diagram
//
//	   ┌─────────────────────────────────────┐
//	   │                                     │
//	   ▼                                     │
//	CLOSED ──[failure threshold]──► OPEN ───┘
//	   ▲                              │
//	   │                              │
//	   └───[success]◄── HALF_OPEN ◄──┘
//	                    [reset timeout]
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota

	// CircuitOpen means the circuit has tripped and requests are rejected.
	CircuitOpen

	// CircuitHalfOpen means the breaker is probing for recovery.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// ErrCircuitOpen is the sentinel for rejected calls. Use errors.Is to
// detect rejection and errors.As with *CircuitOpenError to read the
// retry-after hint.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned when a breaker rejects a call.
type CircuitOpenError struct {
	// Name is the dependency the breaker guards.
	Name string

	// RetryAfter is how long until the breaker will admit a trial call.
	// Zero when the breaker is half-open with an exhausted trial budget;
	// retry as soon as a trial slot frees.
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Name, e.RetryAfter)
	}
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

// Is lets errors.Is(err, ErrCircuitOpen) match rejections without
// unwrapping the typed error.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// Config controls how a circuit breaker responds to failures and
// probes for recovery.
//
// Zero values take the documented defaults; negative values are
// configuration errors and fail construction.
type Config struct {
	// FailureThreshold is qualifying failures before opening the circuit.
	// Default: 5
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before the next
	// call is treated as a half-open trial. Default: 30 seconds
	ResetTimeout time.Duration

	// HalfOpenMaxCalls is the maximum number of concurrent trial calls
	// admitted while half-open. Default: 1
	HalfOpenMaxCalls int

	// OnStateChange is called when state transitions.
	// Called asynchronously to avoid blocking breaker operations.
	OnStateChange func(name string, from, to CircuitState)

	// Clock overrides the time source. Tests inject a fake clock so
	// open-interval behavior needs no sleeping. Default: time.Now
	Clock func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// validate rejects negative settings and fills defaults for zero values.
func (c *Config) validate() error {
	if c.FailureThreshold < 0 {
		return fmt.Errorf("invalid circuit breaker config: negative failure threshold %d", c.FailureThreshold)
	}
	if c.ResetTimeout < 0 {
		return fmt.Errorf("invalid circuit breaker config: negative reset timeout %s", c.ResetTimeout)
	}
	if c.HalfOpenMaxCalls < 0 {
		return fmt.Errorf("invalid circuit breaker config: negative half-open budget %d", c.HalfOpenMaxCalls)
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = 1
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}

// Stats is a read-only snapshot of a breaker's state and counters.
type Stats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int64     `json:"success_count"`
	OpenedAt        time.Time `json:"opened_at,omitempty"`
	HalfOpenCalls   int       `json:"half_open_calls"`
	TotalCalls      int64     `json:"total_calls"`
	TotalRejections int64     `json:"total_rejections"`
}

// CircuitBreaker implements the three-state circuit breaker pattern for
// one named dependency.
//
// # Description
//
// Prevents cascading failures by rejecting calls to a dependency that
// keeps failing. The OPEN to HALF_OPEN transition is computed lazily at
// call time from the recorded trip time and the configured reset
// timeout; there is no background timer, so breaker behavior is a pure
// function of the clock and recorded state.
//
// # Thread Safety
//
// CircuitBreaker is safe for concurrent use. All state is guarded by a
// single mutex; the breaker performs no I/O of its own.
//
// # Example
//
//	cb, _ := NewCircuitBreaker("policy-service", DefaultConfig())
//
//	release, err := cb.Allow()
//	if err != nil {
//	    var open *CircuitOpenError
//	    if errors.As(err, &open) {
//	        return fmt.Errorf("policy service unavailable, retry in %s", open.RetryAfter)
//	    }
//	}
//	defer release()
//
//	if callErr := callPolicyService(); callErr != nil {
//	    cb.RecordFailure()
//	} else {
//	    cb.RecordSuccess()
//	}
type CircuitBreaker struct {
	name   string
	config Config

	mu             sync.RWMutex
	state          CircuitState
	failures       int
	successes      int64
	openedAt       time.Time
	halfOpenActive int

	totalCalls      int64
	totalRejections int64
}

// NewCircuitBreaker creates a breaker for the named dependency.
//
// # Inputs
//
//   - name: Dependency name, used in errors and stats.
//   - config: Breaker configuration. Negative values are rejected.
//
// # Outputs
//
//   - *CircuitBreaker: New breaker in the closed state.
//   - error: Configuration error.
func NewCircuitBreaker(name string, config Config) (*CircuitBreaker, error) {
	if name == "" {
		return nil, errors.New("invalid circuit breaker config: empty name")
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("breaker %q: %w", name, err)
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  CircuitClosed,
	}, nil
}

// Name returns the dependency name this breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current circuit state as recorded. It does not
// apply the lazy OPEN to HALF_OPEN transition; only Allow does that.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Allow checks whether a call may proceed.
//
// # Description
//
// In CLOSED the call proceeds. In OPEN the call is rejected with a
// *CircuitOpenError carrying the remaining hold time, unless the reset
// timeout has elapsed, in which case the breaker flips to HALF_OPEN and
// the call becomes a trial. In HALF_OPEN a trial slot is reserved if the
// budget allows; otherwise the call is rejected.
//
// # Outputs
//
//   - func(): Release function freeing a reserved trial slot. Nil for
//     non-trial calls. Call it when the guarded work completes.
//   - error: *CircuitOpenError when the call is rejected.
//
// # Usage
//
//	release, err := cb.Allow()
//	if err != nil {
//	    return err
//	}
//	if release != nil {
//	    defer release()
//	}
func (cb *CircuitBreaker) Allow() (func(), error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++

	switch cb.state {
	case CircuitClosed:
		return nil, nil

	case CircuitOpen:
		elapsed := cb.config.Clock().Sub(cb.openedAt)
		if elapsed < cb.config.ResetTimeout {
			cb.totalRejections++
			return nil, &CircuitOpenError{Name: cb.name, RetryAfter: cb.config.ResetTimeout - elapsed}
		}
		cb.transitionTo(CircuitHalfOpen)
		return cb.tryHalfOpen()

	case CircuitHalfOpen:
		return cb.tryHalfOpen()
	}

	cb.totalRejections++
	return nil, &CircuitOpenError{Name: cb.name}
}

// tryHalfOpen reserves a trial slot. Must be called with lock held.
func (cb *CircuitBreaker) tryHalfOpen() (func(), error) {
	if cb.halfOpenActive >= cb.config.HalfOpenMaxCalls {
		cb.totalRejections++
		return nil, &CircuitOpenError{Name: cb.name}
	}

	cb.halfOpenActive++
	return func() {
		cb.mu.Lock()
		cb.halfOpenActive--
		cb.mu.Unlock()
	}, nil
}

// RecordSuccess records a successful guarded call.
//
// A success observed while HALF_OPEN closes the breaker immediately and
// resets failure bookkeeping. One success suffices: the trial budget
// already bounds exposure while probing, so demanding several successes
// only delays recovery.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	cb.failures = 0

	if cb.state == CircuitHalfOpen {
		cb.transitionTo(CircuitClosed)
	}
}

// RecordFailure records a failed guarded call.
//
// A failure observed while HALF_OPEN reopens the breaker; in CLOSED the
// breaker trips once the failure count reaches the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

// transitionTo changes state. Must be called with lock held.
func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}

	old := cb.state
	cb.state = newState

	switch newState {
	case CircuitOpen:
		cb.openedAt = cb.config.Clock()
	case CircuitClosed:
		cb.failures = 0
		cb.openedAt = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		// Callback runs without the lock to prevent deadlocks.
		go cb.config.OnStateChange(cb.name, old, newState)
	}
}

// Execute wraps a function with circuit breaker protection.
//
// # Inputs
//
//   - ctx: Context for the operation. Checked before acquiring a slot.
//   - fn: The function to execute.
//
// # Outputs
//
//   - error: *CircuitOpenError if rejected, ctx.Err() if already
//     cancelled, or the error from fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	release, err := cb.Allow()
	if err != nil {
		return err
	}
	if release != nil {
		defer release()
	}

	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()
	return nil
}

// Stats returns a read-only snapshot of the breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Stats{
		Name:            cb.name,
		State:           cb.state.String(),
		FailureCount:    cb.failures,
		SuccessCount:    cb.successes,
		OpenedAt:        cb.openedAt,
		HalfOpenCalls:   cb.halfOpenActive,
		TotalCalls:      cb.totalCalls,
		TotalRejections: cb.totalRejections,
	}
}

// Reset forces the circuit to closed state, clearing all counters.
// Administrative override for when the dependency is known to be fixed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	old := cb.state
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenActive = 0
	cb.openedAt = time.Time{}

	if old != CircuitClosed && cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, old, CircuitClosed)
	}
}
