// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source so open-interval tests
// never sleep.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(t *testing.T, clock *fakeClock, cfg Config) *CircuitBreaker {
	t.Helper()
	cfg.Clock = clock.Now
	cb, err := NewCircuitBreaker("test-dep", cfg)
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}
	return cb
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "CLOSED"},
		{CircuitOpen, "OPEN"},
		{CircuitHalfOpen, "HALF_OPEN"},
		{CircuitState(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestNewCircuitBreaker_ConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults from zero values", Config{}, false},
		{"explicit valid", Config{FailureThreshold: 3, ResetTimeout: time.Second, HalfOpenMaxCalls: 2}, false},
		{"negative threshold", Config{FailureThreshold: -1}, true},
		{"negative reset timeout", Config{ResetTimeout: -time.Second}, true},
		{"negative half-open budget", Config{HalfOpenMaxCalls: -2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCircuitBreaker("dep", tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCircuitBreaker err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if _, err := NewCircuitBreaker("", DefaultConfig()); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock, Config{FailureThreshold: 3, ResetTimeout: 30 * time.Second})

	for i := 0; i < 3; i++ {
		if _, err := cb.Allow(); err != nil {
			t.Fatalf("call %d rejected while closed: %v", i, err)
		}
		cb.RecordFailure()
	}

	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("state after %d failures = %v, want OPEN", 3, got)
	}

	_, err := cb.Allow()
	if err == nil {
		t.Fatal("expected rejection while open, got nil")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("errors.Is(err, ErrCircuitOpen) = false for %v", err)
	}

	var open *CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected *CircuitOpenError, got %T", err)
	}
	if open.RetryAfter <= 0 || open.RetryAfter > 30*time.Second {
		t.Errorf("RetryAfter = %s, want in (0, 30s]", open.RetryAfter)
	}
	if open.Name != "test-dep" {
		t.Errorf("error name = %q, want test-dep", open.Name)
	}
}

func TestCircuitBreaker_RetryAfterShrinksWithTime(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock, Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second})

	cb.RecordFailure()

	clock.Advance(10 * time.Second)
	_, err := cb.Allow()
	var open *CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected *CircuitOpenError, got %v", err)
	}
	if open.RetryAfter != 20*time.Second {
		t.Errorf("RetryAfter = %s, want 20s", open.RetryAfter)
	}
}

func TestCircuitBreaker_LazyHalfOpenAfterResetTimeout(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock, Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second})

	cb.RecordFailure()
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("state = %v, want OPEN", got)
	}

	// Still held: just short of the reset timeout.
	clock.Advance(30*time.Second - time.Millisecond)
	if _, err := cb.Allow(); err == nil {
		t.Fatal("expected rejection just before reset timeout")
	}

	// One more millisecond and the next call becomes a trial.
	clock.Advance(time.Millisecond)
	release, err := cb.Allow()
	if err != nil {
		t.Fatalf("expected trial call after reset timeout, got %v", err)
	}
	if release == nil {
		t.Fatal("expected a trial release function")
	}
	if got := cb.State(); got != CircuitHalfOpen {
		t.Errorf("state = %v, want HALF_OPEN", got)
	}
	release()
}

func TestCircuitBreaker_OneSuccessClosesFromHalfOpen(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock, Config{FailureThreshold: 1, ResetTimeout: time.Second})

	cb.RecordFailure()
	clock.Advance(2 * time.Second)

	release, err := cb.Allow()
	if err != nil {
		t.Fatalf("trial rejected: %v", err)
	}
	cb.RecordSuccess()
	release()

	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("state after trial success = %v, want CLOSED", got)
	}

	stats := cb.Stats()
	if stats.FailureCount != 0 {
		t.Errorf("failure count after close = %d, want 0", stats.FailureCount)
	}
	if !stats.OpenedAt.IsZero() {
		t.Errorf("opened_at after close = %v, want zero", stats.OpenedAt)
	}

	// Fully closed: the next call passes without a trial slot.
	release, err = cb.Allow()
	if err != nil {
		t.Fatalf("call rejected after close: %v", err)
	}
	if release != nil {
		t.Error("closed-state call should not reserve a trial slot")
	}
}

func TestCircuitBreaker_OneFailureReopensFromHalfOpen(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock, Config{FailureThreshold: 1, ResetTimeout: time.Second})

	cb.RecordFailure()
	clock.Advance(2 * time.Second)

	release, err := cb.Allow()
	if err != nil {
		t.Fatalf("trial rejected: %v", err)
	}
	cb.RecordFailure()
	release()

	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("state after trial failure = %v, want OPEN", got)
	}

	// The reopen stamps a fresh trip time, so the hold starts over.
	if _, err := cb.Allow(); err == nil {
		t.Fatal("expected rejection after reopening")
	}
}

func TestCircuitBreaker_HalfOpenBudgetLimitsConcurrentTrials(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock, Config{FailureThreshold: 1, ResetTimeout: time.Second, HalfOpenMaxCalls: 2})

	cb.RecordFailure()
	clock.Advance(2 * time.Second)

	rel1, err := cb.Allow()
	if err != nil {
		t.Fatalf("trial 1 rejected: %v", err)
	}
	rel2, err := cb.Allow()
	if err != nil {
		t.Fatalf("trial 2 rejected: %v", err)
	}

	// Budget exhausted.
	if _, err := cb.Allow(); err == nil {
		t.Fatal("expected rejection with trial budget exhausted")
	}

	// Releasing one slot admits one more trial.
	rel1()
	rel3, err := cb.Allow()
	if err != nil {
		t.Fatalf("trial after release rejected: %v", err)
	}

	rel2()
	rel3()
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock, Config{FailureThreshold: 3, ResetTimeout: time.Second})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if got := cb.State(); got != CircuitClosed {
		t.Errorf("state = %v, want CLOSED (failures interleaved with success)", got)
	}

	cb.RecordFailure()
	if got := cb.State(); got != CircuitOpen {
		t.Errorf("state = %v, want OPEN after three consecutive failures", got)
	}
}

func TestCircuitBreaker_Execute(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		clock := newFakeClock()
		cb := newTestBreaker(t, clock, Config{FailureThreshold: 2, ResetTimeout: time.Second})

		if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
			t.Errorf("Execute = %v, want nil", err)
		}
		if got := cb.Stats().SuccessCount; got != 1 {
			t.Errorf("success count = %d, want 1", got)
		}
	})

	t.Run("failure propagates and counts", func(t *testing.T) {
		clock := newFakeClock()
		cb := newTestBreaker(t, clock, Config{FailureThreshold: 2, ResetTimeout: time.Second})
		wantErr := errors.New("backend down")

		if err := cb.Execute(context.Background(), func() error { return wantErr }); !errors.Is(err, wantErr) {
			t.Errorf("Execute = %v, want %v", err, wantErr)
		}
		if got := cb.Stats().FailureCount; got != 1 {
			t.Errorf("failure count = %d, want 1", got)
		}
	})

	t.Run("rejected while open", func(t *testing.T) {
		clock := newFakeClock()
		cb := newTestBreaker(t, clock, Config{FailureThreshold: 1, ResetTimeout: time.Minute})
		cb.RecordFailure()

		called := false
		err := cb.Execute(context.Background(), func() error { called = true; return nil })
		if !errors.Is(err, ErrCircuitOpen) {
			t.Errorf("Execute = %v, want ErrCircuitOpen", err)
		}
		if called {
			t.Error("fn must not run when the breaker rejects")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		clock := newFakeClock()
		cb := newTestBreaker(t, clock, DefaultConfig())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := cb.Execute(ctx, func() error { return nil }); !errors.Is(err, context.Canceled) {
			t.Errorf("Execute = %v, want context.Canceled", err)
		}
	})
}

func TestCircuitBreaker_Stats(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock, Config{FailureThreshold: 2, ResetTimeout: time.Minute})

	_, _ = cb.Allow()
	cb.RecordSuccess()
	_, _ = cb.Allow()
	cb.RecordFailure()
	_, _ = cb.Allow()
	cb.RecordFailure()
	_, _ = cb.Allow() // rejected

	stats := cb.Stats()
	if stats.Name != "test-dep" {
		t.Errorf("Name = %q, want test-dep", stats.Name)
	}
	if stats.State != "OPEN" {
		t.Errorf("State = %q, want OPEN", stats.State)
	}
	if stats.FailureCount != 2 {
		t.Errorf("FailureCount = %d, want 2", stats.FailureCount)
	}
	if stats.SuccessCount != 1 {
		t.Errorf("SuccessCount = %d, want 1", stats.SuccessCount)
	}
	if stats.OpenedAt.IsZero() {
		t.Error("OpenedAt should be set while open")
	}
	if stats.TotalCalls != 4 {
		t.Errorf("TotalCalls = %d, want 4", stats.TotalCalls)
	}
	if stats.TotalRejections != 1 {
		t.Errorf("TotalRejections = %d, want 1", stats.TotalRejections)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock, Config{FailureThreshold: 1, ResetTimeout: time.Hour})

	cb.RecordFailure()
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("state = %v, want OPEN", got)
	}

	cb.Reset()

	if got := cb.State(); got != CircuitClosed {
		t.Errorf("state after reset = %v, want CLOSED", got)
	}
	if _, err := cb.Allow(); err != nil {
		t.Errorf("call rejected after reset: %v", err)
	}
	stats := cb.Stats()
	if stats.FailureCount != 0 || stats.SuccessCount != 0 || stats.HalfOpenCalls != 0 {
		t.Errorf("counters not cleared: %+v", stats)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var transitions []string

	cfg := Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		Clock:            clock.Now,
		OnStateChange: func(name string, from, to CircuitState) {
			mu.Lock()
			transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
			mu.Unlock()
		},
	}
	cb, err := NewCircuitBreaker("dep", cfg)
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	cb.RecordFailure()

	// The callback is asynchronous; poll briefly for it.
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(transitions)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != "dep:CLOSED->OPEN" {
		t.Errorf("transitions = %v, want [dep:CLOSED->OPEN]", transitions)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock, Config{FailureThreshold: 5, ResetTimeout: time.Second, HalfOpenMaxCalls: 2})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			release, err := cb.Allow()
			if err != nil {
				return
			}
			if release != nil {
				defer release()
			}
			if n%3 == 0 {
				cb.RecordFailure()
			} else {
				cb.RecordSuccess()
			}
		}(i)
	}
	wg.Wait()

	// No assertion on the final state; the test is the race detector's.
	stats := cb.Stats()
	if stats.TotalCalls != 100 {
		t.Errorf("TotalCalls = %d, want 100", stats.TotalCalls)
	}
	if stats.HalfOpenCalls != 0 {
		t.Errorf("HalfOpenCalls = %d after all releases, want 0", stats.HalfOpenCalls)
	}
}

func TestCircuitBreaker_HalfOpenTrialsNeverExceedBudget(t *testing.T) {
	clock := newFakeClock()
	const budget = 3
	cb := newTestBreaker(t, clock, Config{FailureThreshold: 1, ResetTimeout: time.Second, HalfOpenMaxCalls: budget})

	cb.RecordFailure()
	clock.Advance(2 * time.Second)

	var mu sync.Mutex
	active, peak := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := cb.Allow()
			if err != nil || release == nil {
				return
			}
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if peak > budget {
		t.Errorf("peak concurrent trials = %d, want <= %d", peak, budget)
	}
}
