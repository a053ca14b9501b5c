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
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownBreaker is returned for administrative operations on a
// dependency name that was never registered.
var ErrUnknownBreaker = errors.New("unknown circuit breaker")

// Registry manages one circuit breaker per named external dependency.
//
// # Description
//
// All callers that guard calls to the same dependency share one breaker
// instance, obtained by name from the registry. The registry is
// constructed once during service assembly and passed by reference to
// every component that performs guarded calls; there is no package-level
// instance.
//
// # Thread Safety
//
// Registry is safe for concurrent use.
//
// # Example
//
//	registry, _ := NewRegistry(DefaultConfig())
//	cb := registry.Get("policy-service")
//	err := cb.Execute(ctx, func() error { ... })
type Registry struct {
	defaultConfig Config
	breakers      map[string]*CircuitBreaker
	mu            sync.RWMutex
}

// NewRegistry creates an empty registry.
//
// # Inputs
//
//   - defaultConfig: Configuration applied to breakers created by Get.
//     Negative values are rejected.
//
// # Outputs
//
//   - *Registry: New empty registry.
//   - error: Configuration error.
func NewRegistry(defaultConfig Config) (*Registry, error) {
	if err := defaultConfig.validate(); err != nil {
		return nil, err
	}
	return &Registry{
		defaultConfig: defaultConfig,
		breakers:      make(map[string]*CircuitBreaker),
	}, nil
}

// Register creates the breaker for a dependency with a specific config.
//
// # Description
//
// Idempotent: if the name is already registered, the existing breaker is
// returned and the new config is ignored. The first registration wins so
// that every caller referencing a dependency name shares identical
// breaker behavior.
//
// # Inputs
//
//   - name: Dependency name.
//   - config: Configuration for the new breaker.
//
// # Outputs
//
//   - *CircuitBreaker: The breaker for this dependency (existing or new).
//   - error: Configuration error when creating a new breaker.
func (r *Registry) Register(name string, config Config) (*CircuitBreaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, exists := r.breakers[name]; exists {
		return cb, nil
	}

	cb, err := NewCircuitBreaker(name, config)
	if err != nil {
		return nil, err
	}
	r.breakers[name] = cb
	return cb, nil
}

// Get returns the breaker for a dependency, creating it with the
// registry's default config if needed.
//
// # Inputs
//
//   - name: Dependency name (used as key).
//
// # Outputs
//
//   - *CircuitBreaker: The breaker for this dependency.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, exists := r.breakers[name]
	r.mu.RUnlock()

	if exists {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	// Default config was validated at registry construction; creation
	// cannot fail here.
	cb, err := NewCircuitBreaker(name, r.defaultConfig)
	if err != nil {
		panic(fmt.Sprintf("registry default config invalid after validation: %v", err))
	}
	r.breakers[name] = cb
	return cb
}

// List returns the registered dependency names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset forces one breaker back to closed.
//
// # Outputs
//
//   - error: ErrUnknownBreaker if the name was never registered.
func (r *Registry) Reset(name string) error {
	r.mu.RLock()
	cb, exists := r.breakers[name]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %q", ErrUnknownBreaker, name)
	}
	cb.Reset()
	return nil
}

// ResetAll resets every breaker in the registry.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// Stats returns a snapshot of every breaker, keyed by dependency name.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]Stats, len(r.breakers))
	for name, cb := range r.breakers {
		result[name] = cb.Stats()
	}
	return result
}
