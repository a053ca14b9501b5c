// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ratelimit tracks recent remediation activity per environment
// and team. The policy engine enriches authorization requests with these
// counts and increments them after each allowed action; the counts are
// advisory context for the policy service, not a second gate.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window durations for the sliding counters.
const (
	// HourWindow is the span CountRecentActions and CountTeamActions
	// cover.
	HourWindow = time.Hour

	// MinuteWindow is the span CountRecentActionsMinute covers.
	MinuteWindow = time.Minute
)

// Tracker counts recent remediation actions.
//
// Implementations must be safe for concurrent use. Counting and
// incrementing are separate so the policy engine can enrich a request
// without recording an action that may still be denied.
type Tracker interface {
	// CountRecentActions returns actions recorded for the environment
	// within the last hour.
	CountRecentActions(ctx context.Context, environment string) (int, error)

	// CountRecentActionsMinute returns actions recorded for the
	// environment within the last minute.
	CountRecentActionsMinute(ctx context.Context, environment string) (int, error)

	// CountTeamActions returns actions recorded for the team in the
	// environment within the last hour.
	CountTeamActions(ctx context.Context, team, environment string) (int, error)

	// Increment records one allowed action for the environment and team.
	// An empty team records only the environment counter.
	Increment(ctx context.Context, environment, team string) error
}

// MemoryTracker is an in-process sliding-window Tracker.
//
// # Description
//
// Timestamps are kept per environment and per team+environment pair and
// pruned lazily on every read and write. Suitable for single-replica
// deployments; multi-replica gateways share counts through the InfluxDB
// tracker instead.
//
// # Thread Safety
//
// MemoryTracker is safe for concurrent use.
type MemoryTracker struct {
	mu     sync.Mutex
	byEnv  map[string][]time.Time
	byTeam map[string][]time.Time
	now    func() time.Time
}

// NewMemoryTracker creates an empty in-process tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		byEnv:  make(map[string][]time.Time),
		byTeam: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// NewMemoryTrackerWithClock creates a tracker with an injected time
// source for tests.
func NewMemoryTrackerWithClock(clock func() time.Time) *MemoryTracker {
	t := NewMemoryTracker()
	t.now = clock
	return t
}

// teamKey joins team and environment into one bucket key.
func teamKey(team, environment string) string {
	return team + "|" + environment
}

// pruneLocked drops timestamps older than the hour window from a bucket.
// Must be called with the lock held.
func (t *MemoryTracker) pruneLocked(bucket []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(bucket) && !bucket[i].After(cutoff) {
		i++
	}
	return bucket[i:]
}

// countSince counts entries newer than the cutoff in an already pruned
// bucket. Entries are appended in time order, so a linear scan from the
// back stays cheap for the minute window.
func countSince(bucket []time.Time, cutoff time.Time) int {
	n := 0
	for i := len(bucket) - 1; i >= 0; i-- {
		if !bucket[i].After(cutoff) {
			break
		}
		n++
	}
	return n
}

// CountRecentActions returns actions recorded for the environment within
// the last hour.
func (t *MemoryTracker) CountRecentActions(_ context.Context, environment string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.byEnv[environment] = t.pruneLocked(t.byEnv[environment], now.Add(-HourWindow))
	return len(t.byEnv[environment]), nil
}

// CountRecentActionsMinute returns actions recorded for the environment
// within the last minute.
func (t *MemoryTracker) CountRecentActionsMinute(_ context.Context, environment string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.byEnv[environment] = t.pruneLocked(t.byEnv[environment], now.Add(-HourWindow))
	return countSince(t.byEnv[environment], now.Add(-MinuteWindow)), nil
}

// CountTeamActions returns actions recorded for the team in the
// environment within the last hour.
func (t *MemoryTracker) CountTeamActions(_ context.Context, team, environment string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := teamKey(team, environment)
	t.byTeam[key] = t.pruneLocked(t.byTeam[key], t.now().Add(-HourWindow))
	return len(t.byTeam[key]), nil
}

// Increment records one allowed action.
func (t *MemoryTracker) Increment(_ context.Context, environment, team string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-HourWindow)

	t.byEnv[environment] = append(t.pruneLocked(t.byEnv[environment], cutoff), now)
	if team != "" {
		key := teamKey(team, environment)
		t.byTeam[key] = append(t.pruneLocked(t.byTeam[key], cutoff), now)
	}
	return nil
}
