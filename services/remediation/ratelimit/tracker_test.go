// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ratelimit

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickClock() *tickClock {
	return &tickClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *tickClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryTracker_CountsPerEnvironment(t *testing.T) {
	clock := newTickClock()
	tracker := NewMemoryTrackerWithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := tracker.Increment(ctx, "production", "platform"); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}
	if err := tracker.Increment(ctx, "staging", "platform"); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	got, err := tracker.CountRecentActions(ctx, "production")
	if err != nil {
		t.Fatalf("CountRecentActions: %v", err)
	}
	if got != 3 {
		t.Errorf("production count = %d, want 3", got)
	}

	got, _ = tracker.CountRecentActions(ctx, "staging")
	if got != 1 {
		t.Errorf("staging count = %d, want 1", got)
	}

	got, _ = tracker.CountRecentActions(ctx, "development")
	if got != 0 {
		t.Errorf("development count = %d, want 0", got)
	}
}

func TestMemoryTracker_HourWindowExpiry(t *testing.T) {
	clock := newTickClock()
	tracker := NewMemoryTrackerWithClock(clock.Now)
	ctx := context.Background()

	_ = tracker.Increment(ctx, "production", "")
	clock.Advance(30 * time.Minute)
	_ = tracker.Increment(ctx, "production", "")

	got, _ := tracker.CountRecentActions(ctx, "production")
	if got != 2 {
		t.Fatalf("count = %d, want 2 within the hour", got)
	}

	// 31 more minutes: the first increment falls out of the window.
	clock.Advance(31 * time.Minute)
	got, _ = tracker.CountRecentActions(ctx, "production")
	if got != 1 {
		t.Errorf("count = %d, want 1 after first entry expired", got)
	}

	clock.Advance(time.Hour)
	got, _ = tracker.CountRecentActions(ctx, "production")
	if got != 0 {
		t.Errorf("count = %d, want 0 after full expiry", got)
	}
}

func TestMemoryTracker_MinuteWindow(t *testing.T) {
	clock := newTickClock()
	tracker := NewMemoryTrackerWithClock(clock.Now)
	ctx := context.Background()

	_ = tracker.Increment(ctx, "production", "")
	clock.Advance(2 * time.Minute)
	_ = tracker.Increment(ctx, "production", "")
	_ = tracker.Increment(ctx, "production", "")

	minute, _ := tracker.CountRecentActionsMinute(ctx, "production")
	if minute != 2 {
		t.Errorf("minute count = %d, want 2", minute)
	}

	hour, _ := tracker.CountRecentActions(ctx, "production")
	if hour != 3 {
		t.Errorf("hour count = %d, want 3", hour)
	}
}

func TestMemoryTracker_TeamCountsAreScopedToEnvironment(t *testing.T) {
	clock := newTickClock()
	tracker := NewMemoryTrackerWithClock(clock.Now)
	ctx := context.Background()

	_ = tracker.Increment(ctx, "production", "platform")
	_ = tracker.Increment(ctx, "production", "platform")
	_ = tracker.Increment(ctx, "staging", "platform")
	_ = tracker.Increment(ctx, "production", "search")

	got, _ := tracker.CountTeamActions(ctx, "platform", "production")
	if got != 2 {
		t.Errorf("platform/production = %d, want 2", got)
	}
	got, _ = tracker.CountTeamActions(ctx, "platform", "staging")
	if got != 1 {
		t.Errorf("platform/staging = %d, want 1", got)
	}
	got, _ = tracker.CountTeamActions(ctx, "search", "production")
	if got != 1 {
		t.Errorf("search/production = %d, want 1", got)
	}
}

func TestMemoryTracker_EmptyTeamSkipsTeamBucket(t *testing.T) {
	clock := newTickClock()
	tracker := NewMemoryTrackerWithClock(clock.Now)
	ctx := context.Background()

	_ = tracker.Increment(ctx, "production", "")

	got, _ := tracker.CountTeamActions(ctx, "", "production")
	if got != 0 {
		t.Errorf("empty-team bucket = %d, want 0", got)
	}
	env, _ := tracker.CountRecentActions(ctx, "production")
	if env != 1 {
		t.Errorf("environment count = %d, want 1", env)
	}
}

func TestMemoryTracker_ConcurrentIncrements(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tracker.Increment(ctx, "production", "platform")
		}()
	}
	wg.Wait()

	got, _ := tracker.CountRecentActions(ctx, "production")
	if got != 100 {
		t.Errorf("count = %d, want 100", got)
	}
	team, _ := tracker.CountTeamActions(ctx, "platform", "production")
	if team != 100 {
		t.Errorf("team count = %d, want 100", team)
	}
}

func TestInfluxTracker_RejectsUnsafeNames(t *testing.T) {
	// Construction does not dial; validation runs before any query is
	// sent, so no InfluxDB instance is needed here.
	tracker, err := NewInfluxTracker(InfluxConfig{
		URL:    "http://localhost:9",
		Org:    "aleutian",
		Bucket: "ops",
	})
	if err != nil {
		t.Fatalf("NewInfluxTracker: %v", err)
	}
	defer tracker.Close()
	ctx := context.Background()

	if err := tracker.Increment(ctx, `production") |> drop()`, ""); err == nil {
		t.Error("expected injection attempt in environment to be rejected")
	}
	if err := tracker.Increment(ctx, "production", `platform") |> drop()`); err == nil {
		t.Error("expected injection attempt in team to be rejected")
	}
	if _, err := tracker.CountRecentActions(ctx, "bad env"); err == nil {
		t.Error("expected invalid environment to be rejected")
	}
	if _, err := tracker.CountTeamActions(ctx, "bad team", "production"); err == nil {
		t.Error("expected invalid team to be rejected")
	}
}

func TestCountQuery_Shape(t *testing.T) {
	q := countQuery("ops", "production", "platform", HourWindow)

	for _, want := range []string{
		`from(bucket: "ops")`,
		`range(start: -1h0m0s)`,
		`r._measurement == "remediation_actions"`,
		`r.environment == "production"`,
		`r.team == "platform"`,
		`count()`,
	} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}

	q = countQuery("ops", "staging", "", MinuteWindow)
	if strings.Contains(q, "r.team") {
		t.Errorf("team filter present for empty team:\n%s", q)
	}
	if !strings.Contains(q, "range(start: -1m0s)") {
		t.Errorf("minute window missing:\n%s", q)
	}
}
