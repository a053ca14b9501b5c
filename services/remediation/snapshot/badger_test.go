// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	storage "github.com/AleutianAI/AleutianOps/services/remediation/storage/badger"
)

func newTestBadgerStore(t *testing.T, source StateSource, cfg BadgerStoreConfig) *BadgerStore {
	t.Helper()

	db, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewBadgerStore(db, source, cfg)
	if err != nil {
		t.Fatalf("NewBadgerStore() error = %v", err)
	}
	return store
}

func TestNewBadgerStore_Validation(t *testing.T) {
	if _, err := NewBadgerStore(nil, newFakeSource(), BadgerStoreConfig{}); err == nil {
		t.Error("expected error for nil db")
	}

	db, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer db.Close()

	if _, err := NewBadgerStore(db, nil, BadgerStoreConfig{}); err == nil {
		t.Error("expected error for nil source")
	}
}

func TestBadgerStore_CaptureAndHistory(t *testing.T) {
	source := newFakeSource()
	source.states["web-frontend"] = json.RawMessage(`{"replicas":3}`)

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newTestBadgerStore(t, source, BadgerStoreConfig{
		Clock: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})

	ctx := context.Background()
	snap, err := store.Capture(ctx, "web-frontend")
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if snap.ID == "" {
		t.Error("Capture() returned empty snapshot ID")
	}

	source.states["web-frontend"] = json.RawMessage(`{"replicas":5}`)
	if _, err := store.Capture(ctx, "web-frontend"); err != nil {
		t.Fatalf("second Capture() error = %v", err)
	}

	history, err := store.History(ctx, "web-frontend")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() returned %d snapshots, want 2", len(history))
	}
	if string(history[0].State) != `{"replicas":3}` {
		t.Errorf("oldest snapshot state = %s, want replicas:3", history[0].State)
	}
	if string(history[1].State) != `{"replicas":5}` {
		t.Errorf("newest snapshot state = %s, want replicas:5", history[1].State)
	}
	if !history[0].CapturedAt.Before(history[1].CapturedAt) {
		t.Error("History() is not ordered oldest first")
	}
}

func TestBadgerStore_PrunesOldSnapshots(t *testing.T) {
	source := newFakeSource()

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newTestBadgerStore(t, source, BadgerStoreConfig{
		KeepPerResource: 2,
		Clock: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})

	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		source.states["db-primary"] = json.RawMessage(fmt.Sprintf(`{"version":%d}`, i))
		if _, err := store.Capture(ctx, "db-primary"); err != nil {
			t.Fatalf("Capture() #%d error = %v", i, err)
		}
	}

	history, err := store.History(ctx, "db-primary")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() returned %d snapshots after prune, want 2", len(history))
	}
	if string(history[0].State) != `{"version":3}` || string(history[1].State) != `{"version":4}` {
		t.Errorf("pruned history = %s, %s; want versions 3 and 4",
			history[0].State, history[1].State)
	}
}

func TestBadgerStore_PruneScopedToResource(t *testing.T) {
	source := newFakeSource()
	store := newTestBadgerStore(t, source, BadgerStoreConfig{KeepPerResource: 1})

	ctx := context.Background()
	source.states["svc-a"] = json.RawMessage(`{"a":1}`)
	source.states["svc-b"] = json.RawMessage(`{"b":1}`)

	if _, err := store.Capture(ctx, "svc-a"); err != nil {
		t.Fatalf("Capture(svc-a) error = %v", err)
	}
	if _, err := store.Capture(ctx, "svc-b"); err != nil {
		t.Fatalf("Capture(svc-b) error = %v", err)
	}

	for _, resource := range []string{"svc-a", "svc-b"} {
		history, err := store.History(ctx, resource)
		if err != nil {
			t.Fatalf("History(%s) error = %v", resource, err)
		}
		if len(history) != 1 {
			t.Errorf("History(%s) returned %d snapshots, want 1", resource, len(history))
		}
	}
}

func TestBadgerStore_Capture_SourceUnavailable(t *testing.T) {
	source := newFakeSource()
	source.readErr = errors.New("connection refused")
	store := newTestBadgerStore(t, source, BadgerStoreConfig{})

	_, err := store.Capture(context.Background(), "web-frontend")
	if !errors.Is(err, ErrNoState) {
		t.Fatalf("Capture() error = %v, want ErrNoState", err)
	}

	history, err := store.History(context.Background(), "web-frontend")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Errorf("History() returned %d snapshots after failed capture, want 0", len(history))
	}
}

func TestBadgerStore_Restore(t *testing.T) {
	source := newFakeSource()
	source.states["web-frontend"] = json.RawMessage(`{"replicas":1}`)
	store := newTestBadgerStore(t, source, BadgerStoreConfig{})

	ctx := context.Background()
	snap, err := store.Capture(ctx, "web-frontend")
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	source.states["web-frontend"] = json.RawMessage(`{"replicas":0}`)

	ok, err := store.Restore(ctx, snap)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !ok {
		t.Error("Restore() = false, want true")
	}
	if string(source.states["web-frontend"]) != `{"replicas":1}` {
		t.Errorf("resource state = %s, want captured state", source.states["web-frontend"])
	}
}
