// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot captures pre-change resource state and restores it
// during rollback.
//
// Before a remediation mutates a resource, the pipeline captures the
// resource's current state through a StateSource and persists it as a
// rollback point. If execution fails, the same snapshot is pushed back
// through the StateSource to restore the resource.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// ErrNoState indicates the resource's current state could not be read,
// so no rollback point exists.
var ErrNoState = errors.New("resource state unavailable")

// StateSource reads and writes the live state of a managed resource.
// The platform connector implements this against the managed system.
type StateSource interface {
	// ReadState returns the current state document for a resource.
	ReadState(ctx context.Context, resourceID string) (json.RawMessage, error)

	// WriteState replaces a resource's state with a previously
	// captured document.
	WriteState(ctx context.Context, resourceID string, state json.RawMessage) error
}

// Store captures and restores resource snapshots.
type Store interface {
	// Capture reads the resource's current state and persists it as a
	// rollback point. Returns ErrNoState (wrapped) if the state cannot
	// be read.
	Capture(ctx context.Context, resourceID string) (datatypes.Snapshot, error)

	// Restore writes a captured snapshot back to the resource.
	// Returns true only if the resource accepted the restore.
	Restore(ctx context.Context, snap datatypes.Snapshot) (bool, error)
}

// MemoryStore keeps captured snapshots in memory. Rollback points do
// not survive a process restart; production deployments use BadgerStore.
type MemoryStore struct {
	source StateSource

	mu         sync.Mutex
	byResource map[string][]datatypes.Snapshot
	now        func() time.Time
}

// NewMemoryStore creates an in-memory snapshot store backed by the
// given state source.
func NewMemoryStore(source StateSource) *MemoryStore {
	return NewMemoryStoreWithClock(source, time.Now)
}

// NewMemoryStoreWithClock creates an in-memory snapshot store with an
// injectable clock for tests.
func NewMemoryStoreWithClock(source StateSource, now func() time.Time) *MemoryStore {
	return &MemoryStore{
		source:     source,
		byResource: make(map[string][]datatypes.Snapshot),
		now:        now,
	}
}

// Capture reads the resource's current state and records it.
func (s *MemoryStore) Capture(ctx context.Context, resourceID string) (datatypes.Snapshot, error) {
	state, err := s.source.ReadState(ctx, resourceID)
	if err != nil {
		return datatypes.Snapshot{}, fmt.Errorf("%w: %s: %v", ErrNoState, resourceID, err)
	}

	snap := datatypes.Snapshot{
		ID:         uuid.NewString(),
		ResourceID: resourceID,
		CapturedAt: s.now().UTC(),
		State:      state,
	}

	s.mu.Lock()
	s.byResource[resourceID] = append(s.byResource[resourceID], snap)
	s.mu.Unlock()

	return snap, nil
}

// Restore writes the snapshot's state back to the resource.
func (s *MemoryStore) Restore(ctx context.Context, snap datatypes.Snapshot) (bool, error) {
	if len(snap.State) == 0 {
		return false, &datatypes.RollbackError{
			SnapshotID: snap.ID,
			Cause:      errors.New("snapshot has no state to restore"),
		}
	}
	if err := s.source.WriteState(ctx, snap.ResourceID, snap.State); err != nil {
		return false, &datatypes.RollbackError{SnapshotID: snap.ID, Cause: err}
	}
	return true, nil
}

// History returns captured snapshots for a resource, oldest first.
func (s *MemoryStore) History(resourceID string) []datatypes.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]datatypes.Snapshot, len(s.byResource[resourceID]))
	copy(out, s.byResource[resourceID])
	return out
}
