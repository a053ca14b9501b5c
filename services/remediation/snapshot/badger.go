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
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	storage "github.com/AleutianAI/AleutianOps/services/remediation/storage/badger"
)

// DefaultKeepPerResource is how many rollback points are retained per
// resource before the oldest are pruned.
const DefaultKeepPerResource = 5

// BadgerStore persists captured snapshots in BadgerDB so rollback
// points survive a gateway restart.
//
// Keys are "snapshot/<resource>/<capture-time>" with the capture time
// zero-padded so lexicographic key order matches capture order.
type BadgerStore struct {
	db     *storage.DB
	source StateSource
	keep   int
	now    func() time.Time
}

// BadgerStoreConfig configures snapshot retention.
type BadgerStoreConfig struct {
	// KeepPerResource is how many snapshots to retain per resource.
	// Default: DefaultKeepPerResource.
	KeepPerResource int

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// NewBadgerStore creates a durable snapshot store.
//
// Description:
//
//	Wraps an open BadgerDB and a state source. Capture persists the
//	snapshot before returning it; Restore pushes the state back
//	through the source.
//
// Inputs:
//
//	db - Open database from the storage/badger package.
//	source - Live state reader/writer for managed resources.
//	cfg - Retention configuration. Zero values take defaults.
//
// Outputs:
//
//	*BadgerStore - The store.
//	error - Non-nil if db or source is nil.
func NewBadgerStore(db *storage.DB, source StateSource, cfg BadgerStoreConfig) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if source == nil {
		return nil, errors.New("state source is required")
	}
	keep := cfg.KeepPerResource
	if keep <= 0 {
		keep = DefaultKeepPerResource
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &BadgerStore{db: db, source: source, keep: keep, now: now}, nil
}

func snapshotKey(resourceID string, capturedAt time.Time) []byte {
	return []byte(fmt.Sprintf("snapshot/%s/%020d", resourceID, capturedAt.UnixNano()))
}

func snapshotPrefix(resourceID string) []byte {
	return []byte(fmt.Sprintf("snapshot/%s/", resourceID))
}

// Capture reads the resource's current state, persists it, and prunes
// snapshots beyond the retention limit.
func (s *BadgerStore) Capture(ctx context.Context, resourceID string) (datatypes.Snapshot, error) {
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

	encoded, err := json.Marshal(snap)
	if err != nil {
		return datatypes.Snapshot{}, fmt.Errorf("encode snapshot: %w", err)
	}

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(resourceID, snap.CapturedAt), encoded)
	})
	if err != nil {
		return datatypes.Snapshot{}, fmt.Errorf("persist snapshot: %w", err)
	}

	if err := s.prune(ctx, resourceID); err != nil {
		// Retention is best effort; the new snapshot is already durable.
		return snap, nil
	}

	return snap, nil
}

// Restore writes the snapshot's state back to the resource.
func (s *BadgerStore) Restore(ctx context.Context, snap datatypes.Snapshot) (bool, error) {
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

// History returns persisted snapshots for a resource, oldest first.
func (s *BadgerStore) History(ctx context.Context, resourceID string) ([]datatypes.Snapshot, error) {
	var out []datatypes.Snapshot

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = snapshotPrefix(resourceID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var snap datatypes.Snapshot
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			})
			if err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}
			out = append(out, snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// prune deletes the oldest snapshots beyond the retention limit.
func (s *BadgerStore) prune(ctx context.Context, resourceID string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = snapshotPrefix(resourceID)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}

		if len(keys) <= s.keep {
			return nil
		}
		for _, key := range keys[:len(keys)-s.keep] {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
