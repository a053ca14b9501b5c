// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive persists terminal run records for audit.
//
// Every run that reaches a terminal state is written to the local
// BadgerDB archive. When an exporter is configured, the record is also
// mirrored to object storage; export failures are logged but never
// block the pipeline.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	storage "github.com/AleutianAI/AleutianOps/services/remediation/storage/badger"
)

// ErrRunNotFound indicates no archived record exists for a run ID.
var ErrRunNotFound = errors.New("run not found")

// Exporter mirrors archived records to external storage.
type Exporter interface {
	Export(ctx context.Context, record datatypes.RunRecord) error
}

// Archive stores terminal run records.
type Archive struct {
	db       *storage.DB
	exporter Exporter
	logger   *slog.Logger
}

// NewArchive creates a run archive.
//
// Description:
//
//	Wraps an open BadgerDB. The exporter is optional; pass nil to keep
//	records local only.
//
// Inputs:
//
//	db - Open database from the storage/badger package.
//	exporter - Optional external mirror for archived records.
//	logger - Logger for export failures. nil uses slog.Default().
//
// Outputs:
//
//	*Archive - The archive.
//	error - Non-nil if db is nil.
func NewArchive(db *storage.DB, exporter Exporter, logger *slog.Logger) (*Archive, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{db: db, exporter: exporter, logger: logger}, nil
}

func runKey(runID string) []byte {
	return []byte("run/" + runID)
}

func runIndexKey(completedAt time.Time, runID string) []byte {
	return []byte(fmt.Sprintf("runidx/%020d/%s", completedAt.UnixNano(), runID))
}

var runIndexPrefix = []byte("runidx/")

// Save archives a terminal run record.
//
// Description:
//
//	Writes the record and a completion-time index entry, then mirrors
//	it through the exporter if one is configured. Called once per run,
//	when the run reaches a terminal state.
//
// Inputs:
//
//	ctx - Context for the write.
//	record - The terminal run record.
//
// Outputs:
//
//	error - Non-nil only if the local write fails. Export failures are
//	logged and swallowed.
func (a *Archive) Save(ctx context.Context, record datatypes.RunRecord) error {
	if record.RunID == "" {
		return errors.New("record has no run ID")
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}

	completedAt := record.CompletedAt
	if completedAt.IsZero() {
		completedAt = record.StartedAt
	}

	err = a.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(runKey(record.RunID), encoded); err != nil {
			return err
		}
		return txn.Set(runIndexKey(completedAt, record.RunID), []byte(record.RunID))
	})
	if err != nil {
		return fmt.Errorf("archive run %s: %w", record.RunID, err)
	}

	if a.exporter != nil {
		if err := a.exporter.Export(ctx, record); err != nil {
			a.logger.Warn("run record export failed",
				slog.String("run_id", record.RunID),
				slog.String("error", err.Error()))
		}
	}

	return nil
}

// Get returns an archived run record by ID.
func (a *Archive) Get(ctx context.Context, runID string) (datatypes.RunRecord, error) {
	var record datatypes.RunRecord

	err := a.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return datatypes.RunRecord{}, fmt.Errorf("read run %s: %w", runID, err)
	}

	return record, nil
}

// Recent returns archived run records, most recently completed first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]datatypes.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var ids []string
	err := a.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = runIndexPrefix
		opts.PrefetchValues = true
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must seek past the prefix range first.
		seek := append(append([]byte{}, runIndexPrefix...), 0xFF)
		for it.Seek(seek); it.Valid() && len(ids) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	records := make([]datatypes.RunRecord, 0, len(ids))
	for _, id := range ids {
		record, err := a.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}
