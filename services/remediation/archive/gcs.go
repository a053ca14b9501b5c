// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// GCSExporter mirrors archived run records to a Google Cloud Storage
// bucket. Records land at "runs/<date>/<run-id>.json" so compliance
// tooling can sweep them by day.
type GCSExporter struct {
	storageClient *storage.Client
	BucketName    string
}

// NewGCSExporter creates a GCS exporter using service account
// credentials.
func NewGCSExporter(ctx context.Context, bucketName, saKeyPath string) (*GCSExporter, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("service account key not found at path: %s. Please ensure you have the correct key and it is accessible", saKeyPath)
	}

	storageClient, err := storage.NewClient(ctx, option.WithCredentialsFile(saKeyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &GCSExporter{
		storageClient: storageClient,
		BucketName:    bucketName,
	}, nil
}

// Export writes the run record as a JSON object in the bucket.
func (e *GCSExporter) Export(ctx context.Context, record datatypes.RunRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode run record %s: %w", record.RunID, err)
	}

	completedAt := record.CompletedAt
	if completedAt.IsZero() {
		completedAt = record.StartedAt
	}
	objectPath := fmt.Sprintf("runs/%s/%s.json", completedAt.UTC().Format("2006-01-02"), record.RunID)

	obj := e.storageClient.Bucket(e.BucketName).Object(objectPath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(encoded); err != nil {
		return fmt.Errorf("failed to write run %s to GCS object %s: %w", record.RunID, objectPath, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", objectPath, err)
	}
	return nil
}

// Close releases the underlying storage client.
func (e *GCSExporter) Close() error {
	return e.storageClient.Close()
}
