// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file defines the error types recorded by the pipeline. Expected
// business outcomes (policy denial, approval rejection, approval timeout)
// are values on the run record, not errors; the types here describe
// infrastructure faults that the pipeline catches and records.

package datatypes

import "fmt"

// ExecutionError wraps a connector failure during EXECUTE. The pipeline
// catches it, attempts a rollback, and records it on the run.
type ExecutionError struct {
	ActionType string
	Resource   string
	Cause      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution of %s on %s failed: %v", e.ActionType, e.Resource, e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// ValidationError describes a failed or unconfirmable post-change
// validation. Recorded on the run; never raised past the pipeline.
type ValidationError struct {
	Resource string
	Detail   string
	Cause    error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation of %s failed: %s: %v", e.Resource, e.Detail, e.Cause)
	}
	return fmt.Sprintf("validation of %s failed: %s", e.Resource, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// RollbackError describes a failed best-effort restore. Recorded on the
// run; the run still terminates deterministically.
type RollbackError struct {
	SnapshotID string
	Cause      error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback from snapshot %s failed: %v", e.SnapshotID, e.Cause)
}

func (e *RollbackError) Unwrap() error {
	return e.Cause
}
