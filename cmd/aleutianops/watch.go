// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianOps/pkg/ux"
	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// maxConsecutivePollErrors is how many failed polls in a row end a watch.
// A single blip while the gateway restarts a connection should not kill
// an operator's follow of a live run.
const maxConsecutivePollErrors = 3

// watchRun polls the gateway until the run reaches a terminal state,
// driving the renderer with each observed transition.
//
// Inputs:
//   - ctx: Bounds the whole watch. Cancellation returns ctx.Err().
//   - client: Gateway API client.
//   - runID: The run to follow.
//   - renderer: Receives progress callbacks. The caller finalizes it.
//   - interval: Poll spacing.
//
// Outputs:
//   - datatypes.RunRecord: The last fetched record.
//   - error: Poll failure or context cancellation. A run that terminates
//     unsuccessfully is not an error; inspect the record.
func watchRun(ctx context.Context, client *gatewayClient, runID string, renderer ux.RunRenderer, interval time.Duration) (datatypes.RunRecord, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		lastRecord       datatypes.RunRecord
		seenSteps        int
		decisionRendered bool
		pollErrors       int
	)

	for {
		record, err := client.getRun(ctx, runID)
		if err != nil {
			pollErrors++
			if ctx.Err() != nil {
				return lastRecord, ctx.Err()
			}
			if pollErrors >= maxConsecutivePollErrors {
				return lastRecord, fmt.Errorf("watch run %s: %w", runID, err)
			}
		} else {
			pollErrors = 0
			lastRecord = record

			for _, step := range record.Steps[seenSteps:] {
				renderStep(ctx, client, record, step, renderer)
			}
			seenSteps = len(record.Steps)

			if !decisionRendered && approvalDecided(record.Approval) {
				decisionRendered = true
				renderer.OnDecision(string(record.Approval.Status), record.Approval.DecidedBy)
			}

			if record.CurrentStep.IsTerminal() {
				renderer.OnOutcome(outcomeFromRecord(record))
				return record, nil
			}
		}

		select {
		case <-ctx.Done():
			return lastRecord, ctx.Err()
		case <-ticker.C:
		}
	}
}

// renderStep routes one timeline entry to the renderer. The approval
// wait gets its dedicated callback, and terminal states are left to
// OnOutcome so the summary is not printed twice.
func renderStep(ctx context.Context, client *gatewayClient, record datatypes.RunRecord, step datatypes.StepRecord, renderer ux.RunRenderer) {
	switch {
	case step.Step == datatypes.RunAwaitApproval:
		requestID, expiresAt := lookupApprovalRequest(ctx, client, record.Action.ID)
		level := ""
		if record.Risk != nil {
			level = string(record.Risk.Level)
		}
		renderer.OnAwaitApproval(requestID, level, expiresAt)
	case step.Step.IsTerminal():
		// OnOutcome covers it.
	default:
		renderer.OnStep(string(step.Step), step.Detail)
	}
}

// lookupApprovalRequest finds the pending approval created for an
// action. Best effort: the request may already be resolved by the time
// we look, and the wait renders fine without an ID.
func lookupApprovalRequest(ctx context.Context, client *gatewayClient, actionID string) (string, time.Time) {
	pending, err := client.pendingApprovals(ctx)
	if err != nil {
		return "", time.Time{}
	}
	for _, req := range pending.Pending {
		if req.Action.ID == actionID {
			return req.ID, req.ExpiresAt
		}
	}
	return "", time.Time{}
}

// approvalDecided reports whether the record carries an operator (or
// timeout) verdict worth rendering. NOT_REQUIRED runs never announce.
func approvalDecided(approval *datatypes.ApprovalDecision) bool {
	if approval == nil {
		return false
	}
	switch approval.Status {
	case datatypes.ApprovalApproved, datatypes.ApprovalRejected, datatypes.ApprovalTimedOut:
		return true
	default:
		return false
	}
}

// outcomeFromRecord flattens a terminal record into the renderer's
// outcome summary.
func outcomeFromRecord(record datatypes.RunRecord) ux.RunOutcome {
	return ux.RunOutcome{
		RunID:             record.RunID,
		State:             string(record.CurrentStep),
		Error:             record.Error,
		ValidationPassed:  record.ValidationPassed,
		RollbackAttempted: record.RollbackAttempted,
		RollbackSucceeded: record.RollbackSucceeded,
		RollbackError:     record.RollbackError,
		DurationMs:        record.DurationMs,
	}
}

// exitCodeForState maps a terminal run state onto the CLI contract:
// success exits 0, any halted or degraded outcome exits 1.
func exitCodeForState(state datatypes.RunState) int {
	if state == datatypes.RunComplete {
		return exitSuccess
	}
	return exitFailure
}
