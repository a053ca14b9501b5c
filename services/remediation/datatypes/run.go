// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains the pipeline run record and its component outcomes:
// the policy decision, the approval decision, the captured snapshot, and
// the per-step timeline. One RunRecord is the complete audit trail of one
// remediation attempt.

package datatypes

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Run States
// =============================================================================

// RunState identifies a stage or terminal outcome of a remediation run.
//
// Active states advance in fixed forward order; terminal states end the
// run. The pipeline's transition table is the single authority on which
// transitions are legal.
type RunState string

const (
	// RunInit is the initial state before any stage has run.
	RunInit RunState = "INIT"

	// RunPolicyCheck is the mandatory authorization gate.
	RunPolicyCheck RunState = "POLICY_CHECK"

	// RunRiskAssess determines risk level, reversibility, and blast radius.
	RunRiskAssess RunState = "RISK_ASSESS"

	// RunAwaitApproval blocks on the human approval gate.
	RunAwaitApproval RunState = "AWAIT_APPROVAL"

	// RunSnapshot captures pre-change state for rollback.
	RunSnapshot RunState = "SNAPSHOT"

	// RunExecute performs the change through the connector.
	RunExecute RunState = "EXECUTE"

	// RunValidate confirms the change via the connector's health check.
	RunValidate RunState = "VALIDATE"

	// RunComplete is the successful terminal state.
	RunComplete RunState = "COMPLETE"

	// RunDenied is the terminal state for a policy denial.
	RunDenied RunState = "DENIED"

	// RunBlocked is the terminal state for a run halted before execution:
	// approval rejected or timed out, or a required snapshot could not be
	// captured.
	RunBlocked RunState = "BLOCKED"

	// RunRollbackAttempted is the terminal state after an execution error
	// with a best-effort restore from snapshot.
	RunRollbackAttempted RunState = "ROLLBACK_ATTEMPTED"

	// RunFlaggedForRollback is the terminal state for a completed change
	// that failed post-change validation. No automatic rollback occurs.
	RunFlaggedForRollback RunState = "FLAGGED_FOR_ROLLBACK"
)

// String returns the state name.
func (s RunState) String() string {
	return string(s)
}

// IsTerminal reports whether the state ends a run.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunComplete, RunDenied, RunBlocked, RunRollbackAttempted, RunFlaggedForRollback:
		return true
	default:
		return false
	}
}

// AllRunStates returns every defined run state.
func AllRunStates() []RunState {
	return []RunState{
		RunInit,
		RunPolicyCheck,
		RunRiskAssess,
		RunAwaitApproval,
		RunSnapshot,
		RunExecute,
		RunValidate,
		RunComplete,
		RunDenied,
		RunBlocked,
		RunRollbackAttempted,
		RunFlaggedForRollback,
	}
}

// =============================================================================
// Stage Outcomes
// =============================================================================

// PolicyDecision is the outcome of the authorization gate.
//
// A denial is a normal outcome, not an error: the decision carries the
// reasons in the order the policy service (or the local guardrails, or
// the fail-closed default) produced them, and the run record preserves
// them verbatim for audit.
type PolicyDecision struct {
	Allowed     bool      `json:"allowed"`
	Reasons     []string  `json:"reasons"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// ApprovalStatus is the result of the human approval gate.
type ApprovalStatus string

const (
	ApprovalApproved    ApprovalStatus = "APPROVED"
	ApprovalRejected    ApprovalStatus = "REJECTED"
	ApprovalTimedOut    ApprovalStatus = "TIMED_OUT"
	ApprovalNotRequired ApprovalStatus = "NOT_REQUIRED"
)

// ApprovalDecision records the outcome of one approval request.
// REJECTED and TIMED_OUT both block execution; the distinction is
// preserved here, never collapsed.
type ApprovalDecision struct {
	Status    ApprovalStatus `json:"status"`
	DecidedBy string         `json:"decided_by,omitempty"`
	Comment   string         `json:"comment,omitempty"`
	DecidedAt time.Time      `json:"decided_at,omitempty"`
}

// Snapshot is captured pre-change state of a resource. The rollback path
// references a snapshot by value; it never re-captures.
type Snapshot struct {
	ID         string          `json:"id"`
	ResourceID string          `json:"resource_id"`
	CapturedAt time.Time       `json:"captured_at"`
	State      json.RawMessage `json:"state,omitempty"`
}

// ExecutionOutcome is what the connector reports for a completed execute
// call. Observed carries connector-specific detail (pods restarted,
// revision rolled back to, and so on).
type ExecutionOutcome struct {
	Status      string         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Observed    map[string]any `json:"observed,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

// HealthRecord is the connector's view of a resource's health, used for
// post-change validation and for snapshot capture.
type HealthRecord struct {
	ResourceID string         `json:"resource_id"`
	Healthy    bool           `json:"healthy"`
	Status     string         `json:"status,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CheckedAt  time.Time      `json:"checked_at"`
}

// =============================================================================
// Run Record
// =============================================================================

// StepRecord is one entry in a run's timeline.
type StepRecord struct {
	Step      RunState  `json:"step"`
	EnteredAt time.Time `json:"entered_at"`
	Detail    string    `json:"detail,omitempty"`
}

// RunRecord is the aggregate audit record of one remediation run.
//
// # Ownership
//
// A RunRecord is created at pipeline start and mutated exclusively by the
// pipeline for the run's lifetime. Everything outside the pipeline (the
// HTTP surface, the archive, the CLI) receives copies. Each stage's
// output field is written once and immutable thereafter.
//
// # Fields
//
//   - RunID: Unique run identifier.
//   - Action: The submitted action, verbatim.
//   - AgentID: The requesting agent.
//   - CurrentStep: Where the run is, or its terminal outcome.
//   - Steps: Timeline of every state entered, in order.
//   - PolicyResult: Authorization outcome. Always set past POLICY_CHECK.
//   - Risk: Risk assessment. Always set past RISK_ASSESS.
//   - Approval: Approval outcome. Status NOT_REQUIRED below the gate
//     threshold.
//   - Snapshot: Captured pre-change state, nil when capture was skipped.
//   - SnapshotNote: Why no snapshot exists, when one was skipped.
//   - Execution: Connector outcome for a successful execute call.
//   - ValidationPassed: Post-change validation verdict. Nil until
//     VALIDATE runs.
//   - RollbackAttempted/RollbackSucceeded/RollbackError: Best-effort
//     restore bookkeeping after an execution error.
//   - Error: Terminal diagnostic for failed runs.
type RunRecord struct {
	RunID       string            `json:"run_id"`
	Action      RemediationAction `json:"action"`
	AgentID     string            `json:"agent_id,omitempty"`
	CurrentStep RunState          `json:"current_step"`
	Steps       []StepRecord      `json:"steps"`

	PolicyResult *PolicyDecision   `json:"policy_result,omitempty"`
	Risk         *RiskAssessment   `json:"risk,omitempty"`
	Approval     *ApprovalDecision `json:"approval,omitempty"`
	Snapshot     *Snapshot         `json:"snapshot,omitempty"`
	SnapshotNote string            `json:"snapshot_note,omitempty"`
	Execution    *ExecutionOutcome `json:"execution,omitempty"`

	ValidationPassed  *bool  `json:"validation_passed,omitempty"`
	RollbackAttempted bool   `json:"rollback_attempted,omitempty"`
	RollbackSucceeded bool   `json:"rollback_succeeded,omitempty"`
	RollbackError     string `json:"rollback_error,omitempty"`
	Error             string `json:"error,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
}

// Clone returns a deep copy of the record safe to hand outside the
// pipeline while the run is still mutating.
func (r *RunRecord) Clone() RunRecord {
	out := *r

	out.Steps = append([]StepRecord(nil), r.Steps...)
	if r.PolicyResult != nil {
		pd := *r.PolicyResult
		pd.Reasons = append([]string(nil), r.PolicyResult.Reasons...)
		out.PolicyResult = &pd
	}
	if r.Risk != nil {
		ra := *r.Risk
		ra.Reasons = append([]string(nil), r.Risk.Reasons...)
		out.Risk = &ra
	}
	if r.Approval != nil {
		ad := *r.Approval
		out.Approval = &ad
	}
	if r.Snapshot != nil {
		sn := *r.Snapshot
		sn.State = append(json.RawMessage(nil), r.Snapshot.State...)
		out.Snapshot = &sn
	}
	if r.Execution != nil {
		ex := *r.Execution
		out.Execution = &ex
	}
	if r.ValidationPassed != nil {
		v := *r.ValidationPassed
		out.ValidationPassed = &v
	}
	return out
}
