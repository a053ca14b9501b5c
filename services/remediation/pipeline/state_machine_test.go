// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from datatypes.RunState
		to   datatypes.RunState
		want bool
	}{
		{"init to policy check", datatypes.RunInit, datatypes.RunPolicyCheck, true},
		{"policy check to denied", datatypes.RunPolicyCheck, datatypes.RunDenied, true},
		{"policy check to risk assess", datatypes.RunPolicyCheck, datatypes.RunRiskAssess, true},
		{"risk assess to approval", datatypes.RunRiskAssess, datatypes.RunAwaitApproval, true},
		{"risk assess to snapshot", datatypes.RunRiskAssess, datatypes.RunSnapshot, true},
		{"approval to snapshot", datatypes.RunAwaitApproval, datatypes.RunSnapshot, true},
		{"approval to blocked", datatypes.RunAwaitApproval, datatypes.RunBlocked, true},
		{"snapshot to execute", datatypes.RunSnapshot, datatypes.RunExecute, true},
		{"snapshot to blocked", datatypes.RunSnapshot, datatypes.RunBlocked, true},
		{"execute to validate", datatypes.RunExecute, datatypes.RunValidate, true},
		{"execute to rollback attempted", datatypes.RunExecute, datatypes.RunRollbackAttempted, true},
		{"validate to complete", datatypes.RunValidate, datatypes.RunComplete, true},
		{"validate to flagged", datatypes.RunValidate, datatypes.RunFlaggedForRollback, true},

		{"no skipping policy", datatypes.RunInit, datatypes.RunRiskAssess, false},
		{"no skipping snapshot", datatypes.RunRiskAssess, datatypes.RunExecute, false},
		{"no denial after risk assess", datatypes.RunRiskAssess, datatypes.RunDenied, false},
		{"no backward move", datatypes.RunExecute, datatypes.RunPolicyCheck, false},
		{"terminal states are final", datatypes.RunComplete, datatypes.RunPolicyCheck, false},
		{"blocked is final", datatypes.RunBlocked, datatypes.RunSnapshot, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestNextStates_TerminalStatesHaveNoSuccessors(t *testing.T) {
	for _, state := range datatypes.AllRunStates() {
		next := NextStates(state)
		if state.IsTerminal() && len(next) != 0 {
			t.Errorf("terminal state %s has successors %v", state, next)
		}
		if !state.IsTerminal() && len(next) == 0 {
			t.Errorf("active state %s has no successors", state)
		}
	}
}

func TestActiveRun_Advance(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	run := newActiveRun(datatypes.RemediationAction{
		ActionType:     datatypes.ActionRestartPod,
		TargetResource: "default/api-server",
		Environment:    "production",
	}, "agent-1", now)

	record := run.view()
	if record.CurrentStep != datatypes.RunInit {
		t.Fatalf("CurrentStep = %s, want INIT", record.CurrentStep)
	}
	if record.RunID == "" {
		t.Fatal("RunID not assigned")
	}
	if len(record.Steps) != 1 || record.Steps[0].Step != datatypes.RunInit {
		t.Fatalf("Steps = %v, want single INIT entry", record.Steps)
	}

	if err := run.advance(datatypes.RunPolicyCheck, ""); err != nil {
		t.Fatalf("advance(POLICY_CHECK) error = %v", err)
	}

	err := run.advance(datatypes.RunExecute, "")
	var transErr *TransitionError
	if !errors.As(err, &transErr) {
		t.Fatalf("advance(EXECUTE) error = %v, want TransitionError", err)
	}
	if transErr.From != datatypes.RunPolicyCheck || transErr.To != datatypes.RunExecute {
		t.Errorf("TransitionError = %+v", transErr)
	}
	if run.step() != datatypes.RunPolicyCheck {
		t.Errorf("step after rejected advance = %s, want POLICY_CHECK", run.step())
	}
}

func TestActiveRun_TerminalAdvanceStampsCompletion(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	run := newActiveRun(datatypes.RemediationAction{
		ActionType:     datatypes.ActionRestartPod,
		TargetResource: "default/api-server",
		Environment:    "production",
	}, "agent-1", now)

	if err := run.advance(datatypes.RunPolicyCheck, ""); err != nil {
		t.Fatalf("advance error = %v", err)
	}
	clock = clock.Add(750 * time.Millisecond)
	if err := run.advance(datatypes.RunDenied, "quota exhausted"); err != nil {
		t.Fatalf("advance error = %v", err)
	}

	record := run.view()
	if record.CompletedAt.IsZero() {
		t.Error("CompletedAt not stamped on terminal state")
	}
	if record.DurationMs != 750 {
		t.Errorf("DurationMs = %d, want 750", record.DurationMs)
	}
	last := record.Steps[len(record.Steps)-1]
	if last.Step != datatypes.RunDenied || last.Detail != "quota exhausted" {
		t.Errorf("last step = %+v", last)
	}
}

func TestActiveRun_ViewIsACopy(t *testing.T) {
	run := newActiveRun(datatypes.RemediationAction{
		ActionType:     datatypes.ActionRestartPod,
		TargetResource: "default/api-server",
		Environment:    "production",
	}, "agent-1", time.Now)

	record := run.view()
	record.Steps[0].Detail = "tampered"
	record.CurrentStep = datatypes.RunComplete

	fresh := run.view()
	if fresh.Steps[0].Detail == "tampered" {
		t.Error("mutating a view leaked into the run")
	}
	if fresh.CurrentStep != datatypes.RunInit {
		t.Errorf("CurrentStep = %s, want INIT", fresh.CurrentStep)
	}
}
