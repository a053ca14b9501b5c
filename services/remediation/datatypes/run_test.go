// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRunState_IsTerminal(t *testing.T) {
	terminal := []RunState{
		RunComplete, RunDenied, RunBlocked, RunRollbackAttempted, RunFlaggedForRollback,
	}
	active := []RunState{
		RunInit, RunPolicyCheck, RunRiskAssess, RunAwaitApproval, RunSnapshot, RunExecute, RunValidate,
	}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %v to be terminal", s)
		}
	}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("expected %v to be active", s)
		}
	}
}

func TestAllRunStates_CoversTerminalAndActive(t *testing.T) {
	states := AllRunStates()
	if len(states) != 12 {
		t.Fatalf("expected 12 run states, got %d", len(states))
	}

	seen := make(map[RunState]bool, len(states))
	for _, s := range states {
		if seen[s] {
			t.Errorf("duplicate state %v", s)
		}
		seen[s] = true
	}
}

func TestRunRecord_Clone_IsDeep(t *testing.T) {
	passed := true
	rec := &RunRecord{
		RunID:       "run-1",
		CurrentStep: RunValidate,
		Steps: []StepRecord{
			{Step: RunInit, EnteredAt: time.Now()},
			{Step: RunPolicyCheck, EnteredAt: time.Now()},
		},
		PolicyResult: &PolicyDecision{
			Allowed: true,
			Reasons: []string{"allowed by default policy"},
		},
		Risk: &RiskAssessment{
			Level:   RiskMedium,
			Reasons: []string{"production environment"},
		},
		Snapshot: &Snapshot{
			ID:    "snap-1",
			State: json.RawMessage(`{"replicas":3}`),
		},
		ValidationPassed: &passed,
	}

	clone := rec.Clone()

	// Mutate the original; the clone must not observe any of it.
	rec.Steps[0].Detail = "mutated"
	rec.Steps = append(rec.Steps, StepRecord{Step: RunComplete})
	rec.PolicyResult.Reasons[0] = "mutated"
	rec.Risk.Reasons[0] = "mutated"
	rec.Snapshot.State[2] = 'X'
	*rec.ValidationPassed = false

	if len(clone.Steps) != 2 {
		t.Errorf("clone steps len = %d, want 2", len(clone.Steps))
	}
	if clone.Steps[0].Detail == "mutated" {
		t.Error("clone step detail mutated through original")
	}
	if clone.PolicyResult.Reasons[0] != "allowed by default policy" {
		t.Error("clone policy reasons mutated through original")
	}
	if clone.Risk.Reasons[0] != "production environment" {
		t.Error("clone risk reasons mutated through original")
	}
	if string(clone.Snapshot.State) != `{"replicas":3}` {
		t.Error("clone snapshot state mutated through original")
	}
	if *clone.ValidationPassed != true {
		t.Error("clone validation verdict mutated through original")
	}
}

func TestRunRecord_JSONRoundTrip_PreservesReasonOrder(t *testing.T) {
	rec := RunRecord{
		RunID:       "run-2",
		CurrentStep: RunDenied,
		PolicyResult: &PolicyDecision{
			Allowed: false,
			Reasons: []string{"first", "second", "third"},
		},
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded RunRecord
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := []string{"first", "second", "third"}
	for i, r := range decoded.PolicyResult.Reasons {
		if r != want[i] {
			t.Errorf("reason[%d] = %q, want %q", i, r, want[i])
		}
	}
}
