// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline orchestrates a remediation run end to end: policy check,
// risk assessment, conditional approval, snapshot, execution, post-change
// validation, and a terminal state.
//
// The pipeline is a per-request in-process orchestration, not a durable
// scheduler. One run owns one RunRecord; every collaborator is injected and
// every failure mode lands the run in exactly one terminal state.
package pipeline

import (
	"fmt"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// legalTransitions is the single authority on run-state ordering. A run
// only ever moves forward through this table; terminal states have no
// entries.
var legalTransitions = map[datatypes.RunState][]datatypes.RunState{
	datatypes.RunInit:        {datatypes.RunPolicyCheck},
	datatypes.RunPolicyCheck: {datatypes.RunRiskAssess, datatypes.RunDenied},
	datatypes.RunRiskAssess:  {datatypes.RunAwaitApproval, datatypes.RunSnapshot},

	// SNAPSHOT is reached either directly (below the approval threshold)
	// or through the approval gate. BLOCKED covers rejection, timeout,
	// and a failed capture.
	datatypes.RunAwaitApproval: {datatypes.RunSnapshot, datatypes.RunBlocked},
	datatypes.RunSnapshot:      {datatypes.RunExecute, datatypes.RunBlocked},
	datatypes.RunExecute:       {datatypes.RunValidate, datatypes.RunRollbackAttempted},
	datatypes.RunValidate:      {datatypes.RunComplete, datatypes.RunFlaggedForRollback},
}

// TransitionError reports an attempt to move a run against the table.
type TransitionError struct {
	From datatypes.RunState
	To   datatypes.RunState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal run transition from %s to %s", e.From, e.To)
}

// CanTransition reports whether a run may move from one state to another.
func CanTransition(from, to datatypes.RunState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates returns the states reachable from the given state, in table
// order. Terminal states return nil.
func NextStates(from datatypes.RunState) []datatypes.RunState {
	return append([]datatypes.RunState(nil), legalTransitions[from]...)
}
