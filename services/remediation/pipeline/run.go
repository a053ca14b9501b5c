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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// activeRun is the pipeline's exclusive handle on one in-flight run. The
// runner mutates the record through it; everything else sees deep copies
// from view().
type activeRun struct {
	mu     sync.RWMutex
	record datatypes.RunRecord
	now    func() time.Time
}

func newActiveRun(action datatypes.RemediationAction, agentID string, now func() time.Time) *activeRun {
	start := now().UTC()
	return &activeRun{
		record: datatypes.RunRecord{
			RunID:       uuid.NewString(),
			Action:      action,
			AgentID:     agentID,
			CurrentStep: datatypes.RunInit,
			Steps: []datatypes.StepRecord{
				{Step: datatypes.RunInit, EnteredAt: start},
			},
			StartedAt: start,
		},
		now: now,
	}
}

// advance moves the run to its next state and appends the step to the
// timeline. Entering a terminal state stamps the completion time and
// duration. Moves not present in the transition table return a
// TransitionError and leave the run untouched.
func (r *activeRun) advance(to datatypes.RunState, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !CanTransition(r.record.CurrentStep, to) {
		return &TransitionError{From: r.record.CurrentStep, To: to}
	}
	entered := r.now().UTC()
	r.record.CurrentStep = to
	r.record.Steps = append(r.record.Steps, datatypes.StepRecord{
		Step:      to,
		EnteredAt: entered,
		Detail:    detail,
	})
	if to.IsTerminal() {
		r.record.CompletedAt = entered
		r.record.DurationMs = entered.Sub(r.record.StartedAt).Milliseconds()
	}
	return nil
}

// mutate applies fn to the record under the write lock. Each stage output
// field is assigned in exactly one mutate call, which is what keeps stage
// outputs write-once.
func (r *activeRun) mutate(fn func(*datatypes.RunRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.record)
}

// view returns a deep copy of the record safe to hand outside the pipeline
// while the run is still mutating.
func (r *activeRun) view() datatypes.RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.record.Clone()
}

// step returns the run's current state.
func (r *activeRun) step() datatypes.RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.record.CurrentStep
}

// id returns the run identifier.
func (r *activeRun) id() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.record.RunID
}
