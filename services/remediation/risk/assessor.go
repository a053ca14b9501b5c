// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package risk produces the risk assessment for a proposed action.
//
// The assessment fixes three things before the pipeline decides whether to
// ask a human: the risk level, whether a snapshot restore can undo the
// action, and a short blast-radius description. The level comes from the
// policy classifier unless an operator override pins the action type;
// reversibility comes from a fixed catalog. A caller-supplied risk hint can
// raise the computed level but never lower it.
package risk

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/AleutianAI/AleutianOps/services/remediation/policy"
)

// Assessor produces a RiskAssessment for an action.
type Assessor interface {
	Assess(ctx context.Context, action datatypes.RemediationAction) (datatypes.RiskAssessment, error)
}

// reversibilityCatalog records which action types a snapshot restore can
// undo. Action types not listed here are treated as non-reversible, which
// routes them through the approval gate.
var reversibilityCatalog = map[string]bool{
	datatypes.ActionRestartPod:          true,
	datatypes.ActionRestartService:      true,
	datatypes.ActionRollbackDeployment:  true,
	datatypes.ActionScaleUp:             true,
	datatypes.ActionScaleDown:           true,
	datatypes.ActionCordonNode:          true,
	datatypes.ActionUpdateNetworkPolicy: true,
	datatypes.ActionUpdateIAMPolicy:     true,

	// Evictions, deletions, and credential invalidation cannot be undone
	// by re-applying a captured state blob.
	datatypes.ActionDrainNode:         false,
	datatypes.ActionDeleteNamespace:   false,
	datatypes.ActionRotateCredentials: false,
	datatypes.ActionClearCache:        false,
}

// Reversible reports whether a snapshot restore can undo the action type.
// Unknown types report false.
func Reversible(actionType string) bool {
	return reversibilityCatalog[actionType]
}

// StaticAssessor assesses risk without calling anything external.
//
// # Thread Safety
//
// Safe for concurrent use. The override table is read-only after
// construction.
type StaticAssessor struct {
	overrides map[string]datatypes.RiskLevel
}

// NewStaticAssessor builds a static assessor.
//
// Inputs:
//   - overrides: Optional per-action-type level pins. An override replaces
//     the classifier's level for that action type. Overrides do not affect
//     reversibility, so pinning a non-reversible type low still leaves it
//     behind the approval gate.
func NewStaticAssessor(overrides map[string]datatypes.RiskLevel) *StaticAssessor {
	copied := make(map[string]datatypes.RiskLevel, len(overrides))
	for actionType, level := range overrides {
		copied[actionType] = level
	}
	return &StaticAssessor{overrides: copied}
}

// Assess implements the Assessor interface. It never returns an error.
func (s *StaticAssessor) Assess(_ context.Context, action datatypes.RemediationAction) (datatypes.RiskAssessment, error) {
	env := datatypes.NormalizeEnvironment(action.Environment)
	envLabel := env
	if envLabel == "" {
		envLabel = "unspecified environment"
	}

	var level datatypes.RiskLevel
	var reasons []string
	if override, ok := s.overrides[action.ActionType]; ok {
		level = override
		reasons = append(reasons, fmt.Sprintf("operator override pins %s at %s", action.ActionType, override))
	} else {
		level = policy.ClassifyRisk(action.ActionType, env)
		reasons = append(reasons, fmt.Sprintf("static classification: %s in %s is %s", action.ActionType, envLabel, level))
	}

	if action.RiskLevel.IsValid() && action.RiskLevel.Exceeds(level) {
		level = action.RiskLevel
		reasons = append(reasons, fmt.Sprintf("caller risk hint raised the level to %s", action.RiskLevel))
	}

	reversible := Reversible(action.ActionType)
	if !reversible {
		reasons = append(reasons, fmt.Sprintf("%s cannot be undone by restoring a snapshot", action.ActionType))
	}

	return datatypes.RiskAssessment{
		Level:       level,
		Reversible:  reversible,
		BlastRadius: blastRadius(action, envLabel),
		Reasons:     reasons,
		Source:      datatypes.RiskSourceStatic,
	}, nil
}

// blastRadius describes the scope affected if the action misbehaves.
func blastRadius(action datatypes.RemediationAction, envLabel string) string {
	var scope string
	switch action.ActionType {
	case datatypes.ActionDrainNode, datatypes.ActionCordonNode:
		scope = fmt.Sprintf("all workloads scheduled on node %s", action.TargetResource)
	case datatypes.ActionDeleteNamespace:
		scope = fmt.Sprintf("every resource in namespace %s", action.TargetResource)
	case datatypes.ActionUpdateNetworkPolicy:
		scope = fmt.Sprintf("all traffic governed by policy %s", action.TargetResource)
	case datatypes.ActionUpdateIAMPolicy:
		scope = fmt.Sprintf("every principal bound to %s", action.TargetResource)
	case datatypes.ActionRotateCredentials:
		scope = fmt.Sprintf("every client authenticating with %s", action.TargetResource)
	case datatypes.ActionClearCache:
		scope = fmt.Sprintf("all consumers of cache %s", action.TargetResource)
	case datatypes.ActionRestartPod, datatypes.ActionRestartService,
		datatypes.ActionRollbackDeployment, datatypes.ActionScaleUp, datatypes.ActionScaleDown:
		scope = fmt.Sprintf("the single workload %s", action.TargetResource)
	default:
		scope = fmt.Sprintf("unknown scope around %s", action.TargetResource)
	}
	return fmt.Sprintf("%s in %s", scope, envLabel)
}

// advisoryPrompt renders the prompt for the advisory impact summary.
func advisoryPrompt(action datatypes.RemediationAction, assessment datatypes.RiskAssessment) string {
	var b strings.Builder
	b.WriteString("A remediation action is awaiting review.\n")
	fmt.Fprintf(&b, "Action: %s\n", action.ActionType)
	fmt.Fprintf(&b, "Target: %s\n", action.TargetResource)
	fmt.Fprintf(&b, "Environment: %s\n", datatypes.NormalizeEnvironment(action.Environment))
	fmt.Fprintf(&b, "Assessed risk: %s\n", assessment.Level)
	fmt.Fprintf(&b, "Estimated blast radius: %s\n", assessment.BlastRadius)
	if action.Description != "" {
		fmt.Fprintf(&b, "Operator intent: %s\n", action.Description)
	}
	b.WriteString("In one short paragraph, describe the likely impact and what could go wrong.")
	return b.String()
}
