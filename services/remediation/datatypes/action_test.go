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
	"strings"
	"testing"
)

// =============================================================================
// RemediationAction Validation Tests
// =============================================================================

func TestRemediationAction_Validate_Success(t *testing.T) {
	action := &RemediationAction{
		ActionType:     ActionRestartPod,
		TargetResource: "default/api-server",
		Environment:    EnvProduction,
		Parameters:     map[string]any{"team": "platform"},
		Description:    "Restart the api-server pod to clear a wedged connection pool",
	}

	if err := action.Validate(); err != nil {
		t.Errorf("expected valid action, got error: %v", err)
	}
}

func TestRemediationAction_Validate_MissingActionType(t *testing.T) {
	action := &RemediationAction{
		TargetResource: "default/api-server",
		Environment:    EnvProduction,
	}

	if err := action.Validate(); err == nil {
		t.Error("expected error for missing action_type, got nil")
	}
}

func TestRemediationAction_Validate_MissingTargetResource(t *testing.T) {
	action := &RemediationAction{
		ActionType:  ActionRestartPod,
		Environment: EnvProduction,
	}

	if err := action.Validate(); err == nil {
		t.Error("expected error for missing target_resource, got nil")
	}
}

func TestRemediationAction_Validate_OversizedDescription(t *testing.T) {
	action := &RemediationAction{
		ActionType:     ActionRestartPod,
		TargetResource: "default/api-server",
		Environment:    EnvProduction,
		Description:    strings.Repeat("x", MaxDescriptionBytes+1),
	}

	if err := action.Validate(); err == nil {
		t.Error("expected error for oversized description, got nil")
	}
}

func TestRemediationAction_Validate_TooManyParameters(t *testing.T) {
	params := make(map[string]any, MaxParameters+1)
	for i := 0; i <= MaxParameters; i++ {
		params[strings.Repeat("k", i+1)] = i
	}

	action := &RemediationAction{
		ActionType:     ActionScaleUp,
		TargetResource: "default/api-server",
		Environment:    EnvStaging,
		Parameters:     params,
	}

	if err := action.Validate(); err == nil {
		t.Error("expected error for too many parameters, got nil")
	}
}

func TestRemediationAction_Validate_UnknownRiskHint(t *testing.T) {
	action := &RemediationAction{
		ActionType:     ActionRestartPod,
		TargetResource: "default/api-server",
		Environment:    EnvProduction,
		RiskLevel:      RiskLevel("EXTREME"),
	}

	if err := action.Validate(); err == nil {
		t.Error("expected error for unknown risk level hint, got nil")
	}
}

// =============================================================================
// Defaults and Helpers
// =============================================================================

func TestRemediationAction_EnsureDefaults(t *testing.T) {
	action := &RemediationAction{
		ActionType:     ActionRestartPod,
		TargetResource: "default/api-server",
		Environment:    "  Production ",
	}

	action.EnsureDefaults()

	if action.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if action.SubmittedAt.IsZero() {
		t.Error("expected SubmittedAt to be assigned")
	}
	if action.Environment != EnvProduction {
		t.Errorf("expected normalized environment %q, got %q", EnvProduction, action.Environment)
	}
}

func TestRemediationAction_EnsureDefaults_PreservesExistingID(t *testing.T) {
	action := &RemediationAction{
		ID:             "act-123",
		ActionType:     ActionRestartPod,
		TargetResource: "default/api-server",
		Environment:    EnvProduction,
	}

	action.EnsureDefaults()

	if action.ID != "act-123" {
		t.Errorf("expected ID act-123 to be preserved, got %q", action.ID)
	}
}

func TestRemediationAction_Team(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{"from parameters", map[string]any{"team": "platform"}, "platform"},
		{"non-string team", map[string]any{"team": 42}, ""},
		{"absent", map[string]any{"replicas": 3}, ""},
		{"nil parameters", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := &RemediationAction{Parameters: tt.params}
			if got := action.Team(); got != tt.want {
				t.Errorf("Team() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeEnvironment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Production", "production"},
		{" STAGING ", "staging"},
		{"development", "development"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeEnvironment(tt.in); got != tt.want {
			t.Errorf("NormalizeEnvironment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
