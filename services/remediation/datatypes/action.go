// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the data model for the remediation gateway.
//
// This file contains the remediation action entity: the proposed
// infrastructure change an agent submits to the pipeline. Actions are
// immutable once submitted; the pipeline records everything it derives
// from an action on the run record, never on the action itself.
package datatypes

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxDescriptionBytes is the maximum size of an action description.
	MaxDescriptionBytes = 8 * 1024 // 8KB

	// MaxParameters is the maximum number of entries in an action's
	// parameter map. Connectors receive parameters verbatim, so the
	// gateway bounds them before anything downstream sees them.
	MaxParameters = 64

	// MaxLabelKeyBytes bounds a single resource label key.
	MaxLabelKeyBytes = 253
)

// Environments recognized by the risk classifier. Unknown environments are
// treated as the lowest-impact tier.
const (
	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"
)

// Action types the connector catalog ships with. The pipeline accepts
// unknown types; the classifier and the reversibility catalog fall back to
// conservative defaults for them.
const (
	ActionRestartPod          = "restart_pod"
	ActionRestartService      = "restart_service"
	ActionRollbackDeployment  = "rollback_deployment"
	ActionScaleUp             = "scale_up"
	ActionScaleDown           = "scale_down"
	ActionDrainNode           = "drain_node"
	ActionCordonNode          = "cordon_node"
	ActionDeleteNamespace     = "delete_namespace"
	ActionUpdateNetworkPolicy = "update_network_policy"
	ActionUpdateIAMPolicy     = "update_iam_policy"
	ActionRotateCredentials   = "rotate_credentials"
	ActionClearCache          = "clear_cache"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// actionValidate is the validator instance for remediation datatypes.
// Initialized in init() with custom validators.
var actionValidate *validator.Validate

func init() {
	actionValidate = validator.New()

	// Register custom validator for description size limits
	_ = actionValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed
// MaxDescriptionBytes. Checks byte length (not rune count) so oversized
// payloads cannot slip through on multi-byte content.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxDescriptionBytes
}

// =============================================================================
// Remediation Action
// =============================================================================

// RemediationAction is a proposed infrastructure change.
//
// # Description
//
// Actions are produced by the upstream reasoning component (or an operator
// via the CLI) and submitted to the pipeline for authorization and
// execution. An action is immutable once submitted: the pipeline derives a
// risk assessment, a policy decision, and an execution outcome from it, but
// never mutates the action itself.
//
// # Fields
//
//   - ID: Unique identifier. Assigned by the gateway when empty.
//   - ActionType: What to do (e.g. "restart_pod"). Unknown types are
//     accepted and classified conservatively.
//   - TargetResource: The resource the action applies to, in the
//     connector's addressing scheme (e.g. "default/api-server").
//   - Environment: Deployment environment of the target. Drives the
//     static risk classification.
//   - RiskLevel: Optional caller-supplied risk hint. The pipeline always
//     performs its own assessment; the hint is recorded but never trusted
//     to lower the computed level.
//   - Parameters: Action-specific parameters passed to the connector
//     verbatim. "team" is also read from here for policy enrichment.
//   - ResourceLabels: Labels of the target resource, forwarded to the
//     policy service.
//   - Description: Human-readable intent, shown to approvers.
type RemediationAction struct {
	ID             string            `json:"id,omitempty"`
	ActionType     string            `json:"action_type" validate:"required,max=128"`
	TargetResource string            `json:"target_resource" validate:"required,max=512"`
	Environment    string            `json:"environment" validate:"required,max=64"`
	RiskLevel      RiskLevel         `json:"risk_level,omitempty"`
	Parameters     map[string]any    `json:"parameters,omitempty"`
	ResourceLabels map[string]string `json:"resource_labels,omitempty"`
	Description    string            `json:"description,omitempty" validate:"maxbytes"`
	SubmittedAt    time.Time         `json:"submitted_at,omitempty"`
}

// Validate checks the action against structural and size constraints.
//
// Outputs:
//   - error: Validation error describing the first violated constraint.
func (a *RemediationAction) Validate() error {
	if err := actionValidate.Struct(a); err != nil {
		return fmt.Errorf("invalid remediation action: %w", err)
	}
	if len(a.Parameters) > MaxParameters {
		return fmt.Errorf("invalid remediation action: %d parameters exceeds limit of %d",
			len(a.Parameters), MaxParameters)
	}
	for k := range a.ResourceLabels {
		if len(k) > MaxLabelKeyBytes {
			return fmt.Errorf("invalid remediation action: resource label key exceeds %d bytes", MaxLabelKeyBytes)
		}
	}
	if a.RiskLevel != "" && !a.RiskLevel.IsValid() {
		return fmt.Errorf("invalid remediation action: unknown risk level %q", a.RiskLevel)
	}
	return nil
}

// EnsureDefaults assigns an ID and submission time if absent and
// normalizes the environment.
func (a *RemediationAction) EnsureDefaults() {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.SubmittedAt.IsZero() {
		a.SubmittedAt = time.Now().UTC()
	}
	a.Environment = NormalizeEnvironment(a.Environment)
}

// Team extracts the owning team from the action's parameters.
// Returns "" when the action carries no team attribution.
func (a *RemediationAction) Team() string {
	if a.Parameters == nil {
		return ""
	}
	if team, ok := a.Parameters["team"].(string); ok {
		return team
	}
	return ""
}

// NormalizeEnvironment lowercases and trims an environment name so the
// classifier and usage tracker see one canonical form.
func NormalizeEnvironment(env string) string {
	return strings.ToLower(strings.TrimSpace(env))
}
