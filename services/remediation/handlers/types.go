// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"github.com/AleutianAI/AleutianOps/services/remediation/approval"
	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/AleutianAI/AleutianOps/services/remediation/resilience"
)

// =============================================================================
// Shared Response Types
// =============================================================================

// ErrorResponse is the common error shape for all endpoints.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// VersionResponse is the response for GET /version.
type VersionResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

// =============================================================================
// Remediation Types
// =============================================================================

// SubmitRequest is the request body for POST /v1/remediations.
type SubmitRequest struct {
	// Action is the proposed remediation.
	Action datatypes.RemediationAction `json:"action"`

	// AgentID identifies the requesting agent for policy evaluation and
	// the audit record.
	AgentID string `json:"agent_id"`

	// Context carries caller-supplied keys forwarded to the policy
	// service.
	Context map[string]any `json:"context,omitempty"`

	// Async requests a 202 with the initial record instead of waiting
	// for the terminal state. Poll GET /v1/remediations/:id for
	// progress.
	Async bool `json:"async,omitempty"`
}

// ListRunsResponse is the response for GET /v1/remediations.
type ListRunsResponse struct {
	// Active holds in-flight runs and terminal runs not yet archived,
	// oldest first.
	Active []datatypes.RunRecord `json:"active"`

	// Recent holds archived terminal runs, newest first. Empty when the
	// gateway runs without an archive.
	Recent []datatypes.RunRecord `json:"recent,omitempty"`
}

// =============================================================================
// Approval Types
// =============================================================================

// PendingApprovalsResponse is the response for GET /v1/approvals.
type PendingApprovalsResponse struct {
	Pending []approval.PendingRequest `json:"pending"`
	Count   int                       `json:"count"`
}

// DecisionRequest is the request body for POST /v1/approvals/:id/decision.
type DecisionRequest struct {
	// Approve is the verdict. False rejects.
	Approve bool `json:"approve"`

	// Comment is the operator's reasoning, recorded on the run.
	Comment string `json:"comment,omitempty"`

	// DecidedBy overrides the decider identity. Defaults to the
	// authenticated caller.
	DecidedBy string `json:"decided_by,omitempty"`
}

// DecisionResponse is the response for POST /v1/approvals/:id/decision.
type DecisionResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	DecidedBy string `json:"decided_by"`
}

// FeedMessage is one message on the approvals websocket.
//
// The first message after connect is a "snapshot" carrying the current
// pending queue; every later message is an "event" from the approval
// manager's feed.
type FeedMessage struct {
	Type    string                    `json:"type"`
	Pending []approval.PendingRequest `json:"pending,omitempty"`
	Event   *approval.Event           `json:"event,omitempty"`
}

// =============================================================================
// Breaker Admin Types
// =============================================================================

// BreakersResponse is the response for GET /v1/admin/breakers.
type BreakersResponse struct {
	Breakers []resilience.Stats `json:"breakers"`
	Count    int                `json:"count"`
}

// ResetResponse reports a breaker reset.
type ResetResponse struct {
	// Reset names the breakers that were reset.
	Reset []string `json:"reset"`
}

// =============================================================================
// Risk Types
// =============================================================================

// ClassifyResponse is the response for POST /v1/risk/classify.
type ClassifyResponse struct {
	// Assessment is the dry-run classification. Nothing is executed.
	Assessment datatypes.RiskAssessment `json:"assessment"`

	// RequiresApproval reports whether this assessment would be routed
	// through the approval gate at the gateway's configured threshold.
	RequiresApproval bool `json:"requires_approval"`
}

// =============================================================================
// Fleet Health Types
// =============================================================================

// FleetHealthResponse is the response for GET /v1/fleet/health.
type FleetHealthResponse struct {
	Resources []datatypes.HealthRecord `json:"resources"`

	// Healthy is true when every checked resource reported healthy.
	Healthy bool `json:"healthy"`
}
