// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the HTTP handlers for the remediation gateway.
//
// Handlers translate between the HTTP surface and the pipeline, approval
// manager, breaker registry, risk assessor, and connector. They own no
// remediation logic themselves: a denial, rejection, or failed run is a
// normal response body here, never an HTTP error.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianOps/pkg/extensions"
	"github.com/AleutianAI/AleutianOps/services/remediation/approval"
	"github.com/AleutianAI/AleutianOps/services/remediation/connector"
	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/AleutianAI/AleutianOps/services/remediation/middleware"
	"github.com/AleutianAI/AleutianOps/services/remediation/pipeline"
	"github.com/AleutianAI/AleutianOps/services/remediation/resilience"
	"github.com/AleutianAI/AleutianOps/services/remediation/risk"
)

// ServiceVersion is the remediation gateway version.
const ServiceVersion = "0.1.0"

// Pipeline is the slice of the run pipeline the HTTP surface consumes.
// Satisfied by *pipeline.Runner.
type Pipeline interface {
	// Run drives a submission to its terminal state.
	Run(ctx context.Context, req pipeline.RunRequest) (datatypes.RunRecord, error)

	// Start begins a run and returns without waiting.
	Start(ctx context.Context, req pipeline.RunRequest) (datatypes.RunRecord, error)

	// GetRun returns a run record by ID.
	GetRun(ctx context.Context, runID string) (datatypes.RunRecord, error)

	// ActiveRuns returns every run still in the in-memory registry.
	ActiveRuns() []datatypes.RunRecord
}

// RunLister serves archived run records by recency. Satisfied by
// *archive.Archive.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]datatypes.RunRecord, error)
}

// Handlers contains the HTTP handlers for the remediation gateway.
type Handlers struct {
	runner    Pipeline
	approvals *approval.Manager
	registry  *resilience.Registry
	assessor  risk.Assessor
	connector connector.Connector
	archive   RunLister
	audit     extensions.AuditLogger
	threshold datatypes.RiskLevel
}

// NewHandlers creates handlers over the gateway's core collaborators.
// The archive and audit logger are optional; attach them with WithArchive
// and WithAudit.
func NewHandlers(runner Pipeline, approvals *approval.Manager, registry *resilience.Registry,
	assessor risk.Assessor, conn connector.Connector) *Handlers {

	return &Handlers{
		runner:    runner,
		approvals: approvals,
		registry:  registry,
		assessor:  assessor,
		connector: conn,
		audit:     &extensions.NopAuditLogger{},
		threshold: pipeline.DefaultApprovalThreshold,
	}
}

// WithArchive sets the archived-run lister used by the list endpoint.
func (h *Handlers) WithArchive(archive RunLister) *Handlers {
	h.archive = archive
	return h
}

// WithAudit sets the audit logger. Defaults to NopAuditLogger.
func (h *Handlers) WithAudit(audit extensions.AuditLogger) *Handlers {
	if audit != nil {
		h.audit = audit
	}
	return h
}

// WithApprovalThreshold sets the gate threshold the classify endpoint
// reports against. Keep it in step with the pipeline's configured
// threshold.
func (h *Handlers) WithApprovalThreshold(threshold datatypes.RiskLevel) *Handlers {
	if threshold.IsValid() {
		h.threshold = threshold
	}
	return h
}

// HandleHealth handles GET /health.
//
// Description:
//
//	Returns the health status of the gateway. Always returns 200 if running.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleVersion handles GET /version.
//
// Response:
//
//	200 OK: VersionResponse
func (h *Handlers) HandleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, VersionResponse{
		Service: "aleutian-ops-remediation",
		Version: ServiceVersion,
	})
}

// getOrCreateRequestID returns the caller's X-Request-ID, generating one
// when absent, and mirrors it onto the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// auditLog records a security-relevant event. Audit failures are logged
// and never fail the request.
func (h *Handlers) auditLog(c *gin.Context, event extensions.AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.UserID == "" {
		if info := middleware.GetAuthInfo(c); info != nil {
			event.UserID = info.UserID
		}
	}
	if err := h.audit.Log(c.Request.Context(), event); err != nil {
		slog.Warn("Audit log failed", "event_type", event.EventType, "error", err)
	}
}
