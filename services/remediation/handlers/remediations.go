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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianOps/pkg/extensions"
	"github.com/AleutianAI/AleutianOps/services/remediation/pipeline"
)

// defaultRecentLimit bounds GET /v1/remediations archive reads when the
// caller does not pass a limit.
const defaultRecentLimit = 20

// HandleSubmit handles POST /v1/remediations.
//
// Description:
//
//	Submits a remediation action to the pipeline. Synchronous by
//	default: the response carries the terminal run record, whatever the
//	outcome. A denial or rejection is a 200 with the outcome on the
//	record, not an HTTP error. With "async": true the run is started in
//	the background and the initial record comes back as 202.
//
// Request Body:
//
//	SubmitRequest
//
// Response:
//
//	200 OK: datatypes.RunRecord (terminal)
//	202 Accepted: datatypes.RunRecord (async, in progress)
//	400 Bad Request: Invalid body or action
func (h *Handlers) HandleSubmit(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSubmit")

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	runReq := pipeline.RunRequest{
		Action:  req.Action,
		AgentID: req.AgentID,
		Context: req.Context,
	}

	logger.Info("Remediation submitted",
		"action_type", req.Action.ActionType,
		"target", req.Action.TargetResource,
		"environment", req.Action.Environment,
		"agent_id", req.AgentID,
		"async", req.Async)

	if req.Async {
		record, err := h.runner.Start(c.Request.Context(), runReq)
		if err != nil {
			logger.Warn("Submission rejected", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "INVALID_ACTION",
			})
			return
		}
		h.auditSubmit(c, req, record.RunID, "accepted")
		c.JSON(http.StatusAccepted, record)
		return
	}

	record, err := h.runner.Run(c.Request.Context(), runReq)
	if err != nil {
		logger.Warn("Submission rejected", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_ACTION",
		})
		return
	}

	logger.Info("Remediation run finished",
		"run_id", record.RunID,
		"terminal_state", record.CurrentStep.String(),
		"duration_ms", record.DurationMs)

	h.auditSubmit(c, req, record.RunID, string(record.CurrentStep))
	c.JSON(http.StatusOK, record)
}

// HandleGetRun handles GET /v1/remediations/:id.
//
// Description:
//
//	Fetches one run record, checking in-flight runs first and the
//	archive second.
//
// Response:
//
//	200 OK: datatypes.RunRecord
//	404 Not Found: Unknown run ID
func (h *Handlers) HandleGetRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetRun")

	runID := c.Param("id")

	record, err := h.runner.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "run not found",
				Code:  "RUN_NOT_FOUND",
			})
			return
		}
		logger.Error("Run lookup failed", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "run lookup failed",
			Code:  "LOOKUP_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, record)
}

// HandleListRuns handles GET /v1/remediations.
//
// Description:
//
//	Lists in-flight runs plus recently archived terminal runs.
//
// Query Parameters:
//
//	limit: Maximum archived records to include (default 20).
//
// Response:
//
//	200 OK: ListRunsResponse
func (h *Handlers) HandleListRuns(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListRuns")

	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a non-negative integer",
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = parsed
	}

	resp := ListRunsResponse{
		Active: h.runner.ActiveRuns(),
	}

	if h.archive != nil && limit > 0 {
		recent, err := h.archive.Recent(c.Request.Context(), limit)
		if err != nil {
			// The active view is still useful when the archive is sick.
			logger.Warn("Archive list failed", "error", err)
		} else {
			resp.Recent = recent
		}
	}

	c.JSON(http.StatusOK, resp)
}

// auditSubmit records a submission event.
func (h *Handlers) auditSubmit(c *gin.Context, req SubmitRequest, runID, outcome string) {
	h.auditLog(c, extensions.AuditEvent{
		EventType:    "remediation.submitted",
		UserID:       req.AgentID,
		Action:       "submit",
		ResourceType: "remediation",
		ResourceID:   runID,
		Outcome:      outcome,
		Metadata: map[string]any{
			"action_type": req.Action.ActionType,
			"environment": req.Action.Environment,
			"async":       req.Async,
		},
	})
}
