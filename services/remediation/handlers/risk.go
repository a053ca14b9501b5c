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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// HandleClassifyRisk handles POST /v1/risk/classify.
//
// Description:
//
//	Dry-runs the risk classification for an action without executing
//	anything. Agents use this to decide whether to bother submitting an
//	action that would park at the approval gate.
//
// Request Body:
//
//	datatypes.RemediationAction
//
// Response:
//
//	200 OK: ClassifyResponse
//	400 Bad Request: Invalid action
func (h *Handlers) HandleClassifyRisk(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleClassifyRisk")

	var action datatypes.RemediationAction
	if err := c.ShouldBindJSON(&action); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := action.Validate(); err != nil {
		logger.Warn("Invalid action", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_ACTION",
		})
		return
	}
	action.EnsureDefaults()

	assessment, err := h.assessor.Assess(c.Request.Context(), action)
	if err != nil {
		// Assessors degrade to a static classification rather than fail;
		// an error here means the assessor itself is miswired.
		logger.Error("Risk assessment failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "risk assessment failed",
			Code:  "ASSESS_FAILED",
		})
		return
	}

	logger.Info("Risk classified",
		"action_type", action.ActionType,
		"environment", action.Environment,
		"risk_level", assessment.Level,
		"reversible", assessment.Reversible)

	c.JSON(http.StatusOK, ClassifyResponse{
		Assessment:       assessment,
		RequiresApproval: assessment.Level.Meets(h.threshold) || !assessment.Reversible,
	})
}
