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
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianOps/pkg/extensions"
	"github.com/AleutianAI/AleutianOps/services/remediation/approval"
	"github.com/AleutianAI/AleutianOps/services/remediation/middleware"
)

// feedBuffer is the per-subscriber event buffer for the approvals
// websocket. Slow consoles drop events rather than block the pipeline.
const feedBuffer = 32

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// HandleListApprovals handles GET /v1/approvals.
//
// Description:
//
//	Lists approval requests currently awaiting a decision, oldest first.
//
// Response:
//
//	200 OK: PendingApprovalsResponse
func (h *Handlers) HandleListApprovals(c *gin.Context) {
	pending := h.approvals.Pending()
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].RequestedAt.Equal(pending[j].RequestedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].RequestedAt.Before(pending[j].RequestedAt)
	})

	c.JSON(http.StatusOK, PendingApprovalsResponse{
		Pending: pending,
		Count:   len(pending),
	})
}

// HandleDecideApproval handles POST /v1/approvals/:id/decision.
//
// Description:
//
//	Records an operator's decision for a pending approval request. The
//	parked pipeline run resumes (approved) or blocks (rejected)
//	immediately.
//
// Request Body:
//
//	DecisionRequest
//
// Response:
//
//	200 OK: DecisionResponse
//	400 Bad Request: Invalid body
//	404 Not Found: Unknown request ID
//	409 Conflict: Request already decided or expired
func (h *Handlers) HandleDecideApproval(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDecideApproval")

	approvalID := c.Param("id")

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	decidedBy := req.DecidedBy
	if decidedBy == "" {
		if info := middleware.GetAuthInfo(c); info != nil {
			decidedBy = info.UserID
		}
	}
	if decidedBy == "" {
		decidedBy = "unknown"
	}

	if err := h.approvals.Resolve(approvalID, req.Approve, decidedBy, req.Comment); err != nil {
		switch {
		case errors.Is(err, approval.ErrUnknownRequest):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "approval request not found",
				Code:  "APPROVAL_NOT_FOUND",
			})
		case errors.Is(err, approval.ErrAlreadyDecided):
			c.JSON(http.StatusConflict, ErrorResponse{
				Error: "approval request already decided",
				Code:  "ALREADY_DECIDED",
			})
		default:
			logger.Error("Decision failed", "approval_id", approvalID, "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: "decision failed",
				Code:  "DECISION_FAILED",
			})
		}
		return
	}

	status := "rejected"
	if req.Approve {
		status = "approved"
	}

	logger.Info("Approval decided",
		"approval_id", approvalID,
		"status", status,
		"decided_by", decidedBy)

	h.auditLog(c, extensions.AuditEvent{
		EventType:    "approval.decided",
		UserID:       decidedBy,
		Action:       "decide",
		ResourceType: "approval",
		ResourceID:   approvalID,
		Outcome:      status,
		Metadata: map[string]any{
			"comment": req.Comment,
		},
	})

	c.JSON(http.StatusOK, DecisionResponse{
		RequestID: approvalID,
		Status:    status,
		DecidedBy: decidedBy,
	})
}

// HandleApprovalsFeed handles GET /v1/approvals/ws.
//
// Description:
//
//	Upgrades to a websocket and streams approval lifecycle events. The
//	first message is a snapshot of the current pending queue so consoles
//	render immediately; after that, one FeedMessage per requested,
//	resolved, or expired event.
//
//	The client is not expected to send anything. Reads serve only to
//	detect disconnect.
func (h *Handlers) HandleApprovalsFeed(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("Failed to upgrade the approvals websocket", "error", err)
		return
	}
	defer ws.Close()
	slog.Info("Approvals feed client connected")

	events, cancel := h.approvals.Subscribe(feedBuffer)
	defer cancel()

	if err := ws.WriteJSON(FeedMessage{
		Type:    "snapshot",
		Pending: h.approvals.Pending(),
	}); err != nil {
		slog.Warn("Failed to write approvals snapshot", "error", err)
		return
	}

	// Reader goroutine: detects client disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := ws.WriteJSON(FeedMessage{Type: "event", Event: &event}); err != nil {
				slog.Info("Approvals feed client disconnected", "error", err.Error())
				return
			}
		case <-done:
			slog.Info("Approvals feed client disconnected")
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
