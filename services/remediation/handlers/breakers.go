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

	"github.com/AleutianAI/AleutianOps/pkg/extensions"
	"github.com/AleutianAI/AleutianOps/services/remediation/resilience"
)

// HandleListBreakers handles GET /v1/admin/breakers.
//
// Description:
//
//	Returns a snapshot of every registered circuit breaker, sorted by
//	name.
//
// Response:
//
//	200 OK: BreakersResponse
func (h *Handlers) HandleListBreakers(c *gin.Context) {
	stats := h.registry.Stats()

	breakers := make([]resilience.Stats, 0, len(stats))
	for _, s := range stats {
		breakers = append(breakers, s)
	}
	sort.Slice(breakers, func(i, j int) bool {
		return breakers[i].Name < breakers[j].Name
	})

	c.JSON(http.StatusOK, BreakersResponse{
		Breakers: breakers,
		Count:    len(breakers),
	})
}

// HandleResetBreaker handles POST /v1/admin/breakers/:name/reset.
//
// Description:
//
//	Forces one breaker back to CLOSED. An operator override for when
//	the underlying dependency is known to be healthy again.
//
// Response:
//
//	200 OK: ResetResponse
//	404 Not Found: Unknown breaker name
func (h *Handlers) HandleResetBreaker(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResetBreaker")

	name := c.Param("name")

	if err := h.registry.Reset(name); err != nil {
		if errors.Is(err, resilience.ErrUnknownBreaker) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "breaker not found",
				Code:  "BREAKER_NOT_FOUND",
			})
			return
		}
		logger.Error("Breaker reset failed", "breaker", name, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "breaker reset failed",
			Code:  "RESET_FAILED",
		})
		return
	}

	logger.Info("Breaker reset", "breaker", name)

	h.auditLog(c, extensions.AuditEvent{
		EventType:    "breaker.reset",
		Action:       "reset",
		ResourceType: "breaker",
		ResourceID:   name,
		Outcome:      "success",
	})

	c.JSON(http.StatusOK, ResetResponse{Reset: []string{name}})
}

// HandleResetAllBreakers handles POST /v1/admin/breakers/reset.
//
// Description:
//
//	Forces every registered breaker back to CLOSED.
//
// Response:
//
//	200 OK: ResetResponse
func (h *Handlers) HandleResetAllBreakers(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResetAllBreakers")

	names := h.registry.List()
	sort.Strings(names)
	h.registry.ResetAll()

	logger.Info("All breakers reset", "count", len(names))

	h.auditLog(c, extensions.AuditEvent{
		EventType:    "breaker.reset",
		Action:       "reset",
		ResourceType: "breaker",
		Outcome:      "success",
		Metadata: map[string]any{
			"breakers": names,
		},
	})

	c.JSON(http.StatusOK, ResetResponse{Reset: names})
}
