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
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianOps/pkg/validation"
	"github.com/AleutianAI/AleutianOps/services/remediation/connector"
	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// maxFleetResources bounds one fleet health request.
const maxFleetResources = 64

// HandleFleetHealth handles GET /v1/fleet/health.
//
// Description:
//
//	Checks the health of many resources in one call. Connectors that
//	implement fleet checking fan the checks out concurrently; otherwise
//	resources are checked one at a time.
//
// Query Parameters:
//
//	resources: Comma-separated resource IDs. Required.
//
// Response:
//
//	200 OK: FleetHealthResponse
//	400 Bad Request: Missing, invalid, or too many resources
func (h *Handlers) HandleFleetHealth(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleFleetHealth")

	raw := c.Query("resources")
	if raw == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "resources query parameter is required",
			Code:  "MISSING_RESOURCES",
		})
		return
	}

	var resourceIDs []string
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if err := validation.ValidateResource(id); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "INVALID_RESOURCE",
			})
			return
		}
		resourceIDs = append(resourceIDs, id)
	}

	if len(resourceIDs) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "resources query parameter is required",
			Code:  "MISSING_RESOURCES",
		})
		return
	}
	if len(resourceIDs) > maxFleetResources {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "too many resources in one request",
			Code:  "TOO_MANY_RESOURCES",
		})
		return
	}

	ctx := c.Request.Context()

	var records []datatypes.HealthRecord
	if fleet, ok := h.connector.(connector.FleetChecker); ok {
		records = fleet.CheckFleet(ctx, resourceIDs)
	} else {
		records = make([]datatypes.HealthRecord, 0, len(resourceIDs))
		for _, id := range resourceIDs {
			record, err := h.connector.GetHealth(ctx, id)
			if err != nil {
				record = datatypes.HealthRecord{
					ResourceID: id,
					Healthy:    false,
					Status:     err.Error(),
				}
			}
			records = append(records, record)
		}
	}

	healthy := true
	for _, record := range records {
		if !record.Healthy {
			healthy = false
			break
		}
	}

	logger.Info("Fleet health checked",
		"resources", len(records),
		"healthy", healthy)

	c.JSON(http.StatusOK, FleetHealthResponse{
		Resources: records,
		Healthy:   healthy,
	})
}
