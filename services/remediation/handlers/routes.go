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
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianOps/pkg/extensions"
	"github.com/AleutianAI/AleutianOps/services/remediation/middleware"
)

// RouteConfig carries the cross-cutting dependencies routes need beyond
// the handlers themselves.
type RouteConfig struct {
	// Authz guards the decision and breaker-reset endpoints. Nil means
	// the open source default: all actions allowed.
	Authz extensions.AuthzProvider

	// RateLimiter throttles remediation submissions per caller.
	// Nil disables submission throttling.
	RateLimiter *middleware.RateLimiter
}

// RegisterRoutes registers all remediation service routes with the router.
//
// Description:
//
//	Registers all /v1/* endpoints with the given Gin router group.
//	The router group should already have authentication middleware
//	applied; authorization for mutating admin endpoints is added here.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	h - The handlers instance
//	cfg - Authorization provider and submission rate limiter
//
// Remediation Endpoints:
//
//	POST /v1/remediations - Submit a remediation action
//	GET  /v1/remediations - List active and recent runs
//	GET  /v1/remediations/:id - Get one run by ID
//
// Risk Endpoints:
//
//	POST /v1/risk/classify - Classify an action without running it
//
// Approval Endpoints:
//
//	GET  /v1/approvals - List pending approval requests
//	POST /v1/approvals/:id/decision - Approve or reject a request
//	GET  /v1/approvals/ws - WebSocket feed of approval events
//
// Admin Endpoints:
//
//	GET  /v1/admin/breakers - List circuit breaker stats
//	POST /v1/admin/breakers/:name/reset - Reset one breaker
//	POST /v1/admin/breakers/reset - Reset all breakers
//
// Fleet Endpoints:
//
//	GET  /v1/fleet/health - Check health of many resources at once
//
// Example:
//
//	runner := pipeline.New(pipelineConfig)
//	h := handlers.NewHandlers(runner, approvals, registry, assessor, conn)
//
//	v1 := router.Group("/v1")
//	handlers.RegisterRoutes(v1, h, handlers.RouteConfig{})
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers, cfg RouteConfig) {
	authz := cfg.Authz
	if authz == nil {
		authz = &extensions.NopAuthzProvider{}
	}

	remediations := rg.Group("/remediations")
	{
		// Submission lifecycle
		if cfg.RateLimiter != nil {
			remediations.POST("", cfg.RateLimiter.Middleware(), h.HandleSubmit)
		} else {
			remediations.POST("", h.HandleSubmit)
		}
		remediations.GET("", h.HandleListRuns)
		remediations.GET("/:id", h.HandleGetRun)
	}

	risk := rg.Group("/risk")
	{
		risk.POST("/classify", h.HandleClassifyRisk)
	}

	approvals := rg.Group("/approvals")
	{
		approvals.GET("", h.HandleListApprovals)
		approvals.POST("/:id/decision",
			middleware.RequireAuthz(authz, "decide", "approval"),
			h.HandleDecideApproval)

		// Live event feed for review consoles
		approvals.GET("/ws", h.HandleApprovalsFeed)
	}

	admin := rg.Group("/admin")
	{
		breakers := admin.Group("/breakers")
		{
			breakers.GET("", h.HandleListBreakers)
			breakers.POST("/reset",
				middleware.RequireAuthz(authz, "reset", "breaker"),
				h.HandleResetAllBreakers)
			breakers.POST("/:name/reset",
				middleware.RequireAuthz(authz, "reset", "breaker"),
				h.HandleResetBreaker)
		}
	}

	fleet := rg.Group("/fleet")
	{
		fleet.GET("/health", h.HandleFleetHealth)
	}
}
