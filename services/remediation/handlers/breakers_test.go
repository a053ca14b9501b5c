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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOps/pkg/extensions"
	"github.com/AleutianAI/AleutianOps/services/remediation/middleware"
	"github.com/AleutianAI/AleutianOps/services/remediation/resilience"
)

// tripBreaker drives a breaker past its failure threshold so it opens.
func tripBreaker(t *testing.T, registry *resilience.Registry, name string) {
	t.Helper()

	cb := registry.Get(name)
	for i := 0; i < resilience.DefaultConfig().FailureThreshold; i++ {
		_ = cb.Execute(context.Background(), func() error {
			return errors.New("dependency down")
		})
	}
	require.Equal(t, resilience.CircuitOpen, cb.State())
}

// =============================================================================
// List Breakers
// =============================================================================

func TestHandleListBreakers(t *testing.T) {
	h, _ := newTestHandlers(t, &fakePipeline{})
	h.registry.Get("policy-service")
	h.registry.Get("connector")
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/admin/breakers", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp BreakersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Breakers, 2)
	assert.Equal(t, "connector", resp.Breakers[0].Name)
	assert.Equal(t, "policy-service", resp.Breakers[1].Name)
	assert.Equal(t, "CLOSED", resp.Breakers[0].State)
}

func TestHandleListBreakers_Empty(t *testing.T) {
	h, _ := newTestHandlers(t, &fakePipeline{})
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/admin/breakers", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp BreakersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
}

// =============================================================================
// Reset
// =============================================================================

func TestHandleResetBreaker(t *testing.T) {
	h, audit := newTestHandlers(t, &fakePipeline{})
	tripBreaker(t, h.registry, "connector")
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodPost, "/v1/admin/breakers/connector/reset", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp ResetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"connector"}, resp.Reset)

	assert.Equal(t, resilience.CircuitClosed, h.registry.Get("connector").State())

	events := audit.list()
	require.Len(t, events, 1)
	assert.Equal(t, "breaker.reset", events[0].EventType)
	assert.Equal(t, "connector", events[0].ResourceID)
	assert.Equal(t, "success", events[0].Outcome)

	// The nop auth provider identifies every caller as local-operator.
	assert.Equal(t, "local-operator", events[0].UserID)
}

func TestHandleResetBreaker_NotFound(t *testing.T) {
	h, audit := newTestHandlers(t, &fakePipeline{})
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodPost, "/v1/admin/breakers/ghost/reset", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "BREAKER_NOT_FOUND", decodeError(t, w).Code)
	assert.Empty(t, audit.list())
}

func TestHandleResetAllBreakers(t *testing.T) {
	h, audit := newTestHandlers(t, &fakePipeline{})
	tripBreaker(t, h.registry, "policy-service")
	tripBreaker(t, h.registry, "connector")
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodPost, "/v1/admin/breakers/reset", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp ResetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"connector", "policy-service"}, resp.Reset)

	assert.Equal(t, resilience.CircuitClosed, h.registry.Get("connector").State())
	assert.Equal(t, resilience.CircuitClosed, h.registry.Get("policy-service").State())

	events := audit.list()
	require.Len(t, events, 1)
	assert.Equal(t, []string{"connector", "policy-service"}, events[0].Metadata["breakers"])
}

// =============================================================================
// Authorization Wiring
// =============================================================================

// denyAuthz rejects every authorization request.
type denyAuthz struct {
	lastReq extensions.AuthzRequest
}

func (d *denyAuthz) Authorize(_ context.Context, req extensions.AuthzRequest) error {
	d.lastReq = req
	return extensions.ErrUnauthorized
}

func TestRoutes_AuthzGatesMutations(t *testing.T) {
	h, _ := newTestHandlers(t, &fakePipeline{})
	h.registry.Get("connector")
	authz := &denyAuthz{}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		middleware.SetAuthInfo(c, &extensions.AuthInfo{UserID: "intruder"})
	})
	RegisterRoutes(router.Group("/v1"), h, RouteConfig{Authz: authz})

	// Reads pass without authorization.
	list := doJSON(t, router, http.MethodGet, "/v1/admin/breakers", nil)
	assert.Equal(t, http.StatusOK, list.Code)

	// Mutations are gated.
	reset := doJSON(t, router, http.MethodPost, "/v1/admin/breakers/connector/reset", nil)
	assert.Equal(t, http.StatusForbidden, reset.Code)
	assert.Equal(t, "reset", authz.lastReq.Action)
	assert.Equal(t, "breaker", authz.lastReq.ResourceType)
	assert.Equal(t, "connector", authz.lastReq.ResourceID)

	resetAll := doJSON(t, router, http.MethodPost, "/v1/admin/breakers/reset", nil)
	assert.Equal(t, http.StatusForbidden, resetAll.Code)

	decide := doJSON(t, router, http.MethodPost, "/v1/approvals/req-1/decision", DecisionRequest{Approve: true})
	assert.Equal(t, http.StatusForbidden, decide.Code)
	assert.Equal(t, "decide", authz.lastReq.Action)
	assert.Equal(t, "approval", authz.lastReq.ResourceType)

	// The breaker stayed untouched.
	assert.Equal(t, resilience.CircuitClosed, h.registry.Get("connector").State())
}

func TestRoutes_AuthzRequiresIdentity(t *testing.T) {
	h, _ := newTestHandlers(t, &fakePipeline{})
	h.registry.Get("connector")

	// No auth middleware: RequireAuthz has no identity to authorize.
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), h, RouteConfig{Authz: &denyAuthz{}})

	w := doJSON(t, router, http.MethodPost, "/v1/admin/breakers/connector/reset", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
