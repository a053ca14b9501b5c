// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/AleutianAI/AleutianOps/services/remediation/resilience"
)

func testRegistry(t *testing.T) *resilience.Registry {
	t.Helper()
	registry, err := resilience.NewRegistry(resilience.Config{
		FailureThreshold: 3,
		ResetTimeout:     time.Hour,
		HalfOpenMaxCalls: 1,
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return registry
}

func newTestConnector(t *testing.T, serverURL string) *HTTPConnector {
	t.Helper()
	c, err := NewHTTPConnector(HTTPConfig{
		BaseURL:  serverURL,
		Breakers: testRegistry(t),
	})
	if err != nil {
		t.Fatalf("NewHTTPConnector() error = %v", err)
	}
	return c
}

func TestNewHTTPConnector_Validation(t *testing.T) {
	if _, err := NewHTTPConnector(HTTPConfig{Breakers: testRegistry(t)}); err == nil {
		t.Error("expected error for missing base URL")
	}
	if _, err := NewHTTPConnector(HTTPConfig{BaseURL: "http://localhost:9000"}); err == nil {
		t.Error("expected error for missing breaker registry")
	}
}

func TestHTTPConnector_Execute(t *testing.T) {
	var gotAction datatypes.RemediationAction

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/actions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotAction); err != nil {
			t.Errorf("decode action: %v", err)
		}
		json.NewEncoder(w).Encode(datatypes.ExecutionOutcome{
			Status:      "succeeded",
			Message:     "pod restarted",
			CompletedAt: time.Now().UTC(),
		})
	}))
	defer server.Close()

	c := newTestConnector(t, server.URL)

	outcome, err := c.Execute(context.Background(), datatypes.RemediationAction{
		ID:             "act-1",
		ActionType:     datatypes.ActionRestartPod,
		TargetResource: "default/api-server",
		Environment:    "production",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Status != "succeeded" {
		t.Errorf("Status = %q, want succeeded", outcome.Status)
	}
	if gotAction.ActionType != datatypes.ActionRestartPod {
		t.Errorf("server received action type %q", gotAction.ActionType)
	}
}

func TestHTTPConnector_Execute_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "node unreachable", http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestConnector(t, server.URL)

	_, err := c.Execute(context.Background(), datatypes.RemediationAction{
		ActionType:     datatypes.ActionRestartPod,
		TargetResource: "default/api-server",
	})
	if err == nil {
		t.Fatal("Execute() error = nil, want failure")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error = %v, want status in message", err)
	}
}

func TestHTTPConnector_GetHealth_EscapesResourceID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/v1/resources/default%2Fapi-server/health" {
			t.Errorf("path = %q", r.URL.EscapedPath())
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(datatypes.HealthRecord{
			ResourceID: "default/api-server",
			Healthy:    true,
			Status:     "running",
			CheckedAt:  time.Now().UTC(),
		})
	}))
	defer server.Close()

	c := newTestConnector(t, server.URL)

	record, err := c.GetHealth(context.Background(), "default/api-server")
	if err != nil {
		t.Fatalf("GetHealth() error = %v", err)
	}
	if !record.Healthy {
		t.Error("Healthy = false, want true")
	}
}

func TestHTTPConnector_StateRoundTrip(t *testing.T) {
	stored := json.RawMessage(`{"replicas":3}`)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write(stored)
		case http.MethodPut:
			var incoming json.RawMessage
			if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			stored = incoming
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := newTestConnector(t, server.URL)
	ctx := context.Background()

	state, err := c.ReadState(ctx, "web-frontend")
	if err != nil {
		t.Fatalf("ReadState() error = %v", err)
	}
	if string(state) != `{"replicas":3}` {
		t.Errorf("state = %s", state)
	}

	if err := c.WriteState(ctx, "web-frontend", json.RawMessage(`{"replicas":5}`)); err != nil {
		t.Fatalf("WriteState() error = %v", err)
	}
	if string(stored) != `{"replicas":5}` {
		t.Errorf("stored state = %s, want replicas:5", stored)
	}
}

func TestHTTPConnector_BreakerStopsCallsAfterFailures(t *testing.T) {
	var requests atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestConnector(t, server.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.GetHealth(ctx, "web-frontend"); err == nil {
			t.Fatalf("GetHealth() #%d error = nil, want failure", i+1)
		}
	}
	seen := requests.Load()

	_, err := c.GetHealth(ctx, "web-frontend")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("GetHealth() error = %v, want circuit open", err)
	}
	if requests.Load() != seen {
		t.Errorf("server saw %d requests after trip, want %d", requests.Load(), seen)
	}
}

func TestHTTPConnector_CheckFleet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.EscapedPath(), "db-primary") {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(datatypes.HealthRecord{
			ResourceID: "ok",
			Healthy:    true,
			Status:     "running",
		})
	}))
	defer server.Close()

	c := newTestConnector(t, server.URL)

	records := c.CheckFleet(context.Background(), []string{"svc-a", "db-primary", "svc-b"})
	if len(records) != 3 {
		t.Fatalf("CheckFleet() returned %d records, want 3", len(records))
	}
	if !records[0].Healthy || !records[2].Healthy {
		t.Error("healthy resources reported unhealthy")
	}
	if records[1].Healthy {
		t.Error("failed resource reported healthy")
	}
	if records[1].ResourceID != "db-primary" {
		t.Errorf("records[1].ResourceID = %q, want db-primary (index order preserved)", records[1].ResourceID)
	}
	if records[1].Status != "unreachable" {
		t.Errorf("records[1].Status = %q, want unreachable", records[1].Status)
	}
}

func TestHTTPConnector_SendsBearerToken(t *testing.T) {
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(datatypes.HealthRecord{Healthy: true})
	}))
	defer server.Close()

	creds, err := NewCredentialStore([]byte("s3cret-token"))
	if err != nil {
		t.Fatalf("NewCredentialStore() error = %v", err)
	}
	defer creds.Destroy()

	c, err := NewHTTPConnector(HTTPConfig{
		BaseURL:     server.URL,
		Breakers:    testRegistry(t),
		Credentials: creds,
	})
	if err != nil {
		t.Fatalf("NewHTTPConnector() error = %v", err)
	}

	if _, err := c.GetHealth(context.Background(), "web-frontend"); err != nil {
		t.Fatalf("GetHealth() error = %v", err)
	}
	if gotAuth != "Bearer s3cret-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}

func TestCredentialStore_WipesInputAndDestroys(t *testing.T) {
	token := []byte("s3cret-token")
	creds, err := NewCredentialStore(token)
	if err != nil {
		t.Fatalf("NewCredentialStore() error = %v", err)
	}

	if string(token) == "s3cret-token" {
		t.Error("input slice not wiped")
	}

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	if err := creds.Authorize(req); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if req.Header.Get("Authorization") != "Bearer s3cret-token" {
		t.Errorf("Authorization = %q", req.Header.Get("Authorization"))
	}

	creds.Destroy()
	creds.Destroy() // idempotent

	if err := creds.Authorize(req); err == nil {
		t.Error("Authorize() after Destroy() = nil, want error")
	}
}

func TestNewCredentialStore_EmptyToken(t *testing.T) {
	if _, err := NewCredentialStore(nil); err == nil {
		t.Error("expected error for empty token")
	}
}
