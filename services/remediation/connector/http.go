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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/AleutianAI/AleutianOps/services/remediation/resilience"
)

// DefaultConnectorTimeout bounds a single connector request. Execution
// can involve slow platform APIs, so this is looser than the policy
// timeout.
const DefaultConnectorTimeout = 30 * time.Second

// DefaultFleetConcurrency bounds concurrent health checks in
// CheckFleet.
const DefaultFleetConcurrency = 8

// HTTPConfig configures the HTTP connector.
type HTTPConfig struct {
	// BaseURL is the platform connector service's base URL. Required.
	BaseURL string

	// Timeout bounds each request. Default: DefaultConnectorTimeout.
	Timeout time.Duration

	// Credentials authorizes requests. Optional; without it requests
	// are sent unauthenticated.
	Credentials *CredentialStore

	// Breakers is the circuit breaker registry. Required. All calls
	// go through the "connector" breaker.
	Breakers *resilience.Registry

	// FleetConcurrency bounds concurrent CheckFleet requests.
	// Default: DefaultFleetConcurrency.
	FleetConcurrency int
}

// HTTPConnector talks to the platform connector service.
//
// # Description
//
// The connector service fronts the managed platform (Kubernetes,
// cloud APIs). This client executes actions, reads and writes resource
// state for snapshots, and checks health. Every call is guarded by the
// "connector" circuit breaker.
//
// # Thread Safety
//
// Safe for concurrent use.
type HTTPConnector struct {
	baseURL    string
	httpClient *http.Client
	creds      *CredentialStore
	breaker    *resilience.CircuitBreaker
	fleetLimit int
}

// NewHTTPConnector creates a connector client.
func NewHTTPConnector(cfg HTTPConfig) (*HTTPConnector, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("connector base URL is required")
	}
	if cfg.Breakers == nil {
		return nil, fmt.Errorf("circuit breaker registry is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectorTimeout
	}
	fleetLimit := cfg.FleetConcurrency
	if fleetLimit <= 0 {
		fleetLimit = DefaultFleetConcurrency
	}
	return &HTTPConnector{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		creds:      cfg.Credentials,
		breaker:    cfg.Breakers.Get(ConnectorBreakerName),
		fleetLimit: fleetLimit,
	}, nil
}

// Execute performs the action against the managed platform.
func (c *HTTPConnector) Execute(ctx context.Context, action datatypes.RemediationAction) (datatypes.ExecutionOutcome, error) {
	var outcome datatypes.ExecutionOutcome
	err := c.breaker.Execute(ctx, func() error {
		return c.postJSON(ctx, c.baseURL+"/v1/actions", action, &outcome)
	})
	if err != nil {
		return datatypes.ExecutionOutcome{}, fmt.Errorf("execute %s on %s: %w", action.ActionType, action.TargetResource, err)
	}
	return outcome, nil
}

// GetHealth returns the current health of a resource.
func (c *HTTPConnector) GetHealth(ctx context.Context, resourceID string) (datatypes.HealthRecord, error) {
	var record datatypes.HealthRecord
	err := c.breaker.Execute(ctx, func() error {
		return c.getJSON(ctx, c.resourceURL(resourceID, "health"), &record)
	})
	if err != nil {
		return datatypes.HealthRecord{}, fmt.Errorf("health of %s: %w", resourceID, err)
	}
	return record, nil
}

// ReadState returns the resource's current state document. Implements
// the snapshot store's state source.
func (c *HTTPConnector) ReadState(ctx context.Context, resourceID string) (json.RawMessage, error) {
	var state json.RawMessage
	err := c.breaker.Execute(ctx, func() error {
		return c.getJSON(ctx, c.resourceURL(resourceID, "state"), &state)
	})
	if err != nil {
		return nil, fmt.Errorf("read state of %s: %w", resourceID, err)
	}
	return state, nil
}

// WriteState replaces the resource's state with a captured document.
func (c *HTTPConnector) WriteState(ctx context.Context, resourceID string, state json.RawMessage) error {
	err := c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.resourceURL(resourceID, "state"), bytes.NewReader(state))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(req, nil)
	})
	if err != nil {
		return fmt.Errorf("write state of %s: %w", resourceID, err)
	}
	return nil
}

// CheckFleet checks many resources concurrently. A failed check
// produces an unhealthy record rather than failing the whole sweep.
func (c *HTTPConnector) CheckFleet(ctx context.Context, resourceIDs []string) []datatypes.HealthRecord {
	records := make([]datatypes.HealthRecord, len(resourceIDs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.fleetLimit)

	for i, resourceID := range resourceIDs {
		i, resourceID := i, resourceID

		g.Go(func() error {
			record, err := c.GetHealth(gCtx, resourceID)
			if err != nil {
				records[i] = datatypes.HealthRecord{
					ResourceID: resourceID,
					Healthy:    false,
					Status:     "unreachable",
					Details:    map[string]any{"error": err.Error()},
					CheckedAt:  time.Now().UTC(),
				}
				return nil
			}
			records[i] = record
			return nil
		})
	}

	// Individual failures are recorded per resource, never propagated.
	_ = g.Wait()

	return records
}

func (c *HTTPConnector) resourceURL(resourceID, suffix string) string {
	return fmt.Sprintf("%s/v1/resources/%s/%s", c.baseURL, url.PathEscape(resourceID), suffix)
}

func (c *HTTPConnector) postJSON(ctx context.Context, url string, body, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPConnector) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *HTTPConnector) do(req *http.Request, out any) error {
	if c.creds != nil {
		if err := c.creds.Authorize(req); err != nil {
			return err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connector request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("connector returned status %d: %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode connector response: %w", err)
	}
	return nil
}
