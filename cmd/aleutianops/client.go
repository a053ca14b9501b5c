// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/AleutianAI/AleutianOps/services/remediation/handlers"
)

// clientTimeout bounds a single gateway request. Synchronous submissions
// are excluded; those wait for the run and use submitTimeout.
const clientTimeout = 15 * time.Second

// submitTimeout bounds a synchronous submission, which holds the request
// open through snapshot, execute, and validate.
const submitTimeout = 5 * time.Minute

// apiError is a non-2xx gateway response.
type apiError struct {
	Status  int
	Message string
	Code    string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned status %d", e.Status)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// gatewayClient is a thin JSON client for the remediation gateway API.
type gatewayClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(baseURL, token string) *gatewayClient {
	return &gatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: clientTimeout},
	}
}

// do issues one request and decodes the JSON response into out. A nil
// out discards the body. Non-2xx responses come back as *apiError.
func (c *gatewayClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &apiError{Status: resp.StatusCode}
	var body handlers.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Message = body.Error
		apiErr.Code = body.Code
	}
	return apiErr
}

// =============================================================================
// Remediations
// =============================================================================

// submit posts a remediation request. accepted reports a 202, meaning
// the run continues in the background and should be polled.
func (c *gatewayClient) submit(ctx context.Context, req handlers.SubmitRequest) (datatypes.RunRecord, bool, error) {
	endpoint := c.baseURL + "/v1/remediations"
	payload, err := json.Marshal(req)
	if err != nil {
		return datatypes.RunRecord{}, false, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return datatypes.RunRecord{}, false, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	// Synchronous submissions block until the terminal state, so this
	// call gets its own generous timeout.
	client := &http.Client{Timeout: submitTimeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return datatypes.RunRecord{}, false, fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return datatypes.RunRecord{}, false, decodeAPIError(resp)
	}

	var record datatypes.RunRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return datatypes.RunRecord{}, false, fmt.Errorf("decode response: %w", err)
	}
	return record, resp.StatusCode == http.StatusAccepted, nil
}

func (c *gatewayClient) getRun(ctx context.Context, runID string) (datatypes.RunRecord, error) {
	var record datatypes.RunRecord
	err := c.do(ctx, http.MethodGet, "/v1/remediations/"+url.PathEscape(runID), nil, nil, &record)
	return record, err
}

func (c *gatewayClient) listRuns(ctx context.Context, limit int) (handlers.ListRunsResponse, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out handlers.ListRunsResponse
	err := c.do(ctx, http.MethodGet, "/v1/remediations", query, nil, &out)
	return out, err
}

func (c *gatewayClient) classify(ctx context.Context, action datatypes.RemediationAction) (handlers.ClassifyResponse, error) {
	var out handlers.ClassifyResponse
	err := c.do(ctx, http.MethodPost, "/v1/risk/classify", nil, action, &out)
	return out, err
}

// =============================================================================
// Approvals
// =============================================================================

func (c *gatewayClient) pendingApprovals(ctx context.Context) (handlers.PendingApprovalsResponse, error) {
	var out handlers.PendingApprovalsResponse
	err := c.do(ctx, http.MethodGet, "/v1/approvals", nil, nil, &out)
	return out, err
}

func (c *gatewayClient) decide(ctx context.Context, requestID string, req handlers.DecisionRequest) (handlers.DecisionResponse, error) {
	var out handlers.DecisionResponse
	err := c.do(ctx, http.MethodPost, "/v1/approvals/"+url.PathEscape(requestID)+"/decision", nil, req, &out)
	return out, err
}

// =============================================================================
// Breakers and Fleet
// =============================================================================

func (c *gatewayClient) breakers(ctx context.Context) (handlers.BreakersResponse, error) {
	var out handlers.BreakersResponse
	err := c.do(ctx, http.MethodGet, "/v1/admin/breakers", nil, nil, &out)
	return out, err
}

func (c *gatewayClient) resetBreaker(ctx context.Context, name string) (handlers.ResetResponse, error) {
	var out handlers.ResetResponse
	err := c.do(ctx, http.MethodPost, "/v1/admin/breakers/"+url.PathEscape(name)+"/reset", nil, nil, &out)
	return out, err
}

func (c *gatewayClient) resetAllBreakers(ctx context.Context) (handlers.ResetResponse, error) {
	var out handlers.ResetResponse
	err := c.do(ctx, http.MethodPost, "/v1/admin/breakers/reset", nil, nil, &out)
	return out, err
}

func (c *gatewayClient) fleetHealth(ctx context.Context, resources []string) (handlers.FleetHealthResponse, error) {
	query := url.Values{}
	query.Set("resources", strings.Join(resources, ","))
	var out handlers.FleetHealthResponse
	err := c.do(ctx, http.MethodGet, "/v1/fleet/health", query, nil, &out)
	return out, err
}
