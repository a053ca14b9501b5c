// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy decides whether a proposed remediation action may
// proceed.
//
// The decision path is: local CEL guardrails first, then the external
// policy service called through a circuit breaker. Every failure mode
// resolves to a denial; this package must never fail open.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// DefaultPolicyTimeout bounds a single policy service call. Policy
// evaluation sits on every run's critical path, so the timeout is
// short.
const DefaultPolicyTimeout = 5 * time.Second

// DefaultDecisionPath is the policy service's decision endpoint.
const DefaultDecisionPath = "/v1/data/aleutian/remediation/allow"

// Evaluator submits an authorization request and returns the service's
// decision. Implementations return an error for transport and protocol
// failures; interpreting those as denial is the Engine's job.
type Evaluator interface {
	Evaluate(ctx context.Context, input map[string]any) (datatypes.PolicyDecision, error)
}

// Client calls the external policy service.
//
// # Description
//
// The service speaks the OPA data API shape: the request wraps the
// authorization input in {"input": {...}} and the response carries
// {"result": bool, "reasons": [...]}. A non-2xx status or a response
// without a result field is a transport failure.
//
// # Thread Safety
//
// Client is safe for concurrent use.
type Client struct {
	baseURL      string
	decisionPath string
	httpClient   *http.Client
}

// ClientConfig configures the policy service client.
type ClientConfig struct {
	// BaseURL is the policy service's base URL. Required.
	BaseURL string

	// DecisionPath is the decision endpoint path.
	// Default: DefaultDecisionPath.
	DecisionPath string

	// Timeout bounds each request. Default: DefaultPolicyTimeout.
	Timeout time.Duration
}

// NewClient creates a policy service client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("policy service base URL is required")
	}
	path := cfg.DecisionPath
	if path == "" {
		path = DefaultDecisionPath
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultPolicyTimeout
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		decisionPath: path,
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

// policyRequest is the request body for the decision endpoint.
type policyRequest struct {
	Input map[string]any `json:"input"`
}

// policyResponse is the decision endpoint's response. Result is a
// pointer so a response that omits it is detected as malformed rather
// than read as a denial.
type policyResponse struct {
	Result  *bool    `json:"result"`
	Reasons []string `json:"reasons"`
}

// Evaluate submits the authorization input and returns the decision.
func (c *Client) Evaluate(ctx context.Context, input map[string]any) (datatypes.PolicyDecision, error) {
	reqBody := policyRequest{Input: input}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return datatypes.PolicyDecision{}, fmt.Errorf("marshal policy request: %w", err)
	}

	url := c.baseURL + c.decisionPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return datatypes.PolicyDecision{}, fmt.Errorf("create policy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return datatypes.PolicyDecision{}, fmt.Errorf("policy service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return datatypes.PolicyDecision{}, fmt.Errorf("policy service returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded policyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return datatypes.PolicyDecision{}, fmt.Errorf("decode policy response: %w", err)
	}
	if decoded.Result == nil {
		return datatypes.PolicyDecision{}, fmt.Errorf("policy response missing result field")
	}

	return datatypes.PolicyDecision{
		Allowed:     *decoded.Result,
		Reasons:     decoded.Reasons,
		EvaluatedAt: time.Now().UTC(),
	}, nil
}

// Health checks whether the policy service is reachable.
func (c *Client) Health(ctx context.Context) error {
	url := c.baseURL + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("policy service health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("policy service unhealthy: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
