// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package connector executes remediation actions against the managed
// platform and reports resource health.
//
// The pipeline treats the connector as the only component with side
// effects on live infrastructure. Everything before it decides whether
// to act; the connector acts.
package connector

import (
	"context"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// ConnectorBreakerName is the circuit breaker guarding connector
// calls. Distinct from the policy breaker so a sick connector does not
// block policy evaluation, and vice versa.
const ConnectorBreakerName = "connector"

// Connector executes actions and checks resource health.
type Connector interface {
	// Execute performs the action against the managed platform.
	Execute(ctx context.Context, action datatypes.RemediationAction) (datatypes.ExecutionOutcome, error)

	// GetHealth returns the current health of a resource, used for
	// post-change validation.
	GetHealth(ctx context.Context, resourceID string) (datatypes.HealthRecord, error)
}

// FleetChecker checks many resources at once. Implemented by
// connectors that can fan health checks out concurrently.
type FleetChecker interface {
	CheckFleet(ctx context.Context, resourceIDs []string) []datatypes.HealthRecord
}
