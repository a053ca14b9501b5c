// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/AleutianAI/AleutianOps/services/remediation/ratelimit"
	"github.com/AleutianAI/AleutianOps/services/remediation/resilience"
)

// PolicyBreakerName is the circuit breaker guarding policy service
// calls.
const PolicyBreakerName = "policy-service"

// Context keys added by rate-limit enrichment. Explicit values under
// these keys in the caller's context are never overwritten.
const (
	ContextKeyRecentActions       = "recent_actions"
	ContextKeyRecentActionsMinute = "recent_actions_minute"
	ContextKeyTeamRecentActions   = "team_recent_actions"
	ContextKeyTeam                = "team"
)

// destructiveActions are always CRITICAL, in every environment.
var destructiveActions = map[string]struct{}{
	datatypes.ActionDrainNode:           {},
	datatypes.ActionDeleteNamespace:     {},
	datatypes.ActionUpdateNetworkPolicy: {},
	datatypes.ActionUpdateIAMPolicy:     {},
}

// highImpactActions carry elevated risk in production and staging.
var highImpactActions = map[string]struct{}{
	datatypes.ActionRollbackDeployment: {},
	datatypes.ActionRotateCredentials:  {},
	datatypes.ActionScaleDown:          {},
}

// ClassifyRisk returns the static default risk level for an action
// type in an environment.
//
// # Description
//
// A conservative fallback used when no external risk assessment is
// available. Destructive action types are CRITICAL everywhere. In
// production, high-impact types are HIGH and everything else MEDIUM.
// In staging, high-impact types are MEDIUM and everything else LOW.
// All other environments default to LOW.
func ClassifyRisk(actionType, environment string) datatypes.RiskLevel {
	if _, ok := destructiveActions[actionType]; ok {
		return datatypes.RiskCritical
	}

	_, highImpact := highImpactActions[actionType]

	switch datatypes.NormalizeEnvironment(environment) {
	case datatypes.EnvProduction:
		if highImpact {
			return datatypes.RiskHigh
		}
		return datatypes.RiskMedium
	case datatypes.EnvStaging:
		if highImpact {
			return datatypes.RiskMedium
		}
		return datatypes.RiskLow
	default:
		return datatypes.RiskLow
	}
}

// Engine authorizes remediation actions.
//
// # Description
//
// Evaluate builds an authorization request from the action plus
// rate-limit enrichment, checks local guardrails, and submits the
// request to the policy service through the "policy-service" circuit
// breaker. Any internal failure resolves to a denial; Evaluate never
// returns an error and never panics on a dependency fault.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	remote     Evaluator
	guardrails *Guardrails
	tracker    ratelimit.Tracker
	breaker    *resilience.CircuitBreaker
	timeout    time.Duration
	logger     *slog.Logger
}

// EngineConfig configures the policy engine.
type EngineConfig struct {
	// Remote is the policy service client. Required.
	Remote Evaluator

	// Guardrails are local deny rules checked before the remote call.
	// Optional.
	Guardrails *Guardrails

	// Tracker supplies rate-limit enrichment counts and receives
	// best-effort increments on allowed decisions. Optional; without
	// it decisions carry no rate-limit context.
	Tracker ratelimit.Tracker

	// Breakers is the circuit breaker registry. Required. The engine
	// guards remote calls with the "policy-service" breaker.
	Breakers *resilience.Registry

	// Timeout bounds each remote evaluation. Default: DefaultPolicyTimeout.
	Timeout time.Duration

	// Logger for decision diagnostics. nil uses slog.Default().
	Logger *slog.Logger
}

// NewEngine creates a policy engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote policy evaluator is required")
	}
	if cfg.Breakers == nil {
		return nil, fmt.Errorf("circuit breaker registry is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultPolicyTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		remote:     cfg.Remote,
		guardrails: cfg.Guardrails,
		tracker:    cfg.Tracker,
		breaker:    cfg.Breakers.Get(PolicyBreakerName),
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Evaluate authorizes an action.
//
// # Description
//
// Checks guardrails, enriches the caller's context with rate-limit
// counts, and submits the assembled request to the policy service.
// On an allowed decision the rate-limit counters are incremented;
// increment failures are logged, not revoked. Every failure mode,
// including an open circuit, a timeout, and a malformed response,
// resolves to allowed=false with a reason recording the failure.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - action: The proposed action.
//   - agentID: The requesting agent.
//   - reqContext: Caller-supplied decision context. May be nil. Keys
//     already present are never overwritten by enrichment.
//
// # Outputs
//
//   - datatypes.PolicyDecision: The decision. Never accompanied by an
//     error; failures are denials.
func (e *Engine) Evaluate(ctx context.Context, action datatypes.RemediationAction, agentID string, reqContext map[string]any) datatypes.PolicyDecision {
	environment := datatypes.NormalizeEnvironment(action.Environment)
	team := e.resolveTeam(action, reqContext)

	if e.guardrails != nil {
		reasons, err := e.guardrails.Check(action, agentID)
		if err != nil {
			e.logger.Warn("guardrail evaluation failed, denying",
				slog.String("action_type", action.ActionType),
				slog.String("error", err.Error()))
			return denyOnFailure(err)
		}
		if len(reasons) > 0 {
			e.logger.Info("action denied by guardrail",
				slog.String("action_type", action.ActionType),
				slog.String("target", action.TargetResource))
			return datatypes.PolicyDecision{
				Allowed:     false,
				Reasons:     reasons,
				EvaluatedAt: time.Now().UTC(),
			}
		}
	}

	enriched, err := e.enrichContext(ctx, environment, team, reqContext)
	if err != nil {
		e.logger.Warn("rate-limit enrichment failed, denying",
			slog.String("action_type", action.ActionType),
			slog.String("error", err.Error()))
		return denyOnFailure(err)
	}

	input := map[string]any{
		"action":          action.ActionType,
		"target_resource": action.TargetResource,
		"environment":     environment,
		"risk_level":      string(ClassifyRisk(action.ActionType, action.Environment)),
		"parameters":      action.Parameters,
		"agent_id":        agentID,
		"team":            team,
		"resource_labels": action.ResourceLabels,
		"context":         enriched,
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var decision datatypes.PolicyDecision
	err = e.breaker.Execute(callCtx, func() error {
		var callErr error
		decision, callErr = e.remote.Evaluate(callCtx, input)
		return callErr
	})
	if err != nil {
		e.logger.Warn("policy evaluation failed, denying",
			slog.String("action_type", action.ActionType),
			slog.String("error", err.Error()))
		return denyOnFailure(err)
	}

	if decision.Allowed {
		e.recordUsage(ctx, environment, team)
	}

	return decision
}

// resolveTeam reads the team from the action's parameters, falling
// back to the caller's context.
func (e *Engine) resolveTeam(action datatypes.RemediationAction, reqContext map[string]any) string {
	if team := action.Team(); team != "" {
		return team
	}
	if raw, ok := reqContext[ContextKeyTeam]; ok {
		if team, ok := raw.(string); ok {
			return team
		}
	}
	return ""
}

// enrichContext merges rate-limit counts into the caller's context
// without overwriting explicit keys.
func (e *Engine) enrichContext(ctx context.Context, environment, team string, reqContext map[string]any) (map[string]any, error) {
	enriched := make(map[string]any, len(reqContext)+3)
	for k, v := range reqContext {
		enriched[k] = v
	}

	if e.tracker == nil {
		return enriched, nil
	}

	if _, ok := enriched[ContextKeyRecentActions]; !ok {
		count, err := e.tracker.CountRecentActions(ctx, environment)
		if err != nil {
			return nil, fmt.Errorf("count recent actions: %w", err)
		}
		enriched[ContextKeyRecentActions] = count
	}

	if _, ok := enriched[ContextKeyRecentActionsMinute]; !ok {
		count, err := e.tracker.CountRecentActionsMinute(ctx, environment)
		if err != nil {
			return nil, fmt.Errorf("count recent actions this minute: %w", err)
		}
		enriched[ContextKeyRecentActionsMinute] = count
	}

	if _, ok := enriched[ContextKeyTeamRecentActions]; !ok && team != "" {
		count, err := e.tracker.CountTeamActions(ctx, team, environment)
		if err != nil {
			return nil, fmt.Errorf("count team actions: %w", err)
		}
		enriched[ContextKeyTeamRecentActions] = count
	}

	return enriched, nil
}

// recordUsage increments the rate-limit counters after an allowed
// decision. Best-effort bookkeeping, not a second authorization gate.
func (e *Engine) recordUsage(ctx context.Context, environment, team string) {
	if e.tracker == nil {
		return
	}
	if err := e.tracker.Increment(ctx, environment, team); err != nil {
		e.logger.Warn("rate-limit increment failed",
			slog.String("environment", environment),
			slog.String("error", err.Error()))
	}
}

// denyOnFailure builds the fail-closed denial for an evaluation error.
func denyOnFailure(err error) datatypes.PolicyDecision {
	return datatypes.PolicyDecision{
		Allowed:     false,
		Reasons:     []string{fmt.Sprintf("policy evaluation could not complete, defaulting to deny: %v", err)},
		EvaluatedAt: time.Now().UTC(),
	}
}
