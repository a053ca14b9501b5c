// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability exposes Prometheus metrics for the remediation
// pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Remediation Runs
// =============================================================================

var (
	// runsStarted counts pipeline runs accepted for processing.
	// Labels: action_type, environment
	runsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian_ops",
		Subsystem: "remediation",
		Name:      "runs_started_total",
		Help:      "Total remediation runs started",
	}, []string{"action_type", "environment"})

	// runsCompleted counts runs by terminal state.
	// Labels: action_type, environment, terminal_state
	runsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian_ops",
		Subsystem: "remediation",
		Name:      "runs_completed_total",
		Help:      "Total remediation runs reaching a terminal state",
	}, []string{"action_type", "environment", "terminal_state"})

	// runDuration measures wall time from run start to terminal state.
	// Labels: terminal_state
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aleutian_ops",
		Subsystem: "remediation",
		Name:      "run_duration_seconds",
		Help:      "Remediation run duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
	}, []string{"terminal_state"})

	// stageDuration measures the time spent in each pipeline stage.
	// Labels: stage
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aleutian_ops",
		Subsystem: "remediation",
		Name:      "stage_duration_seconds",
		Help:      "Time spent in each pipeline stage in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"stage"})

	// policyDecisions counts authorization outcomes.
	// Labels: decision (allow, deny)
	policyDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian_ops",
		Subsystem: "remediation",
		Name:      "policy_decisions_total",
		Help:      "Total policy decisions by outcome",
	}, []string{"decision"})

	// approvalOutcomes counts approval gate results.
	// Labels: status (APPROVED, REJECTED, TIMED_OUT)
	approvalOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian_ops",
		Subsystem: "remediation",
		Name:      "approval_outcomes_total",
		Help:      "Total approval gate outcomes by status",
	}, []string{"status"})

	// rollbacks counts best-effort rollback attempts after execution errors.
	// Labels: outcome (success, failure)
	rollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian_ops",
		Subsystem: "remediation",
		Name:      "rollbacks_total",
		Help:      "Total rollback attempts by outcome",
	}, []string{"outcome"})
)

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// RecordRunStarted records a run entering the pipeline.
//
// Inputs:
//
//	actionType - The action type (e.g. "restart_pod").
//	environment - The normalized target environment.
func RecordRunStarted(actionType, environment string) {
	runsStarted.WithLabelValues(actionType, environment).Inc()
}

// RecordRunCompleted records a run reaching a terminal state.
//
// Inputs:
//
//	actionType - The action type.
//	environment - The normalized target environment.
//	terminalState - The terminal run state (e.g. "COMPLETE", "DENIED").
//	durationSec - Run duration in seconds.
func RecordRunCompleted(actionType, environment, terminalState string, durationSec float64) {
	runsCompleted.WithLabelValues(actionType, environment, terminalState).Inc()
	runDuration.WithLabelValues(terminalState).Observe(durationSec)
}

// RecordStageDuration records time spent in one pipeline stage.
//
// Inputs:
//
//	stage - The stage name (e.g. "POLICY_CHECK").
//	durationSec - Stage duration in seconds.
func RecordStageDuration(stage string, durationSec float64) {
	stageDuration.WithLabelValues(stage).Observe(durationSec)
}

// RecordPolicyDecision records an authorization outcome.
//
// Inputs:
//
//	allowed - Whether the policy decision allowed the action.
func RecordPolicyDecision(allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	policyDecisions.WithLabelValues(decision).Inc()
}

// RecordApprovalOutcome records an approval gate result.
//
// Inputs:
//
//	status - The approval status (e.g. "APPROVED").
func RecordApprovalOutcome(status string) {
	approvalOutcomes.WithLabelValues(status).Inc()
}

// RecordRollback records a rollback attempt.
//
// Inputs:
//
//	success - Whether the restore succeeded.
func RecordRollback(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	rollbacks.WithLabelValues(outcome).Inc()
}
