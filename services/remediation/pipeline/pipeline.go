// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianOps/services/remediation/approval"
	"github.com/AleutianAI/AleutianOps/services/remediation/archive"
	"github.com/AleutianAI/AleutianOps/services/remediation/connector"
	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/AleutianAI/AleutianOps/services/remediation/observability"
	"github.com/AleutianAI/AleutianOps/services/remediation/policy"
	"github.com/AleutianAI/AleutianOps/services/remediation/risk"
	"github.com/AleutianAI/AleutianOps/services/remediation/snapshot"
)

var tracer = otel.Tracer("aleutianops.remediation.pipeline")

// Default stage bounds. Approval has its own default in the approval
// package.
const (
	DefaultSnapshotTimeout = 30 * time.Second
	DefaultExecuteTimeout  = 2 * time.Minute
	DefaultValidateTimeout = 30 * time.Second

	// DefaultApprovalThreshold is the lowest risk level that requires a
	// human sign-off.
	DefaultApprovalThreshold = datatypes.RiskHigh

	archiveTimeout = 10 * time.Second
)

// ErrRunNotFound is returned by GetRun for unknown run IDs.
var ErrRunNotFound = errors.New("remediation run not found")

// PolicyEvaluator is the authorization gate consumed by the pipeline.
// Evaluate never fails open: every failure mode inside it resolves to a
// denial decision.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, action datatypes.RemediationAction, agentID string, reqContext map[string]any) datatypes.PolicyDecision
}

// RunArchiver persists terminal run records and serves them back by ID.
type RunArchiver interface {
	Save(ctx context.Context, record datatypes.RunRecord) error
	Get(ctx context.Context, runID string) (datatypes.RunRecord, error)
}

// RunRequest is one submission to the pipeline.
type RunRequest struct {
	// Action is the proposed change. Validated and defaulted on entry.
	Action datatypes.RemediationAction

	// AgentID identifies the requesting agent for policy evaluation and
	// the audit record.
	AgentID string

	// Context carries caller-supplied keys forwarded to the policy
	// service. Enrichment fills in usage counters without overwriting
	// anything set here.
	Context map[string]any
}

// Config wires a Runner. Policy, Risk, Approver, Snapshots, and Connector
// are required.
type Config struct {
	Policy    PolicyEvaluator
	Risk      risk.Assessor
	Approver  approval.Approver
	Snapshots snapshot.Store
	Connector connector.Connector

	// Archive persists terminal run records. When nil, terminal records
	// stay in the in-memory registry and are never evicted.
	Archive RunArchiver

	// ApprovalThreshold is the lowest risk level routed through the
	// approval gate. Defaults to DefaultApprovalThreshold. Non-reversible
	// actions are gated regardless of level.
	ApprovalThreshold datatypes.RiskLevel

	// ApprovalTimeout bounds the human approval wait. Defaults to
	// approval.DefaultApprovalTimeout.
	ApprovalTimeout time.Duration

	// SnapshotTimeout bounds pre-change state capture. Defaults to
	// DefaultSnapshotTimeout.
	SnapshotTimeout time.Duration

	// ExecuteTimeout bounds the connector execute call and the rollback
	// restore. Defaults to DefaultExecuteTimeout.
	ExecuteTimeout time.Duration

	// ValidateTimeout bounds the post-change health check. Defaults to
	// DefaultValidateTimeout.
	ValidateTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Runner drives remediation runs through the state machine.
//
// # Thread Safety
//
// Safe for concurrent use. Each run is driven by a single goroutine; the
// registry guards concurrent Submit/GetRun/ActiveRuns access.
type Runner struct {
	policy    PolicyEvaluator
	risk      risk.Assessor
	approver  approval.Approver
	snapshots snapshot.Store
	connector connector.Connector
	archive   RunArchiver
	logger    *slog.Logger

	threshold       datatypes.RiskLevel
	approvalTimeout time.Duration
	snapshotTimeout time.Duration
	executeTimeout  time.Duration
	validateTimeout time.Duration
	now             func() time.Time

	mu     sync.RWMutex
	active map[string]*activeRun
}

// NewRunner builds a Runner. Configuration errors are the only errors this
// package ever propagates; once a run starts, every failure is recorded on
// the run instead.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Policy == nil {
		return nil, fmt.Errorf("pipeline requires a policy evaluator")
	}
	if cfg.Risk == nil {
		return nil, fmt.Errorf("pipeline requires a risk assessor")
	}
	if cfg.Approver == nil {
		return nil, fmt.Errorf("pipeline requires an approver")
	}
	if cfg.Snapshots == nil {
		return nil, fmt.Errorf("pipeline requires a snapshot store")
	}
	if cfg.Connector == nil {
		return nil, fmt.Errorf("pipeline requires a connector")
	}

	threshold := cfg.ApprovalThreshold
	if threshold == "" {
		threshold = DefaultApprovalThreshold
	}
	if !threshold.IsValid() {
		return nil, fmt.Errorf("invalid approval threshold %q", cfg.ApprovalThreshold)
	}

	approvalTimeout := cfg.ApprovalTimeout
	if approvalTimeout <= 0 {
		approvalTimeout = approval.DefaultApprovalTimeout
	}
	snapshotTimeout := cfg.SnapshotTimeout
	if snapshotTimeout <= 0 {
		snapshotTimeout = DefaultSnapshotTimeout
	}
	executeTimeout := cfg.ExecuteTimeout
	if executeTimeout <= 0 {
		executeTimeout = DefaultExecuteTimeout
	}
	validateTimeout := cfg.ValidateTimeout
	if validateTimeout <= 0 {
		validateTimeout = DefaultValidateTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Runner{
		policy:          cfg.Policy,
		risk:            cfg.Risk,
		approver:        cfg.Approver,
		snapshots:       cfg.Snapshots,
		connector:       cfg.Connector,
		archive:         cfg.Archive,
		logger:          logger,
		threshold:       threshold,
		approvalTimeout: approvalTimeout,
		snapshotTimeout: snapshotTimeout,
		executeTimeout:  executeTimeout,
		validateTimeout: validateTimeout,
		now:             clock,
		active:          make(map[string]*activeRun),
	}, nil
}

// Run drives a submission to its terminal state and returns the final
// record. The returned error covers invalid input only; policy denials,
// rejections, and execution failures are outcomes on the record.
func (p *Runner) Run(ctx context.Context, req RunRequest) (datatypes.RunRecord, error) {
	run, err := p.begin(req)
	if err != nil {
		return datatypes.RunRecord{}, err
	}
	p.drive(ctx, run, req)
	return run.view(), nil
}

// Start begins a run and returns its initial record without waiting. The
// run continues on its own goroutine, detached from the caller's context;
// progress is visible through GetRun.
func (p *Runner) Start(ctx context.Context, req RunRequest) (datatypes.RunRecord, error) {
	run, err := p.begin(req)
	if err != nil {
		return datatypes.RunRecord{}, err
	}
	go p.drive(context.WithoutCancel(ctx), run, req)
	return run.view(), nil
}

// GetRun returns a run record by ID, checking in-flight runs first and the
// archive second.
func (p *Runner) GetRun(ctx context.Context, runID string) (datatypes.RunRecord, error) {
	p.mu.RLock()
	run, ok := p.active[runID]
	p.mu.RUnlock()
	if ok {
		return run.view(), nil
	}
	if p.archive == nil {
		return datatypes.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	record, err := p.archive.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, archive.ErrRunNotFound) {
			return datatypes.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return datatypes.RunRecord{}, err
	}
	return record, nil
}

// ActiveRuns returns copies of every run still in the registry, oldest
// first.
func (p *Runner) ActiveRuns() []datatypes.RunRecord {
	p.mu.RLock()
	records := make([]datatypes.RunRecord, 0, len(p.active))
	for _, run := range p.active {
		records = append(records, run.view())
	}
	p.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].RunID < records[j].RunID
		}
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records
}

// begin validates the submission and registers the run.
func (p *Runner) begin(req RunRequest) (*activeRun, error) {
	action := req.Action
	if err := action.Validate(); err != nil {
		return nil, err
	}
	action.EnsureDefaults()

	run := newActiveRun(action, req.AgentID, p.now)
	p.mu.Lock()
	p.active[run.id()] = run
	p.mu.Unlock()

	observability.RecordRunStarted(action.ActionType, action.Environment)
	p.logger.Info("remediation run started",
		"run_id", run.id(),
		"action_type", action.ActionType,
		"target_resource", action.TargetResource,
		"environment", action.Environment,
		"agent_id", req.AgentID)
	return run, nil
}

// drive executes the stages in order. It never returns an error: every
// outcome, including internal faults, lands on the run record.
func (p *Runner) drive(ctx context.Context, run *activeRun, req RunRequest) {
	action := run.view().Action

	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", run.id()),
		attribute.String("action.type", action.ActionType),
		attribute.String("action.target", action.TargetResource),
		attribute.String("action.environment", action.Environment),
	)

	defer func() {
		if !run.step().IsTerminal() {
			// A run must always leave the pipeline in a terminal state.
			p.logger.Error("run exited the pipeline in a non-terminal state",
				"run_id", run.id(), "step", run.step().String())
			run.mutate(func(rec *datatypes.RunRecord) {
				if rec.Error == "" {
					rec.Error = "pipeline aborted in state " + rec.CurrentStep.String()
				}
				rec.CurrentStep = datatypes.RunBlocked
				rec.CompletedAt = p.now().UTC()
				rec.DurationMs = rec.CompletedAt.Sub(rec.StartedAt).Milliseconds()
			})
		}
		span.SetAttributes(attribute.String("run.terminal_state", run.step().String()))
		p.finish(ctx, run)
	}()

	if !p.runPolicyCheck(ctx, run, action, req) {
		return
	}
	assessment, ok := p.runRiskAssess(ctx, run, action)
	if !ok {
		return
	}
	if !p.runApprovalGate(ctx, run, action, assessment) {
		return
	}
	if !p.runSnapshot(ctx, run, action, assessment) {
		return
	}
	if !p.runExecute(ctx, run, action) {
		return
	}
	p.runValidate(ctx, run, action)
}

// advanceOrAbort moves the run forward, logging a rejected transition.
// Rejections only happen on a pipeline bug; the drive defer then forces
// the run terminal.
func (p *Runner) advanceOrAbort(run *activeRun, to datatypes.RunState, detail string) bool {
	if err := run.advance(to, detail); err != nil {
		p.logger.Error("run transition rejected", "run_id", run.id(), "error", err)
		return false
	}
	return true
}

func (p *Runner) runPolicyCheck(ctx context.Context, run *activeRun, action datatypes.RemediationAction, req RunRequest) bool {
	if !p.advanceOrAbort(run, datatypes.RunPolicyCheck, "") {
		return false
	}
	ctx, span := tracer.Start(ctx, "pipeline.policy_check")
	defer span.End()

	start := p.now()
	decision := p.policy.Evaluate(ctx, action, req.AgentID, req.Context)
	observability.RecordStageDuration(datatypes.RunPolicyCheck.String(), p.now().Sub(start).Seconds())
	observability.RecordPolicyDecision(decision.Allowed)
	span.SetAttributes(attribute.Bool("policy.allowed", decision.Allowed))

	run.mutate(func(rec *datatypes.RunRecord) { rec.PolicyResult = &decision })

	if !decision.Allowed {
		detail := "policy denied"
		if len(decision.Reasons) > 0 {
			detail = decision.Reasons[0]
		}
		p.logger.Info("remediation denied by policy",
			"run_id", run.id(), "reasons", decision.Reasons)
		p.advanceOrAbort(run, datatypes.RunDenied, detail)
		return false
	}
	return true
}

func (p *Runner) runRiskAssess(ctx context.Context, run *activeRun, action datatypes.RemediationAction) (datatypes.RiskAssessment, bool) {
	if !p.advanceOrAbort(run, datatypes.RunRiskAssess, "") {
		return datatypes.RiskAssessment{}, false
	}

	start := p.now()
	assessment, err := p.risk.Assess(ctx, action)
	observability.RecordStageDuration(datatypes.RunRiskAssess.String(), p.now().Sub(start).Seconds())
	if err != nil {
		// Fallback keeps destructive actions at CRITICAL and floors
		// everything else at HIGH.
		level := policy.ClassifyRisk(action.ActionType, action.Environment).Max(datatypes.RiskHigh)
		assessment = datatypes.RiskAssessment{
			Level:       level,
			Reversible:  risk.Reversible(action.ActionType),
			BlastRadius: "unknown",
			Reasons:     []string{fmt.Sprintf("risk assessment failed, conservative fallback applied: %v", err)},
			Source:      datatypes.RiskSourceStatic,
		}
		p.logger.Warn("risk assessment failed, applying conservative fallback",
			"run_id", run.id(), "error", err)
	}

	run.mutate(func(rec *datatypes.RunRecord) { rec.Risk = &assessment })
	return assessment, true
}

func (p *Runner) runApprovalGate(ctx context.Context, run *activeRun, action datatypes.RemediationAction, assessment datatypes.RiskAssessment) bool {
	meetsThreshold := assessment.Level.Meets(p.threshold)
	if !meetsThreshold && assessment.Reversible {
		run.mutate(func(rec *datatypes.RunRecord) {
			rec.Approval = &datatypes.ApprovalDecision{Status: datatypes.ApprovalNotRequired}
		})
		return true
	}

	detail := fmt.Sprintf("risk %s meets approval threshold %s", assessment.Level, p.threshold)
	if !meetsThreshold {
		detail = fmt.Sprintf("%s is not reversible, approval required", action.ActionType)
	}
	if !p.advanceOrAbort(run, datatypes.RunAwaitApproval, detail) {
		return false
	}
	ctx, span := tracer.Start(ctx, "pipeline.await_approval")
	defer span.End()

	start := p.now()
	decision, err := p.approver.RequestApproval(ctx, action, assessment, p.approvalTimeout)
	observability.RecordStageDuration(datatypes.RunAwaitApproval.String(), p.now().Sub(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		run.mutate(func(rec *datatypes.RunRecord) {
			rec.Error = fmt.Sprintf("approval request failed: %v", err)
		})
		p.advanceOrAbort(run, datatypes.RunBlocked, "approval request failed")
		return false
	}

	observability.RecordApprovalOutcome(string(decision.Status))
	span.SetAttributes(attribute.String("approval.status", string(decision.Status)))
	run.mutate(func(rec *datatypes.RunRecord) { rec.Approval = &decision })

	switch decision.Status {
	case datatypes.ApprovalApproved:
		return true
	case datatypes.ApprovalRejected:
		p.advanceOrAbort(run, datatypes.RunBlocked, "approval rejected")
		return false
	case datatypes.ApprovalTimedOut:
		p.advanceOrAbort(run, datatypes.RunBlocked, "approval timed out")
		return false
	default:
		p.advanceOrAbort(run, datatypes.RunBlocked, fmt.Sprintf("unexpected approval status %s", decision.Status))
		return false
	}
}

func (p *Runner) runSnapshot(ctx context.Context, run *activeRun, action datatypes.RemediationAction, assessment datatypes.RiskAssessment) bool {
	if !p.advanceOrAbort(run, datatypes.RunSnapshot, "") {
		return false
	}

	if !assessment.Reversible {
		note := fmt.Sprintf("%s is not reversible; proceeding without a snapshot", action.ActionType)
		run.mutate(func(rec *datatypes.RunRecord) { rec.SnapshotNote = note })
		p.logger.Warn("proceeding without snapshot",
			"run_id", run.id(), "action_type", action.ActionType)
		return true
	}

	start := p.now()
	snapCtx, cancel := context.WithTimeout(ctx, p.snapshotTimeout)
	defer cancel()
	snap, err := p.snapshots.Capture(snapCtx, action.TargetResource)
	observability.RecordStageDuration(datatypes.RunSnapshot.String(), p.now().Sub(start).Seconds())
	if err != nil {
		run.mutate(func(rec *datatypes.RunRecord) {
			rec.Error = fmt.Sprintf("snapshot capture failed: %v", err)
		})
		p.logger.Warn("snapshot capture failed, halting run before execution",
			"run_id", run.id(), "resource", action.TargetResource, "error", err)
		p.advanceOrAbort(run, datatypes.RunBlocked, "snapshot capture failed")
		return false
	}

	run.mutate(func(rec *datatypes.RunRecord) { rec.Snapshot = &snap })
	return true
}

func (p *Runner) runExecute(ctx context.Context, run *activeRun, action datatypes.RemediationAction) bool {
	if !p.advanceOrAbort(run, datatypes.RunExecute, "") {
		return false
	}
	ctx, span := tracer.Start(ctx, "pipeline.execute")
	defer span.End()

	// From EXECUTE onward the run detaches from the caller's context and
	// runs to its own timeouts.
	start := p.now()
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.executeTimeout)
	outcome, err := p.connector.Execute(execCtx, action)
	cancel()
	observability.RecordStageDuration(datatypes.RunExecute.String(), p.now().Sub(start).Seconds())

	if err != nil {
		execErr := &datatypes.ExecutionError{
			ActionType: action.ActionType,
			Resource:   action.TargetResource,
			Cause:      err,
		}
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		p.logger.Error("execution failed, attempting rollback",
			"run_id", run.id(), "error", execErr)
		run.mutate(func(rec *datatypes.RunRecord) { rec.Error = execErr.Error() })
		p.attemptRollback(ctx, run)
		p.advanceOrAbort(run, datatypes.RunRollbackAttempted, "execution failed")
		return false
	}

	run.mutate(func(rec *datatypes.RunRecord) { rec.Execution = &outcome })
	return true
}

// attemptRollback restores the captured snapshot after an execution error.
// Restore failures are recorded on the run, never raised.
func (p *Runner) attemptRollback(ctx context.Context, run *activeRun) {
	snap := run.view().Snapshot
	if snap == nil {
		p.logger.Warn("no snapshot to roll back to", "run_id", run.id())
		return
	}

	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.executeTimeout)
	defer cancel()
	restored, err := p.snapshots.Restore(rbCtx, *snap)
	run.mutate(func(rec *datatypes.RunRecord) {
		rec.RollbackAttempted = true
		rec.RollbackSucceeded = restored && err == nil
		if err != nil {
			rec.RollbackError = err.Error()
		}
	})
	observability.RecordRollback(restored && err == nil)
	if err != nil {
		p.logger.Error("rollback failed", "run_id", run.id(), "snapshot_id", snap.ID, "error", err)
		return
	}
	p.logger.Info("rollback restored pre-change state", "run_id", run.id(), "snapshot_id", snap.ID)
}

func (p *Runner) runValidate(ctx context.Context, run *activeRun, action datatypes.RemediationAction) {
	if !p.advanceOrAbort(run, datatypes.RunValidate, "") {
		return
	}
	ctx, span := tracer.Start(ctx, "pipeline.validate")
	defer span.End()

	start := p.now()
	valCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.validateTimeout)
	defer cancel()
	health, err := p.connector.GetHealth(valCtx, action.TargetResource)
	observability.RecordStageDuration(datatypes.RunValidate.String(), p.now().Sub(start).Seconds())

	passed := err == nil && health.Healthy
	run.mutate(func(rec *datatypes.RunRecord) { rec.ValidationPassed = &passed })
	span.SetAttributes(attribute.Bool("validation.passed", passed))

	if passed {
		p.advanceOrAbort(run, datatypes.RunComplete, "validation passed")
		return
	}

	if err != nil {
		valErr := &datatypes.ValidationError{
			Resource: action.TargetResource,
			Detail:   "health check unavailable",
			Cause:    err,
		}
		span.RecordError(valErr)
		span.SetStatus(codes.Error, valErr.Error())
		run.mutate(func(rec *datatypes.RunRecord) { rec.Error = valErr.Error() })
		p.advanceOrAbort(run, datatypes.RunFlaggedForRollback, "validation could not be confirmed")
		return
	}

	detail := "resource reported unhealthy"
	if health.Status != "" {
		detail = fmt.Sprintf("resource reported unhealthy: %s", health.Status)
	}
	p.advanceOrAbort(run, datatypes.RunFlaggedForRollback, detail)
}

// finish records terminal metrics, archives the record, and retires the
// run from the registry. Runs stay registered when there is nowhere to
// archive them or the archive write fails.
func (p *Runner) finish(ctx context.Context, run *activeRun) {
	record := run.view()

	observability.RecordRunCompleted(
		record.Action.ActionType,
		record.Action.Environment,
		record.CurrentStep.String(),
		float64(record.DurationMs)/1000.0)

	archived := false
	if p.archive != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		if err := p.archive.Save(saveCtx, record); err != nil {
			p.logger.Warn("run archive failed", "run_id", record.RunID, "error", err)
		} else {
			archived = true
		}
		cancel()
	}
	if archived {
		p.mu.Lock()
		delete(p.active, record.RunID)
		p.mu.Unlock()
	}

	p.logger.Info("remediation run finished",
		"run_id", record.RunID,
		"terminal_state", record.CurrentStep.String(),
		"duration_ms", record.DurationMs)
}
