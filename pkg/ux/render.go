// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Run renderers display remediation run progress to various outputs
// (terminal, buffer, machine-readable).
//
// Single Responsibility:
//
//	Renderers ONLY render. They do not poll, decode, or manage HTTP.
//	Each method handles exactly one progress event, enabling clean
//	composition with whatever is watching the run.
//
// Renderer Types:
//
//   - TerminalRunRenderer: Interactive terminal with spinners and colors
//   - MachineRunRenderer: Machine-readable KEY: value format
//   - BufferRunRenderer: In-memory buffer for testing

package ux

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// RunOutcome is the terminal snapshot of a watched run.
type RunOutcome struct {
	RunID             string
	State             string
	Error             string
	ValidationPassed  *bool
	RollbackAttempted bool
	RollbackSucceeded bool
	RollbackError     string
	DurationMs        int64
}

// WatchResult aggregates what a renderer saw over one watched run.
type WatchResult struct {
	RunID      string
	FinalState string
	Steps      []string
	Err        error
}

// RunRenderer renders remediation run progress to an output destination.
//
// Callers invoke methods in the order progress is observed and must call
// Finalize when the watch ends, even on error. Implementations are safe
// for concurrent calls.
type RunRenderer interface {
	// OnSubmitted announces the run being watched.
	OnSubmitted(runID, actionType, resource string)

	// OnStep renders one state transition.
	OnStep(step, detail string)

	// OnAwaitApproval renders the run parking on an approval request.
	OnAwaitApproval(requestID, riskLevel string, expiresAt time.Time)

	// OnDecision renders the approval decision once resolved.
	OnDecision(status, decidedBy string)

	// OnOutcome renders the terminal state summary.
	OnOutcome(outcome RunOutcome)

	// OnError renders a watch failure (poll error, connection loss).
	// After OnError, only Finalize should be called.
	OnError(err error)

	// Finalize performs cleanup (stop spinners, flush output).
	// Safe to call multiple times; subsequent calls are no-ops.
	Finalize()

	// Result returns the accumulated watch result.
	Result() *WatchResult
}

// NewRunRenderer picks the renderer matching the personality level:
// machine personality gets the parseable renderer, everything else the
// terminal renderer.
func NewRunRenderer(w io.Writer, personality PersonalityLevel) RunRenderer {
	if personality == PersonalityMachine {
		return NewMachineRunRenderer(w)
	}
	return NewTerminalRunRenderer(w, personality)
}

// =============================================================================
// Terminal Run Renderer
// =============================================================================

// terminalRunRenderer renders run progress to an interactive terminal.
//
// A spinner indicates the in-flight step; it is stopped before any line
// is printed and restarted afterwards so output never interleaves with
// the animation. Spinners only run at full and standard personality.
type terminalRunRenderer struct {
	writer      io.Writer
	personality PersonalityLevel
	spinner     *Spinner
	result      *WatchResult
	mu          sync.Mutex
	finalized   bool
}

// NewTerminalRunRenderer creates a renderer for interactive terminal output.
func NewTerminalRunRenderer(w io.Writer, personality PersonalityLevel) RunRenderer {
	return &terminalRunRenderer{
		writer:      w,
		personality: personality,
		result:      &WatchResult{},
	}
}

func (r *terminalRunRenderer) OnSubmitted(runID, actionType, resource string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}

	r.result.RunID = runID
	fmt.Fprintf(r.writer, "%s %s %s %s\n",
		Styles.Title.Render(actionType),
		Styles.Muted.Render("on"),
		resource,
		Styles.Muted.Render("("+runID+")"),
	)
	r.spin("submitting")
}

func (r *terminalRunRenderer) OnStep(step, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}

	r.result.Steps = append(r.result.Steps, step)
	r.stopSpinner()

	icon := IconArrow
	switch step {
	case "COMPLETE":
		icon = IconSuccess
	case "DENIED", "BLOCKED":
		icon = IconError
	case "ROLLBACK_ATTEMPTED", "FLAGGED_FOR_ROLLBACK":
		icon = IconWarning
	}

	line := fmt.Sprintf("%s %s", icon.Render(), StateBadge(step))
	if detail != "" {
		line += " " + Styles.Muted.Render("("+detail+")")
	}
	fmt.Fprintln(r.writer, line)

	if !isTerminalState(step) {
		r.spin(strings.ToLower(step))
	}
}

func (r *terminalRunRenderer) OnAwaitApproval(requestID, riskLevel string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}

	r.stopSpinner()
	fmt.Fprintf(r.writer, "%s %s approval required %s\n",
		IconWarning.Render(),
		RiskBadge(riskLevel),
		Styles.Muted.Render("request "+requestID),
	)
	if !expiresAt.IsZero() {
		fmt.Fprintf(r.writer, "  %s\n",
			Styles.Muted.Render("expires "+expiresAt.Local().Format(time.RFC822)))
	}
	r.spin("awaiting approval")
}

func (r *terminalRunRenderer) OnDecision(status, decidedBy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}

	r.stopSpinner()
	switch status {
	case "APPROVED":
		fmt.Fprintf(r.writer, "%s approved by %s\n", IconSuccess.Render(), decidedBy)
	case "REJECTED":
		fmt.Fprintf(r.writer, "%s rejected by %s\n", IconError.Render(), decidedBy)
	default:
		fmt.Fprintf(r.writer, "%s approval %s\n", IconWarning.Render(), strings.ToLower(status))
	}
	r.spin("resuming")
}

func (r *terminalRunRenderer) OnOutcome(outcome RunOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}

	r.result.FinalState = outcome.State
	r.stopSpinner()

	fmt.Fprintf(r.writer, "\n%s %s\n",
		StateBadge(outcome.State),
		Styles.Muted.Render(fmt.Sprintf("in %dms", outcome.DurationMs)),
	)
	if outcome.ValidationPassed != nil && !*outcome.ValidationPassed {
		fmt.Fprintf(r.writer, "%s validation failed\n", IconWarning.Render())
	}
	if outcome.RollbackAttempted {
		if outcome.RollbackSucceeded {
			fmt.Fprintf(r.writer, "%s rollback succeeded\n", IconSuccess.Render())
		} else {
			fmt.Fprintf(r.writer, "%s rollback failed: %s\n", IconError.Render(), outcome.RollbackError)
		}
	}
	if outcome.Error != "" {
		fmt.Fprintf(r.writer, "%s %s\n", IconError.Render(), Styles.Error.Render(outcome.Error))
	}
}

func (r *terminalRunRenderer) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}

	r.result.Err = err
	r.stopSpinner()
	fmt.Fprintf(r.writer, "%s %s\n", IconError.Render(), Styles.Error.Render(err.Error()))
}

func (r *terminalRunRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.finalized = true
	r.stopSpinner()
}

func (r *terminalRunRenderer) Result() *WatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// spin starts a step spinner at full and standard personality. Callers
// must hold r.mu.
func (r *terminalRunRenderer) spin(message string) {
	if r.personality != PersonalityFull && r.personality != PersonalityStandard {
		return
	}
	r.spinner = NewSpinner(message)
	r.spinner.Start()
}

// stopSpinner halts any running spinner. Callers must hold r.mu.
func (r *terminalRunRenderer) stopSpinner() {
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}
}

// =============================================================================
// Machine Run Renderer
// =============================================================================

// machineRunRenderer emits KEY: value lines for scripting.
type machineRunRenderer struct {
	writer    io.Writer
	result    *WatchResult
	mu        sync.Mutex
	finalized bool
}

// NewMachineRunRenderer creates a renderer with parseable output.
func NewMachineRunRenderer(w io.Writer) RunRenderer {
	return &machineRunRenderer{
		writer: w,
		result: &WatchResult{},
	}
}

func (r *machineRunRenderer) OnSubmitted(runID, actionType, resource string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.result.RunID = runID
	fmt.Fprintf(r.writer, "RUN: %s %s %s\n", runID, actionType, resource)
}

func (r *machineRunRenderer) OnStep(step, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.result.Steps = append(r.result.Steps, step)
	if detail != "" {
		fmt.Fprintf(r.writer, "STEP: %s %s\n", step, detail)
		return
	}
	fmt.Fprintf(r.writer, "STEP: %s\n", step)
}

func (r *machineRunRenderer) OnAwaitApproval(requestID, riskLevel string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	fmt.Fprintf(r.writer, "AWAIT_APPROVAL: %s risk=%s expires=%s\n",
		requestID, riskLevel, expiresAt.UTC().Format(time.RFC3339))
}

func (r *machineRunRenderer) OnDecision(status, decidedBy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	fmt.Fprintf(r.writer, "DECISION: %s by=%s\n", status, decidedBy)
}

func (r *machineRunRenderer) OnOutcome(outcome RunOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.result.FinalState = outcome.State
	fmt.Fprintf(r.writer, "OUTCOME: %s duration_ms=%d\n", outcome.State, outcome.DurationMs)
	if outcome.RollbackAttempted {
		fmt.Fprintf(r.writer, "ROLLBACK: succeeded=%t\n", outcome.RollbackSucceeded)
	}
	if outcome.Error != "" {
		fmt.Fprintf(r.writer, "RUN_ERROR: %s\n", outcome.Error)
	}
}

func (r *machineRunRenderer) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.result.Err = err
	fmt.Fprintf(r.writer, "ERROR: %s\n", err.Error())
}

func (r *machineRunRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized = true
}

func (r *machineRunRenderer) Result() *WatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// =============================================================================
// Buffer Run Renderer
// =============================================================================

// bufferRunRenderer records progress lines in memory for tests.
type bufferRunRenderer struct {
	mu        sync.Mutex
	entries   []string
	result    *WatchResult
	finalized bool
}

// NewBufferRunRenderer creates a renderer that records output in memory.
func NewBufferRunRenderer() *bufferRunRenderer {
	return &bufferRunRenderer{
		result: &WatchResult{},
	}
}

func (r *bufferRunRenderer) OnSubmitted(runID, actionType, resource string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.RunID = runID
	r.entries = append(r.entries, fmt.Sprintf("run %s %s %s", runID, actionType, resource))
}

func (r *bufferRunRenderer) OnStep(step, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Steps = append(r.result.Steps, step)
	r.entries = append(r.entries, "step "+step)
}

func (r *bufferRunRenderer) OnAwaitApproval(requestID, riskLevel string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, "await "+requestID)
}

func (r *bufferRunRenderer) OnDecision(status, decidedBy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, "decision "+status)
}

func (r *bufferRunRenderer) OnOutcome(outcome RunOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.FinalState = outcome.State
	r.entries = append(r.entries, "outcome "+outcome.State)
}

func (r *bufferRunRenderer) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Err = err
	r.entries = append(r.entries, "error "+err.Error())
}

func (r *bufferRunRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized = true
}

func (r *bufferRunRenderer) Result() *WatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Entries returns the recorded lines.
func (r *bufferRunRenderer) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	copy(out, r.entries)
	return out
}

// isTerminalState reports whether a run state name is terminal.
// Mirrors the pipeline state machine without importing it; pkg packages
// stay free of service dependencies.
func isTerminalState(step string) bool {
	switch step {
	case "COMPLETE", "DENIED", "BLOCKED", "ROLLBACK_ATTEMPTED", "FLAGGED_FOR_ROLLBACK":
		return true
	}
	return false
}
