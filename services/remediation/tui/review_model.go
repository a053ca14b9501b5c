// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui provides terminal user interface components for interactive review.
//
// # Description
//
// This package implements the interactive approval review TUI using
// bubbletea. It allows operators to walk the queue of pending approval
// requests and approve, reject, or skip each one before the decisions
// are submitted to the gateway.
//
// # Thread Safety
//
// TUI components are designed for single-threaded use within the bubbletea
// event loop. Do not access TUI state from multiple goroutines.
package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianOps/services/remediation/approval"
	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// =============================================================================
// Decisions
// =============================================================================

// ReviewAction is the operator's decision for one request.
type ReviewAction string

const (
	// ReviewPending means no decision has been made yet.
	ReviewPending ReviewAction = "pending"

	// ReviewApprove lets the run proceed.
	ReviewApprove ReviewAction = "approve"

	// ReviewReject blocks the run.
	ReviewReject ReviewAction = "reject"

	// ReviewSkip leaves the request pending for someone else.
	ReviewSkip ReviewAction = "skip"
)

// IsTerminal reports whether the action is a final decision for this
// review session. Skipped requests are terminal for the session even
// though they stay pending on the gateway.
func (a ReviewAction) IsTerminal() bool {
	return a == ReviewApprove || a == ReviewReject || a == ReviewSkip
}

// ReviewDecision records the operator's decision for one request.
type ReviewDecision struct {
	RequestID string
	Action    ReviewAction
	Comment   string
}

// ReviewResult is the outcome of a review session.
type ReviewResult struct {
	Decisions    map[string]*ReviewDecision
	Cancelled    bool
	CancelReason string
}

// NewReviewResult creates an empty result.
func NewReviewResult() *ReviewResult {
	return &ReviewResult{Decisions: make(map[string]*ReviewDecision)}
}

// =============================================================================
// View Mode
// =============================================================================

// ViewMode determines how the current request is displayed.
type ViewMode int

const (
	// ViewRequest shows the action being gated.
	ViewRequest ViewMode = iota

	// ViewRisk shows the full risk assessment.
	ViewRisk

	// ViewSummary shows the session summary.
	ViewSummary
)

// =============================================================================
// Messages
// =============================================================================

// DoneMsg signals the review is complete.
type DoneMsg struct {
	Result *ReviewResult
}

// =============================================================================
// Config
// =============================================================================

// ReviewConfig configures the approval review TUI.
type ReviewConfig struct {
	// ConfirmCritical requires typing "yes" to approve a CRITICAL or
	// non-reversible request, and to approve all remaining (safety).
	ConfirmCritical bool

	// Width overrides terminal width (0 = auto-detect).
	Width int

	// Height overrides terminal height (0 = auto-detect).
	Height int
}

// DefaultReviewConfig returns sensible defaults.
func DefaultReviewConfig() ReviewConfig {
	return ReviewConfig{
		ConfirmCritical: true,
	}
}

// =============================================================================
// Confirmation Targets
// =============================================================================

// confirmTarget identifies what a typed-yes confirmation applies to.
type confirmTarget int

const (
	confirmNone confirmTarget = iota

	// confirmCurrent confirms approving the current request.
	confirmCurrent

	// confirmAll confirms approving every remaining request.
	confirmAll
)

// =============================================================================
// Model
// =============================================================================

// ApprovalReviewModel is the bubbletea model for interactive approval
// review.
//
// # Description
//
// Manages the state of the review session, including navigation,
// decisions, and rendering.
type ApprovalReviewModel struct {
	// Configuration
	config ReviewConfig

	// Requests being reviewed
	requests []approval.PendingRequest

	// Current navigation state
	currentReq int
	viewMode   ViewMode

	// Viewport for scrolling
	viewport viewport.Model

	// Terminal dimensions
	width  int
	height int

	// Operator decisions
	decisions map[string]*ReviewDecision

	// State flags
	ready         bool
	confirmInput  string
	confirmFor    confirmTarget
	commentInput  string
	takingComment bool
	showHelp      bool
	quitting      bool

	// Result
	result *ReviewResult
}

// NewApprovalReviewModel creates a new approval review model.
//
// # Inputs
//
//   - requests: The pending requests to review.
//   - config: Configuration options.
//
// # Outputs
//
//   - ApprovalReviewModel: Ready-to-use model for tea.NewProgram.
func NewApprovalReviewModel(requests []approval.PendingRequest, config ReviewConfig) ApprovalReviewModel {
	decisions := make(map[string]*ReviewDecision, len(requests))
	for _, request := range requests {
		decisions[request.ID] = &ReviewDecision{
			RequestID: request.ID,
			Action:    ReviewPending,
		}
	}

	return ApprovalReviewModel{
		config:    config,
		requests:  requests,
		decisions: decisions,
		viewMode:  ViewRequest,
		result:    NewReviewResult(),
	}
}

// Init implements tea.Model.
func (m ApprovalReviewModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ApprovalReviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3
		footerHeight := 3
		viewportHeight := m.height - headerHeight - footerHeight

		if !m.ready {
			m.viewport = viewport.New(m.width, viewportHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = viewportHeight
		}

		m.updateViewportContent()

	case tea.KeyMsg:
		// Handle confirmation input mode
		if m.confirmFor != confirmNone {
			return m.handleConfirmInput(msg)
		}

		// Handle rejection comment mode
		if m.takingComment {
			return m.handleCommentInput(msg)
		}

		// Handle help overlay
		if m.showHelp {
			if msg.String() == "q" || msg.String() == "?" || msg.String() == "esc" {
				m.showHelp = false
			}
			return m, nil
		}

		// Normal key handling
		switch msg.String() {
		case "y", "Y":
			if m.config.ConfirmCritical && m.currentNeedsConfirm() {
				m.confirmFor = confirmCurrent
				m.confirmInput = ""
				return m, nil
			}
			m.approveCurrent("")
			return m.advanceRequest()

		case "n", "N":
			m.takingComment = true
			m.commentInput = ""
			return m, nil

		case "s", "S":
			m.skipCurrent()
			return m.advanceRequest()

		case "?":
			m.showHelp = true

		case "a", "A":
			if m.config.ConfirmCritical {
				m.confirmFor = confirmAll
				m.confirmInput = ""
			} else {
				m.approveAllRemaining()
				return m.finish()
			}

		case "q", "Q", "ctrl+c":
			m.result.Cancelled = true
			m.result.CancelReason = "user cancelled"
			m.quitting = true
			return m, tea.Quit

		case "left", "h":
			return m.prevRequest()

		case "right", "l":
			return m.nextRequest()

		case "j", "down":
			m.viewport.LineDown(1)

		case "k", "up":
			m.viewport.LineUp(1)

		case "ctrl+d":
			m.viewport.HalfViewDown()

		case "ctrl+u":
			m.viewport.HalfViewUp()

		case "g", "home":
			m.viewport.GotoTop()

		case "G", "end":
			m.viewport.GotoBottom()

		case "tab":
			m.toggleViewMode()
			m.updateViewportContent()

		case "enter":
			if m.viewMode == ViewSummary {
				return m.finish()
			}
		}
	}

	// Update viewport
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m ApprovalReviewModel) View() string {
	if m.quitting {
		if m.result.Cancelled {
			return "Review cancelled.\n"
		}
		return "Review complete.\n"
	}

	if !m.ready || len(m.requests) == 0 {
		return "Loading...\n"
	}

	var b strings.Builder

	// Header
	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	// Main content
	if m.showHelp {
		b.WriteString(m.renderHelp())
	} else if m.confirmFor != confirmNone {
		b.WriteString(m.renderConfirm())
	} else if m.takingComment {
		b.WriteString(m.renderComment())
	} else {
		b.WriteString(m.viewport.View())
	}

	// Footer
	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

// =============================================================================
// Navigation
// =============================================================================

func (m *ApprovalReviewModel) advanceRequest() (ApprovalReviewModel, tea.Cmd) {
	// Find next undecided request
	for i := m.currentReq + 1; i < len(m.requests); i++ {
		decision := m.decisions[m.requests[i].ID]
		if !decision.Action.IsTerminal() {
			m.currentReq = i
			m.viewMode = ViewRequest
			m.updateViewportContent()
			return *m, nil
		}
	}

	// No more undecided requests - show summary
	m.viewMode = ViewSummary
	m.updateViewportContent()
	return *m, nil
}

func (m *ApprovalReviewModel) prevRequest() (ApprovalReviewModel, tea.Cmd) {
	if m.currentReq > 0 {
		m.currentReq--
		m.updateViewportContent()
	}
	return *m, nil
}

func (m *ApprovalReviewModel) nextRequest() (ApprovalReviewModel, tea.Cmd) {
	if m.currentReq < len(m.requests)-1 {
		m.currentReq++
		m.updateViewportContent()
	}
	return *m, nil
}

func (m *ApprovalReviewModel) toggleViewMode() {
	switch m.viewMode {
	case ViewRequest:
		m.viewMode = ViewRisk
	case ViewRisk:
		m.viewMode = ViewSummary
	case ViewSummary:
		m.viewMode = ViewRequest
	}
}

// =============================================================================
// Actions
// =============================================================================

// currentNeedsConfirm reports whether approving the current request
// warrants a typed confirmation.
func (m *ApprovalReviewModel) currentNeedsConfirm() bool {
	if m.currentReq >= len(m.requests) {
		return false
	}
	request := m.requests[m.currentReq]
	return request.RiskLevel == datatypes.RiskCritical || !request.Assessment.Reversible
}

func (m *ApprovalReviewModel) approveCurrent(comment string) {
	if m.currentReq >= len(m.requests) {
		return
	}

	decision := m.decisions[m.requests[m.currentReq].ID]
	decision.Action = ReviewApprove
	decision.Comment = comment
}

func (m *ApprovalReviewModel) rejectCurrent(comment string) {
	if m.currentReq >= len(m.requests) {
		return
	}

	decision := m.decisions[m.requests[m.currentReq].ID]
	decision.Action = ReviewReject
	decision.Comment = comment
}

func (m *ApprovalReviewModel) skipCurrent() {
	if m.currentReq >= len(m.requests) {
		return
	}

	decision := m.decisions[m.requests[m.currentReq].ID]
	decision.Action = ReviewSkip
}

func (m *ApprovalReviewModel) approveAllRemaining() {
	for _, request := range m.requests {
		decision := m.decisions[request.ID]
		if !decision.Action.IsTerminal() {
			decision.Action = ReviewApprove
		}
	}
}

func (m ApprovalReviewModel) finish() (ApprovalReviewModel, tea.Cmd) {
	// Build final result
	m.result.Decisions = m.decisions
	m.quitting = true

	return m, tea.Sequence(
		func() tea.Msg { return DoneMsg{Result: m.result} },
		tea.Quit,
	)
}

// =============================================================================
// Confirmation Handling
// =============================================================================

func (m ApprovalReviewModel) handleConfirmInput(msg tea.KeyMsg) (ApprovalReviewModel, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if strings.ToLower(m.confirmInput) == "yes" {
			target := m.confirmFor
			m.confirmFor = confirmNone
			m.confirmInput = ""
			if target == confirmAll {
				m.approveAllRemaining()
				return m.finish()
			}
			m.approveCurrent("")
			return m.advanceRequest()
		}
		m.confirmFor = confirmNone
		m.confirmInput = ""

	case "esc":
		m.confirmFor = confirmNone
		m.confirmInput = ""

	case "backspace":
		if len(m.confirmInput) > 0 {
			m.confirmInput = m.confirmInput[:len(m.confirmInput)-1]
		}

	default:
		if len(msg.String()) == 1 {
			m.confirmInput += msg.String()
		}
	}

	return m, nil
}

// =============================================================================
// Rejection Comment Handling
// =============================================================================

func (m ApprovalReviewModel) handleCommentInput(msg tea.KeyMsg) (ApprovalReviewModel, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.takingComment = false
		m.rejectCurrent(m.commentInput)
		m.commentInput = ""
		return m.advanceRequest()

	case "esc":
		m.takingComment = false
		m.commentInput = ""

	case "backspace":
		if len(m.commentInput) > 0 {
			m.commentInput = m.commentInput[:len(m.commentInput)-1]
		}

	default:
		if len(msg.String()) == 1 {
			m.commentInput += msg.String()
		}
	}

	return m, nil
}

// =============================================================================
// Viewport Content
// =============================================================================

func (m *ApprovalReviewModel) updateViewportContent() {
	if !m.ready {
		return
	}

	var content string
	switch m.viewMode {
	case ViewRequest:
		content = m.renderRequestDetail()
	case ViewRisk:
		content = m.renderRiskDetail()
	case ViewSummary:
		content = m.renderSummary()
	}

	m.viewport.SetContent(content)
}

// =============================================================================
// Result Access
// =============================================================================

// Result returns the review result after the TUI exits.
//
// # Description
//
// Returns the current state of all decisions. If the TUI hasn't
// finished yet, this returns the decisions made so far.
func (m ApprovalReviewModel) Result() *ReviewResult {
	// Populate decisions from model state
	m.result.Decisions = m.decisions
	return m.result
}

// Requests returns the requests under review.
func (m ApprovalReviewModel) Requests() []approval.PendingRequest {
	return m.requests
}

// =============================================================================
// Styles
// =============================================================================

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("43"))

	resourceStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	reasonStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	helpKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("43")).
			Bold(true)

	helpDescStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	approvedBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Background(lipgloss.Color("22")).
			Padding(0, 1)

	rejectedBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Background(lipgloss.Color("52")).
			Padding(0, 1)

	pendingBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Background(lipgloss.Color("58")).
			Padding(0, 1)
)
