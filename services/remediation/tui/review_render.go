// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianOps/services/remediation/approval"
	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// =============================================================================
// Header Rendering
// =============================================================================

func (m ApprovalReviewModel) renderHeader() string {
	if len(m.requests) == 0 {
		return titleStyle.Render("No pending approvals")
	}

	var b strings.Builder

	// Title bar with request count
	title := fmt.Sprintf("Pending Approvals (%d requests)", len(m.requests))
	b.WriteString(titleStyle.Render(title))

	// Progress indicator
	if m.viewMode != ViewSummary {
		progress := fmt.Sprintf("  [%d/%d]", m.currentReq+1, len(m.requests))
		b.WriteString(statsStyle.Render(progress))
	}

	return b.String()
}

// =============================================================================
// Footer Rendering
// =============================================================================

func (m ApprovalReviewModel) renderFooter() string {
	var keys []string

	switch m.viewMode {
	case ViewRequest:
		keys = []string{
			"[Y] Approve", "[N] Reject", "[S] Skip", "[A] Approve all",
			"[Tab] Risk detail", "[←→] Navigate", "[?] Help", "[Q] Cancel",
		}
	case ViewRisk:
		keys = []string{
			"[Y] Approve", "[N] Reject", "[S] Skip",
			"[Tab] Summary", "[J/K] Scroll", "[?] Help", "[Q] Cancel",
		}
	case ViewSummary:
		keys = []string{
			"[Enter] Submit decisions", "[←→] Review requests", "[Q] Cancel",
		}
	}

	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(strings.Join(keys, "  "))
}

// =============================================================================
// Request Rendering
// =============================================================================

func (m ApprovalReviewModel) renderRequestDetail() string {
	if m.currentReq >= len(m.requests) {
		return "No request selected"
	}

	request := m.requests[m.currentReq]
	decision := m.decisions[request.ID]

	var b strings.Builder

	// Request header with status badge
	b.WriteString(m.renderRequestHeader(request, decision))
	b.WriteString("\n\n")

	// Core fields
	b.WriteString(m.renderField("Action", request.Action.ActionType))
	b.WriteString(m.renderField("Resource", request.Action.TargetResource))
	b.WriteString(m.renderField("Environment", request.Action.Environment))
	if team := request.Action.Team(); team != "" {
		b.WriteString(m.renderField("Team", team))
	}
	b.WriteString(m.renderField("Requested", request.RequestedAt.Local().Format(time.RFC822)))
	b.WriteString(m.renderField("Expires", m.renderExpiry(request.ExpiresAt)))

	// Parameters, sorted for stable display
	if len(request.Action.Parameters) > 0 {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("Parameters:"))
		b.WriteString("\n")

		keys := make([]string, 0, len(request.Action.Parameters))
		for k := range request.Action.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("  • %s = %v\n", k, request.Action.Parameters[k]))
		}
	}

	// Description if present
	if request.Action.Description != "" {
		b.WriteString("\n")
		b.WriteString(reasonStyle.Render("Intent: " + request.Action.Description))
	}

	return b.String()
}

func (m ApprovalReviewModel) renderRequestHeader(request approval.PendingRequest, decision *ReviewDecision) string {
	var b strings.Builder

	// Target resource
	b.WriteString(resourceStyle.Render(request.Action.TargetResource))

	// Risk badge
	b.WriteString("  ")
	b.WriteString(m.renderRiskBadge(request.RiskLevel))

	// Reversibility marker
	if !request.Assessment.Reversible {
		b.WriteString("  ")
		b.WriteString(rejectedBadge.Render("NOT REVERSIBLE"))
	}

	// Decision badge
	b.WriteString("  ")
	switch decision.Action {
	case ReviewApprove:
		b.WriteString(approvedBadge.Render("APPROVED"))
	case ReviewReject:
		b.WriteString(rejectedBadge.Render("REJECTED"))
	case ReviewSkip:
		b.WriteString(pendingBadge.Render("SKIPPED"))
	default:
		b.WriteString(pendingBadge.Render("PENDING"))
	}

	return b.String()
}

func (m ApprovalReviewModel) renderField(label, value string) string {
	return fmt.Sprintf("%s %s\n",
		labelStyle.Render(fmt.Sprintf("%-12s", label+":")),
		valueStyle.Render(value),
	)
}

func (m ApprovalReviewModel) renderExpiry(expiresAt time.Time) string {
	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return expiresAt.Local().Format(time.RFC822) + " (expired)"
	}
	return fmt.Sprintf("%s (in %s)",
		expiresAt.Local().Format(time.RFC822),
		remaining.Round(time.Second),
	)
}

func (m ApprovalReviewModel) renderRiskBadge(risk datatypes.RiskLevel) string {
	var style lipgloss.Style
	var label string

	switch risk {
	case datatypes.RiskCritical:
		style = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
		label = "CRITICAL"
	case datatypes.RiskHigh:
		style = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
		label = "HIGH RISK"
	case datatypes.RiskMedium:
		style = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226"))
		label = "MEDIUM"
	default:
		style = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))
		label = "LOW"
	}

	return style.Render("[" + label + "]")
}

// =============================================================================
// Risk View Mode
// =============================================================================

func (m ApprovalReviewModel) renderRiskDetail() string {
	if m.currentReq >= len(m.requests) {
		return "No request selected"
	}

	request := m.requests[m.currentReq]
	assessment := request.Assessment

	var b strings.Builder

	// Header showing resource and position
	header := fmt.Sprintf("%s  %s",
		resourceStyle.Render(request.Action.TargetResource),
		m.renderRiskBadge(assessment.Level),
	)
	b.WriteString(header)
	b.WriteString("\n\n")

	b.WriteString(m.renderField("Reversible", fmt.Sprintf("%t", assessment.Reversible)))
	if assessment.BlastRadius != "" {
		b.WriteString(m.renderField("Blast radius", assessment.BlastRadius))
	}
	b.WriteString(m.renderField("Source", assessment.Source))

	// Assessment reasons, in order
	if len(assessment.Reasons) > 0 {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("Why this level:"))
		b.WriteString("\n")
		for _, reason := range assessment.Reasons {
			b.WriteString(fmt.Sprintf("  • %s\n", reason))
		}
	}

	// Advisory impact narrative
	if assessment.Summary != "" {
		b.WriteString("\n")
		b.WriteString(reasonStyle.Render("Impact: " + assessment.Summary))
	}

	return b.String()
}

// =============================================================================
// Summary Rendering
// =============================================================================

func (m ApprovalReviewModel) renderSummary() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Review Summary"))
	b.WriteString("\n\n")

	// Categorize requests
	var approved, rejected, skipped, pending []approval.PendingRequest

	for _, request := range m.requests {
		decision := m.decisions[request.ID]
		switch decision.Action {
		case ReviewApprove:
			approved = append(approved, request)
		case ReviewReject:
			rejected = append(rejected, request)
		case ReviewSkip:
			skipped = append(skipped, request)
		default:
			pending = append(pending, request)
		}
	}

	writeGroup := func(badge, title string, style lipgloss.Style, requests []approval.PendingRequest) {
		if len(requests) == 0 {
			return
		}
		b.WriteString(style.Render(fmt.Sprintf("%s %s (%d):", badge, title, len(requests))))
		b.WriteString("\n")
		for _, request := range requests {
			line := fmt.Sprintf("  • %s %s  %s", request.Action.ActionType,
				request.Action.TargetResource, m.renderRiskBadge(request.RiskLevel))
			if comment := m.decisions[request.ID].Comment; comment != "" {
				line += "  " + reasonStyle.Render(comment)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	writeGroup("✓", "Approved", lipgloss.NewStyle().Foreground(lipgloss.Color("42")), approved)
	writeGroup("✗", "Rejected", lipgloss.NewStyle().Foreground(lipgloss.Color("196")), rejected)
	writeGroup("→", "Skipped", statsStyle, skipped)
	writeGroup("?", "Undecided", statsStyle, pending)

	// Totals
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Decisions to submit: %d of %d requests\n",
		len(approved)+len(rejected), len(m.requests)))

	if len(pending) > 0 {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Render("⚠ Some requests are still undecided"))
	}

	return b.String()
}

// =============================================================================
// Help Rendering
// =============================================================================

func (m ApprovalReviewModel) renderHelp() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Keyboard Shortcuts"))
	b.WriteString("\n\n")

	helpItems := []struct {
		key  string
		desc string
	}{
		{"Y", "Approve current request"},
		{"N", "Reject current request (asks for a reason)"},
		{"S", "Skip (leave pending for someone else)"},
		{"A", "Approve all remaining"},
		{"Q", "Cancel review"},
		{"", ""},
		{"←/→ or H/L", "Navigate between requests"},
		{"↑/↓ or J/K", "Scroll content"},
		{"Ctrl+D/U", "Page down/up"},
		{"G / Shift+G", "Go to top/bottom"},
		{"Tab", "Toggle view mode (request/risk/summary)"},
		{"?", "Toggle this help"},
	}

	for _, item := range helpItems {
		if item.key == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString(fmt.Sprintf("  %s  %s\n",
			helpKeyStyle.Render(fmt.Sprintf("%-15s", item.key)),
			helpDescStyle.Render(item.desc),
		))
	}

	b.WriteString("\n")
	b.WriteString(helpDescStyle.Render("Press ? or Q to close help"))

	return b.String()
}

// =============================================================================
// Confirm Dialog Rendering
// =============================================================================

func (m ApprovalReviewModel) renderConfirm() string {
	var b strings.Builder

	if m.confirmFor == confirmAll {
		remaining := 0
		for _, request := range m.requests {
			if !m.decisions[request.ID].Action.IsTerminal() {
				remaining++
			}
		}
		b.WriteString(titleStyle.Render("Confirm Approve All"))
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf("This will approve %d remaining request(s).\n\n", remaining))
	} else {
		request := m.requests[m.currentReq]
		b.WriteString(titleStyle.Render("Confirm Approval"))
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf("%s on %s  %s",
			request.Action.ActionType,
			request.Action.TargetResource,
			m.renderRiskBadge(request.RiskLevel),
		))
		if !request.Assessment.Reversible {
			b.WriteString("  " + rejectedBadge.Render("NOT REVERSIBLE"))
		}
		b.WriteString("\n\n")
	}

	b.WriteString("Type 'yes' to confirm: ")
	b.WriteString(lipgloss.NewStyle().
		Foreground(lipgloss.Color("43")).
		Bold(true).
		Render(m.confirmInput))
	b.WriteString("▌")

	b.WriteString("\n\n")
	b.WriteString(helpDescStyle.Render("Press Enter to confirm, Esc to cancel"))

	return b.String()
}

// =============================================================================
// Rejection Comment Rendering
// =============================================================================

func (m ApprovalReviewModel) renderComment() string {
	var b strings.Builder

	request := m.requests[m.currentReq]

	b.WriteString(titleStyle.Render("Reject Request"))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("%s on %s\n\n",
		request.Action.ActionType,
		request.Action.TargetResource,
	))

	b.WriteString("Reason: ")
	b.WriteString(lipgloss.NewStyle().
		Foreground(lipgloss.Color("43")).
		Render(m.commentInput))
	b.WriteString("▌")

	b.WriteString("\n\n")
	b.WriteString(helpDescStyle.Render("Press Enter to reject, Esc to cancel"))

	return b.String()
}
