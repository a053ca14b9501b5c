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
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/AleutianAI/AleutianOps/pkg/ux"
	"github.com/AleutianAI/AleutianOps/services/remediation/approval"
	"github.com/AleutianAI/AleutianOps/services/remediation/handlers"
	"github.com/AleutianAI/AleutianOps/services/remediation/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	approvalsJSON   bool
	decideApprove   bool
	decideReject    bool
	decideComment   string
	decideBy        string
	reviewNoConfirm bool
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Review and decide pending approval requests",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs waiting for an operator decision",
	Long: `List every remediation run parked at the approval gate.

Examples:
  aleutianops approvals list
  aleutianops approvals list --json`,
	Run: runApprovalsListCommand,
}

var approvalsReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review the pending queue in an interactive session",
	Long: `Walk the pending approval queue in a full-screen review session.

Keys inside the session: a approve, r reject, s skip, tab toggles the
risk view, q quits without applying anything. Decisions are applied to
the gateway only when the session ends normally.

Examples:
  aleutianops approvals review
  aleutianops approvals review --no-confirm   # skip typed-yes for CRITICAL approvals`,
	Run: runApprovalsReviewCommand,
}

var approvalsDecideCmd = &cobra.Command{
	Use:   "decide [request-id]",
	Short: "Approve or reject one pending request",
	Long: `Decide a single approval request. With --approve or --reject the
decision is applied directly (scripting, chat-ops). Without either flag
an interactive prompt walks through the risk assessment first.

Examples:
  aleutianops approvals decide apr-123                       # interactive
  aleutianops approvals decide apr-123 --approve --comment "change window open"
  aleutianops approvals decide apr-123 --reject --comment "wrong resource"`,
	Args: cobra.ExactArgs(1),
	Run:  runApprovalsDecideCommand,
}

func init() {
	approvalsListCmd.Flags().BoolVar(&approvalsJSON, "json", false,
		"Output as JSON")
	approvalsReviewCmd.Flags().BoolVar(&reviewNoConfirm, "no-confirm", false,
		"Skip the typed-yes confirmation for CRITICAL or non-reversible approvals")
	approvalsDecideCmd.Flags().BoolVar(&decideApprove, "approve", false,
		"Approve the request")
	approvalsDecideCmd.Flags().BoolVar(&decideReject, "reject", false,
		"Reject the request")
	approvalsDecideCmd.Flags().StringVar(&decideComment, "comment", "",
		"Reasoning recorded on the run")
	approvalsDecideCmd.Flags().StringVar(&decideBy, "by", "",
		"Decider identity (default: the authenticated caller)")

	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsReviewCmd)
	approvalsCmd.AddCommand(approvalsDecideCmd)
	rootCmd.AddCommand(approvalsCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runApprovalsListCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()

	client := newGatewayClient()
	pending, err := client.pendingApprovals(ctx)
	if err != nil {
		ux.Error("Failed to list approvals: " + err.Error())
		os.Exit(exitError)
	}

	if approvalsJSON {
		printJSON(pending)
		return
	}
	if pending.Count == 0 {
		ux.Success("Nothing waiting for approval")
		return
	}

	ux.Title(fmt.Sprintf("Pending approvals (%d)", pending.Count))
	rows := make([][]string, 0, len(pending.Pending))
	for _, req := range pending.Pending {
		rows = append(rows, []string{
			req.ID,
			req.Action.ActionType,
			req.Action.TargetResource,
			req.Action.Environment,
			string(req.RiskLevel),
			remainingUntil(req.ExpiresAt),
		})
	}
	fmt.Println(ux.Table(
		[]string{"REQUEST", "ACTION", "RESOURCE", "ENV", "RISK", "EXPIRES IN"},
		rows,
	))
	ux.Muted("Decide with: aleutianops approvals decide <request>  or  aleutianops approvals review")
}

func runApprovalsReviewCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if !ux.IsInteractive() {
		ux.Error("The review session needs a terminal; use approvals decide for scripting")
		os.Exit(exitError)
	}

	client := newGatewayClient()
	pending, err := client.pendingApprovals(ctx)
	if err != nil {
		ux.Error("Failed to fetch the pending queue: " + err.Error())
		os.Exit(exitError)
	}
	if pending.Count == 0 {
		ux.Success("Nothing waiting for approval")
		return
	}

	config := tui.DefaultReviewConfig()
	if reviewNoConfirm {
		config.ConfirmCritical = false
	}

	model := tui.NewApprovalReviewModel(pending.Pending, config)
	program := tea.NewProgram(model, tea.WithAltScreen())
	finalModel, err := program.Run()
	if err != nil {
		ux.Error("Review session failed: " + err.Error())
		os.Exit(exitError)
	}

	reviewModel, ok := finalModel.(tui.ApprovalReviewModel)
	if !ok {
		ux.Error("Review session ended unexpectedly")
		os.Exit(exitError)
	}
	result := reviewModel.Result()
	if result.Cancelled {
		ux.Warning("Review cancelled, no decisions applied")
		return
	}

	applyReviewDecisions(ctx, client, result)
}

// applyReviewDecisions pushes a finished review session's verdicts to
// the gateway, reporting each one as it lands.
func applyReviewDecisions(ctx context.Context, client *gatewayClient, result *tui.ReviewResult) {
	var approved, rejected, skipped, failed int
	for requestID, decision := range result.Decisions {
		switch decision.Action {
		case tui.ReviewApprove, tui.ReviewReject:
			resp, err := client.decide(ctx, requestID, handlers.DecisionRequest{
				Approve:   decision.Action == tui.ReviewApprove,
				Comment:   decision.Comment,
				DecidedBy: decideBy,
			})
			if err != nil {
				failed++
				ux.Warning(fmt.Sprintf("Decision for %s not applied: %v", requestID, err))
				continue
			}
			if decision.Action == tui.ReviewApprove {
				approved++
				ux.Success("Approved " + resp.RequestID)
			} else {
				rejected++
				ux.Info("Rejected " + resp.RequestID)
			}
		case tui.ReviewSkip:
			skipped++
		}
	}

	summary := fmt.Sprintf("%d approved, %d rejected, %d left pending", approved, rejected, skipped)
	if failed > 0 {
		ux.Warning(fmt.Sprintf("%s, %d failed", summary, failed))
		os.Exit(exitFailure)
	}
	ux.Title("Review complete: " + summary)
}

func runApprovalsDecideCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()

	requestID := args[0]
	if decideApprove && decideReject {
		ux.Error("--approve and --reject are mutually exclusive")
		os.Exit(exitError)
	}

	client := newGatewayClient()

	approve := decideApprove
	comment := decideComment
	if !decideApprove && !decideReject {
		action, promptComment, err := promptForDecision(ctx, client, requestID)
		if err != nil {
			if errors.Is(err, ux.ErrNonInteractive) {
				ux.Error("No terminal for the prompt; pass --approve or --reject")
			} else {
				ux.Error("Prompt failed: " + err.Error())
			}
			os.Exit(exitError)
		}
		if action == ux.DecisionSkip {
			ux.Muted("Left pending")
			return
		}
		approve = action == ux.DecisionApprove
		comment = promptComment
	}

	resp, err := client.decide(ctx, requestID, handlers.DecisionRequest{
		Approve:   approve,
		Comment:   comment,
		DecidedBy: decideBy,
	})
	if err != nil {
		ux.Error("Decision not applied: " + err.Error())
		os.Exit(exitError)
	}

	if approve {
		ux.Success(fmt.Sprintf("Approved %s as %s", resp.RequestID, resp.DecidedBy))
	} else {
		ux.Info(fmt.Sprintf("Rejected %s as %s", resp.RequestID, resp.DecidedBy))
	}
}

// promptForDecision fetches the request's context and walks the operator
// through the interactive decision.
func promptForDecision(ctx context.Context, client *gatewayClient, requestID string) (ux.DecisionAction, string, error) {
	pending, err := client.pendingApprovals(ctx)
	if err != nil {
		return "", "", fmt.Errorf("fetch pending queue: %w", err)
	}

	var req *approval.PendingRequest
	for i := range pending.Pending {
		if pending.Pending[i].ID == requestID {
			req = &pending.Pending[i]
			break
		}
	}
	if req == nil {
		return "", "", fmt.Errorf("request %s is not pending (already decided or expired?)", requestID)
	}

	return ux.PromptApprovalDecision(ux.ApprovalPrompt{
		RequestID:   req.ID,
		ActionType:  req.Action.ActionType,
		Resource:    req.Action.TargetResource,
		Environment: req.Action.Environment,
		RiskLevel:   string(req.RiskLevel),
		Reversible:  req.Assessment.Reversible,
		BlastRadius: req.Assessment.BlastRadius,
		Reasons:     req.Assessment.Reasons,
		ExpiresAt:   req.ExpiresAt,
		ShowSkip:    true,
	})
}

// remainingUntil formats the time left before an approval expires.
func remainingUntil(expiresAt time.Time) string {
	if expiresAt.IsZero() {
		return "-"
	}
	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return "expired"
	}
	return remaining.Round(time.Second).String()
}
