// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
)

// ErrNonInteractive indicates a prompt was requested without a terminal
// attached (machine personality, piped stdin, CI).
var ErrNonInteractive = errors.New("interactive prompt requires a terminal")

// DecisionAction is the operator's choice for a pending approval.
type DecisionAction string

const (
	DecisionApprove  DecisionAction = "approve"
	DecisionReject   DecisionAction = "reject"
	DecisionShowMore DecisionAction = "show"
	DecisionSkip     DecisionAction = "skip"
)

// PromptOption is one selectable entry in a prompt.
type PromptOption struct {
	Label       string
	Description string
	Value       string
	Recommended bool
}

// ApprovalPrompt describes one pending approval shown to the operator.
type ApprovalPrompt struct {
	RequestID   string
	ActionType  string
	Resource    string
	Environment string
	RiskLevel   string
	Reversible  bool
	BlastRadius string
	Reasons     []string
	ExpiresAt   time.Time

	// ShowSkip offers leaving the request pending for someone else.
	ShowSkip bool
}

// aleutianTheme returns the branded huh theme used by all prompts.
func aleutianTheme() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Title = t.Focused.Title.Foreground(ColorTealBright).Bold(true)
	t.Focused.Description = t.Focused.Description.Foreground(ColorSlate)
	t.Focused.SelectSelector = t.Focused.SelectSelector.Foreground(ColorTealPrimary).SetString("→ ")
	t.Focused.SelectedOption = t.Focused.SelectedOption.Foreground(ColorTealBright)
	t.Focused.UnselectedOption = t.Focused.UnselectedOption.Foreground(ColorTealOcean)
	t.Focused.FocusedButton = t.Focused.FocusedButton.Background(ColorTealPrimary).Foreground(ColorDarkest)
	t.Focused.BlurredButton = t.Focused.BlurredButton.Background(ColorMidnight).Foreground(ColorSlate)

	t.Blurred.Title = t.Blurred.Title.Foreground(ColorTealMedium)
	t.Blurred.Description = t.Blurred.Description.Foreground(ColorSlate)

	return t
}

// truncate shortens s to maxLen characters, ellipsized.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}

// SelectOne presents a single-choice prompt and returns the chosen value.
func SelectOne(title string, options []PromptOption) (string, error) {
	if !IsInteractive() {
		return "", ErrNonInteractive
	}

	huhOptions := make([]huh.Option[string], 0, len(options))
	for _, opt := range options {
		label := opt.Label
		if opt.Recommended {
			label += Styles.Muted.Render(" (recommended)")
		}
		if opt.Description != "" {
			label += Styles.Muted.Render("  " + truncate(opt.Description, 50))
		}
		huhOptions = append(huhOptions, huh.NewOption(label, opt.Value))
	}

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(title).
			Options(huhOptions...).
			Value(&choice),
	)).WithTheme(aleutianTheme())

	if err := form.Run(); err != nil {
		return "", err
	}
	return choice, nil
}

// Confirm asks a yes/no question and returns the answer.
func Confirm(title string) (bool, error) {
	if !IsInteractive() {
		return false, ErrNonInteractive
	}

	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	)).WithTheme(aleutianTheme())

	if err := form.Run(); err != nil {
		return false, err
	}
	return ok, nil
}

// PromptApprovalDecision walks an operator through deciding one pending
// approval request. It returns the action taken and, for approve and
// reject, the operator's comment.
//
// The risk summary is shown up front; DecisionShowMore re-prompts after
// printing every assessment reason.
func PromptApprovalDecision(p ApprovalPrompt) (DecisionAction, string, error) {
	if !IsInteractive() {
		return "", "", ErrNonInteractive
	}

	printApprovalContext(p)

	for {
		action, err := selectApprovalAction(p)
		if err != nil {
			return "", "", err
		}

		switch action {
		case DecisionShowMore:
			Title("Risk assessment")
			for _, reason := range p.Reasons {
				Info(reason)
			}
			continue

		case DecisionSkip:
			return DecisionSkip, "", nil

		default:
			comment, err := promptComment(action)
			if err != nil {
				return "", "", err
			}
			return action, comment, nil
		}
	}
}

func printApprovalContext(p ApprovalPrompt) {
	Title(fmt.Sprintf("Approval requested: %s", p.ActionType))

	pairs := [][2]string{
		{"request", p.RequestID},
		{"resource", truncate(p.Resource, 60)},
		{"environment", p.Environment},
		{"risk", RiskBadge(p.RiskLevel)},
		{"reversible", fmt.Sprintf("%t", p.Reversible)},
	}
	if p.BlastRadius != "" {
		pairs = append(pairs, [2]string{"blast radius", p.BlastRadius})
	}
	if !p.ExpiresAt.IsZero() {
		pairs = append(pairs, [2]string{"expires", p.ExpiresAt.Local().Format(time.RFC822)})
	}
	fmt.Print(KeyValues(pairs))

	if len(p.Reasons) > 0 {
		Muted(fmt.Sprintf("%d assessment reason(s); choose \"Show risk detail\" to list them", len(p.Reasons)))
	}
}

func selectApprovalAction(p ApprovalPrompt) (DecisionAction, error) {
	options := []PromptOption{
		{Label: "Approve", Value: string(DecisionApprove)},
		{Label: "Reject", Value: string(DecisionReject)},
	}
	if len(p.Reasons) > 0 {
		options = append(options, PromptOption{Label: "Show risk detail", Value: string(DecisionShowMore)})
	}
	if p.ShowSkip {
		options = append(options, PromptOption{Label: "Skip (leave pending)", Value: string(DecisionSkip)})
	}

	title := fmt.Sprintf("%s %s on %s?", p.ActionType, RiskBadge(p.RiskLevel), truncate(p.Resource, 40))
	choice, err := SelectOne(title, options)
	if err != nil {
		return "", err
	}
	return DecisionAction(choice), nil
}

func promptComment(action DecisionAction) (string, error) {
	title := "Comment (optional)"
	placeholder := ""
	if action == DecisionReject {
		title = "Reason for rejection"
		placeholder = "e.g. change freeze in effect"
	}

	var comment string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title(title).
			Placeholder(placeholder).
			Value(&comment),
	)).WithTheme(aleutianTheme())

	if err := form.Run(); err != nil {
		return "", err
	}
	return comment, nil
}
