// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
	"time"
)

// ErrNotifyFailed is returned when a notice could not be delivered.
// Enterprise implementations should wrap this error with the channel
// and cause.
//
// Example:
//
//	if resp.StatusCode != http.StatusOK {
//	    return fmt.Errorf("slack webhook returned %d: %w", resp.StatusCode, ErrNotifyFailed)
//	}
var ErrNotifyFailed = errors.New("notification delivery failed")

// Notice kinds delivered through a Notifier.
const (
	// NoticeApprovalRequested announces a run parked at the approval
	// gate. Deliver this one promptly: the run is blocked on a human.
	NoticeApprovalRequested = "approval.requested"

	// NoticeRunFlagged announces a run whose change applied but failed
	// post-change validation and needs operator review.
	NoticeRunFlagged = "run.flagged"

	// NoticeRunRolledBack announces a run whose execution failed and
	// whose pre-change snapshot was restored (or restore was attempted).
	NoticeRunRolledBack = "run.rolled_back"
)

// Notice is one event worth telling a human about.
//
// The struct is intentionally flat and string-typed so enterprise
// implementations can template it into any channel (Slack, PagerDuty,
// email) without importing remediation internals.
//
// Example:
//
//	notice := Notice{
//	    Kind:        NoticeApprovalRequested,
//	    RunID:       runID,
//	    Title:       "Approval required: drain_node on node-14",
//	    Body:        "Risk CRITICAL. Blast radius: every pod on node-14.",
//	    RiskLevel:   "CRITICAL",
//	    Environment: "production",
//	    OccurredAt:  time.Now().UTC(),
//	    ExpiresAt:   time.Now().UTC().Add(5 * time.Minute),
//	}
type Notice struct {
	// Kind categorizes the notice. One of the Notice* constants.
	Kind string

	// RunID is the remediation run this notice concerns, when known.
	// Approval notices identify the request in Metadata instead.
	RunID string

	// Title is a one-line human-readable summary.
	Title string

	// Body carries the detail: action, target, blast radius, reasons.
	Body string

	// RiskLevel is the assessed risk ("LOW" through "CRITICAL"), when
	// known.
	RiskLevel string

	// Environment is the target environment of the action.
	Environment string

	// OccurredAt is when the underlying event happened (UTC).
	OccurredAt time.Time

	// ExpiresAt is when the notice stops being actionable, such as an
	// approval deadline. Zero when the notice has no deadline.
	ExpiresAt time.Time

	// Metadata holds channel-specific extras (mention targets, dedup
	// keys). May be nil.
	Metadata Metadata
}

// Notifier announces pending approvals and noteworthy run outcomes to
// external channels.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Delivery is best-effort from the pipeline's point of view: a failed
// notice never changes a run's outcome, it only risks a human finding
// out later.
//
// # Open Source Behavior
//
// The default NopNotifier discards all notices. Operators watch pending
// approvals through the API and CLI instead.
//
// # Enterprise Implementation
//
// Enterprise versions page on-call rotations or post to chat channels.
//
// Example enterprise implementation:
//
//	type SlackNotifier struct {
//	    webhookURL string
//	    client     *http.Client
//	}
//
//	func (n *SlackNotifier) Notify(ctx context.Context, notice Notice) error {
//	    payload := slackMessageFor(notice)
//	    return n.post(ctx, payload)
//	}
type Notifier interface {
	// Notify delivers one notice. Implementations should return
	// quickly; slow channels belong behind an internal queue.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - notice: The event to announce
	//
	// Returns:
	//   - error: nil on success, ErrNotifyFailed (or wrapped) on
	//     delivery failure
	Notify(ctx context.Context, notice Notice) error
}

// NopNotifier is the default notifier for open source.
//
// It discards all notices. Pending approvals remain visible through
// the approvals API.
//
// Thread-safe: This implementation has no mutable state.
type NopNotifier struct{}

// Notify discards the notice.
//
// Always returns nil (success) regardless of notice content.
func (n *NopNotifier) Notify(_ context.Context, _ Notice) error {
	return nil
}

// Compile-time interface compliance check.
var _ Notifier = (*NopNotifier)(nil)
