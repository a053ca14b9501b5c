// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianOps/pkg/extensions"
	"github.com/AleutianAI/AleutianOps/services/remediation/approval"
	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/AleutianAI/AleutianOps/services/remediation/pipeline"
)

// noticeTimeout bounds each notifier delivery. Delivery is best-effort;
// a slow channel must not stall the pipeline or the event pump.
const noticeTimeout = 5 * time.Second

// deliverNotice sends one notice on its own deadline and logs failures.
func deliverNotice(notifier extensions.Notifier, logger *slog.Logger, notice extensions.Notice) {
	ctx, cancel := context.WithTimeout(context.Background(), noticeTimeout)
	defer cancel()
	if err := notifier.Notify(ctx, notice); err != nil {
		logger.Warn("Notice delivery failed",
			"kind", notice.Kind, "run_id", notice.RunID, "error", err)
	}
}

// =============================================================================
// Approval event pump
// =============================================================================

// startNoticePump subscribes to the approval broker and forwards each
// new approval request to the notifier.
func (s *Service) startNoticePump() {
	events, cancel := s.approvals.Subscribe(approvalFeedBuffer)
	s.stopFeed = cancel
	s.feedDone = make(chan struct{})
	go s.noticePump(events)
}

// noticePump runs until the subscription is cancelled. Resolution and
// expiry events stay off the pager; the websocket feed carries those.
func (s *Service) noticePump(events <-chan approval.Event) {
	defer close(s.feedDone)
	for event := range events {
		if event.Type != approval.EventRequested {
			continue
		}
		deliverNotice(s.opts.Notifier, s.logger, buildApprovalNotice(event.Request))
	}
}

// buildApprovalNotice translates a pending request into a notice. The
// run ID is unknown at the approval gate, so the approval request ID
// and action ID ride in the metadata instead.
func buildApprovalNotice(req approval.PendingRequest) extensions.Notice {
	body := fmt.Sprintf("Risk %s, %s. Blast radius: %s.",
		req.Assessment.Level, reversibilityPhrase(req.Assessment.Reversible),
		req.Assessment.BlastRadius)
	if req.Assessment.Summary != "" {
		body += " " + req.Assessment.Summary
	}
	return extensions.Notice{
		Kind:        extensions.NoticeApprovalRequested,
		Title:       fmt.Sprintf("Approval required: %s on %s", req.Action.ActionType, req.Action.TargetResource),
		Body:        body,
		RiskLevel:   string(req.RiskLevel),
		Environment: req.Action.Environment,
		OccurredAt:  req.RequestedAt,
		ExpiresAt:   req.ExpiresAt,
		Metadata: extensions.Metadata{
			"approval_request_id": req.ID,
			"action_id":           req.Action.ID,
		},
	}
}

func reversibilityPhrase(reversible bool) string {
	if reversible {
		return "reversible"
	}
	return "not reversible"
}

// =============================================================================
// Terminal record notices
// =============================================================================

// noticeArchiver decorates the run archive: terminal records that need
// a human are announced through the notifier before being saved. A
// failed delivery never fails the save, and vice versa.
type noticeArchiver struct {
	inner    pipeline.RunArchiver
	notifier extensions.Notifier
	logger   *slog.Logger
}

func (n *noticeArchiver) Save(ctx context.Context, record datatypes.RunRecord) error {
	if notice, ok := noticeForRecord(record); ok {
		deliverNotice(n.notifier, n.logger, notice)
	}
	return n.inner.Save(ctx, record)
}

func (n *noticeArchiver) Get(ctx context.Context, runID string) (datatypes.RunRecord, error) {
	return n.inner.Get(ctx, runID)
}

// noticeForRecord decides whether a terminal record is pager-worthy.
// Completed, denied, and blocked runs are routine; applied-but-invalid
// changes and rollbacks are not.
func noticeForRecord(record datatypes.RunRecord) (extensions.Notice, bool) {
	base := extensions.Notice{
		RunID:       record.RunID,
		Environment: record.Action.Environment,
		OccurredAt:  record.CompletedAt,
	}
	// Risk is nil for runs denied before RISK_ASSESS.
	if record.Risk != nil {
		base.RiskLevel = string(record.Risk.Level)
	}

	switch record.CurrentStep {
	case datatypes.RunFlaggedForRollback:
		base.Kind = extensions.NoticeRunFlagged
		base.Title = fmt.Sprintf("Validation failed after %s on %s",
			record.Action.ActionType, record.Action.TargetResource)
		base.Body = "The change applied but the post-change health check did not pass. Operator review needed."
		if record.Error != "" {
			base.Body += " Detail: " + record.Error
		}
		return base, true

	case datatypes.RunRollbackAttempted:
		base.Kind = extensions.NoticeRunRolledBack
		base.Title = fmt.Sprintf("Rolled back %s on %s",
			record.Action.ActionType, record.Action.TargetResource)
		switch {
		case record.RollbackSucceeded:
			base.Body = "Execution failed and the pre-change snapshot was restored."
		case record.RollbackError != "":
			base.Body = "Execution failed and the snapshot restore also failed: " + record.RollbackError
		default:
			base.Body = "Execution failed and a snapshot restore was attempted."
		}
		if record.Error != "" {
			base.Body += " Execution error: " + record.Error
		}
		return base, true
	}

	return extensions.Notice{}, false
}
