// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// AutoApproverName is recorded as the decider on automatic decisions.
const AutoApproverName = "auto-approver"

// AutoApprover decides without a human, for deployments where nobody
// is on call to click a button. Actions at or below the configured
// risk ceiling are approved; anything above is rejected.
type AutoApprover struct {
	maxRisk datatypes.RiskLevel
	now     func() time.Time
}

// NewAutoApprover creates an auto-approver with the given risk
// ceiling.
func NewAutoApprover(maxRisk datatypes.RiskLevel) *AutoApprover {
	return &AutoApprover{maxRisk: maxRisk, now: time.Now}
}

// RequestApproval decides immediately.
func (a *AutoApprover) RequestApproval(_ context.Context, _ datatypes.RemediationAction, assessment datatypes.RiskAssessment, _ time.Duration) (datatypes.ApprovalDecision, error) {
	decidedAt := a.now().UTC()
	risk := assessment.Level
	if risk.Exceeds(a.maxRisk) {
		return datatypes.ApprovalDecision{
			Status:    datatypes.ApprovalRejected,
			DecidedBy: AutoApproverName,
			Comment:   fmt.Sprintf("risk %s exceeds auto-approval ceiling %s", risk, a.maxRisk),
			DecidedAt: decidedAt,
		}, nil
	}
	return datatypes.ApprovalDecision{
		Status:    datatypes.ApprovalApproved,
		DecidedBy: AutoApproverName,
		Comment:   fmt.Sprintf("auto-approved at or below risk ceiling %s", a.maxRisk),
		DecidedAt: decidedAt,
	}, nil
}
