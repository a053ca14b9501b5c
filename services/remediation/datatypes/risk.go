// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "strings"

// RiskLevel represents the severity of an action's estimated impact.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ParseRiskLevel parses a string to RiskLevel.
// Unknown values parse as RiskHigh; a misspelled level must never grant
// a lower gate than the caller intended.
func ParseRiskLevel(s string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow
	case "medium":
		return RiskMedium
	case "high":
		return RiskHigh
	case "critical":
		return RiskCritical
	default:
		return RiskHigh
	}
}

// riskOrder maps each level to its numeric rank.
var riskOrder = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// IsValid reports whether the level is one of the four defined values.
func (r RiskLevel) IsValid() bool {
	_, ok := riskOrder[r]
	return ok
}

// Order returns the numeric order of this risk level.
func (r RiskLevel) Order() int {
	return riskOrder[r]
}

// Exceeds returns true if this risk level strictly exceeds the threshold.
func (r RiskLevel) Exceeds(threshold RiskLevel) bool {
	return riskOrder[r] > riskOrder[threshold]
}

// Meets returns true if this risk level is at or above the threshold.
// The approval gate uses Meets: HIGH meets a HIGH threshold.
func (r RiskLevel) Meets(threshold RiskLevel) bool {
	return riskOrder[r] >= riskOrder[threshold]
}

// Max returns the higher of two risk levels.
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.Exceeds(r) {
		return other
	}
	return r
}

// Risk assessment sources recorded on the run record.
const (
	// RiskSourceStatic marks an assessment produced by the static
	// classifier defaults.
	RiskSourceStatic = "static"

	// RiskSourceAssessor marks an assessment produced by a configured
	// external assessor.
	RiskSourceAssessor = "assessor"
)

// RiskAssessment is the estimated blast radius and reversibility of an
// action, produced once per pipeline run.
//
// # Fields
//
//   - Level: The assessed risk level. Determines whether the approval
//     gate is entered.
//   - Reversible: Whether a snapshot-based rollback can undo the action.
//     Non-reversible actions always require approval.
//   - BlastRadius: Human-readable estimate of the scope affected if the
//     action misbehaves.
//   - Reasons: Why the assessment landed where it did, in order.
//   - Summary: Optional advisory impact narrative shown to approvers.
//     Never consulted by the gate itself.
//   - Source: Which assessor produced the level (static or assessor).
type RiskAssessment struct {
	Level       RiskLevel `json:"risk_level"`
	Reversible  bool      `json:"reversible"`
	BlastRadius string    `json:"blast_radius"`
	Reasons     []string  `json:"reasons,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Source      string    `json:"source"`
}
