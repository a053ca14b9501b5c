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
	"fmt"
	"os"

	"github.com/AleutianAI/AleutianOps/pkg/ux"
	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/AleutianAI/AleutianOps/services/remediation/risk"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	riskEnv       string
	riskParams    []string
	riskThreshold string
	riskRemote    bool
	riskJSON      bool
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var riskCmd = &cobra.Command{
	Use:   "risk [action-type] [target-resource]",
	Short: "Classify an action's risk without executing anything",
	Long: `Dry-run the risk classification an action would receive in the
pipeline: level, reversibility, and blast radius. Nothing is submitted
and nothing executes.

By default classification runs locally with the built-in rules. With
--remote the gateway classifies instead, folding in its configured
overrides and, when enabled, the advisory impact summary.

Examples:
  aleutianops risk restart_pod default/api-server
  aleutianops risk rotate_credentials vault/prod-signing --env production
  aleutianops risk drain_node worker-7 --threshold medium    # CI gate
  aleutianops risk delete_volume pv-231 --remote --json

Exit Codes:
  0 = Risk at or below threshold (would not need approval)
  1 = Risk above threshold (would wait for approval)
  2 = Error`,
	Args: cobra.ExactArgs(2),
	Run:  runRiskCommand,
}

func init() {
	riskCmd.Flags().StringVar(&riskEnv, "env", "production",
		"Target environment")
	riskCmd.Flags().StringArrayVar(&riskParams, "param", nil,
		"Action parameter as key=value (repeatable)")
	riskCmd.Flags().StringVar(&riskThreshold, "threshold", "",
		"Exit 1 if the level meets this: low, medium, high, critical (default high)")
	riskCmd.Flags().BoolVar(&riskRemote, "remote", false,
		"Classify on the gateway instead of locally")
	riskCmd.Flags().BoolVar(&riskJSON, "json", false,
		"Output as JSON")

	rootCmd.AddCommand(riskCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runRiskCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()

	action := datatypes.RemediationAction{
		ActionType:     args[0],
		TargetResource: args[1],
		Environment:    riskEnv,
	}
	if params, err := parsePairs(riskParams); err != nil {
		ux.Error("Invalid --param: " + err.Error())
		os.Exit(exitError)
	} else if len(params) > 0 {
		action.Parameters = toAnyMap(params)
	}

	threshold := datatypes.ParseRiskLevel(riskThreshold)

	var (
		assessment       datatypes.RiskAssessment
		requiresApproval bool
	)
	if riskRemote {
		resp, err := newGatewayClient().classify(ctx, action)
		if err != nil {
			ux.Error("Gateway classification failed: " + err.Error())
			os.Exit(exitError)
		}
		assessment = resp.Assessment
		requiresApproval = resp.RequiresApproval
	} else {
		var err error
		assessment, err = risk.NewStaticAssessor(nil).Assess(ctx, action)
		if err != nil {
			ux.Error("Classification failed: " + err.Error())
			os.Exit(exitError)
		}
		requiresApproval = assessment.Level.Meets(threshold) || !assessment.Reversible
	}

	if riskJSON {
		printJSON(map[string]any{
			"assessment":        assessment,
			"requires_approval": requiresApproval,
		})
	} else {
		printAssessment(action, assessment, requiresApproval)
	}

	if assessment.Level.Meets(threshold) {
		os.Exit(exitFailure)
	}
}

// =============================================================================
// OUTPUT
// =============================================================================

func printAssessment(action datatypes.RemediationAction, assessment datatypes.RiskAssessment, requiresApproval bool) {
	ux.Title(action.ActionType + " on " + action.TargetResource)

	reversible := "yes"
	if !assessment.Reversible {
		reversible = "no"
	}
	fmt.Println(ux.KeyValues([][2]string{
		{"Risk", ux.RiskBadge(string(assessment.Level))},
		{"Reversible", reversible},
		{"Blast radius", assessment.BlastRadius},
		{"Source", assessment.Source},
	}))

	if len(assessment.Reasons) > 0 {
		ux.Title("Reasons")
		for _, reason := range assessment.Reasons {
			fmt.Println("  - " + reason)
		}
	}
	if assessment.Summary != "" {
		ux.Box("Impact summary", assessment.Summary)
	}

	if requiresApproval {
		ux.Warning("Submitting this would wait for operator approval")
	} else {
		ux.Success("Submitting this would run straight through")
	}
}
