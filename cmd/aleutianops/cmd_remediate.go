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
	"strings"
	"time"

	"github.com/AleutianAI/AleutianOps/pkg/ux"
	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/AleutianAI/AleutianOps/services/remediation/handlers"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	remediateEnv      string
	remediateParams   []string
	remediateLabels   []string
	remediateContext  []string
	remediateDesc     string
	remediateAgent    string
	remediateNoWait   bool
	remediateJSON     bool
	remediateTimeout  int
	remediateInterval time.Duration
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var remediateCmd = &cobra.Command{
	Use:   "remediate [action-type] [target-resource]",
	Short: "Submit a remediation action and follow it to completion",
	Long: `Submit an action through the policy-gated remediation pipeline.

The run is followed live: every pipeline stage is printed as it happens,
and if the action's risk level requires approval the command waits while
an operator decides (see "aleutianops approvals").

Examples:
  aleutianops remediate restart_pod default/api-server
  aleutianops remediate drain_node worker-7 --env staging
  aleutianops remediate scale_deployment default/api --param replicas=5
  aleutianops remediate rotate_credentials vault/prod-signing --context ticket=INC-4121
  aleutianops remediate restart_pod default/api-server --no-wait   # print the run ID and return
  aleutianops remediate restart_pod default/api-server --json      # final record as JSON

Exit Codes:
  0 = Run completed successfully
  1 = Run denied, blocked, rolled back, or flagged for review
  2 = Error (submission failed, watch lost)`,
	Args: cobra.ExactArgs(2),
	Run:  runRemediateCommand,
}

func init() {
	remediateCmd.Flags().StringVar(&remediateEnv, "env", "production",
		"Target environment")
	remediateCmd.Flags().StringArrayVar(&remediateParams, "param", nil,
		"Action parameter as key=value (repeatable)")
	remediateCmd.Flags().StringArrayVar(&remediateLabels, "label", nil,
		"Resource label as key=value (repeatable)")
	remediateCmd.Flags().StringArrayVar(&remediateContext, "context", nil,
		"Policy context as key=value (repeatable)")
	remediateCmd.Flags().StringVar(&remediateDesc, "description", "",
		"Why this action is being taken")
	remediateCmd.Flags().StringVar(&remediateAgent, "agent", "",
		"Agent identity for the audit record (default cli:$USER)")
	remediateCmd.Flags().BoolVar(&remediateNoWait, "no-wait", false,
		"Submit and return immediately with the run ID")
	remediateCmd.Flags().BoolVar(&remediateJSON, "json", false,
		"Print the final run record as JSON, no progress output")
	remediateCmd.Flags().IntVar(&remediateTimeout, "timeout", 1800,
		"Total watch timeout in seconds, covering any approval wait")
	remediateCmd.Flags().DurationVar(&remediateInterval, "poll-interval", 2*time.Second,
		"How often to poll the run while following")

	rootCmd.AddCommand(remediateCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runRemediateCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(remediateTimeout)*time.Second)
	defer cancel()

	action := datatypes.RemediationAction{
		ActionType:     args[0],
		TargetResource: args[1],
		Environment:    remediateEnv,
		Description:    remediateDesc,
	}
	if params, err := parsePairs(remediateParams); err != nil {
		ux.Error("Invalid --param: " + err.Error())
		os.Exit(exitError)
	} else if len(params) > 0 {
		action.Parameters = toAnyMap(params)
	}
	if labels, err := parsePairs(remediateLabels); err != nil {
		ux.Error("Invalid --label: " + err.Error())
		os.Exit(exitError)
	} else if len(labels) > 0 {
		action.ResourceLabels = labels
	}

	policyContext, err := parsePairs(remediateContext)
	if err != nil {
		ux.Error("Invalid --context: " + err.Error())
		os.Exit(exitError)
	}

	req := handlers.SubmitRequest{
		Action:  action,
		AgentID: resolveAgentID(remediateAgent),
		Async:   true,
	}
	if len(policyContext) > 0 {
		req.Context = toAnyMap(policyContext)
	}

	client := newGatewayClient()
	record, _, err := client.submit(ctx, req)
	if err != nil {
		ux.Error("Submission failed: " + err.Error())
		os.Exit(exitError)
	}

	if remediateNoWait {
		if remediateJSON {
			printJSON(record)
		} else {
			ux.Success("Submitted run " + record.RunID)
			ux.Muted("Follow with: aleutianops runs get " + record.RunID)
		}
		return
	}

	if remediateJSON {
		final, err := watchRun(ctx, client, record.RunID, ux.NewBufferRunRenderer(), remediateInterval)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitError)
		}
		printJSON(final)
		os.Exit(exitCodeForState(final.CurrentStep))
	}

	renderer := ux.NewRunRenderer(os.Stdout, ux.GetPersonality().Level)
	defer renderer.Finalize()
	renderer.OnSubmitted(record.RunID, action.ActionType, action.TargetResource)

	final, err := watchRun(ctx, client, record.RunID, renderer, remediateInterval)
	if err != nil {
		renderer.OnError(err)
		renderer.Finalize()
		os.Exit(exitError)
	}
	renderer.Finalize()
	os.Exit(exitCodeForState(final.CurrentStep))
}

// =============================================================================
// HELPERS
// =============================================================================

// resolveAgentID picks the audit identity: the flag when given, otherwise
// cli:<user> so gateway records distinguish humans from agents.
func resolveAgentID(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if user := os.Getenv("USER"); user != "" {
		return "cli:" + user
	}
	return "cli"
}

// parsePairs parses repeated key=value flags.
func parsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("%q is not key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
