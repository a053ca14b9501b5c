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
	"time"

	"github.com/AleutianAI/AleutianOps/pkg/ux"
	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	runsLimit int
	runsJSON  bool
	runsWatch bool
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect remediation runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active and recently archived runs",
	Long: `List runs known to the gateway: in-flight runs first, then the most
recently archived terminal records.

Examples:
  aleutianops runs list
  aleutianops runs list --limit 50`,
	Run: runRunsListCommand,
}

var runsGetCmd = &cobra.Command{
	Use:   "get [run-id]",
	Short: "Show one run's full audit record",
	Long: `Show a run's stage timeline and outcomes. Works for active runs and
for archived ones.

Examples:
  aleutianops runs get 6f1f1f4e-1c2b-4e3a-9f7d-2a8b9c0d1e2f
  aleutianops runs get 6f1f... --watch     # follow an active run to its end
  aleutianops runs get 6f1f... --json`,
	Args: cobra.ExactArgs(1),
	Run:  runRunsGetCommand,
}

func init() {
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20,
		"Maximum archived records to include")
	runsListCmd.Flags().BoolVar(&runsJSON, "json", false,
		"Output as JSON")
	runsGetCmd.Flags().BoolVar(&runsJSON, "json", false,
		"Output as JSON")
	runsGetCmd.Flags().BoolVar(&runsWatch, "watch", false,
		"Follow the run until it reaches a terminal state")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGetCmd)
	rootCmd.AddCommand(runsCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runRunsListCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()

	client := newGatewayClient()
	runs, err := client.listRuns(ctx, runsLimit)
	if err != nil {
		ux.Error("Failed to list runs: " + err.Error())
		os.Exit(exitError)
	}

	if runsJSON {
		printJSON(runs)
		return
	}

	if len(runs.Active) == 0 && len(runs.Recent) == 0 {
		ux.Muted("No runs recorded")
		return
	}

	if len(runs.Active) > 0 {
		ux.Title("Active")
		fmt.Println(runsTable(runs.Active))
	}
	if len(runs.Recent) > 0 {
		ux.Title("Recent")
		fmt.Println(runsTable(runs.Recent))
	}
}

func runRunsGetCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	client := newGatewayClient()
	record, err := client.getRun(ctx, args[0])
	if err != nil {
		ux.Error("Failed to fetch run: " + err.Error())
		os.Exit(exitError)
	}

	if runsWatch && !record.CurrentStep.IsTerminal() {
		renderer := ux.NewRunRenderer(os.Stdout, ux.GetPersonality().Level)
		defer renderer.Finalize()
		renderer.OnSubmitted(record.RunID, record.Action.ActionType, record.Action.TargetResource)
		record, err = watchRun(ctx, client, record.RunID, renderer, 2*time.Second)
		renderer.Finalize()
		if err != nil {
			ux.Error("Watch lost: " + err.Error())
			os.Exit(exitError)
		}
		if runsJSON {
			printJSON(record)
		}
		os.Exit(exitCodeForState(record.CurrentStep))
	}

	if runsJSON {
		printJSON(record)
		return
	}
	printRunDetail(record)
}

// =============================================================================
// OUTPUT
// =============================================================================

func runsTable(records []datatypes.RunRecord) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.RunID,
			r.Action.ActionType,
			r.Action.TargetResource,
			r.Action.Environment,
			riskLevelOf(r),
			string(r.CurrentStep),
			r.StartedAt.Local().Format("15:04:05"),
		})
	}
	return ux.Table(
		[]string{"RUN", "ACTION", "RESOURCE", "ENV", "RISK", "STATE", "STARTED"},
		rows,
	)
}

func riskLevelOf(record datatypes.RunRecord) string {
	if record.Risk == nil {
		return "-"
	}
	return string(record.Risk.Level)
}

func printRunDetail(record datatypes.RunRecord) {
	ux.Title(record.Action.ActionType + " on " + record.Action.TargetResource)

	pairs := [][2]string{
		{"Run", record.RunID},
		{"State", string(record.CurrentStep)},
		{"Environment", record.Action.Environment},
		{"Agent", record.AgentID},
		{"Started", record.StartedAt.Local().Format(time.RFC822)},
	}
	if record.Risk != nil {
		pairs = append(pairs, [2]string{"Risk", string(record.Risk.Level)})
		pairs = append(pairs, [2]string{"Blast radius", record.Risk.BlastRadius})
	}
	if record.Approval != nil && record.Approval.Status != datatypes.ApprovalNotRequired {
		pairs = append(pairs, [2]string{"Approval", string(record.Approval.Status) + " by " + record.Approval.DecidedBy})
	}
	if record.SnapshotNote != "" {
		pairs = append(pairs, [2]string{"Snapshot", record.SnapshotNote})
	}
	if !record.CompletedAt.IsZero() {
		pairs = append(pairs, [2]string{"Completed", fmt.Sprintf("%s (%dms)",
			record.CompletedAt.Local().Format(time.RFC822), record.DurationMs)})
	}
	if record.Error != "" {
		pairs = append(pairs, [2]string{"Error", record.Error})
	}
	fmt.Println(ux.KeyValues(pairs))

	if len(record.Steps) > 0 {
		ux.Title("Timeline")
		for _, step := range record.Steps {
			detail := step.Detail
			if detail != "" {
				detail = "  " + detail
			}
			fmt.Printf("  %s  %s%s\n",
				step.EnteredAt.Local().Format("15:04:05.000"),
				ux.StateBadge(string(step.Step)),
				detail,
			)
		}
	}
}
