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
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianOps/pkg/ux"
	"github.com/AleutianAI/AleutianOps/services/remediation/resilience"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	breakersJSON     bool
	breakersResetAll bool
	breakersForce    bool
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var breakersCmd = &cobra.Command{
	Use:   "breakers",
	Short: "Inspect and reset the gateway's circuit breakers",
	Long: `Show the circuit breakers guarding the gateway's dependencies
(policy service, connector) and their live statistics.

An OPEN breaker means the dependency kept failing and calls are being
rejected without attempts; policy evaluation fails closed while its
breaker is open. Reset a breaker only once the dependency is healthy
again, otherwise the next failures reopen it.

Examples:
  aleutianops breakers
  aleutianops breakers --json
  aleutianops breakers reset connector
  aleutianops breakers reset --all`,
	Run: runBreakersListCommand,
}

var breakersResetCmd = &cobra.Command{
	Use:   "reset [name]",
	Short: "Reset a breaker (or all of them) to CLOSED",
	Run:   runBreakersResetCommand,
}

func init() {
	breakersCmd.Flags().BoolVar(&breakersJSON, "json", false,
		"Output as JSON")
	breakersResetCmd.Flags().BoolVar(&breakersResetAll, "all", false,
		"Reset every breaker")
	breakersResetCmd.Flags().BoolVar(&breakersForce, "force", false,
		"Skip the confirmation prompt")

	breakersCmd.AddCommand(breakersResetCmd)
	rootCmd.AddCommand(breakersCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runBreakersListCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()

	client := newGatewayClient()
	resp, err := client.breakers(ctx)
	if err != nil {
		ux.Error("Failed to list breakers: " + err.Error())
		os.Exit(exitError)
	}

	if breakersJSON {
		printJSON(resp)
		return
	}
	if resp.Count == 0 {
		ux.Muted("No breakers registered")
		return
	}

	ux.Title("Circuit breakers")
	fmt.Println(breakersTable(resp.Breakers))

	for _, stats := range resp.Breakers {
		if stats.State == "OPEN" {
			ux.Warning(fmt.Sprintf("%s is open since %s; calls are rejected until it recovers or is reset",
				stats.Name, stats.OpenedAt.Local().Format(time.RFC822)))
		}
	}
}

func runBreakersResetCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()

	if !breakersResetAll && len(args) == 0 {
		ux.Error("Name a breaker or pass --all")
		os.Exit(exitError)
	}

	target := "all breakers"
	if !breakersResetAll {
		target = "breaker " + args[0]
	}
	if !breakersForce {
		ok, err := ux.Confirm("Reset " + target + "? The next calls will hit the dependency directly.")
		if err != nil {
			if errors.Is(err, ux.ErrNonInteractive) {
				ux.Error("No terminal for the prompt; pass --force")
			} else {
				ux.Error("Prompt failed: " + err.Error())
			}
			os.Exit(exitError)
		}
		if !ok {
			ux.Muted("Left alone")
			return
		}
	}

	client := newGatewayClient()
	var (
		resp struct{ Reset []string }
		err  error
	)
	if breakersResetAll {
		r, e := client.resetAllBreakers(ctx)
		resp.Reset, err = r.Reset, e
	} else {
		r, e := client.resetBreaker(ctx, args[0])
		resp.Reset, err = r.Reset, e
	}
	if err != nil {
		ux.Error("Reset failed: " + err.Error())
		os.Exit(exitError)
	}

	if len(resp.Reset) == 0 {
		ux.Muted("Nothing to reset")
		return
	}
	ux.Success("Reset " + strings.Join(resp.Reset, ", "))
}

// =============================================================================
// OUTPUT
// =============================================================================

func breakersTable(breakers []resilience.Stats) string {
	rows := make([][]string, 0, len(breakers))
	for _, b := range breakers {
		rows = append(rows, []string{
			b.Name,
			b.State,
			strconv.Itoa(b.FailureCount),
			strconv.FormatInt(b.SuccessCount, 10),
			strconv.FormatInt(b.TotalCalls, 10),
			strconv.FormatInt(b.TotalRejections, 10),
		})
	}
	return ux.Table(
		[]string{"NAME", "STATE", "FAILURES", "SUCCESSES", "CALLS", "REJECTED"},
		rows,
	)
}
