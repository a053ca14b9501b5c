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
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianOps/pkg/ux"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var fleetJSON bool

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Fleet-wide checks through the platform connector",
}

var fleetHealthCmd = &cobra.Command{
	Use:   "health [resource...]",
	Short: "Check the health of many resources in one call",
	Long: `Check resource health through the gateway's connector. Checks run
concurrently where the connector supports it; unreachable resources are
reported rather than failing the whole batch.

Examples:
  aleutianops fleet health default/api-server default/worker
  aleutianops fleet health $(cat resources.txt) --json

Exit Codes:
  0 = Every resource healthy
  1 = At least one resource unhealthy or unreachable
  2 = Error`,
	Args: cobra.MinimumNArgs(1),
	Run:  runFleetHealthCommand,
}

func init() {
	fleetHealthCmd.Flags().BoolVar(&fleetJSON, "json", false,
		"Output as JSON")

	fleetCmd.AddCommand(fleetHealthCmd)
	rootCmd.AddCommand(fleetCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runFleetHealthCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()

	client := newGatewayClient()
	resp, err := client.fleetHealth(ctx, args)
	if err != nil {
		ux.Error("Fleet check failed: " + err.Error())
		os.Exit(exitError)
	}

	if fleetJSON {
		printJSON(resp)
	} else {
		rows := make([][]string, 0, len(resp.Resources))
		for _, record := range resp.Resources {
			healthy := "no"
			if record.Healthy {
				healthy = "yes"
			}
			rows = append(rows, []string{record.ResourceID, healthy, record.Status, formatDetails(record.Details)})
		}
		fmt.Println(ux.Table(
			[]string{"RESOURCE", "HEALTHY", "STATUS", "DETAILS"},
			rows,
		))
		if resp.Healthy {
			ux.Success("All resources healthy")
		} else {
			ux.Warning("Unhealthy resources in the fleet")
		}
	}

	if !resp.Healthy {
		os.Exit(exitFailure)
	}
}

// formatDetails flattens a health record's detail map for one table cell.
func formatDetails(details map[string]any) string {
	if len(details) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, " ")
}
