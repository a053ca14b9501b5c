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
	"encoding/json"
	"fmt"
	"os"

	"github.com/AleutianAI/AleutianOps/pkg/ux"
	"github.com/spf13/cobra"
)

// Shared exit codes. Commands that gate CI pipelines (remediate, risk)
// document their own meanings on top of these.
const (
	exitSuccess = 0
	exitFailure = 1
	exitError   = 2
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	serverURL        string
	apiToken         string
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	rootCmd = &cobra.Command{
		Use:   "aleutianops",
		Short: "Operate the AleutianOps remediation gateway",
		Long: `aleutianops submits remediation actions, reviews approvals, and
administers the remediation gateway from the terminal.

Most commands talk to a running gateway (see "aleutianops serve" or the
remediationd container). The gateway address comes from --server or the
ALEUTIANOPS_SERVER environment variable.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"Gateway base URL (default $ALEUTIANOPS_SERVER or http://localhost:12310)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "",
		"Bearer token for the gateway (default $ALEUTIANOPS_API_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")
}

// resolveServerURL applies the flag > environment > localhost precedence.
func resolveServerURL() string {
	if serverURL != "" {
		return serverURL
	}
	if env := os.Getenv("ALEUTIANOPS_SERVER"); env != "" {
		return env
	}
	return "http://localhost:12310"
}

// resolveAPIToken applies the flag > environment precedence.
func resolveAPIToken() string {
	if apiToken != "" {
		return apiToken
	}
	return os.Getenv("ALEUTIANOPS_API_TOKEN")
}

// newGatewayClient builds the API client from the global flags.
func newGatewayClient() *gatewayClient {
	return newClient(resolveServerURL(), resolveAPIToken())
}

// printJSON writes indented JSON to stdout for --json output modes.
func printJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		os.Exit(exitError)
	}
}
