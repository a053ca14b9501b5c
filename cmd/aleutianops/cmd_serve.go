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
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianOps/pkg/extensions"
	"github.com/AleutianAI/AleutianOps/pkg/logging"
	"github.com/AleutianAI/AleutianOps/pkg/ux"
	"github.com/AleutianAI/AleutianOps/services/remediation"
	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	servePort         int
	serveDataDir      string
	serveInMemory     bool
	servePolicyURL    string
	serveGuardrails   string
	serveConnectorURL string
	serveThreshold    string
	serveAutoApprove  string
	serveLLMProvider  string
	serveNoTracing    bool
	serveLogLevel     string
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the remediation gateway in the foreground",
	Long: `Start the remediation gateway on this machine.

serve is the development-friendly twin of the remediationd container: the
same service, configured by flags instead of environment variables, logging
human-readable text to stderr. Connector and policy endpoints default to
localhost so a full stack started with podman-compose works out of the box.

Examples:
  aleutianops serve                                  # defaults, data in ./data/remediation
  aleutianops serve --in-memory --no-tracing         # throwaway instance for local testing
  aleutianops serve --guardrails rules/deny.yaml     # local CEL deny rules with hot reload
  aleutianops serve --auto-approve HIGH              # dev mode, nothing waits for a human
  aleutianops serve --policy-url http://opa:8181 --connector-url http://connector:12410`,
	Run: runServeCommand,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", remediation.DefaultPort,
		"HTTP listen port")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "./data/remediation",
		"BadgerDB directory for snapshots and run records")
	serveCmd.Flags().BoolVar(&serveInMemory, "in-memory", false,
		"Keep storage in memory, nothing survives a restart")
	serveCmd.Flags().StringVar(&servePolicyURL, "policy-url", "",
		"Policy service base URL (default http://localhost:8181)")
	serveCmd.Flags().StringVar(&serveGuardrails, "guardrails", "",
		"YAML file of local deny rules, hot-reloaded on change")
	serveCmd.Flags().StringVar(&serveConnectorURL, "connector-url", "",
		"Platform connector base URL (default http://localhost:12410)")
	serveCmd.Flags().StringVar(&serveThreshold, "approval-threshold", "",
		"Lowest risk level routed to approval: low, medium, high, critical (default high)")
	serveCmd.Flags().StringVar(&serveAutoApprove, "auto-approve", "",
		"DEV ONLY: auto-decide gated runs at or below this risk level")
	serveCmd.Flags().StringVar(&serveLLMProvider, "llm", "",
		"Advisory summary backend: openai, ollama, local (default disabled)")
	serveCmd.Flags().BoolVar(&serveNoTracing, "no-tracing", false,
		"Skip OpenTelemetry exporter setup")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runServeCommand(cmd *cobra.Command, args []string) {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(serveLogLevel),
		Service: "remediationd",
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg := remediation.Config{
		Port:           servePort,
		PolicyURL:      servePolicyURL,
		GuardrailsPath: serveGuardrails,
		ConnectorURL:   serveConnectorURL,
		DataDir:        serveDataDir,
		InMemory:       serveInMemory,
		LLMProvider:    serveLLMProvider,
		DisableTracing: serveNoTracing,
		Logger:         logger.Slog(),
	}
	if serveThreshold != "" {
		cfg.ApprovalThreshold = datatypes.ParseRiskLevel(serveThreshold)
	}
	if serveAutoApprove != "" {
		cfg.AutoApproveCeiling = datatypes.ParseRiskLevel(serveAutoApprove)
	}

	svc, err := remediation.New(cfg, extensions.DefaultOptions())
	if err != nil {
		ux.Error("Failed to start the gateway: " + err.Error())
		os.Exit(exitError)
	}

	ux.Title("AleutianOps Remediation Gateway")
	ux.Info(fmt.Sprintf("Listening on :%d", cfg.Port))
	if serveInMemory {
		ux.Warning("In-memory storage: runs and snapshots vanish on exit")
	}
	if serveAutoApprove != "" {
		ux.Warning("Auto-approve enabled: no human in the loop up to " + string(cfg.AutoApproveCeiling))
	}
	ux.Muted("Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := svc.Shutdown(ctx); err != nil {
			logger.Error("Shutdown incomplete", "error", err)
		}
	}()

	if err := svc.Run(); err != nil {
		ux.Error("Gateway stopped: " + err.Error())
		os.Exit(exitError)
	}
	ux.Success("Gateway stopped")
}
