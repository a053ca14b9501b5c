// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command remediationd starts the AleutianOps remediation gateway.
//
// This is the main entry point for the containerized remediation service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - REMEDIATION_PORT: HTTP server port (default: 12310)
//   - REMEDIATION_DATA_DIR: BadgerDB directory for snapshots and run records
//     (default: ./data/remediation)
//   - REMEDIATION_APPROVAL_THRESHOLD: lowest risk level routed to approval -
//     LOW, MEDIUM, HIGH, CRITICAL (default: HIGH)
//   - REMEDIATION_APPROVAL_TIMEOUT: how long a run waits for a decision,
//     Go duration syntax (default: 15m)
//   - REMEDIATION_AUTO_APPROVE_CEILING: development only - auto-decide gated
//     runs instead of waiting for an operator (default: unset, interactive)
//   - REMEDIATION_SUBMIT_RPS / REMEDIATION_SUBMIT_BURST: per-caller
//     submission throttle (default: middleware defaults)
//   - REMEDIATION_RISK_OVERRIDES: comma-separated action=LEVEL pairs that
//     raise classification, e.g. "restart_pod=HIGH,drain_node=CRITICAL"
//   - POLICY_SERVICE_URL: policy service base URL (default: http://localhost:8181)
//   - POLICY_DECISION_PATH: decision endpoint override (optional)
//   - GUARDRAILS_FILE: YAML file of local deny rules, hot-reloaded (optional)
//   - CONNECTOR_SERVICE_URL: platform connector base URL (default: http://localhost:12410)
//   - CONNECTOR_TOKEN: bearer token for connector calls (optional)
//   - ARCHIVE_GCS_BUCKET / ARCHIVE_GCS_KEY_FILE: mirror terminal run records
//     to a GCS bucket (optional)
//   - INFLUXDB_URL / INFLUXDB_TOKEN / INFLUXDB_ORG / INFLUXDB_BUCKET: shared
//     usage counters for multi-replica deployments (optional)
//   - ALEUTIANOPS_LLM_PROVIDER: advisory summary backend - openai, ollama,
//     local (default: disabled)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o remediationd ./cmd/remediationd
//
//	# Run
//	./remediationd
//
//	# Or via container
//	podman-compose up remediation
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianOps/pkg/extensions"
	"github.com/AleutianAI/AleutianOps/services/remediation"
	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// shutdownGrace bounds how long a signal-triggered shutdown waits for
// in-flight requests and the final archive flush.
const shutdownGrace = 15 * time.Second

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := remediation.Config{
		Port:               getEnvInt("REMEDIATION_PORT", remediation.DefaultPort),
		PolicyURL:          getEnvString("POLICY_SERVICE_URL", "http://localhost:8181"),
		PolicyDecisionPath: os.Getenv("POLICY_DECISION_PATH"),
		GuardrailsPath:     os.Getenv("GUARDRAILS_FILE"),
		ConnectorURL:       getEnvString("CONNECTOR_SERVICE_URL", "http://localhost:12410"),
		ConnectorToken:     os.Getenv("CONNECTOR_TOKEN"),
		DataDir:            getEnvString("REMEDIATION_DATA_DIR", "./data/remediation"),
		ArchiveBucket:      os.Getenv("ARCHIVE_GCS_BUCKET"),
		ArchiveKeyPath:     os.Getenv("ARCHIVE_GCS_KEY_FILE"),
		InfluxURL:          os.Getenv("INFLUXDB_URL"),
		InfluxToken:        os.Getenv("INFLUXDB_TOKEN"),
		InfluxOrg:          os.Getenv("INFLUXDB_ORG"),
		InfluxBucket:       os.Getenv("INFLUXDB_BUCKET"),
		LLMProvider:        os.Getenv("ALEUTIANOPS_LLM_PROVIDER"),
		RiskOverrides:      parseRiskOverrides(os.Getenv("REMEDIATION_RISK_OVERRIDES")),
		ApprovalThreshold:  parseRiskLevel(os.Getenv("REMEDIATION_APPROVAL_THRESHOLD")),
		ApprovalTimeout:    getEnvDuration("REMEDIATION_APPROVAL_TIMEOUT", 0),
		AutoApproveCeiling: parseRiskLevel(os.Getenv("REMEDIATION_AUTO_APPROVE_CEILING")),
		SubmitRPS:          getEnvFloat("REMEDIATION_SUBMIT_RPS", 0),
		SubmitBurst:        getEnvInt("REMEDIATION_SUBMIT_BURST", 0),
		OTelEndpoint:       getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
		Logger:             logger,
	}

	slog.Info("Starting remediation gateway",
		"port", cfg.Port,
		"policy_url", cfg.PolicyURL,
		"connector_url", cfg.ConnectorURL,
		"data_dir", cfg.DataDir,
		"guardrails", cfg.GuardrailsPath,
	)

	// Create the service with default (no-op) extension options
	// Enterprise builds will pass custom ServiceOptions here
	svc, err := remediation.New(cfg, extensions.DefaultOptions())
	if err != nil {
		log.Fatalf("Failed to create remediation service: %v", err)
	}

	// Drain connections and flush the archive on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		slog.Info("Shutdown signal received", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := svc.Shutdown(ctx); err != nil {
			slog.Error("Shutdown incomplete", "error", err)
		}
	}()

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Remediation server error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("Ignoring unparseable duration", "key", key, "value", value)
	}
	return defaultValue
}

// parseRiskLevel maps an environment value onto a RiskLevel, leaving the
// zero value (downstream default) for an empty or unknown setting.
func parseRiskLevel(value string) datatypes.RiskLevel {
	if value == "" {
		return ""
	}
	return datatypes.ParseRiskLevel(value)
}

// parseRiskOverrides parses "action=LEVEL,action=LEVEL" pairs. Malformed
// pairs are skipped with a warning rather than failing the boot.
func parseRiskOverrides(value string) map[string]datatypes.RiskLevel {
	if value == "" {
		return nil
	}
	overrides := make(map[string]datatypes.RiskLevel)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		action, level, found := strings.Cut(pair, "=")
		if !found || action == "" {
			slog.Warn("Ignoring malformed risk override", "pair", pair)
			continue
		}
		overrides[strings.TrimSpace(action)] = datatypes.ParseRiskLevel(strings.TrimSpace(level))
	}
	if len(overrides) == 0 {
		return nil
	}
	return overrides
}
