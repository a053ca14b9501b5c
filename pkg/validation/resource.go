// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for caller-provided identifiers that are used in
// database queries, storage keys, or connector calls. Using these validators
// prevents injection attacks (Flux injection, key-space collisions, log injection).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// resourcePattern matches connector resource addresses.
// Allows: alphanumeric start, then letters, digits, dots, hyphens,
// underscores, colons, and slashes (namespace/name, arn:... forms)
// Max length: 512 characters (matches the action field bound)
var resourcePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:/\-]{0,511}$`)

// namePattern matches team and environment names.
// These are interpolated into flux queries and joined into usage bucket
// keys, so the charset is strictly lowercase alphanumeric with dots,
// hyphens, and underscores. Max length: 64 characters.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]{0,63}$`)

// ValidateResource validates a target resource address before it reaches
// a connector or an audit record.
//
// Valid resources:
//   - 1-512 characters
//   - Letters and digits
//   - Dots (.), hyphens (-), underscores (_)
//   - Slashes (/) for namespaced forms like default/api-server
//   - Colons (:) for ARN-style forms
//
// Returns an error if the resource is invalid.
//
// Example:
//
//	if err := validation.ValidateResource(action.TargetResource); err != nil {
//	    return nil, fmt.Errorf("invalid target resource: %w", err)
//	}
//	// Safe to pass to a connector and log verbatim
func ValidateResource(resource string) error {
	if resource == "" {
		return fmt.Errorf("resource cannot be empty")
	}

	if !resourcePattern.MatchString(resource) {
		return fmt.Errorf("invalid resource format: %q (must be 1-512 alphanumeric chars, dots, hyphens, underscores, colons, or slashes)", resource)
	}

	return nil
}

// ValidateTeam validates a team name to prevent Flux injection.
//
// Team names come from action parameters, which callers control fully,
// and are interpolated into flux count queries and usage bucket keys.
//
// Returns an error if the team name is invalid.
func ValidateTeam(team string) error {
	if team == "" {
		return fmt.Errorf("team cannot be empty")
	}

	if !namePattern.MatchString(team) {
		return fmt.Errorf("invalid team format: %q (must be 1-64 lowercase alphanumeric chars, dots, or hyphens)", team)
	}

	return nil
}

// ValidateEnvironment validates an environment name to prevent Flux
// injection. Environments share the team charset.
//
// Returns an error if the environment name is invalid.
func ValidateEnvironment(environment string) error {
	if environment == "" {
		return fmt.Errorf("environment cannot be empty")
	}

	if !namePattern.MatchString(environment) {
		return fmt.Errorf("invalid environment format: %q (must be 1-64 lowercase alphanumeric chars, dots, or hyphens)", environment)
	}

	return nil
}

// SanitizeTeam normalizes and validates a team name.
// Returns the lowercase team if valid, or an error if invalid.
//
// Use this when you need both validation and normalization:
//
//	safeTeam, err := validation.SanitizeTeam(action.Team())
//	if err != nil {
//	    return err
//	}
//	// safeTeam is lowercase and validated
func SanitizeTeam(team string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(team))
	if err := ValidateTeam(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
