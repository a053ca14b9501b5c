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
	"testing"
	"time"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePairs(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty returns nil", pairs: nil, want: nil},
		{
			name:  "single pair",
			pairs: []string{"namespace=default"},
			want:  map[string]string{"namespace": "default"},
		},
		{
			name:  "value may contain equals",
			pairs: []string{"selector=app=api"},
			want:  map[string]string{"selector": "app=api"},
		},
		{
			name:  "empty value allowed",
			pairs: []string{"drain="},
			want:  map[string]string{"drain": ""},
		},
		{name: "missing equals", pairs: []string{"namespace"}, wantErr: true},
		{name: "empty key", pairs: []string{"=default"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePairs(tt.pairs)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveAgentID(t *testing.T) {
	assert.Equal(t, "agent:planner-7", resolveAgentID("agent:planner-7"))

	t.Setenv("USER", "casey")
	assert.Equal(t, "cli:casey", resolveAgentID(""))

	t.Setenv("USER", "")
	assert.Equal(t, "cli", resolveAgentID(""))
}

func TestResolveServerURL(t *testing.T) {
	restore := serverURL
	defer func() { serverURL = restore }()

	serverURL = "http://flagged:9999"
	t.Setenv("ALEUTIANOPS_SERVER", "http://from-env:8888")
	assert.Equal(t, "http://flagged:9999", resolveServerURL(), "flag wins")

	serverURL = ""
	assert.Equal(t, "http://from-env:8888", resolveServerURL(), "env wins without flag")

	t.Setenv("ALEUTIANOPS_SERVER", "")
	assert.Equal(t, "http://localhost:12310", resolveServerURL(), "default last")
}

func TestResolveAPIToken(t *testing.T) {
	restore := apiToken
	defer func() { apiToken = restore }()

	apiToken = "flag-token"
	t.Setenv("ALEUTIANOPS_API_TOKEN", "env-token")
	assert.Equal(t, "flag-token", resolveAPIToken())

	apiToken = ""
	assert.Equal(t, "env-token", resolveAPIToken())

	t.Setenv("ALEUTIANOPS_API_TOKEN", "")
	assert.Empty(t, resolveAPIToken())
}

func TestRemainingUntil(t *testing.T) {
	assert.Equal(t, "-", remainingUntil(time.Time{}))
	assert.Equal(t, "expired", remainingUntil(time.Now().Add(-time.Minute)))

	formatted := remainingUntil(time.Now().Add(5 * time.Minute))
	assert.Contains(t, formatted, "m", "short durations render in minutes")
}

func TestFormatDetails(t *testing.T) {
	assert.Equal(t, "-", formatDetails(nil))
	assert.Equal(t, "-", formatDetails(map[string]any{}))

	got := formatDetails(map[string]any{
		"restarts": 3,
		"phase":    "Running",
	})
	assert.Equal(t, "phase=Running restarts=3", got, "keys sort for stable output")
}

func TestRiskLevelOf(t *testing.T) {
	assert.Equal(t, "-", riskLevelOf(datatypes.RunRecord{}))

	record := datatypes.RunRecord{
		Risk: &datatypes.RiskAssessment{Level: datatypes.RiskCritical},
	}
	assert.Equal(t, "CRITICAL", riskLevelOf(record))
}

func TestToAnyMap(t *testing.T) {
	got := toAnyMap(map[string]string{"reason": "cpu spike"})
	require.Len(t, got, 1)
	assert.Equal(t, "cpu spike", got["reason"])
}
