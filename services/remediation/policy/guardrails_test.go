// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

const testRules = `
rules:
  - name: no-prod-node-drain
    description: node drains in production require a change window
    expression: 'action_type == "drain_node" && environment == "production"'
  - name: protected-namespaces
    description: actions against kube-system are never automated
    expression: 'target_resource.startsWith("kube-system/")'
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guardrails.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write rules file: %v", err)
	}
	return path
}

func TestLoadGuardrails_CompilesRules(t *testing.T) {
	g, err := LoadGuardrails(writeRules(t, testRules), nil)
	if err != nil {
		t.Fatalf("LoadGuardrails() error = %v", err)
	}
	defer g.Stop()

	if g.RuleCount() != 2 {
		t.Errorf("RuleCount() = %d, want 2", g.RuleCount())
	}
}

func TestLoadGuardrails_RejectsBadExpression(t *testing.T) {
	path := writeRules(t, `
rules:
  - name: broken
    expression: 'action_type =='
`)
	if _, err := LoadGuardrails(path, nil); err == nil {
		t.Error("expected compile error for malformed expression")
	}
}

func TestLoadGuardrails_RejectsUnnamedRule(t *testing.T) {
	path := writeRules(t, `
rules:
  - expression: 'true'
`)
	if _, err := LoadGuardrails(path, nil); err == nil {
		t.Error("expected error for rule without a name")
	}
}

func TestGuardrails_Check(t *testing.T) {
	g, err := LoadGuardrails(writeRules(t, testRules), nil)
	if err != nil {
		t.Fatalf("LoadGuardrails() error = %v", err)
	}
	defer g.Stop()

	tests := []struct {
		name       string
		action     datatypes.RemediationAction
		wantDenied bool
		wantReason string
	}{
		{
			name: "prod drain fires",
			action: datatypes.RemediationAction{
				ActionType:     datatypes.ActionDrainNode,
				TargetResource: "node/worker-3",
				Environment:    "production",
			},
			wantDenied: true,
			wantReason: "no-prod-node-drain",
		},
		{
			name: "staging drain passes",
			action: datatypes.RemediationAction{
				ActionType:     datatypes.ActionDrainNode,
				TargetResource: "node/worker-3",
				Environment:    "staging",
			},
			wantDenied: false,
		},
		{
			name: "protected namespace fires",
			action: datatypes.RemediationAction{
				ActionType:     datatypes.ActionRestartPod,
				TargetResource: "kube-system/coredns",
				Environment:    "development",
			},
			wantDenied: true,
			wantReason: "protected-namespaces",
		},
		{
			name: "environment normalized before match",
			action: datatypes.RemediationAction{
				ActionType:     datatypes.ActionDrainNode,
				TargetResource: "node/worker-3",
				Environment:    "  PRODUCTION ",
			},
			wantDenied: true,
			wantReason: "no-prod-node-drain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasons, err := g.Check(tt.action, "agent-7")
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if tt.wantDenied && len(reasons) == 0 {
				t.Fatal("Check() returned no reasons, want denial")
			}
			if !tt.wantDenied && len(reasons) > 0 {
				t.Fatalf("Check() reasons = %v, want none", reasons)
			}
			if tt.wantDenied && !strings.Contains(reasons[0], tt.wantReason) {
				t.Errorf("reason = %q, want mention of %q", reasons[0], tt.wantReason)
			}
		})
	}
}

func TestGuardrails_Reload(t *testing.T) {
	path := writeRules(t, testRules)
	g, err := LoadGuardrails(path, nil)
	if err != nil {
		t.Fatalf("LoadGuardrails() error = %v", err)
	}
	defer g.Stop()

	err = os.WriteFile(path, []byte(`
rules:
  - name: freeze-everything
    expression: 'true'
`), 0600)
	if err != nil {
		t.Fatalf("rewrite rules: %v", err)
	}
	if err := g.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	reasons, err := g.Check(datatypes.RemediationAction{
		ActionType:     datatypes.ActionRestartPod,
		TargetResource: "default/api",
		Environment:    "development",
	}, "agent-7")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(reasons) != 1 || !strings.Contains(reasons[0], "freeze-everything") {
		t.Errorf("reasons = %v, want the reloaded rule to fire", reasons)
	}
}

func TestGuardrails_ReloadFailureKeepsPreviousRules(t *testing.T) {
	path := writeRules(t, testRules)
	g, err := LoadGuardrails(path, nil)
	if err != nil {
		t.Fatalf("LoadGuardrails() error = %v", err)
	}
	defer g.Stop()

	if err := os.WriteFile(path, []byte(`rules: [ { name: broken, expression: 'nonsense(' } ]`), 0600); err != nil {
		t.Fatalf("rewrite rules: %v", err)
	}
	if err := g.Reload(); err == nil {
		t.Fatal("Reload() error = nil, want compile failure")
	}

	if g.RuleCount() != 2 {
		t.Errorf("RuleCount() = %d after failed reload, want previous 2", g.RuleCount())
	}
}

func TestGuardrails_WatchReloadsOnChange(t *testing.T) {
	path := writeRules(t, testRules)
	g, err := LoadGuardrails(path, nil)
	if err != nil {
		t.Fatalf("LoadGuardrails() error = %v", err)
	}
	defer g.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := g.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	err = os.WriteFile(path, []byte(`
rules:
  - name: only-rule
    expression: 'false'
`), 0600)
	if err != nil {
		t.Fatalf("rewrite rules: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for g.RuleCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("RuleCount() = %d, watcher never reloaded", g.RuleCount())
		}
		time.Sleep(20 * time.Millisecond)
	}
}
