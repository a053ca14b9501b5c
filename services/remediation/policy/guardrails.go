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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// guardrailDebounce is how long to wait after a rules-file change
// before reloading, so editors that write in multiple steps trigger a
// single reload.
const guardrailDebounce = 200 * time.Millisecond

// GuardrailRule is one deny rule from the rules file. The expression
// is CEL; when it evaluates to true the action is denied locally
// without consulting the policy service.
type GuardrailRule struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Expression  string `yaml:"expression"`
}

// guardrailFile is the on-disk rules document.
type guardrailFile struct {
	Rules []GuardrailRule `yaml:"rules"`
}

// compiledRule pairs a rule with its compiled CEL program.
type compiledRule struct {
	rule    GuardrailRule
	program cel.Program
}

// Guardrails evaluates local CEL deny rules against a proposed action.
//
// # Description
//
// Guardrails are operator-authored short-circuit denials that hold
// even when the external policy service is unreachable. Rules are
// loaded from a YAML file and recompiled when the file changes.
//
// Each expression sees these variables:
//
//   - action_type: string
//   - target_resource: string
//   - environment: string (normalized lowercase)
//   - agent_id: string
//   - parameters: map[string]dyn
//   - labels: map[string]string
//
// # Thread Safety
//
// Safe for concurrent use. Check holds a read lock; reloads swap the
// compiled rule set under a write lock.
type Guardrails struct {
	path   string
	env    *cel.Env
	logger *slog.Logger

	mu    sync.RWMutex
	rules []compiledRule

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// LoadGuardrails reads and compiles the rules file.
//
// # Inputs
//
//   - path: Path to the YAML rules file.
//   - logger: Logger for reload events. nil uses slog.Default().
//
// # Outputs
//
//   - *Guardrails: Compiled rule set. Call Watch to enable hot reload.
//   - error: Non-nil if the file cannot be read or a rule does not compile.
func LoadGuardrails(path string, logger *slog.Logger) (*Guardrails, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("action_type", cel.StringType),
		cel.Variable("target_resource", cel.StringType),
		cel.Variable("environment", cel.StringType),
		cel.Variable("agent_id", cel.StringType),
		cel.Variable("parameters", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("labels", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	g := &Guardrails{
		path:   path,
		env:    env,
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := g.Reload(); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload reads and recompiles the rules file. On error the previous
// rule set stays active.
func (g *Guardrails) Reload() error {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return fmt.Errorf("read guardrail rules %s: %w", g.path, err)
	}

	var file guardrailFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse guardrail rules %s: %w", g.path, err)
	}

	compiled := make([]compiledRule, 0, len(file.Rules))
	for _, rule := range file.Rules {
		if rule.Name == "" {
			return fmt.Errorf("guardrail rule missing name in %s", g.path)
		}
		if rule.Expression == "" {
			return fmt.Errorf("guardrail rule %q has no expression", rule.Name)
		}

		ast, issues := g.env.Parse(rule.Expression)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("parse guardrail %q: %w", rule.Name, issues.Err())
		}
		checked, issues := g.env.Check(ast)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("type-check guardrail %q: %w", rule.Name, issues.Err())
		}
		program, err := g.env.Program(checked)
		if err != nil {
			return fmt.Errorf("compile guardrail %q: %w", rule.Name, err)
		}
		compiled = append(compiled, compiledRule{rule: rule, program: program})
	}

	g.mu.Lock()
	g.rules = compiled
	g.mu.Unlock()

	g.logger.Info("guardrail rules loaded",
		slog.String("path", g.path),
		slog.Int("rules", len(compiled)))
	return nil
}

// RuleCount returns the number of active rules.
func (g *Guardrails) RuleCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rules)
}

// Check evaluates all rules against the action. Returns the reasons
// for every rule that fired; an empty slice means no rule denied the
// action. An evaluation error means the action's standing under the
// rules is unknown, and the caller must treat that as a denial.
func (g *Guardrails) Check(action datatypes.RemediationAction, agentID string) ([]string, error) {
	g.mu.RLock()
	rules := g.rules
	g.mu.RUnlock()

	parameters := action.Parameters
	if parameters == nil {
		parameters = map[string]any{}
	}
	labels := action.ResourceLabels
	if labels == nil {
		labels = map[string]string{}
	}
	vars := map[string]any{
		"action_type":     action.ActionType,
		"target_resource": action.TargetResource,
		"environment":     datatypes.NormalizeEnvironment(action.Environment),
		"agent_id":        agentID,
		"parameters":      parameters,
		"labels":          labels,
	}

	var reasons []string
	for _, compiled := range rules {
		result, _, err := compiled.program.Eval(vars)
		if err != nil {
			return nil, fmt.Errorf("evaluate guardrail %q: %w", compiled.rule.Name, err)
		}
		if result.Type() != types.BoolType {
			return nil, fmt.Errorf("guardrail %q did not evaluate to a boolean", compiled.rule.Name)
		}
		if result.Value().(bool) {
			reason := fmt.Sprintf("guardrail %s", compiled.rule.Name)
			if compiled.rule.Description != "" {
				reason = fmt.Sprintf("guardrail %s: %s", compiled.rule.Name, compiled.rule.Description)
			}
			reasons = append(reasons, reason)
		}
	}

	return reasons, nil
}

// Watch reloads the rules when the file changes. Reload failures keep
// the previous rule set and are logged.
//
// Watches the containing directory rather than the file itself so
// atomic saves (write to temp, rename over) are still observed.
func (g *Guardrails) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(g.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch rules directory: %w", err)
	}
	g.watcher = watcher

	go g.watchLoop(ctx)
	return nil
}

// Stop stops the file watcher.
func (g *Guardrails) Stop() {
	g.stopOnce.Do(func() {
		close(g.done)
		if g.watcher != nil {
			g.watcher.Close()
		}
	})
}

func (g *Guardrails) watchLoop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	target := filepath.Clean(g.path)

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.done:
			return
		case event, ok := <-g.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(guardrailDebounce)
				timerC = timer.C
			} else {
				timer.Reset(guardrailDebounce)
			}
		case <-timerC:
			if err := g.Reload(); err != nil {
				g.logger.Warn("guardrail reload failed, keeping previous rules",
					slog.String("error", err.Error()))
			}
			timer = nil
			timerC = nil
		case err, ok := <-g.watcher.Errors:
			if !ok {
				return
			}
			g.logger.Warn("rules watcher error", slog.String("error", err.Error()))
		}
	}
}
