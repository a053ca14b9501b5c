// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package risk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianOps/services/llm"
	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// DefaultAdvisoryTimeout bounds the advisory generation call. The pipeline
// is waiting on the assessment, so a slow model must not stall the run.
const DefaultAdvisoryTimeout = 10 * time.Second

// AdvisoryAssessor decorates an Assessor with an LLM-written impact summary
// for approvers to read.
//
// # Description
//
// The summary is strictly informational. The wrapped assessor's level,
// reversibility, and blast radius pass through untouched no matter what the
// model writes, and a generation failure only costs the summary, never the
// assessment.
type AdvisoryAssessor struct {
	inner   Assessor
	client  llm.LLMClient
	timeout time.Duration
	logger  *slog.Logger
}

// AdvisoryConfig configures an AdvisoryAssessor.
type AdvisoryConfig struct {
	// Inner is the assessor that produces the authoritative assessment.
	// Required.
	Inner Assessor

	// Client generates the summary text. Required; callers without a
	// model should use the inner assessor directly.
	Client llm.LLMClient

	// Timeout bounds each generation call. Defaults to
	// DefaultAdvisoryTimeout.
	Timeout time.Duration

	// Logger for generation failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewAdvisoryAssessor builds the decorator.
func NewAdvisoryAssessor(cfg AdvisoryConfig) (*AdvisoryAssessor, error) {
	if cfg.Inner == nil {
		return nil, fmt.Errorf("advisory assessor requires an inner assessor")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("advisory assessor requires an LLM client")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultAdvisoryTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AdvisoryAssessor{
		inner:   cfg.Inner,
		client:  cfg.Client,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Assess implements the Assessor interface.
func (a *AdvisoryAssessor) Assess(ctx context.Context, action datatypes.RemediationAction) (datatypes.RiskAssessment, error) {
	assessment, err := a.inner.Assess(ctx, action)
	if err != nil {
		return assessment, err
	}

	genCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	maxTokens := 256
	var temperature float32 = 0.2
	summary, err := a.client.Generate(genCtx, advisoryPrompt(action, assessment), llm.GenerationParams{
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		a.logger.Warn("advisory summary generation failed",
			"action_id", action.ID,
			"action_type", action.ActionType,
			"error", err)
		return assessment, nil
	}

	assessment.Summary = strings.TrimSpace(summary)
	return assessment, nil
}
