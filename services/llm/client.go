// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides pluggable text-generation backends.
//
// The remediation service uses a backend to draft advisory blast-radius
// summaries for proposed actions. The output is informational only and is
// never used to gate a run, so every backend is optional and callers must
// tolerate a nil client.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// NewClient constructs the named backend.
//
// Recognized values are "openai", "ollama", and "local". An empty value or
// "none" disables advisory generation and returns a nil client with no error.
func NewClient(provider string) (LLMClient, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "none":
		return nil, nil
	case "openai":
		return NewOpenAIClient()
	case "ollama":
		return NewOllamaClient()
	case "local":
		return NewLocalLlamaCppClient()
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

// NewFromEnvironment constructs the backend named by ALEUTIANOPS_LLM_PROVIDER.
func NewFromEnvironment() (LLMClient, error) {
	return NewClient(os.Getenv("ALEUTIANOPS_LLM_PROVIDER"))
}
