// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

func classify(t *testing.T, h *Handlers, action datatypes.RemediationAction) (int, ClassifyResponse) {
	t.Helper()

	router := newTestRouter(h, RouteConfig{})
	w := doJSON(t, router, http.MethodPost, "/v1/risk/classify", action)

	var resp ClassifyResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w.Code, resp
}

func TestHandleClassifyRisk_ReversibleBelowThreshold(t *testing.T) {
	h, _ := newTestHandlers(t, &fakePipeline{})

	code, resp := classify(t, h, validAction())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, datatypes.RiskMedium, resp.Assessment.Level)
	assert.True(t, resp.Assessment.Reversible)
	assert.False(t, resp.RequiresApproval)
}

func TestHandleClassifyRisk_NonReversibleNeedsApproval(t *testing.T) {
	h, _ := newTestHandlers(t, &fakePipeline{})

	code, resp := classify(t, h, datatypes.RemediationAction{
		ActionType:     datatypes.ActionRotateCredentials,
		TargetResource: "vault/api-keys",
		Environment:    "production",
	})

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, datatypes.RiskHigh, resp.Assessment.Level)
	assert.False(t, resp.Assessment.Reversible)
	assert.True(t, resp.RequiresApproval)
}

func TestHandleClassifyRisk_DestructiveIsCritical(t *testing.T) {
	h, _ := newTestHandlers(t, &fakePipeline{})

	code, resp := classify(t, h, datatypes.RemediationAction{
		ActionType:     datatypes.ActionDeleteNamespace,
		TargetResource: "staging-experiments",
		Environment:    "development",
	})

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, datatypes.RiskCritical, resp.Assessment.Level)
	assert.True(t, resp.RequiresApproval)
}

func TestHandleClassifyRisk_LoweredThreshold(t *testing.T) {
	h, _ := newTestHandlers(t, &fakePipeline{})
	h.WithApprovalThreshold(datatypes.RiskMedium)

	// restart_pod in production classifies MEDIUM, which now meets the
	// gate.
	code, resp := classify(t, h, validAction())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, datatypes.RiskMedium, resp.Assessment.Level)
	assert.True(t, resp.RequiresApproval)
}

func TestHandleClassifyRisk_InvalidBody(t *testing.T) {
	h, _ := newTestHandlers(t, &fakePipeline{})
	router := newTestRouter(h, RouteConfig{})

	w := doRaw(t, router, http.MethodPost, "/v1/risk/classify", "{not json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeError(t, w).Code)
}

func TestHandleClassifyRisk_MissingFields(t *testing.T) {
	h, _ := newTestHandlers(t, &fakePipeline{})

	code, _ := classify(t, h, datatypes.RemediationAction{
		ActionType: datatypes.ActionRestartPod,
	})

	assert.Equal(t, http.StatusBadRequest, code)
}
