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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
	"github.com/AleutianAI/AleutianOps/services/remediation/middleware"
	"github.com/AleutianAI/AleutianOps/services/remediation/pipeline"
)

// =============================================================================
// Submit
// =============================================================================

func TestHandleSubmit_Sync(t *testing.T) {
	want := completedRecord()
	runner := &fakePipeline{
		runFn: func(_ context.Context, req pipeline.RunRequest) (datatypes.RunRecord, error) {
			assert.Equal(t, "agent-detector-7", req.AgentID)
			assert.Equal(t, datatypes.ActionRestartPod, req.Action.ActionType)
			return want, nil
		},
	}
	h, audit := newTestHandlers(t, runner)
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodPost, "/v1/remediations", SubmitRequest{
		Action:  validAction(),
		AgentID: "agent-detector-7",
	})

	assert.Equal(t, http.StatusOK, w.Code)

	var record datatypes.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, want.RunID, record.RunID)
	assert.Equal(t, datatypes.RunComplete, record.CurrentStep)

	events := audit.list()
	require.Len(t, events, 1)
	assert.Equal(t, "remediation.submitted", events[0].EventType)
	assert.Equal(t, "agent-detector-7", events[0].UserID)
	assert.Equal(t, want.RunID, events[0].ResourceID)
	assert.Equal(t, string(datatypes.RunComplete), events[0].Outcome)
	assert.Equal(t, false, events[0].Metadata["async"])
}

func TestHandleSubmit_Async(t *testing.T) {
	runner := &fakePipeline{
		startFn: func(_ context.Context, _ pipeline.RunRequest) (datatypes.RunRecord, error) {
			return datatypes.RunRecord{RunID: "run-9", CurrentStep: datatypes.RunInit}, nil
		},
	}
	h, audit := newTestHandlers(t, runner)
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodPost, "/v1/remediations", SubmitRequest{
		Action:  validAction(),
		AgentID: "agent-detector-7",
		Async:   true,
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, runner.startCalls)
	assert.Equal(t, 0, runner.runCalls)

	var record datatypes.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, "run-9", record.RunID)

	events := audit.list()
	require.Len(t, events, 1)
	assert.Equal(t, "accepted", events[0].Outcome)
	assert.Equal(t, true, events[0].Metadata["async"])
}

func TestHandleSubmit_InvalidBody(t *testing.T) {
	h, audit := newTestHandlers(t, &fakePipeline{})
	router := newTestRouter(h, RouteConfig{})

	w := doRaw(t, router, http.MethodPost, "/v1/remediations", "{not json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeError(t, w).Code)
	assert.Empty(t, audit.list())
}

func TestHandleSubmit_RejectedByPipeline(t *testing.T) {
	runner := &fakePipeline{
		runFn: func(_ context.Context, _ pipeline.RunRequest) (datatypes.RunRecord, error) {
			return datatypes.RunRecord{}, errors.New("invalid remediation action: missing target")
		},
	}
	h, _ := newTestHandlers(t, runner)
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodPost, "/v1/remediations", SubmitRequest{
		Action: datatypes.RemediationAction{ActionType: datatypes.ActionRestartPod},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "INVALID_ACTION", resp.Code)
	assert.Contains(t, resp.Error, "invalid remediation action")
}

func TestHandleSubmit_RateLimited(t *testing.T) {
	runner := &fakePipeline{
		runFn: func(_ context.Context, _ pipeline.RunRequest) (datatypes.RunRecord, error) {
			return completedRecord(), nil
		},
	}
	h, _ := newTestHandlers(t, runner)
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: 1,
		Burst:             1,
	})
	router := newTestRouter(h, RouteConfig{RateLimiter: limiter})

	body := SubmitRequest{Action: validAction(), AgentID: "agent-detector-7"}

	first := doJSON(t, router, http.MethodPost, "/v1/remediations", body)
	assert.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, router, http.MethodPost, "/v1/remediations", body)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	// Reads are not throttled.
	list := doJSON(t, router, http.MethodGet, "/v1/remediations", nil)
	assert.Equal(t, http.StatusOK, list.Code)
}

// =============================================================================
// Get Run
// =============================================================================

func TestHandleGetRun_Found(t *testing.T) {
	runner := &fakePipeline{
		getFn: func(runID string) (datatypes.RunRecord, error) {
			assert.Equal(t, "run-1", runID)
			return completedRecord(), nil
		},
	}
	h, _ := newTestHandlers(t, runner)
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/remediations/run-1", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var record datatypes.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, "run-1", record.RunID)
}

func TestHandleGetRun_NotFound(t *testing.T) {
	runner := &fakePipeline{
		getFn: func(runID string) (datatypes.RunRecord, error) {
			return datatypes.RunRecord{}, fmt.Errorf("%w: %s", pipeline.ErrRunNotFound, runID)
		},
	}
	h, _ := newTestHandlers(t, runner)
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/remediations/missing", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RUN_NOT_FOUND", decodeError(t, w).Code)
}

func TestHandleGetRun_LookupError(t *testing.T) {
	runner := &fakePipeline{
		getFn: func(string) (datatypes.RunRecord, error) {
			return datatypes.RunRecord{}, errors.New("archive unreachable")
		},
	}
	h, _ := newTestHandlers(t, runner)
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/remediations/run-1", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "LOOKUP_FAILED", decodeError(t, w).Code)
}

// =============================================================================
// List Runs
// =============================================================================

func TestHandleListRuns(t *testing.T) {
	runner := &fakePipeline{active: []datatypes.RunRecord{{RunID: "run-live"}}}
	lister := &fakeLister{records: []datatypes.RunRecord{
		{RunID: "run-2"},
		{RunID: "run-1"},
	}}
	h, _ := newTestHandlers(t, runner)
	h.WithArchive(lister)
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/remediations", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultRecentLimit, lister.gotLimit)

	var resp ListRunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Active, 1)
	assert.Equal(t, "run-live", resp.Active[0].RunID)
	require.Len(t, resp.Recent, 2)
	assert.Equal(t, "run-2", resp.Recent[0].RunID)
}

func TestHandleListRuns_ExplicitLimit(t *testing.T) {
	lister := &fakeLister{}
	h, _ := newTestHandlers(t, &fakePipeline{})
	h.WithArchive(lister)
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/remediations?limit=5", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, lister.gotLimit)
}

func TestHandleListRuns_ZeroLimitSkipsArchive(t *testing.T) {
	lister := &fakeLister{}
	h, _ := newTestHandlers(t, &fakePipeline{})
	h.WithArchive(lister)
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/remediations?limit=0", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, lister.called)
}

func TestHandleListRuns_InvalidLimit(t *testing.T) {
	h, _ := newTestHandlers(t, &fakePipeline{})
	router := newTestRouter(h, RouteConfig{})

	for _, raw := range []string{"abc", "-1", "1.5"} {
		w := doJSON(t, router, http.MethodGet, "/v1/remediations?limit="+raw, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", raw)
		assert.Equal(t, "INVALID_LIMIT", decodeError(t, w).Code)
	}
}

func TestHandleListRuns_NoArchive(t *testing.T) {
	runner := &fakePipeline{active: []datatypes.RunRecord{{RunID: "run-live"}}}
	h, _ := newTestHandlers(t, runner)
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/remediations", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp ListRunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Active, 1)
	assert.Empty(t, resp.Recent)
}

func TestHandleListRuns_ArchiveErrorDegrades(t *testing.T) {
	runner := &fakePipeline{active: []datatypes.RunRecord{{RunID: "run-live"}}}
	lister := &fakeLister{err: errors.New("badger unavailable")}
	h, _ := newTestHandlers(t, runner)
	h.WithArchive(lister)
	router := newTestRouter(h, RouteConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/remediations", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp ListRunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Active, 1)
	assert.Empty(t, resp.Recent)
}
