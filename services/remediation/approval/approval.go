// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package approval gates high-risk remediation actions behind an
// explicit sign-off.
//
// A pipeline run requesting approval blocks until an operator decides,
// the timeout expires, or the run is cancelled. Rejection and timeout
// are distinct outcomes and stay distinct in the run record.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianOps/services/remediation/datatypes"
)

// DefaultApprovalTimeout bounds the approval wait when the caller does
// not supply one.
const DefaultApprovalTimeout = 15 * time.Minute

var (
	// ErrUnknownRequest indicates no pending request has the given ID.
	ErrUnknownRequest = errors.New("unknown approval request")

	// ErrAlreadyDecided indicates the request was already resolved or
	// expired.
	ErrAlreadyDecided = errors.New("approval request already decided")
)

// Approver decides whether a high-risk action may proceed.
type Approver interface {
	// RequestApproval blocks until a decision is made, the timeout
	// expires, or ctx is cancelled. Timeout and cancellation resolve
	// to a TIMED_OUT decision, not an error; errors are reserved for
	// approval infrastructure faults. The full assessment travels with
	// the request so approvers can show reversibility and blast radius
	// alongside the level.
	RequestApproval(ctx context.Context, action datatypes.RemediationAction, assessment datatypes.RiskAssessment, timeout time.Duration) (datatypes.ApprovalDecision, error)
}

// PendingRequest is an approval awaiting a decision.
type PendingRequest struct {
	ID          string                      `json:"id"`
	Action      datatypes.RemediationAction `json:"action"`
	RiskLevel   datatypes.RiskLevel         `json:"risk_level"`
	Assessment  datatypes.RiskAssessment    `json:"assessment"`
	RequestedAt time.Time                   `json:"requested_at"`
	ExpiresAt   time.Time                   `json:"expires_at"`
}

// EventType classifies approval feed events.
type EventType string

const (
	// EventRequested is published when a run starts waiting.
	EventRequested EventType = "requested"

	// EventResolved is published when an operator decides.
	EventResolved EventType = "resolved"

	// EventExpired is published when the wait times out or the run is
	// cancelled.
	EventExpired EventType = "expired"
)

// Event is one entry in the approval feed.
type Event struct {
	Type     EventType                   `json:"type"`
	Request  PendingRequest              `json:"request"`
	Decision *datatypes.ApprovalDecision `json:"decision,omitempty"`
}

// pendingEntry tracks one in-flight approval wait.
type pendingEntry struct {
	request    PendingRequest
	decisionCh chan datatypes.ApprovalDecision
	decided    bool
}

// Manager brokers approval requests between pipeline runs and
// operators.
//
// # Description
//
// RequestApproval parks the calling run on a per-request channel.
// Operators resolve requests through Resolve (driven by the HTTP
// handlers or the CLI). Subscribers receive request lifecycle events,
// which feed the approvals websocket.
//
// # Thread Safety
//
// Safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	pending     map[string]*pendingEntry
	subscribers map[int]chan Event
	nextSubID   int
	now         func() time.Time
}

// NewManager creates an approval manager.
func NewManager() *Manager {
	return &Manager{
		pending:     make(map[string]*pendingEntry),
		subscribers: make(map[int]chan Event),
		now:         time.Now,
	}
}

// RequestApproval registers a pending request and blocks until it is
// decided, times out, or the context is cancelled.
func (m *Manager) RequestApproval(ctx context.Context, action datatypes.RemediationAction, assessment datatypes.RiskAssessment, timeout time.Duration) (datatypes.ApprovalDecision, error) {
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}

	requestedAt := m.now().UTC()
	entry := &pendingEntry{
		request: PendingRequest{
			ID:          uuid.NewString(),
			Action:      action,
			RiskLevel:   assessment.Level,
			Assessment:  assessment,
			RequestedAt: requestedAt,
			ExpiresAt:   requestedAt.Add(timeout),
		},
		decisionCh: make(chan datatypes.ApprovalDecision, 1),
	}

	m.mu.Lock()
	m.pending[entry.request.ID] = entry
	m.mu.Unlock()

	m.publish(Event{Type: EventRequested, Request: entry.request})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case decision := <-entry.decisionCh:
		m.remove(entry.request.ID)
		m.publish(Event{Type: EventResolved, Request: entry.request, Decision: &decision})
		return decision, nil

	case <-timer.C:
		decision := m.expire(entry, "approval window expired")
		return decision, nil

	case <-ctx.Done():
		decision := m.expire(entry, "approval wait cancelled")
		return decision, nil
	}
}

// expire marks the entry decided and returns the TIMED_OUT decision.
// If an operator decision raced in first, that decision wins.
func (m *Manager) expire(entry *pendingEntry, comment string) datatypes.ApprovalDecision {
	m.mu.Lock()
	if entry.decided {
		m.mu.Unlock()
		// Resolve won the race; its decision is already buffered.
		decision := <-entry.decisionCh
		m.remove(entry.request.ID)
		m.publish(Event{Type: EventResolved, Request: entry.request, Decision: &decision})
		return decision
	}
	entry.decided = true
	delete(m.pending, entry.request.ID)
	m.mu.Unlock()

	decision := datatypes.ApprovalDecision{
		Status:    datatypes.ApprovalTimedOut,
		Comment:   comment,
		DecidedAt: m.now().UTC(),
	}
	m.publish(Event{Type: EventExpired, Request: entry.request, Decision: &decision})
	return decision
}

func (m *Manager) remove(requestID string) {
	m.mu.Lock()
	delete(m.pending, requestID)
	m.mu.Unlock()
}

// Resolve records an operator's decision for a pending request.
func (m *Manager) Resolve(requestID string, approved bool, decidedBy, comment string) error {
	m.mu.Lock()
	entry, ok := m.pending[requestID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	if entry.decided {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyDecided, requestID)
	}
	entry.decided = true
	m.mu.Unlock()

	status := datatypes.ApprovalRejected
	if approved {
		status = datatypes.ApprovalApproved
	}
	entry.decisionCh <- datatypes.ApprovalDecision{
		Status:    status,
		DecidedBy: decidedBy,
		Comment:   comment,
		DecidedAt: m.now().UTC(),
	}
	return nil
}

// Pending returns a copy of the requests currently awaiting decision.
func (m *Manager) Pending() []PendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PendingRequest, 0, len(m.pending))
	for _, entry := range m.pending {
		out = append(out, entry.request)
	}
	return out
}

// Subscribe returns a channel of approval feed events and a cancel
// function. Slow subscribers drop events rather than block the
// pipeline.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	ch := make(chan Event, buffer)
	m.subscribers[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if sub, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(sub)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) publish(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
