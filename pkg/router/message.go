// Package router queues, prioritizes and delivers fabric messages between
// agents. It resolves capability-directed destinations against the registry,
// guards each destination with an optional circuit breaker, and pools
// transport clients per endpoint.
package router

import (
	"time"

	"github.com/agentfabric/fabric/pkg/a2a"
)

// MessageType classifies a fabric message for dispatch.
type MessageType string

const (
	TypeTaskRequest        MessageType = "task-request"
	TypeTaskDelegate       MessageType = "task-delegate"
	TypeTaskStatus         MessageType = "task-status"
	TypeCapabilityRequest  MessageType = "capability-request"
	TypeCapabilityResponse MessageType = "capability-response"
	TypeAgentQuery         MessageType = "agent-query"
	TypeHealthCheck        MessageType = "health-check"
	TypeNetworkBroadcast   MessageType = "network-broadcast"
	TypeWorkflowStart      MessageType = "workflow-start"
	TypeWorkflowStep       MessageType = "workflow-step"
	TypeWorkflowComplete   MessageType = "workflow-complete"
	TypeStatusUpdate       MessageType = "status-update"
	TypeErrorReport        MessageType = "error-report"
	TypeAgentOnline        MessageType = "agent-online"
	TypeAgentOffline       MessageType = "agent-offline"
)

// Valid reports whether t is a recognized message type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeTaskRequest, TypeTaskDelegate, TypeTaskStatus,
		TypeCapabilityRequest, TypeCapabilityResponse, TypeAgentQuery,
		TypeHealthCheck, TypeNetworkBroadcast,
		TypeWorkflowStart, TypeWorkflowStep, TypeWorkflowComplete,
		TypeStatusUpdate, TypeErrorReport, TypeAgentOnline, TypeAgentOffline:
		return true
	}
	return false
}

// Priority orders messages in the dispatch queues.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// priorityOrder lists priorities highest first; the dispatcher scans it.
var priorityOrder = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// Valid reports whether p is a recognized priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Destination sentinels for the To field.
const (
	ToBroadcast = "broadcast"
	ToAuto      = "auto"
)

// A2AMessage is one routable fabric message. Immutable once admitted; the
// router works on copies.
type A2AMessage struct {
	ID            string          `json:"id"`
	Role          a2a.MessageRole `json:"role"`
	From          string          `json:"from"`
	To            string          `json:"to"` // agent id, "broadcast" or "auto"
	Type          MessageType     `json:"type"`
	Payload       map[string]any  `json:"payload,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Priority      Priority        `json:"priority,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	TTL           time.Duration   `json:"ttl,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

// validate checks admission shape. Errors here surface as a failed
// RouteResult, never as a panic or transport call.
func (m *A2AMessage) validate() error {
	if m == nil {
		return a2a.ErrInvalidParams("message is required")
	}
	if m.ID == "" || m.From == "" || m.To == "" {
		return a2a.ErrInvalidParams("message id, from and to are required")
	}
	if !m.Type.Valid() {
		return a2a.ErrInvalidParams("unknown message type: %q", m.Type)
	}
	if m.Priority != "" && !m.Priority.Valid() {
		return a2a.ErrInvalidParams("unknown priority: %q", m.Priority)
	}
	return nil
}

// clone returns a shallow copy with its own payload and metadata maps.
func (m *A2AMessage) clone() *A2AMessage {
	cp := *m
	if m.Payload != nil {
		cp.Payload = make(map[string]any, len(m.Payload))
		for k, v := range m.Payload {
			cp.Payload[k] = v
		}
	}
	if m.Metadata != nil {
		cp.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// RouteResult is the outcome of routing one message.
type RouteResult struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	Result      any    `json:"result,omitempty"`
	DeliveredTo string `json:"deliveredTo,omitempty"`
}

// BroadcastResult aggregates per-target outcomes of a broadcast.
type BroadcastResult struct {
	TotalAgents int                    `json:"totalAgents"`
	Successful  int                    `json:"successful"`
	Failed      int                    `json:"failed"`
	Responses   map[string]RouteResult `json:"responses"`
}

func failedResult(err error) RouteResult {
	return RouteResult{Error: err.Error()}
}
