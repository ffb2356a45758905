// Package a2a defines the wire-level types of the agent fabric: messages,
// tasks, artifacts, streaming events, agent cards and the JSON-RPC envelope.
// It also provides the HTTP transport client used to deliver messages to
// remote agents.
package a2a

import (
	"time"
)

// ProtocolVersion is advertised in agent cards.
const ProtocolVersion = "1.0"

// WellKnownCardPath is where an agent serves its card.
const WellKnownCardPath = "/.well-known/ai-agent"

// ============================================================================
// MESSAGE
// ============================================================================

// MessageRole identifies the sender side of a message.
type MessageRole string

const (
	MessageRoleUser  MessageRole = "user"
	MessageRoleAgent MessageRole = "agent"
)

// Message is the end-user form of a message: a role plus ordered parts.
// It is used both as the unit sent through message/send and as the payload
// embedded in task status updates.
type Message struct {
	Kind      string         `json:"kind,omitempty"` // "message"
	MessageID string         `json:"messageId"`
	Role      MessageRole    `json:"role"`
	Parts     []Part         `json:"parts"`
	ContextID string         `json:"contextId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PartKind discriminates the Part union.
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindFile PartKind = "file"
	PartKindData PartKind = "data"
)

// Part is one element of a message: text, a file reference, or structured
// data. Exactly one of the content fields is set, matching Kind.
type Part struct {
	Kind PartKind `json:"kind"`

	Text string `json:"text,omitempty"`

	File *FileContent `json:"file,omitempty"`

	Data map[string]any `json:"data,omitempty"`
}

// FileContent carries a file either inline or by reference.
type FileContent struct {
	Bytes    []byte `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

// ============================================================================
// TASK
// ============================================================================

// TaskState is the state of a task in its lifecycle.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateInProgress    TaskState = "in-progress"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCancelled     TaskState = "cancelled"
	TaskStateRejected      TaskState = "rejected"
	TaskStateAuthRequired  TaskState = "auth-required"
	TaskStateUnknown       TaskState = "unknown"
)

// IsTerminal reports whether no further transitions are legal from s.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCancelled, TaskStateRejected:
		return true
	}
	return false
}

// legalTransitions encodes the task state machine.
var legalTransitions = map[TaskState][]TaskState{
	TaskStateSubmitted: {
		TaskStateInProgress, TaskStateRejected, TaskStateCancelled, TaskStateAuthRequired,
	},
	TaskStateInProgress: {
		TaskStateWorking, TaskStateCompleted, TaskStateFailed, TaskStateCancelled, TaskStateInputRequired,
	},
	TaskStateWorking: {
		TaskStateInProgress, TaskStateCompleted, TaskStateFailed, TaskStateCancelled, TaskStateInputRequired,
	},
	TaskStateInputRequired: {
		TaskStateInProgress, TaskStateCancelled,
	},
	TaskStateAuthRequired: {
		TaskStateInProgress, TaskStateCancelled,
	},
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next. Terminal states permit nothing.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, t := range legalTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// TaskStatus is the current state of a task with an optional human-readable
// annotation.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is a unit of work with a lifecycle, optional history and artifacts.
type Task struct {
	ID         string         `json:"id"`
	ContextID  string         `json:"contextId"`
	Kind       string         `json:"kind,omitempty"` // "task"
	Status     TaskStatus     `json:"status"`
	History    []Message      `json:"history,omitempty"`
	Artifacts  []Artifact     `json:"artifacts,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	ExecutedBy string         `json:"executedBy,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Results    *TaskResult    `json:"results,omitempty"`
}

// TaskResult summarizes the outcome of a finished task.
type TaskResult struct {
	TaskID        string     `json:"taskId"`
	Success       bool       `json:"success"`
	Result        any        `json:"result,omitempty"`
	Error         string     `json:"error,omitempty"`
	ExecutedBy    string     `json:"executedBy,omitempty"`
	ExecutionTime int64      `json:"executionTime"` // milliseconds
	Timestamp     time.Time  `json:"timestamp"`
	Artifacts     []Artifact `json:"artifacts,omitempty"`
}

// Artifact is a produced content chunk associated with a task.
type Artifact struct {
	ArtifactID  string         `json:"artifactId"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ============================================================================
// STREAMING EVENTS
// ============================================================================

// Event kinds as they appear on the wire.
const (
	KindMessage        = "message"
	KindTask           = "task"
	KindStatusUpdate   = "status-update"
	KindArtifactUpdate = "artifact-update"
)

// Event is a streamed task event. Implemented by TaskStatusUpdateEvent and
// TaskArtifactUpdateEvent.
type Event interface {
	EventKind() string
}

// TaskStatusUpdateEvent announces a task status change. Final marks the last
// event of the stream; nothing follows a final event.
type TaskStatusUpdateEvent struct {
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId,omitempty"`
	Kind      string         `json:"kind"` // "status-update"
	Status    TaskStatus     `json:"status"`
	Final     bool           `json:"final"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EventKind implements Event.
func (*TaskStatusUpdateEvent) EventKind() string { return KindStatusUpdate }

// TaskArtifactUpdateEvent carries an artifact chunk. Append merges the parts
// into an existing artifact with the same id; LastChunks marks end-of-stream
// for that artifact.
type TaskArtifactUpdateEvent struct {
	TaskID     string         `json:"taskId"`
	ContextID  string         `json:"contextId,omitempty"`
	Kind       string         `json:"kind"` // "artifact-update"
	Artifact   Artifact       `json:"artifact"`
	Append     bool           `json:"append"`
	LastChunks bool           `json:"lastChunks,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EventKind implements Event.
func (*TaskArtifactUpdateEvent) EventKind() string { return KindArtifactUpdate }

// ============================================================================
// AGENT CARD
// ============================================================================

// AgentCard is the self-describing manifest an agent serves at the
// well-known path.
type AgentCard struct {
	ProtocolVersion      string            `json:"protocolVersion"`
	Name                 string            `json:"name"`
	Description          string            `json:"description,omitempty"`
	URL                  string            `json:"url"`
	Version              string            `json:"version,omitempty"`
	PreferredTransport   string            `json:"preferredTransport"`
	AdditionalInterfaces []AgentInterface  `json:"additionalInterfaces,omitempty"`
	Skills               []AgentSkill      `json:"skills"`
	Capabilities         []string          `json:"capabilities"`
	SystemFeatures       *SystemFeatures   `json:"systemFeatures,omitempty"`
	SecuritySchemes      []SecurityScheme  `json:"securitySchemes,omitempty"`
	SupportsExtendedCard bool              `json:"supportsAuthenticatedExtendedCard,omitempty"`
	Signature            []map[string]any  `json:"signature,omitempty"`
}

// AgentInterface declares an alternative transport endpoint.
type AgentInterface struct {
	Transport string `json:"transport"`
	URL       string `json:"url"`
}

// AgentSkill describes a skill advertised on the card.
type AgentSkill struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// SystemFeatures flags protocol features the agent supports.
type SystemFeatures struct {
	Streaming         bool     `json:"streaming"`
	PushNotifications bool     `json:"pushNotifications"`
	Extensions        []string `json:"extensions,omitempty"`
}

// SecurityScheme describes authentication requirements. The fabric treats
// the material as opaque.
type SecurityScheme struct {
	Type   string `json:"type"`
	Scheme string `json:"scheme,omitempty"`
	In     string `json:"in,omitempty"`
	Name   string `json:"name,omitempty"`
}

// ============================================================================
// RPC METHOD PARAMETERS
// ============================================================================

// MessageSendParams are the parameters of message/send and message/stream.
type MessageSendParams struct {
	Message       Message            `json:"message"`
	Configuration *SendConfiguration `json:"configuration,omitempty"`
}

// SendConfiguration tunes a single send.
type SendConfiguration struct {
	AcceptedOutputModes []string                `json:"acceptedOutputModes,omitempty"`
	HistoryLength       int                     `json:"historyLength,omitempty"`
	PushNotification    *PushNotificationConfig `json:"pushNotificationConfig,omitempty"`
	Blocking            bool                    `json:"blocking,omitempty"`
}

// TaskQueryParams are the parameters of tasks/get.
type TaskQueryParams struct {
	ID            string `json:"id"`
	HistoryLength int    `json:"historyLength,omitempty"`
}

// TaskIDParams identify a task for tasks/cancel and tasks/resubscribe.
type TaskIDParams struct {
	ID string `json:"id"`
}

// PushNotificationConfig is the delivery target for push notifications.
// Authentication material is opaque to the fabric.
type PushNotificationConfig struct {
	ID             string              `json:"id,omitempty"`
	URL            string              `json:"url"`
	Token          string              `json:"token,omitempty"`
	Authentication *PushAuthentication `json:"authentication,omitempty"`
}

// PushAuthentication is carried verbatim to the notification sender.
type PushAuthentication struct {
	Schemes     []string `json:"schemes,omitempty"`
	Credentials string   `json:"credentials,omitempty"`
}

// TaskPushConfig binds a push notification config to a task, as used by the
// tasks/pushNotificationConfig methods.
type TaskPushConfig struct {
	TaskID string                 `json:"taskId"`
	Config PushNotificationConfig `json:"pushNotificationConfig"`
}
