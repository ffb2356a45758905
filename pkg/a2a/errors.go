package a2a

import (
	"errors"
	"fmt"
)

// JSON-RPC error codes. The -1000 range is the fabric's own code space; the
// -32xxx codes cover envelope-level failures at the transport surface.
const (
	CodeJSONParse              = -1000
	CodeInvalidRequest         = -1001
	CodeMethodNotFound         = -1002
	CodeInvalidParams          = -1003
	CodeInternal               = -1004
	CodeTaskNotFound           = -1005
	CodeTaskNotCancelable      = -1006
	CodePushNotSupported       = -1007
	CodeUnsupportedOperation   = -1008
	CodeContentTypeNotAccepted = -1009
	CodeInvalidAgentResponse   = -1010
	CodeExtendedCardNotSet     = -1011
	CodeAuthorizationFailed    = -32001
)

// Error kinds. Kinds in the addressing group surface as failed routing
// responses rather than JSON-RPC errors.
const (
	KindJSONParse            = "json_parse"
	KindInvalidRequest       = "invalid_request"
	KindMethodNotFound       = "method_not_found"
	KindInvalidParams        = "invalid_params"
	KindInternal             = "internal"
	KindTaskNotFound         = "task_not_found"
	KindTaskNotCancelable    = "task_not_cancelable"
	KindPushNotSupported     = "push_notification_not_supported"
	KindUnsupportedOperation = "unsupported_operation"
	KindInvalidAgentResponse = "invalid_agent_response"
	KindExtendedCardNotSet   = "extended_card_not_configured"
	KindAuthorizationFailed  = "authorization_failed"

	KindAgentNotFound      = "agent_not_found"
	KindCapabilityNotFound = "capability_not_found"
	KindAgentOffline       = "agent_offline"
	KindNoEndpoint         = "no_endpoint"
	KindQueueFull          = "queue_full"
	KindShutdown           = "shutdown"
)

// Error is the single error type of the fabric: a numeric JSON-RPC code, a
// stable machine-readable kind, and a human message. Typed errors replace
// exception-style control flow; throwing is reserved for programming errors.
type Error struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
}

// Is matches on kind so sentinel comparisons work across instances.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// AsError extracts a fabric error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func newError(code int, kind, format string, args ...any) *Error {
	return &Error{Code: code, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrJSONParse reports an unparseable request body.
func ErrJSONParse(err error) *Error {
	return newError(CodeJSONParse, KindJSONParse, "invalid JSON payload: %v", err)
}

// ErrInvalidRequest reports a malformed JSON-RPC envelope.
func ErrInvalidRequest(format string, args ...any) *Error {
	return newError(CodeInvalidRequest, KindInvalidRequest, format, args...)
}

// ErrMethodNotFound reports an unknown method.
func ErrMethodNotFound(method string) *Error {
	return newError(CodeMethodNotFound, KindMethodNotFound, "method not found: %s", method)
}

// ErrInvalidParams reports invalid method parameters.
func ErrInvalidParams(format string, args ...any) *Error {
	return newError(CodeInvalidParams, KindInvalidParams, format, args...)
}

// ErrInternal wraps an unexpected failure.
func ErrInternal(format string, args ...any) *Error {
	return newError(CodeInternal, KindInternal, format, args...)
}

// ErrTaskNotFound reports an unknown task id.
func ErrTaskNotFound(taskID string) *Error {
	return newError(CodeTaskNotFound, KindTaskNotFound, "task not found: %s", taskID)
}

// ErrTaskNotCancelable reports a cancel attempt on a terminal task.
func ErrTaskNotCancelable(taskID string) *Error {
	return newError(CodeTaskNotCancelable, KindTaskNotCancelable, "task cannot be canceled: %s", taskID)
}

// ErrPushNotSupported reports that push notifications are not available.
func ErrPushNotSupported() *Error {
	return newError(CodePushNotSupported, KindPushNotSupported, "push notifications are not supported")
}

// ErrUnsupportedOperation reports an operation the agent does not implement.
func ErrUnsupportedOperation(op string) *Error {
	return newError(CodeUnsupportedOperation, KindUnsupportedOperation, "unsupported operation: %s", op)
}

// ErrInvalidAgentResponse reports a malformed response from a remote agent.
func ErrInvalidAgentResponse(format string, args ...any) *Error {
	return newError(CodeInvalidAgentResponse, KindInvalidAgentResponse, format, args...)
}

// ErrExtendedCardNotConfigured reports a missing authenticated extended card.
func ErrExtendedCardNotConfigured() *Error {
	return newError(CodeExtendedCardNotSet, KindExtendedCardNotSet, "authenticated extended card is not configured")
}

// ErrAuthorizationFailed reports an authorization failure at the transport
// surface.
func ErrAuthorizationFailed() *Error {
	return newError(CodeAuthorizationFailed, KindAuthorizationFailed, "authorization failed")
}

// ErrAgentNotFound reports an unknown agent id.
func ErrAgentNotFound(agentID string) *Error {
	return newError(CodeInternal, KindAgentNotFound, "agent not found: %s", agentID)
}

// ErrCapabilityNotFound reports that no agent provides a capability.
func ErrCapabilityNotFound(name string) *Error {
	return newError(CodeInternal, KindCapabilityNotFound, "no agent found with capability: %s", name)
}

// ErrAgentOffline reports a route to an agent that is not online.
func ErrAgentOffline(agentID string) *Error {
	return newError(CodeInternal, KindAgentOffline, "agent is not online: %s", agentID)
}

// ErrNoEndpoint reports a profile without a usable endpoint URL.
func ErrNoEndpoint(agentID string) *Error {
	return newError(CodeInternal, KindNoEndpoint, "no endpoint known for agent: %s", agentID)
}

// ErrQueueFull reports admission refused by a full priority queue.
func ErrQueueFull(priority string) *Error {
	return newError(CodeInternal, KindQueueFull, "message queue full for priority: %s", priority)
}

// ErrShutdown reports an operation attempted after shutdown.
func ErrShutdown() *Error {
	return newError(CodeInternal, KindShutdown, "component is shut down")
}
