package a2a

import (
	"encoding/json"
)

// JSONRPCVersion is the only accepted envelope version.
const JSONRPCVersion = "2.0"

// RPC method names served by the fabric.
const (
	MethodMessageSend      = "message/send"
	MethodMessageStream    = "message/stream"
	MethodTasksGet         = "tasks/get"
	MethodTasksCancel      = "tasks/cancel"
	MethodTasksResubscribe = "tasks/resubscribe"
	MethodPushConfigSet    = "tasks/pushNotificationConfig/set"
	MethodPushConfigGet    = "tasks/pushNotificationConfig/get"
	MethodPushConfigList   = "tasks/pushNotificationConfig/list"
	MethodPushConfigDelete = "tasks/pushNotificationConfig/delete"
	MethodExtendedCard     = "agent/getAuthenticatedExtendedCard"
)

// Request is a JSON-RPC 2.0 request. Both "params" and "parameters" are
// accepted on the server side; Args returns whichever is populated.
type Request struct {
	JSONRPC    string          `json:"jsonrpc"`
	ID         any             `json:"id"`
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Args returns the request arguments regardless of which key carried them.
func (r *Request) Args() json.RawMessage {
	if len(r.Params) > 0 {
		return r.Params
	}
	return r.Parameters
}

// Response is a JSON-RPC 2.0 response carrying either a result or an error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the wire form of an error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewRequest builds a request with marshaled params.
func NewRequest(id any, method string, params any) (*Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  raw,
	}, nil
}

// NewResponse builds a success response with a marshaled result.
func NewResponse(id any, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response from a fabric error.
func NewErrorResponse(id any, err *Error) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: err.Code, Message: err.Message, Data: err.Data},
	}
}

// SendMessageResult is the result of message/send: either a Message or a
// Task, discriminated by the "kind" field.
type SendMessageResult struct {
	Message *Message
	Task    *Task
}

// MarshalJSON emits whichever member is set.
func (r SendMessageResult) MarshalJSON() ([]byte, error) {
	if r.Task != nil {
		t := *r.Task
		t.Kind = KindTask
		return json.Marshal(t)
	}
	m := *r.Message
	m.Kind = KindMessage
	return json.Marshal(m)
}

// UnmarshalJSON dispatches on the "kind" discriminator. A payload without a
// kind is treated as a message, matching older senders.
func (r *SendMessageResult) UnmarshalJSON(data []byte) error {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Kind == KindTask {
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		r.Task = &t
		return nil
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	r.Message = &m
	return nil
}
