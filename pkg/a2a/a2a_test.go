package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStateTransitions(t *testing.T) {
	tests := []struct {
		from TaskState
		to   TaskState
		ok   bool
	}{
		{TaskStateSubmitted, TaskStateInProgress, true},
		{TaskStateSubmitted, TaskStateRejected, true},
		{TaskStateSubmitted, TaskStateAuthRequired, true},
		{TaskStateSubmitted, TaskStateCompleted, false},
		{TaskStateInProgress, TaskStateWorking, true},
		{TaskStateInProgress, TaskStateCompleted, true},
		{TaskStateInProgress, TaskStateInputRequired, true},
		{TaskStateWorking, TaskStateInProgress, true},
		{TaskStateWorking, TaskStateFailed, true},
		{TaskStateInputRequired, TaskStateInProgress, true},
		{TaskStateInputRequired, TaskStateCompleted, false},
		{TaskStateAuthRequired, TaskStateInProgress, true},
		{TaskStateCompleted, TaskStateInProgress, false},
		{TaskStateFailed, TaskStateCancelled, false},
		{TaskStateCancelled, TaskStateSubmitted, false},
		{TaskStateRejected, TaskStateInProgress, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTaskStateIsTerminal(t *testing.T) {
	for _, s := range []TaskState{TaskStateCompleted, TaskStateFailed, TaskStateCancelled, TaskStateRejected} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []TaskState{TaskStateSubmitted, TaskStateInProgress, TaskStateWorking, TaskStateInputRequired, TaskStateAuthRequired} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestErrorMatchingOnKind(t *testing.T) {
	err := ErrTaskNotFound("t-1")
	assert.Equal(t, CodeTaskNotFound, err.Code)
	assert.True(t, errors.Is(err, ErrTaskNotFound("other")))
	assert.False(t, errors.Is(err, ErrTaskNotCancelable("t-1")))

	wrapped := fmt.Errorf("lookup: %w", err)
	got, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindTaskNotFound, got.Kind)
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
		want string
	}{
		{"nil", nil, "empty request"},
		{"bad version", &Request{JSONRPC: "1.0", ID: "1", Method: "message/send"}, "jsonrpc version"},
		{"no method", &Request{JSONRPC: "2.0", ID: "1"}, "method is required"},
		{"no id", &Request{JSONRPC: "2.0", Method: "message/send"}, "id is required"},
		{"bad id type", &Request{JSONRPC: "2.0", ID: []string{"x"}, Method: "message/send"}, "string or number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.req)
			require.NotNil(t, err)
			assert.Equal(t, CodeInvalidRequest, err.Code)
			assert.Contains(t, err.Message, tt.want)
		})
	}

	assert.Nil(t, ValidateRequest(&Request{JSONRPC: "2.0", ID: float64(1), Method: "tasks/get"}))
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"bad role", Message{Role: "system", Parts: []Part{{Kind: PartKindText, Text: "x"}}}, "invalid message role"},
		{"no parts", Message{Role: MessageRoleUser}, "at least one part"},
		{"empty text", Message{Role: MessageRoleUser, Parts: []Part{{Kind: PartKindText}}}, "no text"},
		{"file without content", Message{Role: MessageRoleUser, Parts: []Part{{Kind: PartKindFile, File: &FileContent{}}}}, "bytes or uri"},
		{"data without data", Message{Role: MessageRoleUser, Parts: []Part{{Kind: PartKindData}}}, "no data"},
		{"unknown kind", Message{Role: MessageRoleUser, Parts: []Part{{Kind: "audio"}}}, "unrecognized part kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(&tt.msg)
			require.NotNil(t, err)
			assert.Contains(t, err.Message, tt.want)
		})
	}

	ok := NewTextMessage(MessageRoleUser, "hello")
	assert.Nil(t, ValidateMessage(&ok))
}

func TestSendMessageResultDiscriminator(t *testing.T) {
	task := NewTask("ctx-1")
	data, err := json.Marshal(SendMessageResult{Task: task})
	require.NoError(t, err)

	var decoded SendMessageResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Task)
	assert.Nil(t, decoded.Message)
	assert.Equal(t, task.ID, decoded.Task.ID)
	assert.Equal(t, TaskStateSubmitted, decoded.Task.Status.State)

	msg := NewTextMessage(MessageRoleAgent, "done")
	data, err = json.Marshal(SendMessageResult{Message: &msg})
	require.NoError(t, err)

	decoded = SendMessageResult{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Message)
	assert.Nil(t, decoded.Task)
	assert.Equal(t, "done", ExtractText(decoded.Message))
}

func TestExtractHelpers(t *testing.T) {
	msg := Message{
		Role: MessageRoleUser,
		Parts: []Part{
			{Kind: PartKindText, Text: "first"},
			{Kind: PartKindData, Data: map[string]any{"k": "v"}},
			{Kind: PartKindText, Text: "second"},
		},
	}
	assert.Equal(t, "first\nsecond", ExtractText(&msg))

	data, ok := ExtractData(&msg)
	require.True(t, ok)
	assert.Equal(t, "v", data["k"])

	_, ok = ExtractData(&Message{Parts: []Part{{Kind: PartKindText, Text: "x"}}})
	assert.False(t, ok)
	assert.Equal(t, "", ExtractText(nil))
}

func TestTrimHistory(t *testing.T) {
	task := NewTask("ctx")
	for i := 0; i < 5; i++ {
		task.History = append(task.History, NewTextMessage(MessageRoleUser, fmt.Sprintf("m%d", i)))
	}

	trimmed := TrimHistory(task, 2)
	require.Len(t, trimmed.History, 2)
	assert.Equal(t, "m3", ExtractText(&trimmed.History[0]))
	assert.Equal(t, "m4", ExtractText(&trimmed.History[1]))

	// Original untouched, and n <= 0 is a no-op.
	assert.Len(t, task.History, 5)
	assert.Len(t, TrimHistory(task, 0).History, 5)
	assert.Len(t, TrimHistory(task, 10).History, 5)
}

func TestClientSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, MethodMessageSend, req.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		reply := NewTextMessage(MessageRoleAgent, "pong")
		resp, err := NewResponse(req.ID, SendMessageResult{Message: &reply})
		require.NoError(t, err)
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &ClientConfig{
		Auth: &Credentials{Type: "bearer", Token: "secret"},
	})
	defer client.Close()

	msg := NewTextMessage(MessageRoleUser, "ping")
	result, err := client.SendMessage(context.Background(), &MessageSendParams{Message: msg})
	require.NoError(t, err)
	require.NotNil(t, result.Message)
	assert.Equal(t, "pong", ExtractText(result.Message))
}

func TestClientSurfacesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(NewErrorResponse(req.ID, ErrTaskNotFound("t-9")))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	defer client.Close()

	_, err := client.GetTask(context.Background(), &TaskQueryParams{ID: "t-9"})
	require.Error(t, err)
	fe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeTaskNotFound, fe.Code)
}

func TestClientStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		status := &TaskStatusUpdateEvent{
			TaskID: "t-1",
			Kind:   KindStatusUpdate,
			Status: TaskStatus{State: TaskStateWorking, Timestamp: time.Now()},
		}
		raw, _ := json.Marshal(status)
		fmt.Fprintf(w, "data: %s\n\n", raw)

		// Wrapped form: a JSON-RPC success envelope around the final event.
		final := &TaskStatusUpdateEvent{
			TaskID: "t-1",
			Kind:   KindStatusUpdate,
			Status: TaskStatus{State: TaskStateCompleted, Timestamp: time.Now()},
			Final:  true,
		}
		wrapped, _ := NewResponse("1", final)
		raw, _ = json.Marshal(wrapped)
		fmt.Fprintf(w, "data: %s\n\n", raw)

		fmt.Fprintf(w, "data: %s\n\n", StreamDone)
		flusher.Flush()
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	defer client.Close()

	msg := NewTextMessage(MessageRoleUser, "go")
	events, err := client.SendMessageStream(context.Background(), &MessageSendParams{Message: msg})
	require.NoError(t, err)

	var got []StreamEvent
	for ev := range events {
		require.NoError(t, ev.Err)
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, TaskStateWorking, got[0].Status.Status.State)
	assert.True(t, got[1].Status.Final)
	assert.Equal(t, TaskStateCompleted, got[1].Status.Status.State)
}

func TestClientClosedRejects(t *testing.T) {
	client := NewClient("http://localhost:1", nil)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err := client.Call(context.Background(), MethodTasksGet, nil)
	assert.True(t, errors.Is(err, ErrShutdown()))
}

func TestFetchAgentCard(t *testing.T) {
	card := &AgentCard{
		ProtocolVersion:    ProtocolVersion,
		Name:               "echo",
		URL:                "http://example.test",
		Version:            "1.2.3",
		PreferredTransport: "json-rpc",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, WellKnownCardPath, r.URL.Path)
		json.NewEncoder(w).Encode(card)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	defer client.Close()

	got, err := client.FetchAgentCard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Name)
	assert.Equal(t, ProtocolVersion, got.ProtocolVersion)
	assert.Equal(t, "1.2.3", got.Version)
}
