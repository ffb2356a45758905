package a2a

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// StreamDone is the sentinel line payload that terminates an event stream.
const StreamDone = "[DONE]"

// StreamEvent is one element of a streamed response: a message, a task, or a
// status/artifact update, discriminated by Kind. Err is set when the stream
// failed mid-way.
type StreamEvent struct {
	Kind     string
	Message  *Message
	Task     *Task
	Status   *TaskStatusUpdateEvent
	Artifact *TaskArtifactUpdateEvent
	Err      error
}

// Credentials holds opaque authentication material attached to outbound
// requests. The fabric never inspects it.
type Credentials struct {
	Type         string // "bearer" or "apiKey"
	Token        string
	APIKey       string
	APIKeyHeader string // defaults to "X-API-Key"
}

// ClientConfig configures a transport client.
type ClientConfig struct {
	Timeout time.Duration // unary request timeout, default 30s
	Auth    *Credentials
}

// Client delivers JSON-RPC requests to a single agent endpoint over HTTP,
// with an SSE variant for streaming. It is the concrete transport adapter
// behind the router's endpoint pool.
type Client struct {
	endpoint   string
	httpClient *http.Client
	auth       *Credentials
	nextID     atomic.Int64
	closed     atomic.Bool
}

// NewClient creates a client bound to an agent endpoint URL.
func NewClient(endpoint string, cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
		auth:       cfg.Auth,
	}
}

// Endpoint returns the URL this client delivers to.
func (c *Client) Endpoint() string { return c.endpoint }

// Close releases the underlying connections. Safe to call repeatedly.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

// Call performs a unary JSON-RPC call and returns the raw result.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrShutdown()
	}
	req, err := NewRequest(c.nextID.Add(1), method, params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("request failed: %s - %s", resp.Status, string(data))
	}

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, ErrInvalidAgentResponse("failed to decode response: %v", err)
	}
	if rpcResp.Error != nil {
		return nil, &Error{Code: rpcResp.Error.Code, Kind: KindInternal, Message: rpcResp.Error.Message, Data: rpcResp.Error.Data}
	}
	return rpcResp.Result, nil
}

// SendMessage performs message/send and returns the Message or Task result.
func (c *Client) SendMessage(ctx context.Context, params *MessageSendParams) (*SendMessageResult, error) {
	raw, err := c.Call(ctx, MethodMessageSend, params)
	if err != nil {
		return nil, err
	}
	var result SendMessageResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, ErrInvalidAgentResponse("failed to decode message/send result: %v", err)
	}
	return &result, nil
}

// GetTask performs tasks/get.
func (c *Client) GetTask(ctx context.Context, params *TaskQueryParams) (*Task, error) {
	raw, err := c.Call(ctx, MethodTasksGet, params)
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, ErrInvalidAgentResponse("failed to decode task: %v", err)
	}
	return &task, nil
}

// CancelTask performs tasks/cancel and returns the task in its cancelled
// state.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*Task, error) {
	raw, err := c.Call(ctx, MethodTasksCancel, &TaskIDParams{ID: taskID})
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, ErrInvalidAgentResponse("failed to decode task: %v", err)
	}
	return &task, nil
}

// SendMessageStream performs message/stream and returns the event sequence.
// The channel closes after the terminal sentinel or on context cancellation.
func (c *Client) SendMessageStream(ctx context.Context, params *MessageSendParams) (<-chan StreamEvent, error) {
	return c.openStream(ctx, MethodMessageStream, params)
}

// Resubscribe resumes streaming for an existing task via tasks/resubscribe.
func (c *Client) Resubscribe(ctx context.Context, taskID string) (<-chan StreamEvent, error) {
	return c.openStream(ctx, MethodTasksResubscribe, &TaskIDParams{ID: taskID})
}

func (c *Client) openStream(ctx context.Context, method string, params any) (<-chan StreamEvent, error) {
	if c.closed.Load() {
		return nil, ErrShutdown()
	}
	req, err := NewRequest(c.nextID.Add(1), method, params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	c.setAuthHeaders(httpReq)

	// Streaming responses outlive the unary timeout.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transport error: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("streaming failed: %s - %s", resp.Status, string(data))
	}

	events := make(chan StreamEvent, 16)
	go c.readStream(ctx, resp, events)
	return events, nil
}

// readStream parses text/event-stream lines of the form "data: <json>" until
// the [DONE] sentinel. Payloads may be raw events or JSON-RPC success
// wrappers containing the event as result.
func (c *Client) readStream(ctx context.Context, resp *http.Response, events chan<- StreamEvent) {
	defer close(events)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == StreamDone {
			return
		}

		event, err := parseStreamPayload([]byte(payload))
		if err != nil {
			event = StreamEvent{Err: err}
		}
		select {
		case events <- event:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		events <- StreamEvent{Err: fmt.Errorf("stream read error: %w", err)}
	}
}

func parseStreamPayload(payload []byte) (StreamEvent, error) {
	// Unwrap a JSON-RPC success envelope if present.
	var wrapper struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return StreamEvent{}, ErrInvalidAgentResponse("malformed stream payload: %v", err)
	}
	if wrapper.JSONRPC == JSONRPCVersion {
		if wrapper.Error != nil {
			return StreamEvent{}, &Error{Code: wrapper.Error.Code, Kind: KindInternal, Message: wrapper.Error.Message}
		}
		payload = wrapper.Result
	}

	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return StreamEvent{}, ErrInvalidAgentResponse("malformed stream event: %v", err)
	}

	switch probe.Kind {
	case KindStatusUpdate:
		var ev TaskStatusUpdateEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return StreamEvent{}, ErrInvalidAgentResponse("malformed status update: %v", err)
		}
		return StreamEvent{Kind: KindStatusUpdate, Status: &ev}, nil
	case KindArtifactUpdate:
		var ev TaskArtifactUpdateEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return StreamEvent{}, ErrInvalidAgentResponse("malformed artifact update: %v", err)
		}
		return StreamEvent{Kind: KindArtifactUpdate, Artifact: &ev}, nil
	case KindTask:
		var task Task
		if err := json.Unmarshal(payload, &task); err != nil {
			return StreamEvent{}, ErrInvalidAgentResponse("malformed task event: %v", err)
		}
		return StreamEvent{Kind: KindTask, Task: &task}, nil
	case KindMessage, "":
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return StreamEvent{}, ErrInvalidAgentResponse("malformed message event: %v", err)
		}
		return StreamEvent{Kind: KindMessage, Message: &msg}, nil
	default:
		return StreamEvent{}, ErrInvalidAgentResponse("unknown stream event kind: %q", probe.Kind)
	}
}

// FetchAgentCard retrieves the agent card from the well-known path relative
// to the endpoint's base URL.
func (c *Client) FetchAgentCard(ctx context.Context) (*AgentCard, error) {
	cardURL := c.endpoint + WellKnownCardPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get agent card: %s - %s", resp.Status, string(data))
	}
	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, ErrInvalidAgentResponse("failed to decode agent card: %v", err)
	}
	return &card, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.auth == nil {
		return
	}
	switch c.auth.Type {
	case "bearer":
		if c.auth.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.auth.Token)
		}
	case "apiKey":
		header := c.auth.APIKeyHeader
		if header == "" {
			header = "X-API-Key"
		}
		if c.auth.APIKey != "" {
			req.Header.Set(header, c.auth.APIKey)
		}
	}
}

// NewID returns a fresh unique identifier for messages, tasks and artifacts.
func NewID() string {
	return uuid.New().String()
}
