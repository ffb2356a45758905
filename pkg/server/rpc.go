package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentfabric/fabric/pkg/a2a"
	"github.com/agentfabric/fabric/pkg/router"
	"github.com/agentfabric/fabric/pkg/task"
)

// StreamDone is the SSE terminator frame payload.
const StreamDone = "[DONE]"

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req a2a.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, a2a.ErrJSONParse(err))
		return
	}
	if err := a2a.ValidateRequest(&req); err != nil {
		rpcErr, _ := a2a.AsError(err)
		writeRPCError(w, req.ID, rpcErr)
		return
	}

	switch req.Method {
	case a2a.MethodMessageSend:
		s.handleMessageSend(w, r, &req)
	case a2a.MethodMessageStream:
		s.handleMessageStream(w, r, &req)
	case a2a.MethodTasksGet:
		s.handleTasksGet(w, &req)
	case a2a.MethodTasksCancel:
		s.handleTasksCancel(w, &req)
	case a2a.MethodTasksResubscribe:
		s.handleResubscribe(w, r, &req)
	case a2a.MethodPushConfigSet:
		s.handlePushConfigSet(w, &req)
	case a2a.MethodPushConfigGet:
		s.handlePushConfigGet(w, &req)
	case a2a.MethodPushConfigList:
		s.handlePushConfigList(w, &req)
	case a2a.MethodPushConfigDelete:
		s.handlePushConfigDelete(w, &req)
	case a2a.MethodExtendedCard:
		s.handleExtendedCard(w, r, &req)
	default:
		writeRPCError(w, req.ID, a2a.ErrMethodNotFound(req.Method))
	}
}

// routableMessage converts wire params into a routable fabric message.
// Routing hints (from, to, priority) ride in the message metadata; absent
// hints default to capability-directed routing.
func routableMessage(params *a2a.MessageSendParams) *router.A2AMessage {
	msg := params.Message
	id := msg.MessageID
	if id == "" {
		id = a2a.NewID()
	}
	payload, ok := a2a.ExtractData(&msg)
	if !ok {
		payload = map[string]any{}
		if text := a2a.ExtractText(&msg); text != "" {
			payload["text"] = text
		}
	}

	out := &router.A2AMessage{
		ID:            id,
		Role:          msg.Role,
		From:          "client",
		To:            router.ToAuto,
		Type:          router.TypeTaskRequest,
		Payload:       payload,
		Timestamp:     time.Now(),
		Priority:      router.PriorityNormal,
		CorrelationID: msg.ContextID,
		Metadata:      msg.Metadata,
	}
	if v, ok := msg.Metadata["from"].(string); ok && v != "" {
		out.From = v
	}
	if v, ok := msg.Metadata["to"].(string); ok && v != "" {
		out.To = v
	}
	if v, ok := msg.Metadata["priority"].(string); ok && v != "" {
		out.Priority = router.Priority(v)
	}
	if v, ok := msg.Metadata["type"].(string); ok && v != "" {
		out.Type = router.MessageType(v)
	}
	return out
}

func (s *Server) handleMessageSend(w http.ResponseWriter, r *http.Request, req *a2a.Request) {
	var params a2a.MessageSendParams
	if err := json.Unmarshal(req.Args(), &params); err != nil {
		writeRPCError(w, req.ID, a2a.ErrInvalidParams("bad message/send params: %v", err))
		return
	}
	if err := a2a.ValidateMessage(&params.Message); err != nil {
		rpcErr, _ := a2a.AsError(err)
		writeRPCError(w, req.ID, rpcErr)
		return
	}

	// Addressing failures surface inside the result, not as RPC errors.
	result := s.router.RouteMessage(r.Context(), routableMessage(&params))
	writeRPCResult(w, req.ID, result)
}

// handleMessageStream executes the message as a tracked task and streams
// its events over SSE.
func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request, req *a2a.Request) {
	var params a2a.MessageSendParams
	if err := json.Unmarshal(req.Args(), &params); err != nil {
		writeRPCError(w, req.ID, a2a.ErrInvalidParams("bad message/stream params: %v", err))
		return
	}
	if err := a2a.ValidateMessage(&params.Message); err != nil {
		rpcErr, _ := a2a.AsError(err)
		writeRPCError(w, req.ID, rpcErr)
		return
	}

	created := s.tasks.CreateTask(task.Definition{
		ContextID: params.Message.ContextID,
		Metadata:  params.Message.Metadata,
	})
	events, err := s.tasks.Subscribe(created.ID)
	if err != nil {
		rpcErr, _ := a2a.AsError(err)
		writeRPCError(w, req.ID, rpcErr)
		return
	}

	rc := &task.RequestContext{
		TaskID:    created.ID,
		ContextID: created.ContextID,
		Message:   params.Message,
		Metadata:  params.Message.Metadata,
	}
	if err := s.tasks.Execute(rc, "route", s.routeExecutor(&params)); err != nil {
		rpcErr, _ := a2a.AsError(err)
		writeRPCError(w, req.ID, rpcErr)
		return
	}

	s.streamEvents(w, r.Context(), req.ID, events)
}

// routeExecutor delivers the message through the router and publishes the
// outcome as an artifact.
func (s *Server) routeExecutor(params *a2a.MessageSendParams) task.Executor {
	return task.ExecutorFunc(func(ctx context.Context, rc *task.RequestContext, events task.EventBus) error {
		res := s.router.RouteMessage(ctx, routableMessage(params))
		if !res.Success {
			return fmt.Errorf("routing failed: %s", res.Error)
		}
		data, err := json.Marshal(res)
		if err != nil {
			return err
		}
		events.Publish(&a2a.TaskArtifactUpdateEvent{
			TaskID:    rc.TaskID,
			ContextID: rc.ContextID,
			Kind:      a2a.KindArtifactUpdate,
			Artifact: a2a.Artifact{
				ArtifactID: a2a.NewID(),
				Name:       "route-result",
				Parts:      []a2a.Part{{Kind: a2a.PartKindData, Data: map[string]any{"result": json.RawMessage(data)}}},
			},
			LastChunks: true,
		})
		return nil
	})
}

func (s *Server) handleResubscribe(w http.ResponseWriter, r *http.Request, req *a2a.Request) {
	var params a2a.TaskIDParams
	if err := json.Unmarshal(req.Args(), &params); err != nil {
		writeRPCError(w, req.ID, a2a.ErrInvalidParams("bad tasks/resubscribe params: %v", err))
		return
	}
	events, err := s.tasks.Resubscribe(params.ID)
	if err != nil {
		rpcErr, _ := a2a.AsError(err)
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	s.streamEvents(w, r.Context(), req.ID, events)
}

// streamEvents writes SSE frames: each event as a JSON-RPC success
// response in a `data:` line, terminated by the [DONE] sentinel.
func (s *Server) streamEvents(w http.ResponseWriter, ctx context.Context, id any, events <-chan a2a.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeRPCError(w, id, a2a.ErrInternal("streaming unsupported by connection"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				fmt.Fprintf(w, "data: %s\n\n", StreamDone)
				flusher.Flush()
				return
			}
			resp, err := a2a.NewResponse(id, ev)
			if err != nil {
				s.logger.Error("encoding stream event", "error", err)
				continue
			}
			frame, err := json.Marshal(resp)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}
	}
}

func (s *Server) handleTasksGet(w http.ResponseWriter, req *a2a.Request) {
	var params a2a.TaskQueryParams
	if err := json.Unmarshal(req.Args(), &params); err != nil {
		writeRPCError(w, req.ID, a2a.ErrInvalidParams("bad tasks/get params: %v", err))
		return
	}
	t, err := s.tasks.GetTask(params.ID, params.HistoryLength)
	if err != nil {
		rpcErr, _ := a2a.AsError(err)
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	writeRPCResult(w, req.ID, t)
}

func (s *Server) handleTasksCancel(w http.ResponseWriter, req *a2a.Request) {
	var params a2a.TaskIDParams
	if err := json.Unmarshal(req.Args(), &params); err != nil {
		writeRPCError(w, req.ID, a2a.ErrInvalidParams("bad tasks/cancel params: %v", err))
		return
	}
	t, err := s.tasks.CancelTask(params.ID)
	if err != nil {
		rpcErr, _ := a2a.AsError(err)
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	writeRPCResult(w, req.ID, t)
}

func (s *Server) handlePushConfigSet(w http.ResponseWriter, req *a2a.Request) {
	var params a2a.TaskPushConfig
	if err := json.Unmarshal(req.Args(), &params); err != nil {
		writeRPCError(w, req.ID, a2a.ErrInvalidParams("bad push config params: %v", err))
		return
	}
	cfg, err := s.tasks.SetPushConfig(params.TaskID, params.Config)
	if err != nil {
		rpcErr, _ := a2a.AsError(err)
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	writeRPCResult(w, req.ID, cfg)
}

func (s *Server) handlePushConfigGet(w http.ResponseWriter, req *a2a.Request) {
	var params struct {
		TaskID   string `json:"taskId"`
		ID       string `json:"id,omitempty"`
		ConfigID string `json:"pushNotificationConfigId,omitempty"`
	}
	if err := json.Unmarshal(req.Args(), &params); err != nil {
		writeRPCError(w, req.ID, a2a.ErrInvalidParams("bad push config params: %v", err))
		return
	}
	configID := params.ConfigID
	if configID == "" {
		configID = params.ID
	}
	cfg, err := s.tasks.GetPushConfig(params.TaskID, configID)
	if err != nil {
		rpcErr, _ := a2a.AsError(err)
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	writeRPCResult(w, req.ID, cfg)
}

func (s *Server) handlePushConfigList(w http.ResponseWriter, req *a2a.Request) {
	var params struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(req.Args(), &params); err != nil {
		writeRPCError(w, req.ID, a2a.ErrInvalidParams("bad push config params: %v", err))
		return
	}
	list, err := s.tasks.ListPushConfigs(params.TaskID)
	if err != nil {
		rpcErr, _ := a2a.AsError(err)
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	writeRPCResult(w, req.ID, list)
}

func (s *Server) handlePushConfigDelete(w http.ResponseWriter, req *a2a.Request) {
	var params struct {
		TaskID   string `json:"taskId"`
		ConfigID string `json:"pushNotificationConfigId,omitempty"`
	}
	if err := json.Unmarshal(req.Args(), &params); err != nil {
		writeRPCError(w, req.ID, a2a.ErrInvalidParams("bad push config params: %v", err))
		return
	}
	if err := s.tasks.DeletePushConfig(params.TaskID, params.ConfigID); err != nil {
		rpcErr, _ := a2a.AsError(err)
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	writeRPCResult(w, req.ID, map[string]any{"deleted": true})
}

func (s *Server) handleExtendedCard(w http.ResponseWriter, r *http.Request, req *a2a.Request) {
	if s.validator != nil {
		if err := s.validator(r); err != nil {
			writeRPCError(w, req.ID, a2a.ErrAuthorizationFailed())
			return
		}
	}
	if s.extendedCard == nil {
		writeRPCError(w, req.ID, a2a.ErrExtendedCardNotConfigured())
		return
	}
	writeRPCResult(w, req.ID, s.extendedCard)
}

func writeRPCResult(w http.ResponseWriter, id any, result any) {
	resp, err := a2a.NewResponse(id, result)
	if err != nil {
		writeRPCError(w, id, a2a.ErrInternal("encoding response: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeRPCError(w http.ResponseWriter, id any, rpcErr *a2a.Error) {
	if rpcErr == nil {
		rpcErr = a2a.ErrInternal("unknown error")
	}
	writeJSON(w, http.StatusOK, a2a.NewErrorResponse(id, rpcErr))
}
