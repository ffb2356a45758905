// Package task owns the task lifecycle: creation, the state machine,
// executor dispatch, cooperative cancellation, streamed events and
// push-notification configuration.
package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentfabric/fabric/pkg/a2a"
	"github.com/agentfabric/fabric/pkg/observability"
	"github.com/agentfabric/fabric/pkg/profile"
)

// RequestContext carries everything an executor needs about one request.
type RequestContext struct {
	TaskID       string
	ContextID    string
	Message      a2a.Message
	Capability   *profile.Capability
	Metadata     map[string]any
	ExistingTask *a2a.Task
	AgentID      string
}

// EventBus is the executor's event surface for one task.
type EventBus interface {
	// Publish emits a streamed event. Events after a final status update are
	// discarded.
	Publish(event a2a.Event)
	// Finished marks the task completed and emits the final status event.
	Finished()
	// Error marks the task failed and emits the final status event.
	Error(err error)
}

// Executor runs the work behind one task. Execute must honor ctx
// cancellation; a cancelled ctx means the task was aborted.
type Executor interface {
	Execute(ctx context.Context, rc *RequestContext, events EventBus) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, rc *RequestContext, events EventBus) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, rc *RequestContext, events EventBus) error {
	return f(ctx, rc, events)
}

// Definition describes a task to create.
type Definition struct {
	ContextID string         `json:"contextId,omitempty"`
	AgentID   string         `json:"agentId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// runningTask tracks an in-flight execution.
type runningTask struct {
	cancel context.CancelFunc
	timer  *time.Timer
}

// Manager owns all task records. Records never leave the manager by
// reference; getters return copies.
type Manager struct {
	mu          sync.Mutex
	tasks       map[string]*a2a.Task
	running     map[string]*runningTask
	events      map[string][]a2a.Event
	finals      map[string]bool
	subscribers map[string][]chan a2a.Event
	pushConfigs map[string]map[string]a2a.PushNotificationConfig
	execMetrics map[string]*ExecutorMetrics

	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(om *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = om }
}

// NewManager creates an empty task manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		tasks:       make(map[string]*a2a.Task),
		running:     make(map[string]*runningTask),
		events:      make(map[string][]a2a.Event),
		finals:      make(map[string]bool),
		subscribers: make(map[string][]chan a2a.Event),
		pushConfigs: make(map[string]map[string]a2a.PushNotificationConfig),
		execMetrics: make(map[string]*ExecutorMetrics),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateTask creates a task in the submitted state and publishes its
// initial status event.
func (m *Manager) CreateTask(def Definition) *a2a.Task {
	now := time.Now()
	t := &a2a.Task{
		ID:        uuid.NewString(),
		ContextID: def.ContextID,
		Kind:      a2a.KindTask,
		Status: a2a.TaskStatus{
			State:     a2a.TaskStateSubmitted,
			Timestamp: now,
		},
		CreatedAt:  now,
		UpdatedAt:  now,
		ExecutedBy: def.AgentID,
		Metadata:   def.Metadata,
	}
	if t.ContextID == "" {
		t.ContextID = uuid.NewString()
	}

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()

	m.publish(t.ID, &a2a.TaskStatusUpdateEvent{
		TaskID:    t.ID,
		ContextID: t.ContextID,
		Kind:      a2a.KindStatusUpdate,
		Status:    t.Status,
	})
	return copyTask(t)
}

// GetTask returns a copy of a task. A positive historyLength trims the
// message history to its most recent entries.
func (m *Manager) GetTask(taskID string, historyLength int) (*a2a.Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return nil, a2a.ErrTaskNotFound(taskID)
	}
	cp := copyTask(t)
	if historyLength > 0 {
		cp = a2a.TrimHistory(cp, historyLength)
	}
	return cp, nil
}

// ListTasks returns copies of every known task.
func (m *Manager) ListTasks() []*a2a.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*a2a.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, copyTask(t))
	}
	return out
}

// SetState transitions a task, enforcing the state machine. An illegal
// transition is an error and leaves the task untouched.
func (m *Manager) SetState(taskID string, state a2a.TaskState, statusMsg *a2a.Message) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return a2a.ErrTaskNotFound(taskID)
	}
	if !t.Status.State.CanTransitionTo(state) {
		from := t.Status.State
		m.mu.Unlock()
		return a2a.ErrInvalidParams("illegal task transition %s -> %s", from, state)
	}
	t.Status = a2a.TaskStatus{State: state, Message: statusMsg, Timestamp: time.Now()}
	t.UpdatedAt = t.Status.Timestamp
	ev := &a2a.TaskStatusUpdateEvent{
		TaskID:    t.ID,
		ContextID: t.ContextID,
		Kind:      a2a.KindStatusUpdate,
		Status:    t.Status,
		Final:     state.IsTerminal(),
	}
	m.mu.Unlock()

	m.publish(taskID, ev)
	return nil
}

// Execute runs an executor for a task. The task must be in submitted state;
// it moves to in-progress before the executor starts. A `timeout` entry in
// the request metadata (milliseconds) arms a one-shot cancellation timer.
// Execute returns immediately; progress flows through the event stream.
func (m *Manager) Execute(rc *RequestContext, executorName string, executor Executor) error {
	if err := m.SetState(rc.TaskID, a2a.TaskStateInProgress, nil); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt := &runningTask{cancel: cancel}
	if ms, ok := timeoutMillis(rc.Metadata); ok {
		rt.timer = time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
			_, _ = m.CancelTask(rc.TaskID)
		})
	}

	m.mu.Lock()
	m.running[rc.TaskID] = rt
	m.mu.Unlock()

	start := time.Now()
	go func() {
		bus := &taskBus{m: m, taskID: rc.TaskID, agentID: rc.AgentID, started: start}
		err := executor.Execute(ctx, rc, bus)

		m.mu.Lock()
		if t := m.running[rc.TaskID]; t != nil && t.timer != nil {
			t.timer.Stop()
		}
		delete(m.running, rc.TaskID)
		m.mu.Unlock()

		elapsed := time.Since(start)
		switch {
		case ctx.Err() != nil:
			// Cancellation already finalized the task.
			m.recordExecution(executorName, elapsed, executionCancelled)
		case err != nil:
			bus.Error(err)
			m.recordExecution(executorName, elapsed, executionFailed)
		case !bus.finished():
			bus.Finished()
			m.recordExecution(executorName, elapsed, executionSucceeded)
		default:
			m.recordExecution(executorName, elapsed, executionSucceeded)
		}
	}()
	return nil
}

// CancelTask aborts a task. Terminal tasks are not cancelable; unknown
// tasks are not found.
func (m *Manager) CancelTask(taskID string) (*a2a.Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, a2a.ErrTaskNotFound(taskID)
	}
	if t.Status.State.IsTerminal() {
		m.mu.Unlock()
		return nil, a2a.ErrTaskNotCancelable(taskID)
	}

	if rt := m.running[taskID]; rt != nil {
		if rt.timer != nil {
			rt.timer.Stop()
		}
		rt.cancel()
		delete(m.running, taskID)
	}

	now := time.Now()
	t.Status = a2a.TaskStatus{State: a2a.TaskStateCancelled, Timestamp: now}
	t.UpdatedAt = now
	t.Results = &a2a.TaskResult{
		TaskID:        taskID,
		Success:       false,
		Error:         "Task was cancelled",
		ExecutedBy:    t.ExecutedBy,
		ExecutionTime: now.Sub(t.CreatedAt).Milliseconds(),
		Timestamp:     now,
	}
	ev := &a2a.TaskStatusUpdateEvent{
		TaskID:    t.ID,
		ContextID: t.ContextID,
		Kind:      a2a.KindStatusUpdate,
		Status:    t.Status,
		Final:     true,
	}
	cp := copyTask(t)
	m.mu.Unlock()

	m.publish(taskID, ev)
	m.metrics.ObserveTask(string(a2a.TaskStateCancelled), now.Sub(cp.CreatedAt).Seconds())
	return cp, nil
}

// Subscribe returns a channel that replays the task's buffered events and
// then delivers live ones. The channel closes after the final event.
func (m *Manager) Subscribe(taskID string) (<-chan a2a.Event, error) {
	m.mu.Lock()
	if _, ok := m.tasks[taskID]; !ok {
		m.mu.Unlock()
		return nil, a2a.ErrTaskNotFound(taskID)
	}
	buffered := append([]a2a.Event(nil), m.events[taskID]...)
	done := m.finals[taskID]

	ch := make(chan a2a.Event, len(buffered)+32)
	for _, ev := range buffered {
		ch <- ev
	}
	if done {
		close(ch)
	} else {
		m.subscribers[taskID] = append(m.subscribers[taskID], ch)
	}
	m.mu.Unlock()
	return ch, nil
}

// Resubscribe reopens the event stream for a task. Identical to Subscribe;
// kept as the tasks/resubscribe entry point.
func (m *Manager) Resubscribe(taskID string) (<-chan a2a.Event, error) {
	return m.Subscribe(taskID)
}

// publish appends an event to the task's buffer and fans it out. Events
// after a final status update are discarded.
func (m *Manager) publish(taskID string, ev a2a.Event) {
	m.mu.Lock()
	if m.finals[taskID] {
		m.mu.Unlock()
		m.logger.Debug("event after final discarded", "task", taskID, "kind", ev.EventKind())
		return
	}

	// Artifact events mutate the task record before fan-out.
	if art, ok := ev.(*a2a.TaskArtifactUpdateEvent); ok {
		if t := m.tasks[taskID]; t != nil {
			applyArtifact(t, art)
		}
	}

	m.events[taskID] = append(m.events[taskID], ev)
	subs := m.subscribers[taskID]

	final := false
	if st, ok := ev.(*a2a.TaskStatusUpdateEvent); ok && st.Final {
		final = true
		m.finals[taskID] = true
		delete(m.subscribers, taskID)
	}
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			m.logger.Warn("task subscriber lagging, event dropped", "task", taskID)
		}
		if final {
			close(ch)
		}
	}
}

// applyArtifact folds an artifact event into the task record. Append merges
// parts into an existing artifact with the same id; otherwise the artifact
// is replaced or added.
func applyArtifact(t *a2a.Task, ev *a2a.TaskArtifactUpdateEvent) {
	for i := range t.Artifacts {
		if t.Artifacts[i].ArtifactID != ev.Artifact.ArtifactID {
			continue
		}
		if ev.Append {
			t.Artifacts[i].Parts = append(t.Artifacts[i].Parts, ev.Artifact.Parts...)
		} else {
			t.Artifacts[i] = ev.Artifact
		}
		t.UpdatedAt = time.Now()
		return
	}
	t.Artifacts = append(t.Artifacts, ev.Artifact)
	t.UpdatedAt = time.Now()
}

// taskBus implements EventBus for one execution.
type taskBus struct {
	m       *Manager
	taskID  string
	agentID string
	started time.Time

	mu   sync.Mutex
	done bool
}

func (b *taskBus) Publish(event a2a.Event) {
	b.m.publish(b.taskID, event)
}

func (b *taskBus) Finished() {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.done = true
	b.mu.Unlock()
	b.m.finalize(b.taskID, a2a.TaskStateCompleted, "", b.started)
}

func (b *taskBus) Error(err error) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.done = true
	b.mu.Unlock()
	msg := "execution failed"
	if err != nil {
		msg = err.Error()
	}
	b.m.finalize(b.taskID, a2a.TaskStateFailed, msg, b.started)
}

func (b *taskBus) finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// finalize moves a task to a terminal state and emits the final event.
func (m *Manager) finalize(taskID string, state a2a.TaskState, errMsg string, started time.Time) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok || t.Status.State.IsTerminal() {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	t.Status = a2a.TaskStatus{State: state, Timestamp: now}
	t.UpdatedAt = now
	t.Results = &a2a.TaskResult{
		TaskID:        taskID,
		Success:       state == a2a.TaskStateCompleted,
		Error:         errMsg,
		ExecutedBy:    t.ExecutedBy,
		ExecutionTime: now.Sub(started).Milliseconds(),
		Timestamp:     now,
		Artifacts:     append([]a2a.Artifact(nil), t.Artifacts...),
	}
	ev := &a2a.TaskStatusUpdateEvent{
		TaskID:    t.ID,
		ContextID: t.ContextID,
		Kind:      a2a.KindStatusUpdate,
		Status:    t.Status,
		Final:     true,
	}
	if errMsg != "" {
		ev.Metadata = map[string]any{"error": errMsg}
	}
	m.mu.Unlock()

	m.publish(taskID, ev)
	m.metrics.ObserveTask(string(state), now.Sub(started).Seconds())
}

// timeoutMillis extracts a numeric `timeout` from request metadata.
func timeoutMillis(md map[string]any) (int64, bool) {
	if md == nil {
		return 0, false
	}
	switch v := md["timeout"].(type) {
	case int:
		return int64(v), v > 0
	case int64:
		return v, v > 0
	case float64:
		return int64(v), v > 0
	case time.Duration:
		return v.Milliseconds(), v > 0
	}
	return 0, false
}

func copyTask(t *a2a.Task) *a2a.Task {
	cp := *t
	cp.History = append([]a2a.Message(nil), t.History...)
	cp.Artifacts = append([]a2a.Artifact(nil), t.Artifacts...)
	if t.Results != nil {
		res := *t.Results
		cp.Results = &res
	}
	return &cp
}
