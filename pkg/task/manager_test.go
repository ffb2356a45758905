package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/fabric/pkg/a2a"
	"github.com/agentfabric/fabric/pkg/profile"
)

func collectEvents(t *testing.T, ch <-chan a2a.Event, want int) []a2a.Event {
	t.Helper()
	var out []a2a.Event
	deadline := time.After(2 * time.Second)
	for len(out) < want {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(out), want)
		}
	}
	return out
}

func TestCreateTaskPublishesSubmitted(t *testing.T) {
	m := NewManager()
	task := m.CreateTask(Definition{AgentID: "agent-1"})

	assert.NotEmpty(t, task.ID)
	assert.NotEmpty(t, task.ContextID)
	assert.Equal(t, a2a.TaskStateSubmitted, task.Status.State)

	ch, err := m.Subscribe(task.ID)
	require.NoError(t, err)
	evs := collectEvents(t, ch, 1)
	st, ok := evs[0].(*a2a.TaskStatusUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, a2a.TaskStateSubmitted, st.Status.State)
	assert.False(t, st.Final)
}

func TestIllegalTransitionRejected(t *testing.T) {
	m := NewManager()
	task := m.CreateTask(Definition{})

	// submitted -> completed skips in-progress.
	err := m.SetState(task.ID, a2a.TaskStateCompleted, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal task transition")

	got, err := m.GetTask(task.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateSubmitted, got.Status.State)
}

func TestExecuteCompletes(t *testing.T) {
	m := NewManager()
	task := m.CreateTask(Definition{AgentID: "agent-1"})
	ch, err := m.Subscribe(task.ID)
	require.NoError(t, err)

	err = m.Execute(&RequestContext{TaskID: task.ID, ContextID: task.ContextID}, "echo",
		ExecutorFunc(func(ctx context.Context, rc *RequestContext, events EventBus) error {
			events.Publish(&a2a.TaskArtifactUpdateEvent{
				TaskID:   rc.TaskID,
				Kind:     a2a.KindArtifactUpdate,
				Artifact: a2a.Artifact{ArtifactID: "a-1", Parts: []a2a.Part{{Kind: a2a.PartKindText, Text: "hi"}}},
			})
			return nil
		}))
	require.NoError(t, err)

	// submitted, in-progress, artifact, final completed.
	evs := collectEvents(t, ch, 4)
	last, ok := evs[3].(*a2a.TaskStatusUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, a2a.TaskStateCompleted, last.Status.State)
	assert.True(t, last.Final)

	got, err := m.GetTask(task.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, got.Results)
	assert.True(t, got.Results.Success)
	require.Len(t, got.Artifacts, 1)

	em, ok := m.GetExecutorMetrics("echo")
	require.True(t, ok)
	assert.Equal(t, int64(1), em.TotalExecutions)
	assert.Equal(t, int64(1), em.SuccessfulExecutions)
}

func TestExecuteFailurePreservesError(t *testing.T) {
	m := NewManager()
	task := m.CreateTask(Definition{})
	ch, err := m.Subscribe(task.ID)
	require.NoError(t, err)

	err = m.Execute(&RequestContext{TaskID: task.ID}, "boom",
		ExecutorFunc(func(ctx context.Context, rc *RequestContext, events EventBus) error {
			return errors.New("model exploded")
		}))
	require.NoError(t, err)

	evs := collectEvents(t, ch, 3)
	last := evs[2].(*a2a.TaskStatusUpdateEvent)
	assert.Equal(t, a2a.TaskStateFailed, last.Status.State)
	assert.True(t, last.Final)
	assert.Equal(t, "model exploded", last.Metadata["error"])

	got, _ := m.GetTask(task.ID, 0)
	assert.False(t, got.Results.Success)
	assert.Equal(t, "model exploded", got.Results.Error)
}

func TestCancelRunningTask(t *testing.T) {
	m := NewManager()
	task := m.CreateTask(Definition{})
	ch, err := m.Subscribe(task.ID)
	require.NoError(t, err)

	started := make(chan struct{})
	err = m.Execute(&RequestContext{TaskID: task.ID}, "sleeper",
		ExecutorFunc(func(ctx context.Context, rc *RequestContext, events EventBus) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}))
	require.NoError(t, err)
	<-started

	cancelled, err := m.CancelTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCancelled, cancelled.Status.State)
	require.NotNil(t, cancelled.Results)
	assert.False(t, cancelled.Results.Success)
	assert.Equal(t, "Task was cancelled", cancelled.Results.Error)

	// submitted, in-progress, final cancelled, then the channel closes.
	evs := collectEvents(t, ch, 3)
	last := evs[2].(*a2a.TaskStatusUpdateEvent)
	assert.Equal(t, a2a.TaskStateCancelled, last.Status.State)
	assert.True(t, last.Final)
	_, open := <-ch
	assert.False(t, open)
}

func TestCancelErrors(t *testing.T) {
	m := NewManager()

	_, err := m.CancelTask("nope")
	var fe *a2a.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, a2a.KindTaskNotFound, fe.Kind)

	task := m.CreateTask(Definition{})
	_, err = m.CancelTask(task.ID)
	require.NoError(t, err)

	// Terminal tasks are not cancelable, and the error says so.
	_, err = m.CancelTask(task.ID)
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, a2a.KindTaskNotCancelable, fe.Kind)
}

func TestTimeoutCancels(t *testing.T) {
	m := NewManager()
	task := m.CreateTask(Definition{})

	err := m.Execute(
		&RequestContext{TaskID: task.ID, Metadata: map[string]any{"timeout": 30}},
		"sleeper",
		ExecutorFunc(func(ctx context.Context, rc *RequestContext, events EventBus) error {
			<-ctx.Done()
			return ctx.Err()
		}))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got, err := m.GetTask(task.ID, 0)
		return err == nil && got.Status.State == a2a.TaskStateCancelled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNoEventsAfterFinal(t *testing.T) {
	m := NewManager()
	task := m.CreateTask(Definition{})
	require.NoError(t, m.SetState(task.ID, a2a.TaskStateInProgress, nil))
	require.NoError(t, m.SetState(task.ID, a2a.TaskStateCompleted, nil))

	// Publishing after final is silently discarded.
	m.publish(task.ID, &a2a.TaskArtifactUpdateEvent{
		TaskID:   task.ID,
		Kind:     a2a.KindArtifactUpdate,
		Artifact: a2a.Artifact{ArtifactID: "late"},
	})

	ch, err := m.Subscribe(task.ID)
	require.NoError(t, err)
	var kinds []string
	for ev := range ch {
		kinds = append(kinds, ev.EventKind())
	}
	assert.Equal(t, []string{a2a.KindStatusUpdate, a2a.KindStatusUpdate, a2a.KindStatusUpdate}, kinds)

	got, _ := m.GetTask(task.ID, 0)
	assert.Empty(t, got.Artifacts)
}

func TestArtifactAppendMerges(t *testing.T) {
	m := NewManager()
	task := m.CreateTask(Definition{})
	require.NoError(t, m.SetState(task.ID, a2a.TaskStateInProgress, nil))

	m.publish(task.ID, &a2a.TaskArtifactUpdateEvent{
		TaskID:   task.ID,
		Kind:     a2a.KindArtifactUpdate,
		Artifact: a2a.Artifact{ArtifactID: "a-1", Parts: []a2a.Part{{Kind: a2a.PartKindText, Text: "one "}}},
	})
	m.publish(task.ID, &a2a.TaskArtifactUpdateEvent{
		TaskID:     task.ID,
		Kind:       a2a.KindArtifactUpdate,
		Artifact:   a2a.Artifact{ArtifactID: "a-1", Parts: []a2a.Part{{Kind: a2a.PartKindText, Text: "two"}}},
		Append:     true,
		LastChunks: true,
	})

	got, _ := m.GetTask(task.ID, 0)
	require.Len(t, got.Artifacts, 1)
	require.Len(t, got.Artifacts[0].Parts, 2)
	assert.Equal(t, "one ", got.Artifacts[0].Parts[0].Text)
	assert.Equal(t, "two", got.Artifacts[0].Parts[1].Text)
}

func TestResubscribeReplays(t *testing.T) {
	m := NewManager()
	task := m.CreateTask(Definition{})
	require.NoError(t, m.SetState(task.ID, a2a.TaskStateInProgress, nil))

	ch, err := m.Resubscribe(task.ID)
	require.NoError(t, err)
	evs := collectEvents(t, ch, 2)
	first := evs[0].(*a2a.TaskStatusUpdateEvent)
	second := evs[1].(*a2a.TaskStatusUpdateEvent)
	assert.Equal(t, a2a.TaskStateSubmitted, first.Status.State)
	assert.Equal(t, a2a.TaskStateInProgress, second.Status.State)

	// Live events continue on the same channel.
	require.NoError(t, m.SetState(task.ID, a2a.TaskStateCompleted, nil))
	evs = collectEvents(t, ch, 1)
	assert.True(t, evs[0].(*a2a.TaskStatusUpdateEvent).Final)
}

func TestGetTaskHistoryTrim(t *testing.T) {
	m := NewManager()
	task := m.CreateTask(Definition{})
	m.mu.Lock()
	for i := 0; i < 5; i++ {
		m.tasks[task.ID].History = append(m.tasks[task.ID].History,
			a2a.NewTextMessage(a2a.MessageRoleUser, "msg"))
	}
	m.mu.Unlock()

	got, err := m.GetTask(task.ID, 2)
	require.NoError(t, err)
	assert.Len(t, got.History, 2)

	got, err = m.GetTask(task.ID, 0)
	require.NoError(t, err)
	assert.Len(t, got.History, 5)
}

func TestPushConfigCRUD(t *testing.T) {
	m := NewManager()
	task := m.CreateTask(Definition{})

	set, err := m.SetPushConfig(task.ID, a2a.PushNotificationConfig{URL: "https://hooks.example/1"})
	require.NoError(t, err)
	require.NotEmpty(t, set.Config.ID)

	got, err := m.GetPushConfig(task.ID, set.Config.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example/1", got.Config.URL)

	// Single config is reachable without an id.
	got, err = m.GetPushConfig(task.ID, "")
	require.NoError(t, err)
	assert.Equal(t, set.Config.ID, got.Config.ID)

	list, err := m.ListPushConfigs(task.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, m.DeletePushConfig(task.ID, set.Config.ID))
	list, err = m.ListPushConfigs(task.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = m.SetPushConfig("missing", a2a.PushNotificationConfig{URL: "x"})
	assert.Error(t, err)
}

func TestDefaultCreationPolicy(t *testing.T) {
	tests := []struct {
		name string
		rc   *RequestContext
		want bool
	}{
		{"nil", nil, false},
		{"cheap analysis", &RequestContext{
			Capability: &profile.Capability{Cost: 10, Category: profile.CategoryAnalysis},
		}, false},
		{"expensive", &RequestContext{
			Capability: &profile.Capability{Cost: 80},
		}, true},
		{"action", &RequestContext{
			Capability: &profile.Capability{Category: profile.CategoryAction},
		}, true},
		{"streaming requested", &RequestContext{
			Metadata: map[string]any{"streaming": true},
		}, true},
		{"task requested", &RequestContext{
			Metadata: map[string]any{"createTask": true},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultCreationPolicy(tt.rc))
		})
	}
}
