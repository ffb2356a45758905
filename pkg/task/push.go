package task

import (
	"github.com/google/uuid"

	"github.com/agentfabric/fabric/pkg/a2a"
)

// Push-notification configurations are stored per task. The manager only
// maintains the table; delivering to the configured endpoints is the
// caller's concern.

// SetPushConfig stores a push configuration for a task. A config without an
// id is assigned one.
func (m *Manager) SetPushConfig(taskID string, cfg a2a.PushNotificationConfig) (*a2a.TaskPushConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return nil, a2a.ErrTaskNotFound(taskID)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	configs := m.pushConfigs[taskID]
	if configs == nil {
		configs = make(map[string]a2a.PushNotificationConfig)
		m.pushConfigs[taskID] = configs
	}
	configs[cfg.ID] = cfg
	return &a2a.TaskPushConfig{TaskID: taskID, Config: cfg}, nil
}

// GetPushConfig returns one push configuration for a task. With an empty
// configID it returns the sole configuration if exactly one exists.
func (m *Manager) GetPushConfig(taskID, configID string) (*a2a.TaskPushConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return nil, a2a.ErrTaskNotFound(taskID)
	}
	configs := m.pushConfigs[taskID]
	if configID == "" && len(configs) == 1 {
		for _, cfg := range configs {
			return &a2a.TaskPushConfig{TaskID: taskID, Config: cfg}, nil
		}
	}
	cfg, ok := configs[configID]
	if !ok {
		return nil, a2a.ErrInvalidParams("no push configuration %q for task %s", configID, taskID)
	}
	return &a2a.TaskPushConfig{TaskID: taskID, Config: cfg}, nil
}

// ListPushConfigs returns all push configurations for a task.
func (m *Manager) ListPushConfigs(taskID string) ([]a2a.TaskPushConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return nil, a2a.ErrTaskNotFound(taskID)
	}
	out := make([]a2a.TaskPushConfig, 0, len(m.pushConfigs[taskID]))
	for _, cfg := range m.pushConfigs[taskID] {
		out = append(out, a2a.TaskPushConfig{TaskID: taskID, Config: cfg})
	}
	return out, nil
}

// DeletePushConfig removes one push configuration. Idempotent for unknown
// config ids.
func (m *Manager) DeletePushConfig(taskID, configID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return a2a.ErrTaskNotFound(taskID)
	}
	delete(m.pushConfigs[taskID], configID)
	return nil
}
