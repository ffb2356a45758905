package a2a

import (
	"strings"
	"time"
)

// NewTextMessage builds a single text-part message.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{
		Kind:      KindMessage,
		MessageID: NewID(),
		Role:      role,
		Parts:     []Part{{Kind: PartKindText, Text: text}},
	}
}

// NewDataMessage builds a single data-part message wrapping a payload.
func NewDataMessage(role MessageRole, data map[string]any) Message {
	return Message{
		Kind:      KindMessage,
		MessageID: NewID(),
		Role:      role,
		Parts:     []Part{{Kind: PartKindData, Data: data}},
	}
}

// NewTask builds a task in the submitted state.
func NewTask(contextID string) *Task {
	now := time.Now()
	return &Task{
		ID:        NewID(),
		ContextID: contextID,
		Kind:      KindTask,
		Status: TaskStatus{
			State:     TaskStateSubmitted,
			Timestamp: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ExtractText concatenates the text parts of a message.
func ExtractText(m *Message) string {
	if m == nil {
		return ""
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Kind == PartKindText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ExtractData returns the first data part of a message, if any.
func ExtractData(m *Message) (map[string]any, bool) {
	if m == nil {
		return nil, false
	}
	for _, p := range m.Parts {
		if p.Kind == PartKindData && p.Data != nil {
			return p.Data, true
		}
	}
	return nil, false
}

// TrimHistory limits a task's history to the last n messages. n <= 0 leaves
// the history untouched.
func TrimHistory(t *Task, n int) *Task {
	if t == nil || n <= 0 || len(t.History) <= n {
		return t
	}
	trimmed := *t
	trimmed.History = t.History[len(t.History)-n:]
	return &trimmed
}
