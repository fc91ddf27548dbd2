package events

import (
	"context"
	"sync"

	"github.com/haasonsaas/nexushub/internal/faults"
)

// Memory keeps events in process. It applies the same sanitization as the
// Postgres logger.
type Memory struct {
	mu        sync.Mutex
	events    []Event
	toolCalls []ToolCall
}

// NewMemory creates an empty in-memory logger.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) LogEvent(_ context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *Memory) LogToolCall(_ context.Context, call *ToolCall) error {
	if call == nil {
		return nil
	}
	stored := *call
	stored.Error = faults.SanitizeMessage(call.Error)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCalls = append(m.toolCalls, stored)
	return nil
}

// Events returns a copy of the recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// ToolCalls returns a copy of the recorded tool calls.
func (m *Memory) ToolCalls() []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ToolCall(nil), m.toolCalls...)
}

// Types returns the recorded event types in order.
func (m *Memory) Types() []Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Type, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Type
	}
	return out
}
