// Package chat defines the structured chat values exchanged across the
// bridge: messages, tool calls, tool definitions and chat requests.
package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolCall is a request, embedded in a message, to invoke a named tool.
// Arguments holds the raw JSON value exactly as it appeared in the source.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	ID        string          `json:"id"`
}

// Message is a single chat turn.
//
// ToolCalls is never serialized as null, and ToolPlan serializes as null when
// the format carried no planning segment.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls"`
	ToolPlan   *string    `json:"tool_plan"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// NewAssistantMessage returns an assistant message with an empty tool call list.
func NewAssistantMessage(content string) *Message {
	return &Message{
		Role:      RoleAssistant,
		Content:   content,
		ToolCalls: []ToolCall{},
	}
}

// SetToolPlan records the planning text of a message.
func (m *Message) SetToolPlan(plan string) {
	m.ToolPlan = &plan
}

// MarshalJSON emits the canonical key order role, content, tool_calls, tool_plan.
// Tool call arguments are re-encoded compactly by encoding/json: whitespace
// between tokens is dropped while key order and string contents are kept,
// so the output is not byte-identical to the arguments the model produced.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	p := plain(m)
	p.ToolCalls = make([]ToolCall, len(m.ToolCalls))
	copy(p.ToolCalls, m.ToolCalls)
	for i, tc := range p.ToolCalls {
		if len(tc.Arguments) == 0 {
			p.ToolCalls[i].Arguments = json.RawMessage("{}")
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Encode returns the canonical text form of the message. Markup such as
// "<tool_call>" is written as-is rather than HTML-escaped.
func (m *Message) Encode() (string, error) {
	data, err := m.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return string(data), nil
}

// AssignIDs gives every tool call without an id one produced by next.
// Ids that came from the model are left untouched.
func (m *Message) AssignIDs(next func() string) {
	for i := range m.ToolCalls {
		if m.ToolCalls[i].ID == "" {
			m.ToolCalls[i].ID = next()
		}
	}
}
