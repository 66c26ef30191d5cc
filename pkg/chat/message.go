package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Attachment references an image belonging to a message. Path is the opaque
// reference handed over by the persistence layer; Data and MediaType are only
// populated when a turn is composed for a backend.
type Attachment struct {
	Path      string `json:"path"`
	MediaType string `json:"media_type,omitempty"`
	Data      []byte `json:"-"`
}

// Message is a single conversational turn. Messages are treated as immutable
// once appended to a conversation.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	// ToolCallID correlates a tool-role message with the tool call that
	// produced it. Providers require the echo to match exactly.
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// ToolCall captures a capability invocation requested by an assistant message.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Clone returns a deep copy so callers can hold snapshots safely.
func (m Message) Clone() Message {
	dup := m
	if len(m.Attachments) > 0 {
		dup.Attachments = make([]Attachment, len(m.Attachments))
		copy(dup.Attachments, m.Attachments)
		for i := range dup.Attachments {
			if data := m.Attachments[i].Data; len(data) > 0 {
				dup.Attachments[i].Data = append([]byte(nil), data...)
			}
		}
	}
	if len(m.ToolCalls) > 0 {
		dup.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, call := range m.ToolCalls {
			dup.ToolCalls[i] = call.Clone()
		}
	}
	return dup
}

// Clone returns a copy with its own argument map.
func (c ToolCall) Clone() ToolCall {
	dup := c
	if len(c.Arguments) > 0 {
		dup.Arguments = make(map[string]any, len(c.Arguments))
		for k, v := range c.Arguments {
			dup.Arguments[k] = v
		}
	}
	return dup
}

// NewToolResult builds the tool-role message that answers a tool call.
func NewToolResult(callID, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		Timestamp:  time.Now().UTC(),
	}
}
