package llm

import (
	"time"
)

//----------------------------------------------------------------
// Message - one entry of the conversation log
//----------------------------------------------------------------

// Message is a single conversation entry. The Role tags the variant:
//   - "user":      Content
//   - "assistant": Content and optionally ToolCalls
//   - "tool":      ToolCallID and Content (the tool output or failure text)
//   - "system":    Content
//
// Entries are replayed to the backend verbatim and in order.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool entry to the assistant call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolName is kept for providers that address results by function name (Gemini, Ollama).
	ToolName string `json:"tool_name,omitempty"`

	Timestamp int64 `json:"timestamp,omitempty"`
}

// ToolCall is a complete function-call request produced by one backend turn.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Arguments is an opaque structured value: usually map[string]any, but a
	// non-streaming backend may hand over the JSON-encoded string unchanged.
	Arguments any `json:"arguments"`
}

// ArgumentsJSON renders the arguments as the JSON text wire formats expect.
// String arguments are assumed to be JSON already and are returned as-is.
func (tc ToolCall) ArgumentsJSON() string {
	switch v := tc.Arguments.(type) {
	case nil:
		return "{}"
	case string:
		if v == "" {
			return "{}"
		}
		return v
	case []byte:
		return string(v)
	}
	b, err := json.Marshal(tc.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ArgumentsMap decodes the arguments into an object, returning an empty map
// when they are missing or not an object.
func (tc ToolCall) ArgumentsMap() map[string]any {
	if m, ok := tc.Arguments.(map[string]any); ok {
		return m
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(tc.ArgumentsJSON()), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// ToolDefinition is the model-facing description of a registered tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

//----------------------------------------------------------------
// Helper Functions - Message
//----------------------------------------------------------------

// NewTextMessage creates a plain text entry
func NewTextMessage(role, text string) Message {
	return Message{
		Role:      role,
		Content:   text,
		Timestamp: time.Now().Unix(),
	}
}

// NewSystemMessage creates a system entry
func NewSystemMessage(text string) Message {
	return NewTextMessage(RoleSystem, text)
}

// NewUserMessage creates a user entry
func NewUserMessage(text string) Message {
	return NewTextMessage(RoleUser, text)
}

// NewAssistantMessage creates an assistant entry carrying the tool calls of its turn.
func NewAssistantMessage(text string, calls []ToolCall) Message {
	msg := NewTextMessage(RoleAssistant, text)
	if len(calls) > 0 {
		msg.ToolCalls = append([]ToolCall(nil), calls...)
	}
	return msg
}

// NewToolMessage creates a tool result entry
func NewToolMessage(callID, toolName, text string) Message {
	msg := NewTextMessage(RoleTool, text)
	msg.ToolCallID = callID
	msg.ToolName = toolName
	return msg
}

// HasSystemMessage reports whether any entry has the system role.
func HasSystemMessage(messages []Message) bool {
	for _, m := range messages {
		if m.Role == RoleSystem {
			return true
		}
	}
	return false
}
