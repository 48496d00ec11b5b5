package llm

// Role constants tag the Message variants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Text channels carried by TextDelta events.
const (
	ChannelContent   = "content"   // Primary answer text
	ChannelReasoning = "reasoning" // reasoning_content / thinking text
)

// FinishReason constants define normalized reasons for generation termination.
// Providers must normalize their native stop reasons to these values; only
// FinishReasonToolCalls completes a tool-call assembly.
const (
	FinishReasonStop      = "stop"
	FinishReasonLength    = "length"
	FinishReasonToolCalls = "tool_calls"
)

// AgentStatus is an observable snapshot of orchestrator progress.
type AgentStatus int

const (
	StatusIdle AgentStatus = iota
	StatusThinking
	StatusExecutingTool
	StatusError
)

func (s AgentStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusThinking:
		return "thinking"
	case StatusExecutingTool:
		return "executing_tool"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}
