package llm

// EventKind tags the protocol events produced by a backend stream.
type EventKind int

const (
	// EventTextDelta carries a piece of answer or reasoning text.
	EventTextDelta EventKind = iota
	// EventToolCallFragment carries one piece of a tool call, keyed by Index.
	EventToolCallFragment
	// EventFinish carries the backend's finish_reason.
	EventFinish
	// EventToolCalls carries the complete calls of the turn. Produced by Stream.
	EventToolCalls
	// EventUsage carries token accounting, when the backend reports it.
	EventUsage
	// EventDone marks the end of the backend's response.
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "text_delta"
	case EventToolCallFragment:
		return "tool_call_fragment"
	case EventFinish:
		return "finish"
	case EventToolCalls:
		return "tool_calls"
	case EventUsage:
		return "usage"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one item of a backend stream. Only the fields of its Kind are set.
type Event struct {
	Kind EventKind

	Text    string // EventTextDelta
	Channel string // EventTextDelta: ChannelContent or ChannelReasoning

	Fragment *ToolCallFragment // EventToolCallFragment

	FinishReason string // EventFinish

	ToolCalls []ToolCall // EventToolCalls

	Usage *LLMUsage // EventUsage
}

// ToolCallFragment is one wire piece of a tool call. ID and Name are usually
// only present on the first fragment of an index.
type ToolCallFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// TextEvent builds a text delta on the given channel.
func TextEvent(text, channel string) Event {
	return Event{Kind: EventTextDelta, Text: text, Channel: channel}
}

// FragmentEvent builds a tool call fragment event.
func FragmentEvent(f ToolCallFragment) Event {
	return Event{Kind: EventToolCallFragment, Fragment: &f}
}

// FinishEvent builds a finish event.
func FinishEvent(reason string) Event {
	return Event{Kind: EventFinish, FinishReason: reason}
}

// DoneEvent builds the end-of-response marker.
func DoneEvent() Event {
	return Event{Kind: EventDone}
}
