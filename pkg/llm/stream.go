package llm

// Stream is what an LLMClient hands back for one backend turn. It wraps a
// provider EventSource, feeds tool call fragments into an Assembler and
// surfaces an EventToolCalls event right after a "tool_calls" finish.
//
// Fragments, finish and usage events are still passed through so observers
// (debuggers, monitors) can see them; the agent only acts on text, tool calls
// and done.
type Stream struct {
	src EventSource
	asm *Assembler

	cur     Event
	pending []Event
	done    bool
	err     error

	finishReason string
	usage        *LLMUsage

	onClose []func()
	closed  bool
}

// NewStream wraps src.
func NewStream(src EventSource) *Stream {
	return &Stream{src: src, asm: NewAssembler()}
}

// Next advances to the next event. It returns false once the source is
// exhausted, a Done event has been delivered, or the source failed.
func (s *Stream) Next() bool {
	if len(s.pending) > 0 {
		s.cur = s.pending[0]
		s.pending = s.pending[1:]
		return true
	}
	if s.done {
		return false
	}

	if !s.src.Next() {
		// 未收到完成訊號就結束，片段直接丟棄
		s.asm.Discard()
		s.done = true
		s.err = s.src.Err()
		return false
	}

	ev := s.src.Event()
	switch ev.Kind {
	case EventToolCallFragment:
		if ev.Fragment != nil {
			s.asm.Add(*ev.Fragment)
		}
	case EventFinish:
		s.finishReason = ev.FinishReason
		if ev.FinishReason == FinishReasonToolCalls {
			if calls := s.asm.Complete(); len(calls) > 0 {
				s.pending = append(s.pending, Event{Kind: EventToolCalls, ToolCalls: calls})
			}
		}
	case EventUsage:
		s.usage = ev.Usage
	case EventDone:
		s.asm.Discard()
		s.done = true
	}
	s.cur = ev
	return true
}

// Event returns the current event.
func (s *Stream) Event() Event { return s.cur }

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error { return s.err }

// FinishReason returns the last finish_reason seen.
func (s *Stream) FinishReason() string { return s.finishReason }

// Usage returns the token usage reported by the backend, if any.
func (s *Stream) Usage() *LLMUsage { return s.usage }

// OnClose registers fn to run once when the stream is closed.
func (s *Stream) OnClose(fn func()) {
	s.onClose = append(s.onClose, fn)
}

// Close releases the underlying source. Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.done = true
	s.pending = nil
	err := s.src.Close()
	for _, fn := range s.onClose {
		fn()
	}
	return err
}
