package llm

import (
	"sync"
)

// ConversationStore 管理單一對話的歷史與狀態
// One writer (the agent) and any number of concurrent readers.
type ConversationStore struct {
	messages []Message
	status   AgentStatus
	mu       sync.RWMutex
}

// NewConversationStore creates an empty store in the Idle state.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		messages: make([]Message, 0),
		status:   StatusIdle,
	}
}

// Append adds an entry to the end of the log.
func (s *ConversationStore) Append(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)
}

// Snapshot returns a copy of the log.
func (s *ConversationStore) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := make([]Message, len(s.messages))
	copy(cp, s.messages)
	return cp
}

// Len returns the number of entries.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// LastAssistant returns the most recent assistant entry.
func (s *ConversationStore) LastAssistant() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleAssistant {
			return s.messages[i], true
		}
	}
	return Message{}, false
}

func (s *ConversationStore) SetStatus(status AgentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *ConversationStore) Status() AgentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Reset clears the log and returns to Idle. It is the only way entries are removed.
func (s *ConversationStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]Message, 0)
	s.status = StatusIdle
}
