package gateway

import (
	"context"

	"toolagent/pkg/agent"
	"toolagent/pkg/llm"
)

// SessionContext identifies who is talking through which channel.
type SessionContext struct {
	ChannelID string // e.g. "console", "web", "telegram"
	UserID    string
	ChatID    string // one conversation per chat
	Username  string
}

// Key returns the session key. Every key owns one Agent.
func (s SessionContext) Key() string {
	return s.ChannelID + ":" + s.ChatID
}

// Handler is what a channel talks to. The GatewayManager implements it.
type Handler interface {
	// Handle runs one exchange for the session, streaming text to sink.
	Handle(ctx context.Context, session SessionContext, input string, sink agent.Sink) (*agent.Result, error)
	// Reset clears the session's conversation.
	Reset(session SessionContext)
	// Status reports the session's agent status (Idle for unknown sessions).
	Status(session SessionContext) llm.AgentStatus
	// Close drops the session and its history.
	Close(session SessionContext)
}

// Channel 定義一個前端通道 (console, web, telegram)
type Channel interface {
	ID() string
	// Start begins receiving input and must not block. Input is routed to h
	// until Stop is called or ctx is canceled.
	Start(ctx context.Context, h Handler) error
	Stop() error
}

// AgentFactory builds the agent of a new session.
type AgentFactory func(session SessionContext) *agent.Agent
