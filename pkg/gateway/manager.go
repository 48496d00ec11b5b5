package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"toolagent/pkg/agent"
	"toolagent/pkg/llm"
	"toolagent/pkg/monitor"
)

// GatewayManager 負責管理所有的 Channels 並統一路由訊息
// Input from any channel is routed to the Agent of its session.
type GatewayManager struct {
	channels map[string]Channel
	sessions *SessionManager
	monitor  monitor.Monitor // 監控器
	mu       sync.RWMutex
}

// NewGatewayManager 建立一個新的 GatewayManager
func NewGatewayManager(factory AgentFactory) *GatewayManager {
	return &GatewayManager{
		channels: make(map[string]Channel),
		sessions: NewSessionManager(factory),
	}
}

// SetMonitor 設定監控器
func (g *GatewayManager) SetMonitor(m monitor.Monitor) {
	g.mu.Lock()
	g.monitor = m
	g.mu.Unlock()
	g.sessions.SetMonitor(m)
}

// Sessions exposes the session manager.
func (g *GatewayManager) Sessions() *SessionManager {
	return g.sessions
}

// Register 註冊一個 Channel
// A channel registered twice under the same ID replaces the earlier one.
func (g *GatewayManager) Register(c Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.channels[c.ID()]; ok {
		slog.Warn("Channel registered twice, replacing", "channel", c.ID())
	}
	g.channels[c.ID()] = c
}

// GetChannel 取得特定的 Channel
func (g *GatewayManager) GetChannel(id string) (Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// ChannelIDs returns the registered channel IDs, sorted.
func (g *GatewayManager) ChannelIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.channels))
	for id := range g.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StartAll 啟動所有已註冊的 Channels
// Channels started before a failure are stopped again.
func (g *GatewayManager) StartAll(ctx context.Context) error {
	var started []Channel
	for _, id := range g.ChannelIDs() {
		c, _ := g.GetChannel(id)
		slog.Info("Starting channel", "channel", id)
		if err := c.Start(ctx, g); err != nil {
			for _, s := range started {
				_ = s.Stop()
			}
			return fmt.Errorf("failed to start channel %s: %w", id, err)
		}
		started = append(started, c)
	}
	return nil
}

// StopAll 停止所有 Channels 與監控器
func (g *GatewayManager) StopAll() {
	for _, id := range g.ChannelIDs() {
		c, _ := g.GetChannel(id)
		slog.Info("Stopping channel", "channel", id)
		if err := c.Stop(); err != nil {
			slog.Error("Error stopping channel", "channel", id, "error", err)
		}
	}

	g.mu.RLock()
	m := g.monitor
	g.mu.RUnlock()
	if m != nil {
		if err := m.Stop(); err != nil {
			slog.Error("Error stopping monitor", "error", err)
		}
	}
}

// Handle 實作 Handler 介面，將訊息轉交給 session 的 Agent
func (g *GatewayManager) Handle(ctx context.Context, session SessionContext, input string, sink agent.Sink) (*agent.Result, error) {
	slog.InfoContext(ctx, "Received message",
		"channel", session.ChannelID, "user", session.Username, "chat", session.ChatID, "chars", len(input))

	res, err := g.sessions.Get(session).Run(ctx, input, sink)
	if err != nil {
		slog.ErrorContext(ctx, "Exchange failed", "session", session.Key(), "error", err)
		return res, err
	}
	return res, nil
}

// Reset clears the session's conversation. Unknown sessions are ignored.
func (g *GatewayManager) Reset(session SessionContext) {
	if a, ok := g.sessions.Lookup(session); ok {
		a.Reset()
		slog.Info("Session reset", "session", session.Key())
	}
}

// Status returns the session's agent status.
func (g *GatewayManager) Status(session SessionContext) llm.AgentStatus {
	if a, ok := g.sessions.Lookup(session); ok {
		return a.Status()
	}
	return llm.StatusIdle
}

// Close drops the session.
func (g *GatewayManager) Close(session SessionContext) {
	g.sessions.Remove(session)
}

// UpdateOptions applies fn to every live session. Sessions created later get
// their options from the AgentFactory.
func (g *GatewayManager) UpdateOptions(fn func(*agent.Options)) {
	g.sessions.Each(func(_ string, a *agent.Agent) {
		a.UpdateOptions(fn)
	})
}
