package gateway

import (
	"log/slog"
	"sync"

	"toolagent/pkg/agent"
	"toolagent/pkg/monitor"
)

// SessionManager 管理每個 session 專屬的 Agent
// Agents are created lazily on first use and live until Remove.
type SessionManager struct {
	factory AgentFactory
	monitor monitor.Monitor
	agents  map[string]*agent.Agent
	mu      sync.RWMutex
}

// NewSessionManager creates a manager that builds agents with factory.
func NewSessionManager(factory AgentFactory) *SessionManager {
	return &SessionManager{
		factory: factory,
		agents:  make(map[string]*agent.Agent),
	}
}

// SetMonitor attaches m to agents created from now on.
func (m *SessionManager) SetMonitor(mon monitor.Monitor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitor = mon
}

// Get returns the agent of session, creating it when needed.
func (m *SessionManager) Get(session SessionContext) *agent.Agent {
	key := session.Key()

	m.mu.RLock()
	a, ok := m.agents[key]
	m.mu.RUnlock()
	if ok {
		return a
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double check after acquiring write lock
	if a, ok := m.agents[key]; ok {
		return a
	}

	a = m.factory(session)
	a.UpdateOptions(func(o *agent.Options) {
		o.ChannelID = session.ChannelID
		o.SessionID = session.ChatID
	})
	if m.monitor != nil {
		a.SetMonitor(m.monitor)
	}
	m.agents[key] = a
	slog.Debug("Session created", "session", key)
	return a
}

// Lookup returns the agent of session without creating it.
func (m *SessionManager) Lookup(session SessionContext) (*agent.Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[session.Key()]
	return a, ok
}

// Remove drops the session.
func (m *SessionManager) Remove(session SessionContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[session.Key()]; ok {
		delete(m.agents, session.Key())
		slog.Debug("Session removed", "session", session.Key())
	}
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}

// Each calls fn for every live agent.
func (m *SessionManager) Each(fn func(key string, a *agent.Agent)) {
	m.mu.RLock()
	snapshot := make(map[string]*agent.Agent, len(m.agents))
	for k, a := range m.agents {
		snapshot[k] = a
	}
	m.mu.RUnlock()

	for k, a := range snapshot {
		fn(k, a)
	}
}
