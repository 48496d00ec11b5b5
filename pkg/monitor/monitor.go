package monitor

import (
	"fmt"
	"time"

	"toolagent/pkg/llm"
)

// Message types shown by monitors.
const (
	TypeUser      = "USER"
	TypeAssistant = "ASSISTANT"
	TypeToolCall  = "TOOL_CALL"
	TypeTool      = "TOOL"
	TypeSystem    = "SYSTEM"
)

// MonitorMessage 代表一則監控訊息
type MonitorMessage struct {
	Timestamp   time.Time
	MessageType string
	ChannelID   string
	SessionID   string
	Content     string
}

// Monitor 介面定義了監控器的行為
type Monitor interface {
	// Start 啟動監控器
	Start() error

	// Stop 停止監控器
	Stop() error

	// OnMessage 接收並顯示監控訊息
	OnMessage(msg MonitorMessage)

	// OnStatus 接收 agent 狀態變化
	OnStatus(channelID, sessionID string, status llm.AgentStatus)
}

// FromEntry converts a conversation entry into monitor messages: one for the
// text and one per requested tool call.
func FromEntry(channelID, sessionID string, entry llm.Message) []MonitorMessage {
	ts := time.Now()
	if entry.Timestamp > 0 {
		ts = time.Unix(entry.Timestamp, 0)
	}
	base := MonitorMessage{Timestamp: ts, ChannelID: channelID, SessionID: sessionID}

	var out []MonitorMessage
	switch entry.Role {
	case llm.RoleUser:
		base.MessageType = TypeUser
		base.Content = entry.Content
		out = append(out, base)
	case llm.RoleAssistant:
		if entry.Content != "" {
			msg := base
			msg.MessageType = TypeAssistant
			msg.Content = entry.Content
			out = append(out, msg)
		}
		for _, tc := range entry.ToolCalls {
			msg := base
			msg.MessageType = TypeToolCall
			msg.Content = fmt.Sprintf("%s(%s) id=%s", tc.Name, tc.ArgumentsJSON(), tc.ID)
			out = append(out, msg)
		}
	case llm.RoleTool:
		base.MessageType = TypeTool
		base.Content = fmt.Sprintf("[%s] %s", entry.ToolCallID, entry.Content)
		out = append(out, base)
	case llm.RoleSystem:
		base.MessageType = TypeSystem
		base.Content = entry.Content
		out = append(out, base)
	}
	return out
}
