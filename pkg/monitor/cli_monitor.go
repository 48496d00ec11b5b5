package monitor

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"toolagent/pkg/llm"
)

// CLIMonitor implements the Monitor interface, providing a direct
// terminal-based transcript of every session flowing through the gateway.
type CLIMonitor struct {
	writer io.Writer // The output destination, typically os.Stdout.
	color  bool
	mu     sync.Mutex
}

// NewCLIMonitor creates a new CLI monitor writing to w (os.Stdout when nil).
// Colours are used only when w is a terminal.
func NewCLIMonitor(w io.Writer) *CLIMonitor {
	if w == nil {
		w = os.Stdout
	}
	return &CLIMonitor{
		writer: w,
		color:  IsTerminal(w),
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start starts the CLI monitor
func (m *CLIMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "💬 CLI Monitor Active - All channel messages will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

// Stop stops the CLI monitor
func (m *CLIMonitor) Stop() error {
	return nil
}

// OnMessage receives and displays a monitoring message
func (m *CLIMonitor) OnMessage(msg MonitorMessage) {
	timestamp := msg.Timestamp.Format("2006-01-02 15:04:05")

	var displayMsg string
	switch msg.MessageType {
	case TypeAssistant:
		displayMsg = fmt.Sprintf("[AI] %s", msg.Content)
	case TypeToolCall:
		displayMsg = fmt.Sprintf("[AI→tool] %s", msg.Content)
	case TypeTool:
		displayMsg = fmt.Sprintf("[tool] %s", msg.Content)
	default:
		displayMsg = fmt.Sprintf("[%s/%s] %s", msg.ChannelID, msg.SessionID, msg.Content)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.color {
		// Use gray color for timestamp
		fmt.Fprintf(m.writer, "\033[90m[%s]\033[0m %s\n", timestamp, displayMsg)
		return
	}
	fmt.Fprintf(m.writer, "[%s] %s\n", timestamp, displayMsg)
}

// OnStatus only shows the states worth noticing in a transcript.
func (m *CLIMonitor) OnStatus(channelID, sessionID string, status llm.AgentStatus) {
	if status != llm.StatusError {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.writer, "[%s/%s] status=%s\n", channelID, sessionID, status)
}
