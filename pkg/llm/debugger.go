package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"toolagent/pkg/utils"
)

var filenameSafeRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

// DebugRoot is the directory raw chunks are written under.
var DebugRoot = filepath.Join("debug", "chunks")

// StreamDebugger handles the creation and writing of debug logs for LLM streams.
// It centralizes the logic for directory creation, file naming, and safe writing.
type StreamDebugger struct {
	file    *os.File
	enabled bool
}

// NewStreamDebugger creates a new debugger instance.
// It attempts to open the debug file immediately if enabled.
//
// Parameters:
//   - ctx: Context carrying the exchange id (utils.WithExchangeID)
//   - provider: Name of the LLM provider (e.g., "compat", "gemini")
//   - enabled: Whether debugging is globally enabled
func NewStreamDebugger(ctx context.Context, provider string, enabled bool) *StreamDebugger {
	if !enabled {
		return &StreamDebugger{enabled: false}
	}

	debugDir := filepath.Join(DebugRoot, filenameSafeRegex.ReplaceAllString(provider, "_"))

	name := time.Now().Format("20060102_150405")
	if id := utils.ExchangeIDFromContext(ctx); id != "" {
		name = filenameSafeRegex.ReplaceAllString(id, "_")
	}

	if err := os.MkdirAll(debugDir, 0755); err != nil {
		slog.ErrorContext(ctx, "Failed to create debug directory", "dir", debugDir, "error", err)
		return &StreamDebugger{enabled: false}
	}

	filename := filepath.Join(debugDir, fmt.Sprintf("%s.log", name))
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to open debug file", "file", filename, "error", err)
		return &StreamDebugger{enabled: false}
	}

	slog.DebugContext(ctx, "Debug mode ON", "provider", provider, "file", filename)
	return &StreamDebugger{
		file:    f,
		enabled: true,
	}
}

// Enabled reports whether writes go anywhere.
func (d *StreamDebugger) Enabled() bool {
	return d != nil && d.enabled && d.file != nil
}

// Write appends raw data to the debug file if enabled, followed by a newline.
func (d *StreamDebugger) Write(data []byte) {
	if !d.Enabled() {
		return
	}
	if _, err := d.file.Write(data); err != nil {
		slog.Warn("Failed to write to debug file", "error", err)
	}
	d.file.WriteString("\n")
}

// WriteString appends a string to the debug file if enabled.
func (d *StreamDebugger) WriteString(s string) {
	if !d.Enabled() {
		return
	}
	if _, err := d.file.WriteString(s); err != nil {
		slog.Warn("Failed to write to debug file", "error", err)
	}
	d.file.WriteString("\n")
}

// WriteJSON marshals v and appends it; SDK providers log their typed chunks with it.
func (d *StreamDebugger) WriteJSON(v any) {
	if !d.Enabled() {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		d.WriteString(fmt.Sprintf("<unmarshalable %T: %v>", v, err))
		return
	}
	d.Write(b)
}

// Close closes the debug file handle.
func (d *StreamDebugger) Close() {
	if d != nil && d.file != nil {
		d.file.Close()
		d.file = nil
	}
}
