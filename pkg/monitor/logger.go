package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"toolagent/pkg/utils"
)

// CustomHandler implements slog.Handler to provide [TIME] [LEVEL] format
type CustomHandler struct {
	w     io.Writer
	opts  slog.HandlerOptions
	attrs []slog.Attr
}

func NewCustomHandler(w io.Writer, opts slog.HandlerOptions) *CustomHandler {
	return &CustomHandler{
		w:    w,
		opts: opts,
	}
}

func (h *CustomHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *CustomHandler) Handle(ctx context.Context, r slog.Record) error {
	buf := bytes.NewBuffer(nil)

	exchangeID := utils.ExchangeIDFromContext(ctx)

	// Format: [2006-01-02 15:04:05] [LEVEL] [EXCHANGE_ID] Message
	// Or:    [2006-01-02 15:04:05] [LEVEL] Message (outside an exchange)
	fmt.Fprintf(buf, "[%s] [%s]",
		r.Time.Format("2006-01-02 15:04:05"),
		r.Level,
	)

	if exchangeID != "" {
		fmt.Fprintf(buf, " [%s]", exchangeID)
	}

	fmt.Fprintf(buf, " %s", r.Message)

	// Append attributes
	// 1. Stored attributes (from WithAttrs)
	for _, a := range h.attrs {
		h.appendAttr(buf, a)
	}

	// 2. Record attributes
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(buf, a)
		return true
	})

	buf.WriteString("\n")

	h.w.Write(buf.Bytes())
	return nil
}

func (h *CustomHandler) appendAttr(buf *bytes.Buffer, a slog.Attr) {
	buf.WriteString(" ")
	buf.WriteString(a.Key)
	buf.WriteString("=")

	// Simple value formatting
	val := a.Value.Resolve()
	switch val.Kind() {
	case slog.KindString:
		fmt.Fprintf(buf, "%q", val.String())
	case slog.KindTime:
		buf.WriteString(val.Time().Format(time.RFC3339))
	default:
		fmt.Fprintf(buf, "%v", val.Any())
	}
}

func (h *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CustomHandler{
		w:     h.w,
		opts:  h.opts,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *CustomHandler) WithGroup(name string) slog.Handler {
	// Grouping not fully supported in this simple implementation
	return h
}

// ParseLevel maps a config log level onto slog; unknown values mean info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupSlog initializes the global slog logger with the CustomHandler writing
// to w (os.Stderr when nil). The returned LevelVar changes the level at runtime.
func SetupSlog(levelStr string, w io.Writer) *slog.LevelVar {
	if w == nil {
		w = os.Stderr
	}
	level := new(slog.LevelVar)
	level.Set(ParseLevel(levelStr))

	handler := NewCustomHandler(w, slog.HandlerOptions{
		Level: level,
	})

	slog.SetDefault(slog.New(handler))
	return level
}

// PrintBanner prints the startup banner
func PrintBanner(w io.Writer, provider string, tools int) {
	banner := `
 _____           _    _                    _
|_   _|__   ___ | |  / \   __ _  ___ _ __ | |_
  | |/ _ \ / _ \| | / _ \ / _' |/ _ \ '_ \| __|
  | | (_) | (_) | |/ ___ \ (_| |  __/ | | | |_
  |_|\___/ \___/|_/_/   \_\__, |\___|_| |_|\__|
                          |___/
`
	fmt.Fprintln(w, banner)
	fmt.Fprintf(w, "  provider: %s\n  tools:    %d\n\n", provider, tools)
}
