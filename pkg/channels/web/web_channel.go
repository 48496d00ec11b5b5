package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"toolagent/pkg/gateway"
	"toolagent/pkg/utils"
)

// Frame types written to the client.
const (
	FrameDelta = "delta"
	FrameDone  = "done"
	FrameError = "error"
	FrameReset = "reset"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

type WebConfig struct {
	Addr string `json:"addr"` // Default: ":8080"
}

// SafeConn serializes writes; gorilla connections allow one concurrent writer.
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

// WebChannel serves a websocket at /ws. Every connection is its own session
// and its own conversation.
//
// Client frames are either plain text or {"text": "..."}; {"type": "reset"}
// clears the conversation. Server frames are {"type":"delta","channel",
// "text"} while streaming, then {"type":"done","output","turns",
// "stop_reason"} or {"type":"error","error"}.
type WebChannel struct {
	config      WebConfig
	server      *http.Server
	connections map[string]*SafeConn // session chat id -> connection
	mu          sync.RWMutex
}

func NewWebChannel(cfg WebConfig) *WebChannel {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	return &WebChannel{
		config:      cfg,
		connections: make(map[string]*SafeConn),
	}
}

func (c *WebChannel) ID() string {
	return "web"
}

// Handler returns the HTTP handler routing /ws to h.
func (c *WebChannel) Handler(ctx context.Context, h gateway.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(ctx, w, r, h)
	})
	return mux
}

func (c *WebChannel) Start(ctx context.Context, h gateway.Handler) error {
	ln, err := net.Listen("tcp", c.config.Addr)
	if err != nil {
		return err
	}

	c.server = &http.Server{
		Handler:           c.Handler(ctx, h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Web API listening", "addr", ln.Addr().String())

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Web API server error", "error", err)
		}
	}()

	return nil
}

func (c *WebChannel) Stop() error {
	if c.server == nil {
		return nil
	}
	err := c.server.Close()

	// Hijacked websocket connections are not closed by the server.
	c.mu.Lock()
	for id, conn := range c.connections {
		conn.Close()
		delete(c.connections, id)
	}
	c.mu.Unlock()
	return err
}

// Connections returns the number of open websocket connections.
func (c *WebChannel) Connections() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.connections)
}

func (c *WebChannel) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request, h gateway.Handler) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS Upgrade failed", "error", err)
		return
	}

	conn := &SafeConn{Conn: rawConn}
	session := gateway.SessionContext{
		ChannelID: c.ID(),
		UserID:    r.RemoteAddr,
		ChatID:    utils.GenerateID(),
		Username:  "WebUser",
	}

	c.mu.Lock()
	c.connections[session.ChatID] = conn
	c.mu.Unlock()
	slog.Debug("Web client connected", "remote", r.RemoteAddr, "session", session.ChatID)

	defer func() {
		c.mu.Lock()
		delete(c.connections, session.ChatID)
		c.mu.Unlock()
		conn.Close()
		h.Close(session)
		slog.Debug("Web client disconnected", "session", session.ChatID)
	}()

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}

		text, isReset := parseIncoming(msgBytes)
		if isReset {
			h.Reset(session)
			c.write(conn, frame(FrameReset))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		c.exchange(ctx, conn, h, session, text)
	}
}

func (c *WebChannel) exchange(ctx context.Context, conn *SafeConn, h gateway.Handler, session gateway.SessionContext, text string) {
	sink := func(delta, channel string) {
		msg := frame(FrameDelta)
		msg, _ = sjson.SetBytes(msg, "channel", channel)
		msg, _ = sjson.SetBytes(msg, "text", delta)
		c.write(conn, msg)
	}

	res, err := h.Handle(ctx, session, text, sink)
	if err != nil {
		msg, _ := sjson.SetBytes(frame(FrameError), "error", err.Error())
		c.write(conn, msg)
		return
	}

	msg := frame(FrameDone)
	msg, _ = sjson.SetBytes(msg, "output", res.Output)
	msg, _ = sjson.SetBytes(msg, "turns", res.Turns)
	msg, _ = sjson.SetBytes(msg, "stop_reason", res.StopReason)
	c.write(conn, msg)
}

func (c *WebChannel) write(conn *SafeConn, data []byte) {
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("Web write failed", "error", err)
	}
}

func frame(kind string) []byte {
	msg, _ := sjson.SetBytes([]byte(`{}`), "type", kind)
	return msg
}

// parseIncoming accepts {"text": "..."}, {"type": "reset"} or plain text.
func parseIncoming(data []byte) (text string, isReset bool) {
	if !gjson.ValidBytes(data) {
		return string(data), false
	}
	msg := gjson.ParseBytes(data)
	if !msg.IsObject() {
		return string(data), false
	}
	if msg.Get("type").String() == FrameReset {
		return "", true
	}
	return msg.Get("text").String(), false
}
