package web_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"toolagent/pkg/agent"
	"toolagent/pkg/channels"
	"toolagent/pkg/channels/web"
	"toolagent/pkg/config"
	"toolagent/pkg/gateway"
	"toolagent/pkg/llm"
)

type fakeHandler struct {
	mu       sync.Mutex
	sessions map[string]int
	resets   int
	closed   chan gateway.SessionContext
	fail     error
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{sessions: map[string]int{}, closed: make(chan gateway.SessionContext, 4)}
}

func (h *fakeHandler) Handle(ctx context.Context, s gateway.SessionContext, input string, sink agent.Sink) (*agent.Result, error) {
	h.mu.Lock()
	h.sessions[s.ChatID]++
	fail := h.fail
	h.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	sink("thinking", llm.ChannelReasoning)
	sink("you said "+input, llm.ChannelContent)
	return &agent.Result{Output: "you said " + input, Turns: 1, StopReason: agent.StopComplete}, nil
}

func (h *fakeHandler) Reset(gateway.SessionContext) {
	h.mu.Lock()
	h.resets++
	h.mu.Unlock()
}

func (h *fakeHandler) Status(gateway.SessionContext) llm.AgentStatus { return llm.StatusIdle }

func (h *fakeHandler) Close(s gateway.SessionContext) { h.closed <- s }

func dial(t *testing.T, h gateway.Handler) (*websocket.Conn, func()) {
	t.Helper()
	ch := web.NewWebChannel(web.WebConfig{})
	srv := httptest.NewServer(ch.Handler(context.Background(), h))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readFrames(t *testing.T, conn *websocket.Conn) []gjson.Result {
	t.Helper()
	var frames []gjson.Result
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		f := gjson.ParseBytes(data)
		frames = append(frames, f)
		switch f.Get("type").String() {
		case web.FrameDone, web.FrameError, web.FrameReset:
			return frames
		}
	}
}

func TestWeb_StreamsDeltasThenDone(t *testing.T) {
	h := newFakeHandler()
	conn, done := dial(t, h)
	defer done()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"text":"hello"}`)); err != nil {
		t.Fatal(err)
	}
	frames := readFrames(t, conn)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if frames[0].Get("channel").String() != llm.ChannelReasoning || frames[0].Get("text").String() != "thinking" {
		t.Errorf("first delta: %s", frames[0].Raw)
	}
	if frames[1].Get("text").String() != "you said hello" {
		t.Errorf("second delta: %s", frames[1].Raw)
	}
	last := frames[2]
	if last.Get("output").String() != "you said hello" || last.Get("turns").Int() != 1 || last.Get("stop_reason").String() != agent.StopComplete {
		t.Errorf("done frame: %s", last.Raw)
	}

	// Plain text frames work too and stay in the same session.
	conn.WriteMessage(websocket.TextMessage, []byte("again"))
	readFrames(t, conn)
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sessions) != 1 {
		t.Errorf("expected one session, got %v", h.sessions)
	}
	for _, n := range h.sessions {
		if n != 2 {
			t.Errorf("expected 2 exchanges, got %d", n)
		}
	}
}

func TestWeb_ResetAndError(t *testing.T) {
	h := newFakeHandler()
	conn, done := dial(t, h)
	defer done()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"reset"}`))
	frames := readFrames(t, conn)
	if frames[0].Get("type").String() != web.FrameReset {
		t.Errorf("expected reset ack, got %s", frames[0].Raw)
	}

	h.mu.Lock()
	h.fail = errors.New("backend down")
	h.mu.Unlock()
	conn.WriteMessage(websocket.TextMessage, []byte("hi"))
	frames = readFrames(t, conn)
	if got := frames[len(frames)-1].Get("error").String(); got != "backend down" {
		t.Errorf("error frame: %q", got)
	}
}

func TestWeb_DisconnectClosesSession(t *testing.T) {
	h := newFakeHandler()
	conn, done := dial(t, h)
	defer done()

	conn.Close()
	select {
	case s := <-h.closed:
		if s.ChannelID != "web" || s.ChatID == "" {
			t.Errorf("unexpected session: %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed after disconnect")
	}
}

func TestWebFactory_StartStop(t *testing.T) {
	f, ok := channels.GetChannelFactory("web")
	if !ok {
		t.Fatal("web factory not registered")
	}
	ch, err := f.Create([]byte(`{"addr":"127.0.0.1:0"}`), config.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Start(context.Background(), newFakeHandler()); err != nil {
		t.Fatal(err)
	}
	if err := ch.Stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
}
