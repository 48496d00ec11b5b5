package compat_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"toolagent/pkg/llm"
	"toolagent/pkg/llm/compat"
)

type captured struct {
	path   string
	auth   string
	accept string
	body   []byte
}

func newServer(t *testing.T, status int, respBody string, capture *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			capture.path = r.URL.Path
			capture.auth = r.Header.Get("Authorization")
			capture.accept = r.Header.Get("Accept")
			capture.body, _ = io.ReadAll(r.Body)
		}
		w.WriteHeader(status)
		io.WriteString(w, respBody)
	}))
	t.Cleanup(srv.Close)
	return srv
}

var flightTool = llm.ToolDefinition{
	Name:        "get_flight_number",
	Description: "look up a flight",
	Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{"departure": map[string]any{"type": "string"}},
	},
}

const streamBody = `data: {"choices":[{"delta":{"content":"Let me check."}}]}

data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_flight_number","arguments":"{\"departure\":"}}]}}]}

data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Beijing\"}"}}]}}]}

data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}

data: [DONE]
`

func TestStreamChat_RequestShapeAndToolCalls(t *testing.T) {
	capReq := &captured{}
	srv := newServer(t, http.StatusOK, streamBody, capReq)
	c := compat.NewClient("sk-test", "glm-4", srv.URL+"/", time.Second, map[string]any{"temperature": 0.3})

	history := []llm.Message{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("flight?"),
		llm.NewAssistantMessage("", []llm.ToolCall{{ID: "call_0", Name: "current_time", Arguments: map[string]any{}}}),
		llm.NewToolMessage("call_0", "current_time", "2024-01-01 00:00:00"),
	}

	stream, err := c.StreamChat(context.Background(), history, []llm.ToolDefinition{flightTool})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	defer stream.Close()

	var text strings.Builder
	var calls []llm.ToolCall
	for stream.Next() {
		ev := stream.Event()
		switch ev.Kind {
		case llm.EventTextDelta:
			text.WriteString(ev.Text)
		case llm.EventToolCalls:
			calls = ev.ToolCalls
		}
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream err: %v", err)
	}

	if text.String() != "Let me check." {
		t.Errorf("text: %q", text.String())
	}
	if len(calls) != 1 || calls[0].ID != "call_1" {
		t.Fatalf("calls: %+v", calls)
	}
	if !reflect.DeepEqual(calls[0].Arguments, map[string]any{"departure": "Beijing"}) {
		t.Errorf("arguments: %#v", calls[0].Arguments)
	}

	if capReq.path != "/chat/completions" {
		t.Errorf("path: %s", capReq.path)
	}
	if capReq.auth != "Bearer sk-test" {
		t.Errorf("auth: %s", capReq.auth)
	}
	if capReq.accept != "text/event-stream" {
		t.Errorf("accept: %s", capReq.accept)
	}

	body := gjson.ParseBytes(capReq.body)
	checks := map[string]string{
		"model":                                 "glm-4",
		"stream":                                "true",
		"tool_choice":                           "auto",
		"temperature":                           "0.3",
		"tools.0.type":                          "function",
		"tools.0.function.name":                 "get_flight_number",
		"messages.0.role":                       "system",
		"messages.2.role":                       "assistant",
		"messages.2.tool_calls.0.id":            "call_0",
		"messages.2.tool_calls.0.type":          "function",
		"messages.2.tool_calls.0.function.name": "current_time",
		"messages.2.tool_calls.0.function.arguments": "{}",
		"messages.3.role":         "tool",
		"messages.3.tool_call_id": "call_0",
		"messages.3.content":      "2024-01-01 00:00:00",
	}
	for path, want := range checks {
		if got := body.Get(path).String(); got != want {
			t.Errorf("%s: got %q want %q", path, got, want)
		}
	}
}

func TestStreamChat_NoToolsNoToolChoice(t *testing.T) {
	capReq := &captured{}
	srv := newServer(t, http.StatusOK, "data: [DONE]\n", capReq)
	c := compat.NewClient("", "m", srv.URL, 0, nil)

	stream, err := c.StreamChat(context.Background(), []llm.Message{llm.NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for stream.Next() {
	}
	stream.Close()

	body := gjson.ParseBytes(capReq.body)
	if body.Get("tools").Exists() || body.Get("tool_choice").Exists() {
		t.Errorf("unexpected tools in body: %s", capReq.body)
	}
	if capReq.auth != "" {
		t.Errorf("no key should mean no auth header, got %q", capReq.auth)
	}
}

func TestStreamChat_BackendError(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := newServer(t, tt.status, `{"error":{"message":"nope"}}`, nil)
			c := compat.NewClient("k", "m", srv.URL, time.Second, nil)

			_, err := c.StreamChat(context.Background(), []llm.Message{llm.NewUserMessage("hi")}, nil)
			var be *llm.BackendError
			if !errors.As(err, &be) {
				t.Fatalf("expected BackendError, got %v", err)
			}
			if be.StatusCode != tt.status || !strings.Contains(be.Body, "nope") {
				t.Errorf("unexpected error: %+v", be)
			}
			if got := c.IsTransientError(err); got != tt.transient {
				t.Errorf("transient: got %v want %v", got, tt.transient)
			}
		})
	}
}

func TestStreamChat_TransportError(t *testing.T) {
	srv := newServer(t, http.StatusOK, "", nil)
	url := srv.URL
	srv.Close()

	c := compat.NewClient("k", "m", url, time.Second, nil)
	_, err := c.StreamChat(context.Background(), []llm.Message{llm.NewUserMessage("hi")}, nil)
	var te *llm.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !c.IsTransientError(err) {
		t.Error("transport errors should be transient")
	}
}

func TestStreamChat_RequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := compat.NewClient("k", "m", srv.URL, 50*time.Millisecond, nil)
	start := time.Now()
	_, err := c.StreamChat(context.Background(), []llm.Message{llm.NewUserMessage("hi")}, nil)
	var te *llm.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout not applied")
	}
}

func TestChat_ParsesResponse(t *testing.T) {
	resp := `{"choices":[{"message":{"content":"","tool_calls":[{"id":"call_9","type":"function","function":{"name":"get_ticket_price","arguments":"{\"flight_number\":\"1234\"}"}}]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":5,"completion_tokens":6,"total_tokens":11}}`
	capReq := &captured{}
	srv := newServer(t, http.StatusOK, resp, capReq)
	c := compat.NewClient("k", "m", srv.URL, time.Second, nil)

	got, err := c.Chat(context.Background(), []llm.Message{llm.NewUserMessage("price?")}, []llm.ToolDefinition{flightTool})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.FinishReason != llm.FinishReasonToolCalls {
		t.Errorf("finish: %q", got.FinishReason)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Arguments != `{"flight_number":"1234"}` {
		t.Fatalf("calls: %+v", got.ToolCalls)
	}
	if got.Usage == nil || got.Usage.TotalTokens != 11 {
		t.Errorf("usage: %+v", got.Usage)
	}

	body := gjson.ParseBytes(capReq.body)
	if body.Get("stream").Bool() {
		t.Error("stream should be false")
	}
	if body.Get("tool_choice").Exists() {
		t.Error("tool_choice is only sent when streaming")
	}
}

func TestChat_DecodeError(t *testing.T) {
	for name, body := range map[string]string{
		"invalid json": `{"choices": [`,
		"no choices":   `{"choices": []}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := newServer(t, http.StatusOK, body, nil)
			c := compat.NewClient("k", "m", srv.URL, time.Second, nil)
			_, err := c.Chat(context.Background(), []llm.Message{llm.NewUserMessage("hi")}, nil)
			var de *llm.DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
		})
	}
}
