package openailm_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"toolagent/pkg/llm"
	"toolagent/pkg/llm/openailm"
)

func sseEvent(name, data string) string {
	return "event: " + name + "\ndata: " + data + "\n\n"
}

var toolCallStream = sseEvent("response.output_item.added",
	`{"type":"response.output_item.added","sequence_number":1,"output_index":0,"item":{"type":"function_call","id":"fc_1","call_id":"call_1","name":"get_flight_number","arguments":"","status":"in_progress"}}`) +
	sseEvent("response.function_call_arguments.delta",
		`{"type":"response.function_call_arguments.delta","sequence_number":2,"item_id":"fc_1","output_index":0,"delta":"{\"departure\":\"北京\","}`) +
	sseEvent("response.function_call_arguments.delta",
		`{"type":"response.function_call_arguments.delta","sequence_number":3,"item_id":"fc_1","output_index":0,"delta":"\"destination\":\"上海\"}"}`) +
	sseEvent("response.completed",
		`{"type":"response.completed","sequence_number":4,"response":{"id":"resp_1","object":"response","created_at":0,"model":"gpt-test","status":"completed","output":[],"usage":{"input_tokens":12,"output_tokens":8,"total_tokens":20}}}`)

func newStreamServer(t *testing.T, status int, body string, got *[]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			*got, _ = io.ReadAll(r.Body)
		}
		if status == http.StatusOK {
			w.Header().Set("Content-Type", "text/event-stream")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamChat_FunctionCallFragments(t *testing.T) {
	var body []byte
	srv := newStreamServer(t, http.StatusOK, toolCallStream, &body)
	c := openailm.NewClient("sk-test", "gpt-test", srv.URL, time.Second, nil)

	history := []llm.Message{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("flight?"),
		llm.NewAssistantMessage("", []llm.ToolCall{{ID: "call_0", Name: "current_time", Arguments: map[string]any{}}}),
		llm.NewToolMessage("call_0", "current_time", "2024-01-01 00:00:00"),
	}
	defs := []llm.ToolDefinition{{
		Name:        "get_flight_number",
		Description: "look up a flight",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}}

	stream, err := c.StreamChat(context.Background(), history, defs)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	resp, err := llm.CollectResponse(stream)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls: %+v", resp.ToolCalls)
	}
	call := resp.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "get_flight_number" {
		t.Errorf("call identity: %+v", call)
	}
	args := call.ArgumentsMap()
	if args["departure"] != "北京" || args["destination"] != "上海" {
		t.Errorf("arguments: %v", args)
	}
	if resp.FinishReason != llm.FinishReasonToolCalls {
		t.Errorf("finish reason: %q", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 20 {
		t.Errorf("usage: %+v", resp.Usage)
	}

	req := gjson.ParseBytes(body)
	if req.Get("model").String() != "gpt-test" || !req.Get("stream").Bool() {
		t.Errorf("request header fields: %s", body)
	}
	if n := req.Get("input.#").Int(); n != 4 {
		t.Errorf("input items: got %d want 4", n)
	}
	if req.Get("input.2.type").String() != "function_call" || req.Get("input.2.call_id").String() != "call_0" {
		t.Errorf("assistant call not encoded: %s", req.Get("input.2").Raw)
	}
	if req.Get("input.3.type").String() != "function_call_output" || req.Get("input.3.call_id").String() != "call_0" {
		t.Errorf("tool output not encoded: %s", req.Get("input.3").Raw)
	}
	if req.Get("tools.0.name").String() != "get_flight_number" {
		t.Errorf("tools: %s", req.Get("tools").Raw)
	}
}

func TestStreamChat_TextDeltas(t *testing.T) {
	body := sseEvent("response.output_text.delta",
		`{"type":"response.output_text.delta","sequence_number":1,"item_id":"msg_1","output_index":0,"content_index":0,"delta":"Hello","logprobs":[]}`) +
		sseEvent("response.output_text.delta",
			`{"type":"response.output_text.delta","sequence_number":2,"item_id":"msg_1","output_index":0,"content_index":0,"delta":" there","logprobs":[]}`) +
		sseEvent("response.completed",
			`{"type":"response.completed","sequence_number":3,"response":{"id":"resp_2","object":"response","created_at":0,"model":"gpt-test","status":"completed","output":[]}}`)
	srv := newStreamServer(t, http.StatusOK, body, nil)
	c := openailm.NewClient("sk-test", "gpt-test", srv.URL, time.Second, nil)

	stream, err := c.StreamChat(context.Background(), []llm.Message{llm.NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	resp, err := llm.CollectResponse(stream)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if resp.Content != "Hello there" || resp.FinishReason != llm.FinishReasonStop {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestStreamChat_StatusErrorIsBackendError(t *testing.T) {
	srv := newStreamServer(t, http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, nil)
	c := openailm.NewClient("sk-bad", "gpt-test", srv.URL, time.Second, nil)

	_, err := c.StreamChat(context.Background(), []llm.Message{llm.NewUserMessage("hi")}, nil)
	var be *llm.BackendError
	if !errors.As(err, &be) || be.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected BackendError 401, got %v", err)
	}
	if c.IsTransientError(err) {
		t.Errorf("401 must not be transient")
	}
}

func TestProvider(t *testing.T) {
	c := openailm.NewClient("k", "gpt-4o", "", 0, nil)
	if got := c.Provider(); !strings.HasPrefix(got, "openai/") {
		t.Errorf("provider: %q", got)
	}
}
