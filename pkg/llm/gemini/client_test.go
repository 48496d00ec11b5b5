package gemini_test

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
	"toolagent/pkg/llm/gemini"
)

func newServer(t *testing.T, status int, body string, got *[]byte) string {
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
	return srv.URL
}

const functionCallStream = `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Checking.","thought":true}]}}]}

data: {"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"get_ticket_price","args":{"flight_number":"1234"}}}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":4,"totalTokenCount":13}}

`

func TestStreamChat_FunctionCall(t *testing.T) {
	var body []byte
	url := newServer(t, http.StatusOK, functionCallStream, &body)
	c, err := gemini.NewGeminiClient("test-key", "gemini-test", url, false, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	history := []llm.Message{
		llm.NewSystemMessage("be brief"),
		llm.NewUserMessage("price of 1234?"),
	}
	defs := []llm.ToolDefinition{{Name: "get_ticket_price", Description: "price", Parameters: map[string]any{"type": "object", "properties": map[string]any{}}}}

	stream, err := c.StreamChat(context.Background(), history, defs)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	resp, err := llm.CollectResponse(stream)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	if resp.Reasoning != "Checking." {
		t.Errorf("reasoning: %q", resp.Reasoning)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls: %+v", resp.ToolCalls)
	}
	call := resp.ToolCalls[0]
	if !strings.HasPrefix(call.ID, "call_") || call.Name != "get_ticket_price" {
		t.Errorf("call: %+v", call)
	}
	if call.ArgumentsMap()["flight_number"] != "1234" {
		t.Errorf("arguments: %v", call.Arguments)
	}
	if resp.FinishReason != llm.FinishReasonToolCalls {
		t.Errorf("finish reason: %q", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 13 {
		t.Errorf("usage: %+v", resp.Usage)
	}

	req := gjson.ParseBytes(body)
	if req.Get("systemInstruction.parts.0.text").String() != "be brief" {
		t.Errorf("system instruction: %s", body)
	}
	if req.Get("contents.#").Int() != 1 {
		t.Errorf("system entry must not be sent as content: %s", req.Get("contents").Raw)
	}
	if req.Get("tools.0.functionDeclarations.0.name").String() != "get_ticket_price" {
		t.Errorf("tools: %s", req.Get("tools").Raw)
	}
}

func TestStreamChat_APIError(t *testing.T) {
	url := newServer(t, http.StatusTooManyRequests,
		`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`, nil)
	c, err := gemini.NewGeminiClient("test-key", "gemini-test", url, false, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.StreamChat(context.Background(), []llm.Message{llm.NewUserMessage("hi")}, nil)
	var be *llm.BackendError
	if !errors.As(err, &be) || be.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected BackendError 429, got %v", err)
	}
	if !c.IsTransientError(err) {
		t.Errorf("429 should be transient")
	}
}
