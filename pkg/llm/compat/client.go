// Package compat talks to any OpenAI-compatible chat completions endpoint
// (Zhipu GLM, DeepSeek, vLLM, LM Studio...) over plain HTTP and decodes the
// streamed reply with the sse package.
package compat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/sjson"

	"toolagent/pkg/llm"
	"toolagent/pkg/llm/sse"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxErrorBody caps how much of a failed response is kept in BackendError.
const maxErrorBody = 4096

// Client is a chat completions client without SDK dependencies.
type Client struct {
	httpClient   *http.Client
	provider     string
	baseURL      string
	apiKey       string
	model        string
	timeout      time.Duration
	options      map[string]any
	debugEnabled bool
}

// NewClient creates a client for model at baseURL. timeout bounds each
// request including its streamed body; zero disables it.
func NewClient(apiKey, model, baseURL string, timeout time.Duration, options map[string]any) *Client {
	return &Client{
		httpClient: &http.Client{},
		provider:   "compat",
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		timeout:    timeout,
		options:    options,
	}
}

func (c *Client) Provider() string {
	return c.provider + "/" + c.model
}

func (c *Client) SetDebug(enabled bool) {
	c.debugEnabled = enabled
}

// SetHTTPClient replaces the transport, mainly for tests.
func (c *Client) SetHTTPClient(h *http.Client) {
	c.httpClient = h
}

func (c *Client) IsTransientError(err error) bool {
	return llm.IsTransient(err)
}

// StreamChat opens a streamed turn. The request timeout keeps running until
// the returned stream is closed.
func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Stream, error) {
	body, err := c.buildRequest(messages, tools, true)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.requestContext(ctx)
	resp, err := c.send(ctx, body, true)
	if err != nil {
		cancel()
		return nil, err
	}

	debugger := llm.NewStreamDebugger(ctx, c.provider, c.debugEnabled)
	dec := sse.NewDecoder(resp.Body)
	if debugger.Enabled() {
		dec.OnLine = func(line []byte) {
			if len(line) > 0 {
				debugger.Write(line)
			}
		}
	}

	stream := llm.NewStream(dec)
	stream.OnClose(func() {
		if n := dec.Dropped(); n > 0 {
			slog.DebugContext(ctx, "Dropped malformed stream payloads", "provider", c.Provider(), "count", n)
		}
		debugger.Close()
		cancel()
	})
	return stream, nil
}

// Chat performs a non-streamed turn. Tool call arguments are kept as the
// JSON text the backend returned.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.ChatResponse, error) {
	body, err := c.buildRequest(messages, tools, false)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	resp, err := c.send(ctx, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &llm.TransportError{Op: "read response", Err: err}
	}

	debugger := llm.NewStreamDebugger(ctx, c.provider, c.debugEnabled)
	debugger.Write(raw)
	debugger.Close()

	return parseResponse(raw)
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func (c *Client) send(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &llm.TransportError{Op: "send request", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &llm.BackendError{
			Provider:   c.Provider(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		}
	}
	return resp, nil
}

// buildRequest encodes the request and merges provider options (temperature,
// top_p, max_tokens or anything else the backend accepts) into the body.
func (c *Client) buildRequest(messages []llm.Message, tools []llm.ToolDefinition, stream bool) ([]byte, error) {
	req := chatRequest{
		Model:    c.model,
		Messages: convertMessages(messages),
		Stream:   stream,
		Tools:    convertTools(tools),
	}
	if stream && len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	for key, value := range c.options {
		if key == "" {
			continue
		}
		if body, err = sjson.SetBytes(body, key, value); err != nil {
			return nil, fmt.Errorf("apply option %q: %w", key, err)
		}
	}
	return body, nil
}

func convertMessages(messages []llm.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: m.Role, Content: m.Content}
		switch m.Role {
		case llm.RoleAssistant:
			for _, tc := range m.ToolCalls {
				wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: wireFunction{
						Name:      tc.Name,
						Arguments: tc.ArgumentsJSON(),
					},
				})
			}
		case llm.RoleTool:
			wm.ToolCallID = m.ToolCallID
		}
		out = append(out, wm)
	}
	return out
}

func convertTools(defs []llm.ToolDefinition) []wireTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(defs))
	for _, d := range defs {
		params := d.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, wireTool{
			Type: "function",
			Function: wireToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func parseResponse(raw []byte) (*llm.ChatResponse, error) {
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &llm.DecodeError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &llm.DecodeError{Err: errors.New("response has no choices")}
	}

	choice := resp.Choices[0]
	out := &llm.ChatResponse{
		Content:      choice.Message.Content,
		Reasoning:    choice.Message.ReasoningContent,
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: argumentText(tc.Function.Arguments),
		})
	}
	if resp.Usage != nil {
		out.Usage = &llm.LLMUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			StopReason:       choice.FinishReason,
		}
	}
	return out, nil
}

// argumentText unwraps a JSON string; objects sent by lenient backends are
// kept as their raw JSON text.
func argumentText(raw jsoniter.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
