package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"

	"toolagent/pkg/llm"
	"toolagent/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OllamaClient Ollama API client
type OllamaClient struct {
	client       *api.Client
	model        string
	timeout      time.Duration
	options      map[string]any
	think        bool
	debugEnabled bool
}

// SetDebug enables raw chunk logging
func (o *OllamaClient) SetDebug(enabled bool) {
	o.debugEnabled = enabled
}

// NewOllamaClient creates an Ollama client for baseURL.
func NewOllamaClient(model, baseURL string, timeout time.Duration, options map[string]any) (*OllamaClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	// Timeouts come from the request context; the transport itself has none
	// so slow model loads are not cut off at the header stage.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	httpClient := &http.Client{
		Transport: &JSONFixingRoundTripper{Proxied: transport},
	}

	// thinking_effort is ours; everything else is passed to the model as is
	opts := make(map[string]any, len(options))
	think := false
	for k, v := range options {
		if k == "thinking_effort" {
			effort, _ := v.(string)
			think = effort != "" && effort != "off"
			continue
		}
		opts[k] = v
	}

	slog.Debug("Ollama client initialized", "model", model, "base_url", baseURL)

	return &OllamaClient{
		client:  api.NewClient(u, httpClient),
		model:   model,
		timeout: timeout,
		options: opts,
		think:   think,
	}, nil
}

func (o *OllamaClient) Provider() string {
	return "ollama/" + o.model
}

// StreamChat opens a streamed turn. The SDK pushes chunks through a callback,
// which runs in its own goroutine and feeds the returned stream. The first
// chunk is awaited so load and status errors surface here.
func (o *OllamaClient) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Stream, error) {
	return o.open(ctx, messages, tools, true)
}

// Chat performs a non-streamed turn.
func (o *OllamaClient) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.ChatResponse, error) {
	stream, err := o.open(ctx, messages, tools, false)
	if err != nil {
		return nil, err
	}
	return llm.CollectResponse(stream)
}

func (o *OllamaClient) open(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, streaming bool) (*llm.Stream, error) {
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: convertMessages(messages),
		Options:  o.options,
		Tools:    convertTools(tools),
		Stream:   &streaming,
	}
	if o.think {
		req.Think = &api.ThinkValue{Value: true}
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		return o.run(ctx, cancel, req)
	}
	ctx, cancel := context.WithCancel(ctx)
	return o.run(ctx, cancel, req)
}

func (o *OllamaClient) run(ctx context.Context, cancel context.CancelFunc, req *api.ChatRequest) (*llm.Stream, error) {
	debugger := llm.NewStreamDebugger(ctx, "ollama", o.debugEnabled)
	events := make(chan llm.Event, 64)
	errCh := make(chan error, 1)
	tr := &translator{}

	go func() {
		defer debugger.Close()
		defer close(events)
		errCh <- o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			debugger.WriteJSON(resp)
			for _, ev := range tr.translate(resp) {
				select {
				case events <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}()

	first, ok := <-events
	if !ok {
		err := <-errCh
		cancel()
		if err == nil {
			err = &llm.DecodeError{Err: errors.New("empty response")}
		}
		return nil, o.wrapError(err)
	}

	primed := true
	src := llm.NewFuncSource(func(emit func(llm.Event)) (bool, error) {
		if primed {
			primed = false
			emit(first)
			return true, nil
		}
		ev, ok := <-events
		if !ok {
			if err := <-errCh; err != nil {
				return false, o.wrapError(err)
			}
			return false, nil
		}
		emit(ev)
		return true, nil
	}, nil)

	stream := llm.NewStream(src)
	stream.OnClose(cancel)
	return stream, nil
}

// translator maps Ollama chunks to events. Ollama sends whole tool calls in
// one chunk, so each call becomes a single complete fragment.
type translator struct {
	calls    int
	thoughts int
}

func (t *translator) translate(resp api.ChatResponse) []llm.Event {
	var out []llm.Event

	if resp.Message.Thinking != "" {
		t.thoughts++
		out = append(out, llm.TextEvent(resp.Message.Thinking, llm.ChannelReasoning))
	}
	if resp.Message.Content != "" {
		out = append(out, llm.TextEvent(resp.Message.Content, llm.ChannelContent))
	}

	for _, tc := range resp.Message.ToolCalls {
		argsB, err := json.Marshal(tc.Function.Arguments)
		if err != nil {
			slog.Warn("Failed to marshal tool call arguments", "provider", "ollama", "error", err)
			argsB = []byte("{}")
		}
		id := tc.ID
		if id == "" {
			id = utils.NewCallID()
		}
		out = append(out, llm.FragmentEvent(llm.ToolCallFragment{
			Index:     t.calls,
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: string(argsB),
		}))
		t.calls++
	}

	if resp.Done {
		reason := resp.DoneReason
		switch {
		case t.calls > 0:
			reason = llm.FinishReasonToolCalls
		case reason == "":
			reason = llm.FinishReasonStop
		}
		if reason == llm.FinishReasonLength {
			slog.Warn("Response truncated due to length", "provider", "ollama")
		}
		out = append(out,
			llm.FinishEvent(reason),
			llm.Event{Kind: llm.EventUsage, Usage: &llm.LLMUsage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
				TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
				ThoughtsTokens:   t.thoughts,
				StopReason:       resp.DoneReason,
			}},
			llm.DoneEvent(),
		)
	}
	return out
}

func (o *OllamaClient) wrapError(err error) error {
	var se api.StatusError
	if errors.As(err, &se) {
		return &llm.BackendError{
			Provider:   o.Provider(),
			StatusCode: se.StatusCode,
			Body:       se.ErrorMessage,
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var de *llm.DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &llm.TransportError{Op: "ollama chat", Err: err}
}

// convertMessages converts messages to Ollama API format
func convertMessages(messages []llm.Message) []api.Message {
	out := make([]api.Message, 0, len(messages))

	for _, m := range messages {
		msg := api.Message{
			Role:    m.Role,
			Content: m.Content,
		}

		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			for _, tc := range m.ToolCalls {
				// api.ToolCallFunctionArguments only decodes from JSON
				var apiArgs api.ToolCallFunctionArguments
				if err := json.Unmarshal([]byte(tc.ArgumentsJSON()), &apiArgs); err != nil {
					slog.Warn("Failed to convert tool arguments for history", "provider", "ollama", "error", err)
				}
				msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: apiArgs,
					},
				})
			}
		}

		if m.Role == llm.RoleTool {
			msg.ToolName = m.ToolName
			msg.ToolCallID = m.ToolCallID
		}

		out = append(out, msg)
	}

	return out
}

// convertTools goes through JSON; api.Tool nests its schema types deeply.
func convertTools(defs []llm.ToolDefinition) api.Tools {
	if len(defs) == 0 {
		return nil
	}
	raw := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		raw = append(raw, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Parameters,
			},
		})
	}

	b, err := json.Marshal(raw)
	if err != nil {
		slog.Error("Failed to marshal tools", "provider", "ollama", "error", err)
		return nil
	}
	var tools api.Tools
	if err := json.Unmarshal(b, &tools); err != nil {
		slog.Error("Failed to unmarshal to api.Tool", "provider", "ollama", "error", err)
		return nil
	}
	return tools
}

// IsTransientError implements the llm.LLMClient interface
func (o *OllamaClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if llm.IsTransient(err) {
		return true
	}
	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "connection reset") {
		return true
	}
	return strings.Contains(errMsg, "overloaded")
}

//----------------------------------------------------------------
// JSONFixingRoundTripper - Interceptor that fixes illegal JSON escapes
//----------------------------------------------------------------

// JSONFixingRoundTripper removes illegal escapes (e.g. \$) some models put
// into their JSON stream.
type JSONFixingRoundTripper struct {
	Proxied http.RoundTripper
}

func (j *JSONFixingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := j.Proxied.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "application/json") || strings.Contains(ct, "application/x-ndjson") {
		resp.Body = &jsonFixingReadCloser{body: resp.Body}
	}
	return resp, nil
}

type jsonFixingReadCloser struct {
	body io.ReadCloser
}

var illegalEscapeRegex = regexp.MustCompile(`\\([^\/\\bfnrtu"])`)

func (j *jsonFixingReadCloser) Read(p []byte) (n int, err error) {
	n, err = j.body.Read(p)
	if n > 0 {
		// 只會刪除反斜線，長度只會變短
		fixed := illegalEscapeRegex.ReplaceAll(p[:n], []byte("$1"))
		if len(fixed) < n {
			n = copy(p, fixed)
		}
	}
	return n, err
}

func (j *jsonFixingReadCloser) Close() error {
	return j.body.Close()
}
