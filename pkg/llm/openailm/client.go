// Package openailm adapts the OpenAI Responses API to the llm event model.
package openailm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"toolagent/pkg/llm"
)

// Client is a wrapper around the official OpenAI Go SDK
type Client struct {
	client       *openai.Client
	provider     string
	model        string
	timeout      time.Duration
	debugEnabled bool
	options      map[string]any
}

// NewClient creates a new OpenAI client. Retries are left to llm.FallbackClient.
func NewClient(apiKey, model, baseURL string, timeout time.Duration, options map[string]any, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	client := openai.NewClient(opts...)

	return &Client{
		client:   &client,
		provider: "openai",
		model:    model,
		timeout:  timeout,
		options:  options,
	}
}

func (c *Client) Provider() string {
	return c.provider + "/" + c.model
}

func (c *Client) SetDebug(enabled bool) {
	c.debugEnabled = enabled
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if llm.IsTransient(err) {
		return true
	}
	msg := strings.ToLower(err.Error())

	// Transient: network-level issues
	if strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") {
		return true
	}

	// Transient: server-side temporary failures
	return strings.Contains(msg, "overloaded")
}

// StreamChat opens a streamed turn. The first event is read before returning
// so connection and status errors surface here, where they can be retried.
func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Stream, error) {
	params, opts := c.buildParams(messages, tools)

	ctx, cancel := c.requestContext(ctx)
	stream := c.client.Responses.NewStreaming(ctx, params, opts...)

	if !stream.Next() {
		err := stream.Err()
		stream.Close()
		cancel()
		if err == nil {
			err = &llm.DecodeError{Err: errors.New("empty response stream")}
		}
		return nil, c.wrapError(err)
	}

	debugger := llm.NewStreamDebugger(ctx, c.provider, c.debugEnabled)
	tr := &translator{client: c, primed: true}
	src := llm.NewFuncSource(func(emit func(llm.Event)) (bool, error) {
		return tr.fill(stream, debugger, emit)
	}, stream.Close)

	out := llm.NewStream(src)
	out.OnClose(func() {
		debugger.Close()
		cancel()
	})
	return out, nil
}

// Chat performs a non-streamed turn.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.ChatResponse, error) {
	params, opts := c.buildParams(messages, tools)

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	resp, err := c.client.Responses.New(ctx, params, opts...)
	if err != nil {
		return nil, c.wrapError(err)
	}

	debugger := llm.NewStreamDebugger(ctx, c.provider, c.debugEnabled)
	debugger.WriteString(resp.RawJSON())
	debugger.Close()

	out := &llm.ChatResponse{
		Content:      resp.OutputText(),
		FinishReason: llm.FinishReasonStop,
		Usage:        convertUsage(resp.Usage),
	}
	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		fc := item.AsFunctionCall()
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        fc.CallID,
			Name:      fc.Name,
			Arguments: fc.Arguments,
		})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = llm.FinishReasonToolCalls
	}
	if resp.Status == responses.ResponseStatusIncomplete {
		out.FinishReason = llm.FinishReasonLength
	}
	if out.Usage != nil {
		out.Usage.StopReason = out.FinishReason
	}
	return out, nil
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// wrapError maps SDK failures onto the llm error types.
func (c *Client) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &llm.BackendError{
			Provider:   c.Provider(),
			StatusCode: apiErr.StatusCode,
			Body:       apiErr.Error(),
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var de *llm.DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &llm.TransportError{Op: "openai stream", Err: err}
}

func (c *Client) buildParams(messages []llm.Message, tools []llm.ToolDefinition) (responses.ResponseNewParams, []option.RequestOption) {
	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertMessages(messages),
		},
	}
	if t := convertTools(tools); len(t) > 0 {
		params.Tools = t
	}

	var opts []option.RequestOption

	// Handle unified "thinking_effort" option
	if effortStr, ok := c.options["thinking_effort"].(string); ok && effortStr != "" && effortStr != "off" {
		var effort shared.ReasoningEffort
		switch effortStr {
		case "low":
			effort = shared.ReasoningEffortLow
		case "high":
			effort = shared.ReasoningEffortHigh
		default:
			effort = shared.ReasoningEffortMedium
		}
		params.Reasoning = shared.ReasoningParam{Effort: effort}
	}

	if t, ok := c.options["temperature"].(float64); ok {
		opts = append(opts, option.WithJSONSet("temperature", t))
	}
	if p, ok := c.options["top_p"].(float64); ok {
		opts = append(opts, option.WithJSONSet("top_p", p))
	}
	// max_tokens maps to the Responses API name
	if maxTok, ok := c.options["max_tokens"].(float64); ok {
		opts = append(opts, option.WithJSONSet("max_output_tokens", int(maxTok)))
	}
	return params, opts
}

// translator turns Responses API stream events into llm events. Function
// calls become fragments keyed by output index so the shared assembler
// rebuilds them like any other backend.
type translator struct {
	client       *Client
	primed       bool
	sawToolCalls bool
	thinking     strings.Builder
}

func (t *translator) fill(stream *ssestream.Stream[responses.ResponseStreamEventUnion], debugger *llm.StreamDebugger, emit func(llm.Event)) (bool, error) {
	if t.primed {
		t.primed = false
	} else if !stream.Next() {
		if err := stream.Err(); err != nil {
			return false, t.client.wrapError(err)
		}
		if s := strings.TrimSpace(t.thinking.String()); s != "" {
			slog.Debug("Captured full thinking process", "provider", t.client.Provider(), "content", s)
		}
		return false, nil
	}

	event := stream.Current()
	debugger.WriteString(event.RawJSON())
	return true, t.translate(event, emit)
}

func (t *translator) translate(event responses.ResponseStreamEventUnion, emit func(llm.Event)) error {
	switch variant := event.AsAny().(type) {
	case responses.ResponseTextDeltaEvent:
		emit(llm.TextEvent(variant.Delta, llm.ChannelContent))

	case responses.ResponseReasoningTextDeltaEvent:
		t.thinking.WriteString(variant.Delta)
		emit(llm.TextEvent(variant.Delta, llm.ChannelReasoning))

	case responses.ResponseReasoningSummaryTextDeltaEvent:
		t.thinking.WriteString(variant.Delta)
		emit(llm.TextEvent(variant.Delta, llm.ChannelReasoning))

	case responses.ResponseOutputItemAddedEvent:
		if variant.Item.Type == "function_call" {
			fc := variant.Item.AsFunctionCall()
			t.sawToolCalls = true
			emit(llm.FragmentEvent(llm.ToolCallFragment{
				Index:     int(variant.OutputIndex),
				ID:        fc.CallID,
				Name:      fc.Name,
				Arguments: fc.Arguments,
			}))
		}

	case responses.ResponseFunctionCallArgumentsDeltaEvent:
		emit(llm.FragmentEvent(llm.ToolCallFragment{
			Index:     int(variant.OutputIndex),
			Arguments: variant.Delta,
		}))

	case responses.ResponseCompletedEvent:
		reason := llm.FinishReasonStop
		if t.sawToolCalls {
			reason = llm.FinishReasonToolCalls
		}
		emit(llm.FinishEvent(reason))
		if usage := convertUsage(variant.Response.Usage); usage != nil {
			usage.StopReason = reason
			emit(llm.Event{Kind: llm.EventUsage, Usage: usage})
		}
		emit(llm.DoneEvent())

	case responses.ResponseIncompleteEvent:
		emit(llm.FinishEvent(llm.FinishReasonLength))
		emit(llm.DoneEvent())

	case responses.ResponseFailedEvent:
		return &llm.BackendError{
			Provider: t.client.Provider(),
			Body:     "response failed: " + variant.Response.Error.Message,
		}

	case responses.ResponseErrorEvent:
		return &llm.BackendError{
			Provider: t.client.Provider(),
			Body:     variant.Message,
		}
	}
	return nil
}

func convertUsage(u responses.ResponseUsage) *llm.LLMUsage {
	if u.TotalTokens == 0 {
		return nil
	}
	return &llm.LLMUsage{
		PromptTokens:     int(u.InputTokens),
		CompletionTokens: int(u.OutputTokens),
		TotalTokens:      int(u.TotalTokens),
		ThoughtsTokens:   int(u.OutputTokensDetails.ReasoningTokens),
		CachedTokens:     int(u.InputTokensDetails.CachedTokens),
	}
}

func convertMessages(messages []llm.Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.Content,
				responses.EasyInputMessageRoleSystem,
			))
		case llm.RoleUser:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.Content,
				responses.EasyInputMessageRoleUser,
			))
		case llm.RoleAssistant:
			if m.Content != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(
					m.Content,
					responses.EasyInputMessageRoleAssistant,
				))
			}
			for _, tc := range m.ToolCalls {
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(
					tc.ArgumentsJSON(),
					tc.ID,
					tc.Name,
				))
			}
		case llm.RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(
				m.ToolCallID,
				m.Content,
			))
		}
	}

	return items
}

func convertTools(defs []llm.ToolDefinition) []responses.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]responses.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  d.Parameters,
				Strict:      openai.Bool(false),
			},
		})
	}
	return tools
}
