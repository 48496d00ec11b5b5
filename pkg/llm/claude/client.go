// Package claude adapts the Claude Messages API to the llm event model.
package claude

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"toolagent/pkg/llm"
)

const defaultMaxTokens = 4096

// Client wraps the Anthropic SDK
type Client struct {
	client       *anthropic.Client
	model        string
	timeout      time.Duration
	options      map[string]any
	debugEnabled bool
}

// NewClient creates a client for model. Retries are left to llm.FallbackClient.
func NewClient(apiKey, model, baseURL string, timeout time.Duration, options map[string]any, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	c := anthropic.NewClient(opts...)
	return &Client{
		client:  &c,
		model:   model,
		timeout: timeout,
		options: options,
	}
}

func (c *Client) Provider() string {
	return "anthropic/" + c.model
}

func (c *Client) SetDebug(enabled bool) {
	c.debugEnabled = enabled
}

func (c *Client) IsTransientError(err error) bool {
	if llm.IsTransient(err) {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "overloaded")
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// StreamChat opens a streamed turn; the first event is read before returning.
func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Stream, error) {
	params := c.buildParams(messages, tools)

	ctx, cancel := c.requestContext(ctx)
	stream := c.client.Messages.NewStreaming(ctx, params)
	if !stream.Next() {
		err := stream.Err()
		stream.Close()
		cancel()
		if err == nil {
			err = &llm.DecodeError{Err: errors.New("empty response stream")}
		}
		return nil, c.wrapError(err)
	}

	debugger := llm.NewStreamDebugger(ctx, "anthropic", c.debugEnabled)
	tr := &translator{}
	primed := true
	src := llm.NewFuncSource(func(emit func(llm.Event)) (bool, error) {
		return c.fill(stream, tr, debugger, &primed, emit)
	}, stream.Close)

	out := llm.NewStream(src)
	out.OnClose(func() {
		debugger.Close()
		cancel()
	})
	return out, nil
}

func (c *Client) fill(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], tr *translator, debugger *llm.StreamDebugger, primed *bool, emit func(llm.Event)) (bool, error) {
	if *primed {
		*primed = false
	} else if !stream.Next() {
		if err := stream.Err(); err != nil {
			return false, c.wrapError(err)
		}
		return false, nil
	}
	event := stream.Current()
	debugger.WriteString(event.RawJSON())
	tr.translate(event, emit)
	return true, nil
}

// Chat performs a non-streamed turn.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.ChatResponse, error) {
	params := c.buildParams(messages, tools)

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, c.wrapError(err)
	}

	debugger := llm.NewStreamDebugger(ctx, "anthropic", c.debugEnabled)
	debugger.WriteString(msg.RawJSON())
	debugger.Close()

	var content, thinking strings.Builder
	out := &llm.ChatResponse{FinishReason: finishReason(string(msg.StopReason))}
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(v.Text)
		case anthropic.ThinkingBlock:
			thinking.WriteString(v.Thinking)
		case anthropic.ToolUseBlock:
			// Pass raw JSON input through to the tool implementation
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        v.ID,
				Name:      v.Name,
				Arguments: v.JSON.Input.Raw(),
			})
		}
	}
	out.Content = content.String()
	out.Reasoning = thinking.String()
	out.Usage = &llm.LLMUsage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		CachedTokens:     int(msg.Usage.CacheReadInputTokens),
		StopReason:       string(msg.StopReason),
	}
	return out, nil
}

func (c *Client) wrapError(err error) error {
	var apiErr *anthropic.Error
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
	return &llm.TransportError{Op: "anthropic stream", Err: err}
}

func (c *Client) buildParams(messages []llm.Message, tools []llm.ToolDefinition) anthropic.MessageNewParams {
	system, conv := convertMessages(messages)

	maxTokens := int64(defaultMaxTokens)
	if v, ok := c.options["max_tokens"].(float64); ok && v > 0 {
		maxTokens = int64(v)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  conv,
		System:    system,
		Tools:     convertTools(tools),
	}
	if t, ok := c.options["temperature"].(float64); ok {
		params.Temperature = anthropic.Float(t)
	}
	if p, ok := c.options["top_p"].(float64); ok {
		params.TopP = anthropic.Float(p)
	}
	if b, ok := c.options["thinking_budget"].(float64); ok && b > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(b))
	}
	return params
}

// translator maps Messages API stream events to llm events. Content block
// indexes double as tool call indexes.
type translator struct {
	inputTokens int64
}

func (t *translator) translate(event anthropic.MessageStreamEventUnion, emit func(llm.Event)) {
	switch v := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		t.inputTokens = v.Message.Usage.InputTokens

	case anthropic.ContentBlockStartEvent:
		if v.ContentBlock.Type == "tool_use" {
			emit(llm.FragmentEvent(llm.ToolCallFragment{
				Index: int(v.Index),
				ID:    v.ContentBlock.ID,
				Name:  v.ContentBlock.Name,
			}))
		}

	case anthropic.ContentBlockDeltaEvent:
		switch v.Delta.Type {
		case "text_delta":
			emit(llm.TextEvent(v.Delta.Text, llm.ChannelContent))
		case "thinking_delta":
			emit(llm.TextEvent(v.Delta.Thinking, llm.ChannelReasoning))
		case "input_json_delta":
			emit(llm.FragmentEvent(llm.ToolCallFragment{
				Index:     int(v.Index),
				Arguments: v.Delta.PartialJSON,
			}))
		}

	case anthropic.MessageDeltaEvent:
		emit(llm.FinishEvent(finishReason(string(v.Delta.StopReason))))
		emit(llm.Event{Kind: llm.EventUsage, Usage: &llm.LLMUsage{
			PromptTokens:     int(t.inputTokens),
			CompletionTokens: int(v.Usage.OutputTokens),
			TotalTokens:      int(t.inputTokens + v.Usage.OutputTokens),
			StopReason:       string(v.Delta.StopReason),
		}})

	case anthropic.MessageStopEvent:
		emit(llm.DoneEvent())
	}
}

func finishReason(stop string) string {
	switch stop {
	case "tool_use":
		return llm.FinishReasonToolCalls
	case "max_tokens":
		return llm.FinishReasonLength
	default:
		return llm.FinishReasonStop
	}
}

// convertMessages splits off the system prompt and folds consecutive tool
// results into one user message, as the API requires.
func convertMessages(messages []llm.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var conv []anthropic.MessageParam
	toolTurn := false

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
			toolTurn = false

		case llm.RoleTool:
			block := anthropic.NewToolResultBlock(m.ToolCallID, m.Content, strings.HasPrefix(m.Content, "Error: "))
			if toolTurn {
				last := &conv[len(conv)-1]
				last.Content = append(last.Content, block)
				continue
			}
			conv = append(conv, anthropic.NewUserMessage(block))
			toolTurn = true

		case llm.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.ArgumentsMap(), tc.Name))
			}
			if len(blocks) > 0 {
				conv = append(conv, anthropic.NewAssistantMessage(blocks...))
			}
			toolTurn = false

		default:
			conv = append(conv, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			toolTurn = false
		}
	}
	return system, conv
}

func convertTools(defs []llm.ToolDefinition) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := anthropic.ToolInputSchemaParam{Properties: d.Parameters["properties"]}
		if req, ok := d.Parameters["required"].([]string); ok {
			schema.Required = req
		} else if req, ok := d.Parameters["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: schema,
		}})
	}
	return out
}
