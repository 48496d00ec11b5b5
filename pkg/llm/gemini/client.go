package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"

	"toolagent/pkg/llm"
	"toolagent/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GeminiClient Google Gemini API client
type GeminiClient struct {
	client       *genai.Client
	model        string
	useThought   bool
	timeout      time.Duration
	debugEnabled bool

	// thought signatures keyed by call id; Gemini wants them echoed back
	// with the function call on the next turn
	signatures sync.Map
}

// SetDebug enables raw chunk logging
func (g *GeminiClient) SetDebug(enabled bool) {
	g.debugEnabled = enabled
}

// NewGeminiClient creates a Gemini client with a single model and API key.
// baseURL is optional.
func NewGeminiClient(apiKey, model, baseURL string, useThought bool, timeout time.Duration) (*GeminiClient, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiClient{
		client:     client,
		model:      model,
		useThought: useThought,
		timeout:    timeout,
	}, nil
}

func (g *GeminiClient) Provider() string {
	return "gemini/" + g.model
}

// formatModality formats ModalityTokenCount array for logging
func formatModality(details []*genai.ModalityTokenCount) string {
	if len(details) == 0 {
		return "0"
	}
	var res []string
	for _, d := range details {
		res = append(res, fmt.Sprintf("%v: %d", d.Modality, d.TokenCount))
	}
	return strings.Join(res, " | ")
}

func (g *GeminiClient) config(messages []llm.Message, tools []llm.ToolDefinition) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents, system := g.convertMessages(messages)

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Tools:             convertTools(tools),
	}
	if g.useThought {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	return contents, cfg
}

func (g *GeminiClient) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return context.WithCancel(ctx)
}

// StreamChat opens a streamed turn. The SDK iterator is pulled one response
// at a time; the first is read before returning so start-up errors can be
// retried.
func (g *GeminiClient) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Stream, error) {
	contents, cfg := g.config(messages, tools)

	ctx, cancel := g.requestContext(ctx)
	next, stop := iter.Pull2(g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg))

	resp, err, ok := next()
	if !ok || (err != nil && resp == nil) {
		stop()
		cancel()
		if err == nil {
			err = &llm.DecodeError{Err: errors.New("empty response stream")}
		}
		return nil, g.wrapError(err)
	}

	debugger := llm.NewStreamDebugger(ctx, "gemini", g.debugEnabled)
	tr := &translator{client: g}

	var pendingErr error
	first := true
	src := llm.NewFuncSource(func(emit func(llm.Event)) (bool, error) {
		if pendingErr != nil {
			return false, pendingErr
		}
		if !first {
			resp, err, ok = next()
			if !ok {
				tr.finish(emit)
				return false, nil
			}
		}
		first = false

		if resp != nil {
			debugger.WriteJSON(resp)
			tr.translate(resp, emit)
		}
		if err != nil {
			// the SDK may hand back data together with the error
			slog.Warn("Gemini stream error", "model", g.model, "error", err)
			pendingErr = g.wrapError(err)
			if resp == nil {
				return false, pendingErr
			}
		}
		return true, nil
	}, nil)

	stream := llm.NewStream(src)
	stream.OnClose(func() {
		stop()
		debugger.Close()
		cancel()
	})
	return stream, nil
}

// Chat performs a non-streamed turn.
func (g *GeminiClient) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.ChatResponse, error) {
	contents, cfg := g.config(messages, tools)

	ctx, cancel := g.requestContext(ctx)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, g.wrapError(err)
	}

	debugger := llm.NewStreamDebugger(ctx, "gemini", g.debugEnabled)
	debugger.WriteJSON(resp)
	debugger.Close()

	var events []llm.Event
	emit := func(ev llm.Event) { events = append(events, ev) }
	tr := &translator{client: g}
	tr.translate(resp, emit)
	tr.finish(emit)
	return llm.CollectResponse(llm.NewStream(llm.NewSliceSource(events...)))
}

// translator maps Gemini responses to events. Function calls arrive whole,
// one complete fragment each.
type translator struct {
	client       *GeminiClient
	calls        int
	finishReason genai.FinishReason
	usage        *llm.LLMUsage
}

func (t *translator) translate(resp *genai.GenerateContentResponse, emit func(llm.Event)) {
	if u := resp.UsageMetadata; u != nil {
		t.usage = &llm.LLMUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
			ThoughtsTokens:   int(u.ThoughtsTokenCount),
			CachedTokens:     int(u.CachedContentTokenCount),
		}
		slog.Debug("Gemini token details", "prompt", formatModality(u.PromptTokensDetails), "completion", formatModality(u.CandidatesTokensDetails))
	}

	for _, candidate := range resp.Candidates {
		if candidate.FinishReason != "" {
			t.finishReason = candidate.FinishReason
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				channel := llm.ChannelContent
				if part.Thought {
					channel = llm.ChannelReasoning
				}
				emit(llm.TextEvent(part.Text, channel))
			}
			if part.FunctionCall != nil {
				emit(llm.FragmentEvent(t.fragment(part)))
			}
		}
	}
}

func (t *translator) fragment(part *genai.Part) llm.ToolCallFragment {
	fc := part.FunctionCall
	id := fc.ID
	if id == "" {
		// Gemini stream IDs are sometimes missing
		id = utils.NewCallID()
	}
	if len(part.ThoughtSignature) > 0 {
		t.client.signatures.Store(id, part.ThoughtSignature)
	}

	args, err := json.Marshal(fc.Args)
	if err != nil || fc.Args == nil {
		args = []byte("{}")
	}

	f := llm.ToolCallFragment{Index: t.calls, ID: id, Name: fc.Name, Arguments: string(args)}
	t.calls++
	return f
}

func (t *translator) finish(emit func(llm.Event)) {
	reason := llm.FinishReasonStop
	switch {
	case t.calls > 0:
		reason = llm.FinishReasonToolCalls
	case t.finishReason == genai.FinishReasonMaxTokens:
		reason = llm.FinishReasonLength
		slog.Warn("Response truncated due to max tokens limit", "provider", "gemini")
	}
	emit(llm.FinishEvent(reason))
	if t.usage != nil {
		t.usage.StopReason = string(t.finishReason)
		emit(llm.Event{Kind: llm.EventUsage, Usage: t.usage})
	}
	emit(llm.DoneEvent())
}

func (g *GeminiClient) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.BackendError{
			Provider:   g.Provider(),
			StatusCode: apiErr.Code,
			Body:       apiErr.Message,
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var de *llm.DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &llm.TransportError{Op: "gemini stream", Err: err}
}

// convertMessages converts message list to GenAI format. The system entry
// becomes the SystemInstruction; consecutive tool results share one content.
func (g *GeminiClient) convertMessages(messages []llm.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var system *genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			if msg.Content != "" {
				system = &genai.Content{Parts: []*genai.Part{{Text: msg.Content}}}
			}

		case llm.RoleTool:
			part := &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     msg.ToolName,
					Response: map[string]any{"result": msg.Content},
				},
			}
			if n := len(contents); n > 0 && contents[n-1].Role == genai.RoleUser && contents[n-1].Parts[0].FunctionResponse != nil {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})

		case llm.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				part := &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.ArgumentsMap(),
					},
				}
				if sig, ok := g.signatures.Load(tc.ID); ok {
					part.ThoughtSignature = sig.([]byte)
				}
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}

		default:
			if msg.Content == "" {
				continue // 略過空文本
			}
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	return contents, system
}

func convertTools(defs []llm.ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	fds := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		fds = append(fds, &genai.FunctionDeclaration{
			Name:                 d.Name,
			Description:          d.Description,
			ParametersJsonSchema: d.Parameters,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fds}}
}

// IsTransientError implements the llm.LLMClient interface
func (g *GeminiClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if llm.IsTransient(err) {
		return true
	}
	errMsg := strings.ToLower(err.Error())

	return strings.Contains(errMsg, "overloaded") ||
		strings.Contains(errMsg, "resource exhausted") ||
		strings.Contains(errMsg, "internal error")
}
