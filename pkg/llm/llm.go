package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json 用於 package llm 內部的 JSON 處理，統一使用 json-iterator
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LLMUsage 定義通用的用量統計結構
type LLMUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	ThoughtsTokens   int    `json:"thoughts_tokens,omitempty"`
	CachedTokens     int    `json:"cached_tokens,omitempty"`
	StopReason       string `json:"stop_reason,omitempty"`
}

// LogUsage 印出統一格式的用量統計
func LogUsage(ctx context.Context, model string, usage *LLMUsage) {
	if usage == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "\n> ### 📊 Usage (%s)\n", model)
	fmt.Fprintf(&sb, "> | Item | Tokens |\n")
	fmt.Fprintf(&sb, "> | :--- | :--- |\n")
	fmt.Fprintf(&sb, "> | **Prompt** | %d |\n", usage.PromptTokens)
	fmt.Fprintf(&sb, "> | **Completion** | %d |\n", usage.CompletionTokens)
	fmt.Fprintf(&sb, "> | **Total** | **%d** |\n", usage.TotalTokens)
	if usage.ThoughtsTokens > 0 {
		fmt.Fprintf(&sb, "> | **Thoughts** | %d |\n", usage.ThoughtsTokens)
	}
	if usage.CachedTokens > 0 {
		fmt.Fprintf(&sb, "> | **Cached** | %d |\n", usage.CachedTokens)
	}
	if usage.StopReason != "" {
		fmt.Fprintf(&sb, "> | **Stop reason** | %s |\n", usage.StopReason)
	}
	fmt.Fprint(&sb, "> ---")

	slog.DebugContext(ctx, sb.String())
}

// ChatResponse is a complete, non-streamed backend reply.
type ChatResponse struct {
	Content      string
	Reasoning    string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *LLMUsage
}

// Stream replays the response as the event sequence a streaming turn would
// produce, so the agent drives both modes through one loop.
func (r *ChatResponse) Stream() *Stream {
	var events []Event
	if r.Reasoning != "" {
		events = append(events, TextEvent(r.Reasoning, ChannelReasoning))
	}
	if r.Content != "" {
		events = append(events, TextEvent(r.Content, ChannelContent))
	}
	if r.FinishReason != "" {
		events = append(events, FinishEvent(r.FinishReason))
	}
	if len(r.ToolCalls) > 0 {
		events = append(events, Event{Kind: EventToolCalls, ToolCalls: r.ToolCalls})
	}
	if r.Usage != nil {
		events = append(events, Event{Kind: EventUsage, Usage: r.Usage})
	}
	events = append(events, DoneEvent())
	return NewStream(NewSliceSource(events...))
}

// CollectResponse drains a stream into a ChatResponse. Providers without a
// separate non-streaming endpoint implement Chat with it.
func CollectResponse(stream *Stream) (*ChatResponse, error) {
	defer stream.Close()

	var content, reasoning strings.Builder
	resp := &ChatResponse{}
	for stream.Next() {
		ev := stream.Event()
		switch ev.Kind {
		case EventTextDelta:
			if ev.Channel == ChannelReasoning {
				reasoning.WriteString(ev.Text)
			} else {
				content.WriteString(ev.Text)
			}
		case EventToolCalls:
			resp.ToolCalls = append(resp.ToolCalls, ev.ToolCalls...)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	resp.Content = content.String()
	resp.Reasoning = reasoning.String()
	resp.FinishReason = stream.FinishReason()
	resp.Usage = stream.Usage()
	return resp, nil
}

// LLMClient 通用 LLM 客戶端介面
type LLMClient interface {
	// Provider returns a short label such as "compat" or "gemini/gemini-2.5-flash".
	Provider() string

	// StreamChat opens a streamed turn. The caller must Close the stream.
	StreamChat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Stream, error)

	// Chat performs a non-streamed turn.
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*ChatResponse, error)

	// IsTransientError 判斷是否為暫時性錯誤 (如 503, Rate Limit)
	IsTransientError(err error) bool
}

// FallbackClient 支援多個 Client 分級嘗試
// Retries only cover opening a turn; a stream that fails midway is reported as is.
type FallbackClient struct {
	Clients    []LLMClient
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) Provider() string {
	names := make([]string, len(f.Clients))
	for i, c := range f.Clients {
		names[i] = c.Provider()
	}
	return "fallback[" + strings.Join(names, ",") + "]"
}

func (f *FallbackClient) StreamChat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Stream, error) {
	return tryEach(ctx, f, func(c LLMClient) (*Stream, error) {
		return c.StreamChat(ctx, messages, tools)
	})
}

func (f *FallbackClient) Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*ChatResponse, error) {
	return tryEach(ctx, f, func(c LLMClient) (*ChatResponse, error) {
		return c.Chat(ctx, messages, tools)
	})
}

// IsTransientError 實作 LLMClient 介面
// FallbackClient 的錯誤代表所有 Client 都失敗了，視為非暫時性
func (f *FallbackClient) IsTransientError(err error) bool {
	return false
}

func tryEach[T any](ctx context.Context, f *FallbackClient, call func(LLMClient) (T, error)) (T, error) {
	var zero T
	var lastErr error

	// 使用配置的重試次數，若為 0 則至少執行 1 次
	maxRetries := f.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	for i, client := range f.Clients {
		if i > 0 {
			slog.WarnContext(ctx, "Previous provider failed, trying fallback", "index", i+1, "provider", client.Provider())
		}

		for retry := 1; retry <= maxRetries; retry++ {
			if retry > 1 {
				slog.InfoContext(ctx, "Retrying provider", "provider", client.Provider(), "attempt", retry, "max", maxRetries)
				select {
				case <-ctx.Done():
					return zero, ctx.Err()
				case <-time.After(time.Duration(retry-1) * f.RetryDelay):
				}
			}

			res, err := call(client)
			if err == nil {
				return res, nil
			}
			lastErr = err

			if client.IsTransientError(err) && retry < maxRetries {
				slog.WarnContext(ctx, "Provider failed with transient error", "provider", client.Provider(), "error", err)
				continue
			}

			slog.ErrorContext(ctx, "Provider failed", "provider", client.Provider(), "error", err)
			break
		}
	}
	return zero, fmt.Errorf("all fallback providers failed: %w", lastErr)
}
