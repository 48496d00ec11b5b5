package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"toolagent/pkg/config"
	"toolagent/pkg/llm"
	"toolagent/pkg/monitor"
	"toolagent/pkg/tools"
	"toolagent/pkg/utils"
)

// TurnBudgetAdvisory is sent instead of a backend call once an exchange has
// used up its turns.
const TurnBudgetAdvisory = "Maximum number of turns reached for this request. Please start a new conversation."

// Stop reasons reported in Result.
const (
	StopComplete = "complete"
	StopMaxTurns = "max_turns"
)

// skippedToolText answers calls that were not run because an earlier call of
// the same turn failed. Every call id of an assistant entry gets an answer.
const skippedToolText = "Skipped: an earlier tool call in this turn failed."

// Sink receives response text as it streams, tagged with its channel
// (llm.ChannelContent or llm.ChannelReasoning).
type Sink func(text, channel string)

// Options control one Agent.
type Options struct {
	MaxTurns     int
	SystemPrompt string
	// Stream selects streamed turns; otherwise Chat responses are replayed.
	Stream bool
	// ShowThinking keeps the reasoning channel; when false it is dropped.
	ShowThinking bool
	// FeedToolErrors hands tool failures back to the model instead of aborting.
	FeedToolErrors bool
	EnableTools    bool

	// ChannelID and SessionID label monitor output.
	ChannelID string
	SessionID string
}

// OptionsFromConfig maps the loop settings of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxTurns:       cfg.MaxTurns,
		SystemPrompt:   cfg.SystemPrompt,
		Stream:         cfg.Stream,
		ShowThinking:   cfg.ShowThinking,
		FeedToolErrors: cfg.FeedToolErrors,
		EnableTools:    cfg.EnableTools,
	}
}

// Result summarizes a finished exchange.
type Result struct {
	Output     string
	Turns      int
	StopReason string
	ToolCalls  int
	Duration   time.Duration
}

// ExchangeError reports an exchange aborted by a backend or tool failure.
type ExchangeError struct {
	Turn int
	Err  error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange aborted at turn %d: %v", e.Turn, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// Agent runs the multi-turn loop for one conversation: backend call, drain
// the stream, execute requested tools, repeat until a plain answer or the
// turn budget runs out. One exchange runs at a time.
type Agent struct {
	client llm.LLMClient
	tools  *tools.ToolRegistry
	store  *llm.ConversationStore

	optsMu sync.RWMutex
	opts   Options

	monitor monitor.Monitor

	runMu sync.Mutex
	turn  atomic.Int32
}

// New creates an agent with an empty conversation. registry may be nil.
func New(client llm.LLMClient, registry *tools.ToolRegistry, opts Options) *Agent {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = config.Default().MaxTurns
	}
	return &Agent{
		client: client,
		tools:  registry,
		store:  llm.NewConversationStore(),
		opts:   opts,
	}
}

// SetMonitor attaches an observer notified of every entry and status change.
func (a *Agent) SetMonitor(m monitor.Monitor) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	a.monitor = m
}

// UpdateOptions changes options for the next exchange.
func (a *Agent) UpdateOptions(fn func(*Options)) {
	a.optsMu.Lock()
	defer a.optsMu.Unlock()
	fn(&a.opts)
}

func (a *Agent) options() Options {
	a.optsMu.RLock()
	defer a.optsMu.RUnlock()
	return a.opts
}

// Status returns the current agent status.
func (a *Agent) Status() llm.AgentStatus { return a.store.Status() }

// History returns a copy of the conversation.
func (a *Agent) History() []llm.Message { return a.store.Snapshot() }

// Turn returns the turn counter of the current (or last) exchange.
func (a *Agent) Turn() int { return int(a.turn.Load()) }

// Reset clears the conversation and the turn counter. It waits for a running
// exchange to finish.
func (a *Agent) Reset() {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	a.store.Reset()
	a.turn.Store(0)
	a.notifyStatus(llm.StatusIdle)
}

// Run processes one user input until the model answers without tool calls,
// the turn budget is exhausted, or a failure aborts the exchange. Text is
// forwarded to sink as it arrives.
func (a *Agent) Run(ctx context.Context, input string, sink Sink) (*Result, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	if sink == nil {
		sink = func(string, string) {}
	}
	if utils.ExchangeIDFromContext(ctx) == "" {
		ctx = utils.WithExchangeID(ctx, utils.NewExchangeID())
	}

	opts := a.options()
	start := time.Now()
	res := &Result{}
	defer func() { res.Duration = time.Since(start) }()

	var defs []llm.ToolDefinition
	if opts.EnableTools && a.tools != nil {
		defs = a.tools.Definitions()
	}

	slog.InfoContext(ctx, "Exchange started", "session", opts.SessionID, "input_chars", len(input), "tools", len(defs))

	a.turn.Store(0)
	a.appendEntry(llm.NewUserMessage(input))

	for {
		turn := int(a.turn.Add(1))
		if turn > opts.MaxTurns {
			slog.WarnContext(ctx, "Turn budget exhausted", "max_turns", opts.MaxTurns)
			sink(TurnBudgetAdvisory, llm.ChannelContent)
			a.setStatus(llm.StatusIdle)
			res.Output = TurnBudgetAdvisory
			res.StopReason = StopMaxTurns
			return res, nil
		}
		res.Turns = turn

		a.setStatus(llm.StatusThinking)
		text, calls, err := a.callBackend(ctx, opts, turn, defs, sink)
		if err != nil {
			slog.ErrorContext(ctx, "Backend call failed", "turn", turn, "error", err)
			a.setStatus(llm.StatusError)
			return res, &ExchangeError{Turn: turn, Err: err}
		}

		a.appendEntry(llm.NewAssistantMessage(text, calls))

		if len(calls) == 0 {
			a.setStatus(llm.StatusIdle)
			res.Output = text
			res.StopReason = StopComplete
			slog.InfoContext(ctx, "Exchange complete", "turns", turn, "tool_calls", res.ToolCalls, "duration", time.Since(start))
			return res, nil
		}

		a.setStatus(llm.StatusExecutingTool)
		if err := a.executeCalls(ctx, opts, calls, res); err != nil {
			a.setStatus(llm.StatusError)
			return res, &ExchangeError{Turn: turn, Err: err}
		}
	}
}

// callBackend performs one backend turn and drains its stream.
func (a *Agent) callBackend(ctx context.Context, opts Options, turn int, defs []llm.ToolDefinition, sink Sink) (string, []llm.ToolCall, error) {
	history := a.store.Snapshot()
	if opts.SystemPrompt != "" && !llm.HasSystemMessage(history) {
		history = append([]llm.Message{llm.NewSystemMessage(opts.SystemPrompt)}, history...)
	}

	slog.DebugContext(ctx, "Calling backend", "turn", turn, "provider", a.client.Provider(), "messages", len(history), "stream", opts.Stream)

	var stream *llm.Stream
	if opts.Stream {
		s, err := a.client.StreamChat(ctx, history, defs)
		if err != nil {
			return "", nil, err
		}
		stream = s
	} else {
		resp, err := a.client.Chat(ctx, history, defs)
		if err != nil {
			return "", nil, err
		}
		stream = resp.Stream()
	}
	defer stream.Close()

	var text strings.Builder
	var calls []llm.ToolCall

drain:
	for stream.Next() {
		ev := stream.Event()
		switch ev.Kind {
		case llm.EventTextDelta:
			if ev.Channel == llm.ChannelReasoning && !opts.ShowThinking {
				continue
			}
			sink(ev.Text, ev.Channel)
			text.WriteString(ev.Text)
		case llm.EventToolCalls:
			calls = append(calls, ev.ToolCalls...)
		case llm.EventDone:
			break drain
		}
	}
	if err := stream.Err(); err != nil {
		return "", nil, err
	}

	llm.LogUsage(ctx, a.client.Provider(), stream.Usage())
	slog.DebugContext(ctx, "Backend turn finished", "turn", turn, "finish_reason", stream.FinishReason(), "chars", text.Len(), "tool_calls", len(calls))
	return text.String(), calls, nil
}

// executeCalls runs the calls strictly in order, answering each with a tool entry.
func (a *Agent) executeCalls(ctx context.Context, opts Options, calls []llm.ToolCall, res *Result) error {
	for i, call := range calls {
		res.ToolCalls++

		out, err := a.execute(ctx, call)
		if err == nil {
			a.appendEntry(llm.NewToolMessage(call.ID, call.Name, out.Content))
			continue
		}

		slog.WarnContext(ctx, "Tool call failed", "tool", call.Name, "call_id", call.ID, "error", err)
		a.appendEntry(llm.NewToolMessage(call.ID, call.Name, "Error: "+err.Error()))
		if opts.FeedToolErrors {
			continue
		}

		for _, rest := range calls[i+1:] {
			a.appendEntry(llm.NewToolMessage(rest.ID, rest.Name, skippedToolText))
		}
		return err
	}
	return nil
}

func (a *Agent) execute(ctx context.Context, call llm.ToolCall) (*tools.ToolResult, error) {
	if a.tools == nil {
		return nil, fmt.Errorf("%w: %s", tools.ErrToolNotFound, call.Name)
	}
	return a.tools.Execute(ctx, call)
}

func (a *Agent) appendEntry(msg llm.Message) {
	a.store.Append(msg)
	if a.monitor == nil {
		return
	}
	opts := a.options()
	for _, m := range monitor.FromEntry(opts.ChannelID, opts.SessionID, msg) {
		a.monitor.OnMessage(m)
	}
}

func (a *Agent) setStatus(s llm.AgentStatus) {
	a.store.SetStatus(s)
	a.notifyStatus(s)
}

func (a *Agent) notifyStatus(s llm.AgentStatus) {
	if a.monitor == nil {
		return
	}
	opts := a.options()
	a.monitor.OnStatus(opts.ChannelID, opts.SessionID, s)
}
