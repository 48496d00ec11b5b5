// Package console is the interactive terminal front-end: one prompt loop,
// one session.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"toolagent/pkg/gateway"
	"toolagent/pkg/llm"
	"toolagent/pkg/monitor"
)

const (
	prompt    = "You: "
	replyHead = "Assistant: "

	dim   = "\033[2m"
	reset = "\033[0m"
)

// Console reads user lines from in and streams replies to out.
//
// Commands: "quit" or "exit" (any case) ends the loop, "/reset" clears the
// conversation and "/status" prints the agent status. Empty lines are skipped.
type Console struct {
	in      io.Reader
	out     io.Writer
	color   bool
	session gateway.SessionContext

	done     chan struct{}
	cancel   context.CancelFunc
	stopOnce sync.Once
	mu       sync.Mutex // guards out
}

// New creates a console channel. Reasoning text is dimmed when out is a terminal.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:    in,
		out:   out,
		color: monitor.IsTerminal(out),
		session: gateway.SessionContext{
			ChannelID: "console",
			UserID:    "local",
			ChatID:    "local",
			Username:  "you",
		},
		done: make(chan struct{}),
	}
}

func (c *Console) ID() string { return "console" }

// Done is closed when the prompt loop ends (quit, end of input or Stop).
func (c *Console) Done() <-chan struct{} { return c.done }

func (c *Console) Start(ctx context.Context, h gateway.Handler) error {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.loop(ctx, h)
	return nil
}

// Stop aborts a running exchange. A read blocked on in returns on the next line.
func (c *Console) Stop() error {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
	return nil
}

func (c *Console) loop(ctx context.Context, h gateway.Handler) {
	defer close(c.done)

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	c.printf("Type 'quit' to exit, '/reset' to start over, '/status' to show the agent state.\n")
	for {
		c.printf(prompt)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				slog.Error("Console input failed", "error", err)
			}
			c.printf("\n")
			return
		}
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.EqualFold(line, "quit"), strings.EqualFold(line, "exit"):
			c.printf("Goodbye!\n")
			return
		case line == "/reset":
			h.Reset(c.session)
			c.printf("Conversation reset.\n")
			continue
		case line == "/status":
			c.printf("Status: %s\n", h.Status(c.session))
			continue
		}

		c.exchange(ctx, h, line)
	}
}

func (c *Console) exchange(ctx context.Context, h gateway.Handler, line string) {
	c.printf(replyHead)

	inReasoning := false
	sink := func(text, channel string) {
		reasoning := channel == llm.ChannelReasoning
		if c.color && reasoning != inReasoning {
			if reasoning {
				c.printf(dim)
			} else {
				c.printf(reset)
			}
		}
		inReasoning = reasoning
		c.printf("%s", text)
	}

	res, err := h.Handle(ctx, c.session, line, sink)
	if c.color && inReasoning {
		c.printf(reset)
	}
	c.printf("\n")

	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	slog.DebugContext(ctx, "Console exchange finished",
		"turns", res.Turns, "stop_reason", res.StopReason, "duration", res.Duration)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
