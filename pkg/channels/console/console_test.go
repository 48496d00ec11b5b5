package console_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"toolagent/pkg/agent"
	"toolagent/pkg/channels/console"
	"toolagent/pkg/gateway"
	"toolagent/pkg/llm"
)

type fakeHandler struct {
	inputs []string
	resets int
	fail   error
}

func (h *fakeHandler) Handle(ctx context.Context, s gateway.SessionContext, input string, sink agent.Sink) (*agent.Result, error) {
	h.inputs = append(h.inputs, input)
	if h.fail != nil {
		return nil, h.fail
	}
	sink("hmm ", llm.ChannelReasoning)
	sink("reply to "+input, llm.ChannelContent)
	return &agent.Result{Output: "reply to " + input, Turns: 1, StopReason: agent.StopComplete}, nil
}

func (h *fakeHandler) Reset(gateway.SessionContext) { h.resets++ }

func (h *fakeHandler) Status(gateway.SessionContext) llm.AgentStatus { return llm.StatusIdle }

func (h *fakeHandler) Close(gateway.SessionContext) {}

func run(t *testing.T, input string, h gateway.Handler) string {
	t.Helper()
	var out bytes.Buffer
	c := console.New(strings.NewReader(input), &out)
	if err := c.Start(context.Background(), h); err != nil {
		t.Fatal(err)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("console loop did not finish")
	}
	return out.String()
}

func TestConsole_Commands(t *testing.T) {
	h := &fakeHandler{}
	out := run(t, "hello\n\n   \n/reset\n/status\nQUIT\nnever read\n", h)

	if len(h.inputs) != 1 || h.inputs[0] != "hello" {
		t.Errorf("inputs: %q", h.inputs)
	}
	if h.resets != 1 {
		t.Errorf("resets: %d", h.resets)
	}
	for _, want := range []string{
		"Assistant: hmm reply to hello\n",
		"Conversation reset.",
		"Status: idle",
		"Goodbye!",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	// No colour codes when not writing to a terminal.
	if strings.Contains(out, "\033[") {
		t.Errorf("unexpected escape codes: %q", out)
	}
}

func TestConsole_EndOfInput(t *testing.T) {
	h := &fakeHandler{}
	run(t, "one\ntwo", h)
	if len(h.inputs) != 2 || h.inputs[1] != "two" {
		t.Errorf("inputs: %q", h.inputs)
	}
}

func TestConsole_ErrorIsPrinted(t *testing.T) {
	h := &fakeHandler{fail: &agent.ExchangeError{Turn: 1, Err: errors.New("backend down")}}
	out := run(t, "hi\nexit\n", h)
	if !strings.Contains(out, "Error: exchange aborted at turn 1: backend down") {
		t.Errorf("error not shown:\n%s", out)
	}
}
