// Package sse decodes OpenAI-compatible chat completion streams
// ("data: {...}" lines terminated by "data: [DONE]") into llm events.
package sse

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"

	"github.com/tidwall/gjson"

	"toolagent/pkg/llm"
)

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
	doneBare   = []byte("DONE")
)

// Decoder turns a byte stream delivered in arbitrary chunks into llm events.
// It implements llm.EventSource.
type Decoder struct {
	body io.Reader
	r    *bufio.Reader

	cur   llm.Event
	queue []llm.Event
	err   error
	done  bool

	dropped int

	// OnLine, when set, sees every raw line before it is interpreted.
	OnLine func(line []byte)
}

// NewDecoder reads events from body. Close closes body when it is an io.Closer.
func NewDecoder(body io.Reader) *Decoder {
	return &Decoder{
		body: body,
		r:    bufio.NewReader(body),
	}
}

// Next advances to the next event. The underlying reader is only read when
// no complete line is buffered.
func (d *Decoder) Next() bool {
	for len(d.queue) == 0 {
		if d.done {
			return false
		}
		d.readLine()
	}
	d.cur = d.queue[0]
	d.queue = d.queue[1:]
	return true
}

func (d *Decoder) Event() llm.Event { return d.cur }

// Err returns the transport failure that ended the sequence, if any.
func (d *Decoder) Err() error { return d.err }

// Dropped returns how many data payloads were discarded as malformed JSON.
func (d *Decoder) Dropped() int { return d.dropped }

// Close stops decoding and releases the body.
func (d *Decoder) Close() error {
	d.done = true
	d.queue = nil
	if c, ok := d.body.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (d *Decoder) readLine() {
	line, err := d.r.ReadBytes('\n')
	switch {
	case err == nil:
		d.handleLine(line)
	case errors.Is(err, io.EOF):
		// 結尾沒有換行的殘餘資料視為最後一行
		if len(line) > 0 {
			d.handleLine(line)
		}
		d.done = true
	default:
		d.err = &llm.TransportError{Op: "read stream", Err: err}
		d.done = true
	}
}

func (d *Decoder) handleLine(line []byte) {
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))

	if d.OnLine != nil {
		d.OnLine(line)
	}

	if !bytes.HasPrefix(line, dataPrefix) {
		return
	}
	payload := line[len(dataPrefix):]
	payload = bytes.TrimPrefix(payload, []byte(" "))
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return
	}

	if bytes.Equal(payload, doneMarker) || bytes.Equal(payload, doneBare) {
		d.queue = append(d.queue, llm.DoneEvent())
		d.done = true
		return
	}

	if !gjson.ValidBytes(payload) {
		d.dropped++
		slog.Debug("Dropping malformed stream payload", "payload", string(payload), "dropped", d.dropped)
		return
	}

	d.queue = append(d.queue, decodePayload(gjson.ParseBytes(payload))...)
}

// decodePayload maps one chunk to events in a fixed order: reasoning,
// content, tool call fragments, finish, usage.
func decodePayload(chunk gjson.Result) []llm.Event {
	var events []llm.Event

	choice := chunk.Get("choices.0")
	delta := choice.Get("delta")

	reasoning := delta.Get("reasoning_content")
	if !reasoning.Exists() {
		reasoning = delta.Get("reasoning")
	}
	if reasoning.Type == gjson.String && reasoning.Str != "" {
		events = append(events, llm.TextEvent(reasoning.Str, llm.ChannelReasoning))
	}

	if content := delta.Get("content"); content.Type == gjson.String && content.Str != "" {
		events = append(events, llm.TextEvent(content.Str, llm.ChannelContent))
	}

	position := 0
	delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		f := llm.ToolCallFragment{
			Index: position,
			ID:    tc.Get("id").String(),
			Name:  tc.Get("function.name").String(),
		}
		if idx := tc.Get("index"); idx.Exists() {
			f.Index = int(idx.Int())
		}
		switch args := tc.Get("function.arguments"); args.Type {
		case gjson.String:
			f.Arguments = args.Str
		case gjson.Null:
		default:
			// Some backends send the arguments as an object rather than text.
			f.Arguments = args.Raw
		}
		events = append(events, llm.FragmentEvent(f))
		position++
		return true
	})

	if reason := choice.Get("finish_reason"); reason.Type == gjson.String && reason.Str != "" {
		events = append(events, llm.FinishEvent(reason.Str))
	}

	if usage := chunk.Get("usage"); usage.IsObject() {
		events = append(events, llm.Event{Kind: llm.EventUsage, Usage: &llm.LLMUsage{
			PromptTokens:     int(usage.Get("prompt_tokens").Int()),
			CompletionTokens: int(usage.Get("completion_tokens").Int()),
			TotalTokens:      int(usage.Get("total_tokens").Int()),
			CachedTokens:     int(usage.Get("prompt_tokens_details.cached_tokens").Int()),
		}})
	}

	return events
}
