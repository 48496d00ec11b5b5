package sse_test

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"

	"toolagent/pkg/llm"
	"toolagent/pkg/llm/sse"
)

const flightStream = "data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"let me look\"}}]}\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"Checking \"}}]}\n" +
	": keep-alive comment\n" +
	"\n" +
	"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"type\":\"function\",\"function\":{\"name\":\"get_flight_number\",\"arguments\":\"\"}}]}}]}\r\n" +
	"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"{\\\"departure\\\":\\\"Beijing\\\",\"}}]}}]}\n" +
	"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"\\\"destination\\\":\\\"Shanghai\\\"}\"}}]}}]}\n" +
	"data:{\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n" +
	"data: [DONE]\n"

func decodeAll(t *testing.T, r io.Reader) ([]llm.Event, error) {
	t.Helper()
	d := sse.NewDecoder(r)
	var out []llm.Event
	for d.Next() {
		out = append(out, d.Event())
	}
	return out, d.Err()
}

// chunkReader hands out the input in fixed-size pieces regardless of line boundaries.
type chunkReader struct {
	data []byte
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.size
	if n > len(c.data) {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func TestDecoder_FragmentationInvariance(t *testing.T) {
	want, err := decodeAll(t, strings.NewReader(flightStream))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(want) == 0 {
		t.Fatal("no events decoded")
	}

	readers := map[string]func() io.Reader{
		"one byte":    func() io.Reader { return iotest.OneByteReader(strings.NewReader(flightStream)) },
		"half reader": func() io.Reader { return iotest.HalfReader(strings.NewReader(flightStream)) },
	}
	for _, size := range []int{2, 3, 7, 13, 64} {
		size := size
		readers[fmt.Sprintf("chunks of %d", size)] = func() io.Reader {
			return &chunkReader{data: []byte(flightStream), size: size}
		}
	}

	for name, mk := range readers {
		t.Run(name, func(t *testing.T) {
			got, err := decodeAll(t, mk())
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("events differ:\n got  %+v\n want %+v", got, want)
			}
		})
	}
}

func TestDecoder_EventOrderWithinPayload(t *testing.T) {
	in := `data: {"choices":[{"delta":{"reasoning_content":"r","content":"c","tool_calls":[{"index":1,"id":"b","function":{"name":"n2"}},{"index":0,"id":"a","function":{"name":"n1"}}]},"finish_reason":"tool_calls"}]}` + "\n"
	events, err := decodeAll(t, strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}

	want := []llm.Event{
		llm.TextEvent("r", llm.ChannelReasoning),
		llm.TextEvent("c", llm.ChannelContent),
		llm.FragmentEvent(llm.ToolCallFragment{Index: 1, ID: "b", Name: "n2"}),
		llm.FragmentEvent(llm.ToolCallFragment{Index: 0, ID: "a", Name: "n1"}),
		llm.FinishEvent("tool_calls"),
	}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("got %+v\nwant %+v", events, want)
	}
}

func TestDecoder_ResidualLineAtEOF(t *testing.T) {
	in := `data: {"choices":[{"delta":{"content":"tail"}}]}`
	events, err := decodeAll(t, strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Text != "tail" {
		t.Fatalf("expected residual line decoded, got %+v", events)
	}
}

func TestDecoder_DoneStopsDecoding(t *testing.T) {
	for _, marker := range []string{"[DONE]", "DONE"} {
		t.Run(marker, func(t *testing.T) {
			in := "data: " + marker + "\n" + `data: {"choices":[{"delta":{"content":"after"}}]}` + "\n"
			events, err := decodeAll(t, strings.NewReader(in))
			if err != nil {
				t.Fatal(err)
			}
			if len(events) != 1 || events[0].Kind != llm.EventDone {
				t.Fatalf("expected only Done, got %+v", events)
			}
		})
	}
}

func TestDecoder_IgnoresNonDataAndEmptyText(t *testing.T) {
	in := "event: message\n" +
		"id: 7\n" +
		"data:\n" +
		`data: {"choices":[{"delta":{"content":""}}]}` + "\n" +
		`data: {"choices":[{"delta":{"role":"assistant"}}]}` + "\n"
	events, err := decodeAll(t, strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
}

func TestDecoder_DropsMalformedPayload(t *testing.T) {
	in := "data: {not json\n" + `data: {"choices":[{"delta":{"content":"ok"}}]}` + "\n"
	d := sse.NewDecoder(strings.NewReader(in))
	var texts []string
	for d.Next() {
		texts = append(texts, d.Event().Text)
	}
	if d.Err() != nil {
		t.Fatalf("malformed payload must not fail the stream: %v", d.Err())
	}
	if len(texts) != 1 || texts[0] != "ok" {
		t.Fatalf("got %v", texts)
	}
	if d.Dropped() != 1 {
		t.Errorf("dropped: got %d want 1", d.Dropped())
	}
}

func TestDecoder_ObjectArgumentsKeptAsRawJSON(t *testing.T) {
	in := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"x","function":{"name":"n","arguments":{"a":1}}}]}}]}` + "\n"
	events, err := decodeAll(t, strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Fragment.Arguments != `{"a":1}` {
		t.Fatalf("got %+v", events)
	}
}

func TestDecoder_UsageEvent(t *testing.T) {
	in := `data: {"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}` + "\n"
	events, err := decodeAll(t, strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != llm.EventUsage || events[0].Usage.TotalTokens != 7 {
		t.Fatalf("got %+v", events)
	}
}

func TestDecoder_TransportError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(
		strings.NewReader(`data: {"choices":[{"delta":{"content":"a"}}]}`+"\n"+"data: {\"cho"),
		iotest.ErrReader(boom),
	)
	events, err := decodeAll(t, r)
	if len(events) != 1 {
		t.Fatalf("expected the complete line only, got %+v", events)
	}
	var te *llm.TransportError
	if !errors.As(err, &te) || !errors.Is(err, boom) {
		t.Fatalf("expected TransportError wrapping %v, got %v", boom, err)
	}
}

func TestDecoder_WithStreamReassemblesCalls(t *testing.T) {
	s := llm.NewStream(sse.NewDecoder(iotest.OneByteReader(strings.NewReader(flightStream))))
	defer s.Close()

	var text strings.Builder
	var calls []llm.ToolCall
	for s.Next() {
		ev := s.Event()
		switch ev.Kind {
		case llm.EventTextDelta:
			if ev.Channel == llm.ChannelContent {
				text.WriteString(ev.Text)
			}
		case llm.EventToolCalls:
			calls = ev.ToolCalls
		}
	}
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	if text.String() != "Checking " {
		t.Errorf("text: %q", text.String())
	}
	if len(calls) != 1 {
		t.Fatalf("calls: %+v", calls)
	}
	want := map[string]any{"departure": "Beijing", "destination": "Shanghai"}
	if calls[0].ID != "call_1" || calls[0].Name != "get_flight_number" || !reflect.DeepEqual(calls[0].Arguments, want) {
		t.Fatalf("unexpected call: %+v", calls[0])
	}
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestDecoder_CloseClosesBody(t *testing.T) {
	body := &closeRecorder{Reader: strings.NewReader("data: [DONE]\n")}
	d := sse.NewDecoder(body)
	d.Close()
	if !body.closed {
		t.Fatal("body not closed")
	}
	if d.Next() {
		t.Fatal("Next after Close should be false")
	}
}
