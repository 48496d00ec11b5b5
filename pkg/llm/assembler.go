package llm

import (
	"log/slog"
	"sort"
	"strings"
)

// partialToolCall buffers the fragments of one index until the turn completes.
type partialToolCall struct {
	id   string
	name string
	args strings.Builder
}

// Assembler rebuilds complete tool calls from fragments keyed by index.
// It holds state for a single backend turn and is not safe for concurrent use.
type Assembler struct {
	partials map[int]*partialToolCall
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{partials: make(map[int]*partialToolCall)}
}

// Add merges a fragment into the partial of its index. The first non-empty
// ID and Name win; argument pieces are concatenated in arrival order.
func (a *Assembler) Add(f ToolCallFragment) {
	p, ok := a.partials[f.Index]
	if !ok {
		p = &partialToolCall{}
		a.partials[f.Index] = p
	}
	if p.id == "" && f.ID != "" {
		p.id = f.ID
	}
	if p.name == "" && f.Name != "" {
		p.name = f.Name
	}
	p.args.WriteString(f.Arguments)
}

// Pending returns the number of buffered indices.
func (a *Assembler) Pending() int {
	return len(a.partials)
}

// Complete returns the buffered calls in ascending index order and clears all
// partials. Partials missing an id or a name are dropped.
func (a *Assembler) Complete() []ToolCall {
	if len(a.partials) == 0 {
		return nil
	}

	indices := make([]int, 0, len(a.partials))
	for idx := range a.partials {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	calls := make([]ToolCall, 0, len(indices))
	for _, idx := range indices {
		p := a.partials[idx]
		if p.id == "" || p.name == "" {
			slog.Debug("Dropping incomplete tool call", "index", idx, "id", p.id, "name", p.name)
			continue
		}
		calls = append(calls, ToolCall{
			ID:        p.id,
			Name:      p.name,
			Arguments: resolveArguments(p.args.String()),
		})
	}

	a.Discard()
	return calls
}

// Discard drops every partial without emitting anything.
func (a *Assembler) Discard() {
	clear(a.partials)
}

// resolveArguments turns the accumulated argument text into a structured value.
// Text that is not valid JSON is preserved under the "raw" key.
func resolveArguments(text string) any {
	if strings.TrimSpace(text) == "" {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return map[string]any{"raw": text}
	}
	return v
}
