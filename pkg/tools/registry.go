package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"toolagent/pkg/llm"
)

// ToolRegistry acts as a central inventory for all tools available to the agent.
// Registration order is the catalogue order shown to the model.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools *orderedmap.OrderedMap[string, Tool]
}

// NewToolRegistry creates a new tool registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: orderedmap.New[string, Tool](),
	}
}

// Register adds a tool. A tool with the same name is replaced in place.
func (tr *ToolRegistry) Register(tool Tool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, exists := tr.tools.Set(tool.Name(), tool); exists {
		slog.Warn("Tool re-registered, replacing previous handler", "tool", tool.Name())
	}
}

// Unregister removes a tool from the registry
func (tr *ToolRegistry) Unregister(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.tools.Delete(name)
}

// Get retrieves a tool by name
func (tr *ToolRegistry) Get(name string) (Tool, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.tools.Get(name)
}

// GetAll returns all registered tools in registration order
func (tr *ToolRegistry) GetAll() []Tool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	out := make([]Tool, 0, tr.tools.Len())
	for pair := tr.tools.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Len returns the number of registered tools.
func (tr *ToolRegistry) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.tools.Len()
}

// Definitions returns the model-facing catalogue in registration order.
func (tr *ToolRegistry) Definitions() []llm.ToolDefinition {
	all := tr.GetAll()
	defs := make([]llm.ToolDefinition, 0, len(all))
	for _, t := range all {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute dispatches one call. Unknown names fail with ErrToolNotFound and
// never reach a handler.
func (tr *ToolRegistry) Execute(ctx context.Context, call llm.ToolCall) (*ToolResult, error) {
	name := strings.TrimPrefix(call.Name, "functions.")

	tool, ok := tr.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	args, err := normalizeArguments(call.Arguments)
	if err != nil {
		return nil, &ArgumentParseError{Tool: name, Err: err}
	}

	slog.DebugContext(ctx, "Executing tool", "tool", name, "call_id", call.ID, "args", args)

	out, err := runTool(ctx, tool, args)
	if err != nil {
		return nil, &ToolExecutionError{Tool: name, Err: err}
	}

	return &ToolResult{CallID: call.ID, Name: name, Content: out}, nil
}

func runTool(ctx context.Context, tool Tool, args map[string]any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Tool panicked", "tool", tool.Name(), "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return tool.Execute(ctx, args)
}

// normalizeArguments accepts the argument shapes backends produce: a decoded
// object, JSON text, or nothing.
func normalizeArguments(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case string:
		return decodeObject([]byte(v))
	case []byte:
		return decodeObject(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return decodeObject(b)
	}
}

func decodeObject(b []byte) (map[string]any, error) {
	if strings.TrimSpace(string(b)) == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("arguments must be a JSON object")
	}
	return out, nil
}
