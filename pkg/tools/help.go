package tools

import (
	"context"
	"fmt"
	"strings"
)

// HelpTool lists the tools of its registry.
type HelpTool struct {
	registry *ToolRegistry
}

func NewHelpTool(r *ToolRegistry) *HelpTool {
	return &HelpTool{registry: r}
}

func (t *HelpTool) Name() string { return "help" }

func (t *HelpTool) Description() string {
	return "List the available tools and what they do."
}

func (t *HelpTool) Parameters() map[string]any { return GenerateSchema[struct{}]() }

func (t *HelpTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var sb strings.Builder
	sb.WriteString("Available tools:\n")
	for _, tool := range t.registry.GetAll() {
		fmt.Fprintf(&sb, "- %s: %s\n", tool.Name(), tool.Description())
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
