package tools

import (
	"context"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// CurrentTimeTool reports the local wall clock.
type CurrentTimeTool struct {
	now func() time.Time
}

func NewCurrentTimeTool(now func() time.Time) *CurrentTimeTool {
	if now == nil {
		now = time.Now
	}
	return &CurrentTimeTool{now: now}
}

func (t *CurrentTimeTool) Name() string { return "current_time" }

func (t *CurrentTimeTool) Description() string {
	return "Get the current local date and time (YYYY-MM-DD HH:MM:SS)."
}

func (t *CurrentTimeTool) Parameters() map[string]any { return GenerateSchema[struct{}]() }

func (t *CurrentTimeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.now().Format(timeLayout), nil
}
