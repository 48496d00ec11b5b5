package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	osworker "toolagent/pkg/tools/os"
)

type ShellInput struct {
	Command string `json:"command" jsonschema_description:"The shell command to run."`
}

// ShellTool runs a command through the platform shell.
type ShellTool struct {
	worker *osworker.Worker
}

func NewShellTool(w *osworker.Worker) *ShellTool {
	if w == nil {
		w = osworker.NewOSWorker()
	}
	return &ShellTool{worker: w}
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Run a shell command and return its standard output."
}

func (t *ShellTool) Parameters() map[string]any { return GenerateSchema[ShellInput]() }

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	in, err := DecodeArgs[ShellInput](args)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Command) == "" {
		return "", fmt.Errorf("missing string parameter 'command'")
	}

	out, err := t.worker.Run(ctx, in.Command)
	if err != nil {
		return "", err
	}
	if out.ExitCode != 0 {
		if stderr := strings.TrimSpace(out.Stderr); stderr != "" {
			return "", errors.New(stderr)
		}
		return "", fmt.Errorf("command exited with code %d", out.ExitCode)
	}
	return out.Stdout, nil
}
