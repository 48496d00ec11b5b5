// Package os runs shell commands for the shell tool. Each platform supplies
// its own shell invocation.
package os

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
)

// Output is the captured result of one command.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Worker runs commands in a fixed working directory.
type Worker struct {
	workingDir string
}

// NewOSWorker creates a worker rooted at the current directory.
func NewOSWorker() *Worker {
	cwd, _ := os.Getwd()
	return &Worker{workingDir: cwd}
}

// NewWorkerIn creates a worker rooted at dir.
func NewWorkerIn(dir string) *Worker {
	return &Worker{workingDir: dir}
}

// Run executes command through the platform shell. A non-zero exit is
// reported in Output.ExitCode, not as an error; errors mean the command
// could not run at all.
func (w *Worker) Run(ctx context.Context, command string) (*Output, error) {
	slog.InfoContext(ctx, "Executing command", "dir", w.workingDir, "command", command)

	name, args := shellCommand(command)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = w.workingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, err
	}
	return out, nil
}
