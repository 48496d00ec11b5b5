package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDuration = 500 * time.Millisecond

// Watch reloads the config file at path whenever it changes and sends every
// configuration that loads and validates. Invalid edits are logged and
// skipped. The channel is closed when ctx is canceled.
//
// The parent directory is watched rather than the file itself so editors
// that save by rename (Vim, nano) keep triggering events.
func Watch(ctx context.Context, path string) <-chan *Config {
	out := make(chan *Config, 1)

	absPath, err := filepath.Abs(path)
	if err != nil {
		slog.Warn("Could not resolve absolute path for watch file", "file", path)
		close(out)
		return out
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create fsnotify watcher", "error", err)
		close(out)
		return out
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		slog.Warn("Could not watch config directory", "file", path, "error", err)
		watcher.Close()
		close(out)
		return out
	}
	slog.Debug("Watching configuration file", "file", absPath)

	trigger := make(chan struct{}, 1)

	go func() {
		defer watcher.Close()
		defer close(out)

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceDuration, func() {
					select {
					case trigger <- struct{}{}:
					default:
					}
				})
			case <-trigger:
				slog.Info("Configuration change detected", "file", absPath)
				cfg, err := Load(absPath)
				if err == nil {
					cfg.ApplyEnv(os.Getenv)
					err = cfg.Validate()
				}
				if err != nil {
					slog.Warn("Ignoring invalid configuration", "file", absPath, "error", err)
					continue
				}
				select {
				case out <- cfg:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Watcher encountered an error", "error", err)
			}
		}
	}()

	return out
}
