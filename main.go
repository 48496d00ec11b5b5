package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"toolagent/pkg/agent"
	"toolagent/pkg/channels"
	_ "toolagent/pkg/channels/autoload" // 自動註冊 Channels
	"toolagent/pkg/channels/console"
	"toolagent/pkg/config"
	"toolagent/pkg/gateway"
	"toolagent/pkg/llm"
	_ "toolagent/pkg/llm/autoload" // 自動註冊 LLM Providers
	"toolagent/pkg/monitor"
	"toolagent/pkg/tools"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file (.json, .yaml or .yml)")
	serve := flag.Bool("serve", false, "run only the configured channels, without the console")
	flag.Parse()

	// --- 0. 讀取設定檔 ---
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "file", *configPath, "error", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(os.Getenv)

	logLevel := monitor.SetupSlog(cfg.LogLevel, os.Stderr)
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// --- 1. LLM 設定 ---
	client, err := llm.NewFromConfig(cfg)
	if err != nil {
		slog.Error("Failed to init LLM client", "error", err)
		os.Exit(1)
	}

	// --- 2. 工具註冊 ---
	registry := tools.NewToolRegistry()
	tools.RegisterBuiltins(registry, tools.BuiltinOptions{
		EnableShell: cfg.EnableShell,
		FileRoot:    ".",
	})

	monitor.PrintBanner(os.Stdout, client.Provider(), registry.Len())

	var current atomic.Pointer[config.Config]
	current.Store(cfg)
	factory := func(session gateway.SessionContext) *agent.Agent {
		return agent.New(client, registry, agent.OptionsFromConfig(current.Load()))
	}

	// --- 3. Channels ---
	var chans []gateway.Channel
	var cons *console.Console
	if !*serve {
		cons = console.New(os.Stdin, os.Stdout)
		chans = append(chans, cons)
	}
	loaded := channels.LoadFromConfig(cfg)
	chans = append(chans, loaded...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 4. Gateway 初始化（使用 Builder 模式）---
	builder := gateway.NewGatewayBuilder().
		WithAgentFactory(factory).
		WithChannel(chans...)
	if len(loaded) > 0 {
		// The console already shows its own conversation; the transcript is
		// for remote channels.
		out := os.Stdout
		if cons != nil {
			out = os.Stderr
		}
		builder = builder.WithMonitor(monitor.NewCLIMonitor(out))
	}
	gw, err := builder.Build(ctx)
	if err != nil {
		slog.Error("Failed to build gateway", "error", err)
		os.Exit(1)
	}

	// --- 5. 設定熱更新 ---
	go func() {
		for next := range config.Watch(ctx, *configPath) {
			current.Store(next)
			logLevel.Set(monitor.ParseLevel(next.LogLevel))
			gw.UpdateOptions(func(o *agent.Options) {
				o.MaxTurns = next.MaxTurns
				o.SystemPrompt = next.SystemPrompt
				o.ShowThinking = next.ShowThinking
				o.FeedToolErrors = next.FeedToolErrors
				o.EnableTools = next.EnableTools
			})
			slog.Info("Configuration reloaded", "log_level", next.LogLevel, "feed_tool_errors", next.FeedToolErrors)
		}
	}()

	var consoleDone <-chan struct{}
	if cons != nil {
		consoleDone = cons.Done()
	}
	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal. Stopping services...")
	case <-consoleDone:
	}

	gw.StopAll()
	slog.Info("Bye!")
}
