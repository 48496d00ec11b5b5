// Command chunkdump sends one prompt to the first configured provider, saves
// the raw backend chunks under debug/chunks and prints the decoded events.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"toolagent/pkg/config"
	"toolagent/pkg/llm"
	_ "toolagent/pkg/llm/autoload"
	"toolagent/pkg/monitor"
	"toolagent/pkg/tools"
	"toolagent/pkg/utils"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	provider := flag.Int("provider", 0, "index of the provider group to use")
	prompt := flag.String("prompt", "What is the flight number from Beijing to Shanghai?", "user prompt")
	withTools := flag.Bool("tools", true, "offer the built-in tools")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(os.Getenv)
	monitor.SetupSlog("debug", os.Stderr)

	if *provider < 0 || *provider >= len(cfg.Providers) {
		slog.Error("Provider index out of range", "index", *provider, "providers", len(cfg.Providers))
		os.Exit(1)
	}
	// 只取一組 provider 的第一個模型，並強制開啟 chunk 紀錄
	group := cfg.Providers[*provider]
	group.Models = group.Models[:1]
	cfg.Providers = []config.ProviderConfig{group}
	cfg.DebugChunks = true

	client, err := llm.NewFromConfig(cfg)
	if err != nil {
		slog.Error("Failed to init LLM client", "error", err)
		os.Exit(1)
	}

	var defs []llm.ToolDefinition
	if *withTools {
		registry := tools.NewToolRegistry()
		tools.RegisterBuiltins(registry, tools.BuiltinOptions{FileRoot: "."})
		defs = registry.Definitions()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	id := utils.NewExchangeID()
	ctx = utils.WithExchangeID(ctx, id)

	stream, err := client.StreamChat(ctx, []llm.Message{llm.NewUserMessage(*prompt)}, defs)
	if err != nil {
		slog.Error("Stream failed to open", "error", err)
		os.Exit(1)
	}
	defer stream.Close()

	count := 0
	for stream.Next() {
		count++
		ev := stream.Event()
		switch ev.Kind {
		case llm.EventTextDelta:
			fmt.Printf("%03d %-18s [%s] %q\n", count, ev.Kind, ev.Channel, ev.Text)
		case llm.EventToolCallFragment:
			f := ev.Fragment
			fmt.Printf("%03d %-18s index=%d id=%q name=%q args=%q\n", count, ev.Kind, f.Index, f.ID, f.Name, f.Arguments)
		case llm.EventFinish:
			fmt.Printf("%03d %-18s %s\n", count, ev.Kind, ev.FinishReason)
		case llm.EventToolCalls:
			for _, tc := range ev.ToolCalls {
				fmt.Printf("%03d %-18s %s(%s) id=%s\n", count, ev.Kind, tc.Name, tc.ArgumentsJSON(), tc.ID)
			}
		case llm.EventUsage:
			llm.LogUsage(ctx, client.Provider(), ev.Usage)
			fmt.Printf("%03d %-18s total=%d\n", count, ev.Kind, ev.Usage.TotalTokens)
		case llm.EventDone:
			fmt.Printf("%03d %s\n", count, ev.Kind)
		}
	}
	if err := stream.Err(); err != nil {
		slog.Error("Stream failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("\n=== %d events, raw chunks in %s (exchange %s) ===\n", count, llm.DebugRoot, id)
}
