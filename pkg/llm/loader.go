package llm

import (
	"fmt"
	"log/slog"

	"toolagent/pkg/config"
)

// NewFromConfig 根據設定檔建立 LLM Client
// Every provider group yields one client per model. A single client is
// returned as is; several are wrapped in a FallbackClient in config order.
func NewFromConfig(cfg *config.Config) (LLMClient, error) {
	if cfg == nil || len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("missing 'providers' config")
	}

	var allAtomicClients []LLMClient
	for _, group := range cfg.Providers {
		slog.Info("Loading LLM group", "type", group.Type, "models", len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("Unknown provider type", "type", group.Type, "known", ProviderNames())
			continue
		}

		clients, err := factory.Create(group, cfg)
		if err != nil {
			slog.Warn("Failed to create clients", "type", group.Type, "error", err)
			continue
		}

		allAtomicClients = append(allAtomicClients, clients...)
	}

	if len(allAtomicClients) == 0 {
		return nil, fmt.Errorf("no LLM clients could be initialized")
	}

	slog.Info("LLM clients initialized", "count", len(allAtomicClients))

	// 如果只有一個，直接回傳
	if len(allAtomicClients) == 1 {
		return allAtomicClients[0], nil
	}

	// 否則包裹在 FallbackClient 中，並代入系統層級的重試設定
	return &FallbackClient{
		Clients:    allAtomicClients,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay(),
	}, nil
}
