package ollama

import (
	"log/slog"

	"toolagent/pkg/config"
	"toolagent/pkg/llm"
)

// OllamaFactory handles creation of Ollama Clients
type OllamaFactory struct{}

// Create implements ProviderFactory
func (f *OllamaFactory) Create(pc config.ProviderConfig, cfg *config.Config) ([]llm.LLMClient, error) {
	baseURL := pc.BaseURL
	if baseURL == "" {
		baseURL = cfg.OllamaDefaultURL
	}

	var clients []llm.LLMClient
	for _, model := range pc.Models {
		client, err := NewOllamaClient(model, baseURL, cfg.RequestTimeout(), pc.Options)
		if err != nil {
			slog.Error("Failed to create Ollama client", "model", model, "error", err)
			continue
		}
		client.SetDebug(cfg.DebugChunks)
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("ollama", &OllamaFactory{})
}
