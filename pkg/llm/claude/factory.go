package claude

import (
	"toolagent/pkg/config"
	"toolagent/pkg/llm"
)

// Factory handles creation of Anthropic clients
type Factory struct{}

// Create implements ProviderFactory. Keys are assigned to models round-robin.
func (f *Factory) Create(pc config.ProviderConfig, cfg *config.Config) ([]llm.LLMClient, error) {
	var clients []llm.LLMClient
	for i, model := range pc.Models {
		apiKey := ""
		if len(pc.APIKeys) > 0 {
			apiKey = pc.APIKeys[i%len(pc.APIKeys)]
		}
		client := NewClient(apiKey, model, pc.BaseURL, cfg.RequestTimeout(), pc.Options)
		client.SetDebug(cfg.DebugChunks)
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("anthropic", &Factory{})
}
