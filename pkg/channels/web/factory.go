package web

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"toolagent/pkg/channels"
	"toolagent/pkg/config"
	"toolagent/pkg/gateway"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WebFactory 負責建立 Web Channels
type WebFactory struct{}

// Create 實作 ChannelFactory
func (f *WebFactory) Create(rawConfig jsoniter.RawMessage, cfg *config.Config) (gateway.Channel, error) {
	var wCfg WebConfig
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &wCfg); err != nil {
			return nil, fmt.Errorf("failed to parse web config: %w", err)
		}
	}
	return NewWebChannel(wCfg), nil
}

func init() {
	channels.RegisterChannel("web", &WebFactory{})
}
