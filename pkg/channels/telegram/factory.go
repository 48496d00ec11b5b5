package telegram

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"toolagent/pkg/channels"
	"toolagent/pkg/config"
	"toolagent/pkg/gateway"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMissingToken is returned when the telegram section has no token.
var ErrMissingToken = errors.New("missing telegram token")

// TelegramFactory 負責建立 Telegram Channels
type TelegramFactory struct{}

// Create 實作 ChannelFactory
func (f *TelegramFactory) Create(rawConfig jsoniter.RawMessage, cfg *config.Config) (gateway.Channel, error) {
	var tgCfg TelegramConfig
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &tgCfg); err != nil {
			return nil, fmt.Errorf("failed to parse telegram config: %w", err)
		}
	}
	if tgCfg.Token == "" {
		return nil, ErrMissingToken
	}

	return NewTelegramChannel(tgCfg, cfg.TelegramMessageLimit, cfg.ShowThinking)
}

func init() {
	channels.RegisterChannel("telegram", &TelegramFactory{})
}
