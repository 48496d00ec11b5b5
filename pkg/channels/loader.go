package channels

import (
	"log/slog"
	"sort"

	"toolagent/pkg/config"
	"toolagent/pkg/gateway"
)

// LoadFromConfig builds a channel for every section of cfg.Channels with a
// registered factory. Unknown or broken sections are logged and skipped.
func LoadFromConfig(cfg *config.Config) []gateway.Channel {
	names := make([]string, 0, len(cfg.Channels))
	for name := range cfg.Channels {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []gateway.Channel
	for _, name := range names {
		factory, ok := GetChannelFactory(name)
		if !ok {
			slog.Warn("Unknown channel type", "name", name, "known", ChannelNames())
			continue
		}

		channel, err := factory.Create(cfg.Channels[name], cfg)
		if err != nil {
			slog.Error("Failed to create channel", "name", name, "error", err)
			continue
		}

		// If Create returns nil (e.g., disabled but not an error), skip
		if channel == nil {
			continue
		}

		out = append(out, channel)
		slog.Info("Channel loaded", "name", name)
	}
	return out
}
