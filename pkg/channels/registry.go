package channels

import (
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"toolagent/pkg/config"
	"toolagent/pkg/gateway"
)

// ChannelFactory defines the abstract interface for platform-specific
// channel creators, so new front-ends plug in without touching the gateway.
type ChannelFactory interface {
	// Create instantiates a Channel from its raw config section. A nil
	// channel with a nil error means the section asked for nothing.
	Create(rawConfig jsoniter.RawMessage, cfg *config.Config) (gateway.Channel, error)
}

var (
	channelRegistry = make(map[string]ChannelFactory)
	registryMu      sync.RWMutex
)

// RegisterChannel adds a ChannelFactory to the registry. Typically called
// from the channel package's init().
func RegisterChannel(name string, factory ChannelFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	channelRegistry[name] = factory
}

// GetChannelFactory retrieves a registered ChannelFactory by platform name.
func GetChannelFactory(name string) (ChannelFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := channelRegistry[name]
	return f, ok
}

// ChannelNames lists the registered platform names.
func ChannelNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(channelRegistry))
	for n := range channelRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
