package channels_test

import (
	"context"
	"errors"
	"testing"

	jsoniter "github.com/json-iterator/go"

	"toolagent/pkg/channels"
	"toolagent/pkg/config"
	"toolagent/pkg/gateway"
)

type stubChannel struct{ id string }

func (c stubChannel) ID() string                                  { return c.id }
func (c stubChannel) Start(context.Context, gateway.Handler) error { return nil }
func (c stubChannel) Stop() error                                 { return nil }

type stubFactory struct{}

func (stubFactory) Create(raw jsoniter.RawMessage, cfg *config.Config) (gateway.Channel, error) {
	switch string(raw) {
	case `"broken"`:
		return nil, errors.New("broken")
	case `"off"`:
		return nil, nil
	}
	return stubChannel{id: string(raw)}, nil
}

func TestLoadFromConfig(t *testing.T) {
	channels.RegisterChannel("stub-ok", stubFactory{})
	channels.RegisterChannel("stub-broken", stubFactory{})
	channels.RegisterChannel("stub-off", stubFactory{})

	cfg := config.Default()
	cfg.Channels = map[string]jsoniter.RawMessage{
		"stub-ok":     jsoniter.RawMessage(`"ok"`),
		"stub-broken": jsoniter.RawMessage(`"broken"`),
		"stub-off":    jsoniter.RawMessage(`"off"`),
		"nope":        jsoniter.RawMessage(`{}`),
	}

	got := channels.LoadFromConfig(cfg)
	if len(got) != 1 || got[0].ID() != `"ok"` {
		t.Fatalf("unexpected channels: %+v", got)
	}
}
