package gateway

import (
	"context"
	"errors"
	"fmt"

	"toolagent/pkg/monitor"
)

// GatewayBuilder provides a fluent builder pattern interface for constructing
// and starting a GatewayManager with all its dependencies.
//
// Channels are pre-built and injected as instances; the builder assembles
// and starts them.
type GatewayBuilder struct {
	factory  AgentFactory
	monitor  monitor.Monitor
	channels []Channel
}

// NewGatewayBuilder creates a fresh GatewayBuilder.
func NewGatewayBuilder() *GatewayBuilder {
	return &GatewayBuilder{}
}

// WithAgentFactory sets how the agent of a new session is built. Required.
func (b *GatewayBuilder) WithAgentFactory(f AgentFactory) *GatewayBuilder {
	b.factory = f
	return b
}

// WithMonitor injects a monitoring implementation. It is started by Build.
func (b *GatewayBuilder) WithMonitor(m monitor.Monitor) *GatewayBuilder {
	b.monitor = m
	return b
}

// WithChannel adds pre-built channel instances to the gateway.
func (b *GatewayBuilder) WithChannel(channels ...Channel) *GatewayBuilder {
	b.channels = append(b.channels, channels...)
	return b
}

// Build registers all channels, starts the monitor and then the channels.
func (b *GatewayBuilder) Build(ctx context.Context) (*GatewayManager, error) {
	if b.factory == nil {
		return nil, errors.New("gateway: agent factory is required")
	}
	if len(b.channels) == 0 {
		return nil, errors.New("gateway: no channels configured")
	}

	gw := NewGatewayManager(b.factory)

	// 1. Initialize and start the monitoring service
	if b.monitor != nil {
		gw.SetMonitor(b.monitor)
		if err := b.monitor.Start(); err != nil {
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	// 2. Register all pre-built channels
	for _, c := range b.channels {
		gw.Register(c)
	}

	// 3. Start all registered channels
	if err := gw.StartAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to start channels: %w", err)
	}

	return gw, nil
}
