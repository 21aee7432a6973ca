package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tinytelemetry/pulse/internal/source"
	"github.com/tinytelemetry/pulse/internal/tcpserver"
)

// InputSourcePlugin is a small plugin primitive for wiring line inputs.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (source.Source, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	TCPEnabled bool
	TCPAddr    string
	Logger     *zap.Logger
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	plugins := make([]InputSourcePlugin, 0, 2)
	plugins = append(plugins, tcpInputPlugin{
		addr:    cfg.TCPAddr,
		enabled: cfg.TCPEnabled,
		logger:  logger.Named("tcp"),
	})
	plugins = append(plugins, stdinInputPlugin{logger: logger.Named("stdin")})
	return plugins
}

type tcpInputPlugin struct {
	addr    string
	enabled bool
	logger  *zap.Logger
}

func (p tcpInputPlugin) Name() string { return "tcp" }

func (p tcpInputPlugin) Enabled() bool { return p.enabled }

func (p tcpInputPlugin) Build(_ context.Context) (source.Source, error) {
	server := tcpserver.NewServer(p.addr, tcpserver.ServerConfig{Logger: p.logger})
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start tcp server: %w", err)
	}
	return source.NewTCPSource(server), nil
}

type stdinInputPlugin struct {
	logger *zap.Logger
}

func (p stdinInputPlugin) Name() string { return "stdin" }

func (p stdinInputPlugin) Enabled() bool { return source.StdinIsPiped() }

func (p stdinInputPlugin) Build(ctx context.Context) (source.Source, error) {
	return source.NewStdinSource(ctx, source.ReaderConfig{Logger: p.logger}), nil
}
