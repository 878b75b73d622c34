package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tinytelemetry/tsnorm/internal/linesource"
	"github.com/tinytelemetry/tsnorm/internal/tcpserver"
)

// InputSourcePlugin is a small plugin primitive for wiring line inputs.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (linesource.Source, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	TCPEnabled  bool
	TCPAddr     string
	MaxLineSize int
	MaxConns    int
	IdleTimeout time.Duration
	Files       []string
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	plugins := []InputSourcePlugin{
		tcpInputPlugin{addr: cfg.TCPAddr, enabled: cfg.TCPEnabled, conf: tcpserver.ServerConfig{
			MaxLineSize: cfg.MaxLineSize,
			MaxConns:    cfg.MaxConns,
			IdleTimeout: cfg.IdleTimeout,
		}},
		stdinInputPlugin{maxLineSize: cfg.MaxLineSize},
	}
	for _, path := range cfg.Files {
		plugins = append(plugins, fileInputPlugin{path: path, maxLineSize: cfg.MaxLineSize})
	}
	return plugins
}

type tcpInputPlugin struct {
	addr    string
	enabled bool
	conf    tcpserver.ServerConfig
}

func (p tcpInputPlugin) Name() string { return "tcp" }

func (p tcpInputPlugin) Enabled() bool { return p.enabled }

func (p tcpInputPlugin) Build(_ context.Context) (linesource.Source, error) {
	server := tcpserver.NewServer(p.addr, p.conf)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start tcp server: %w", err)
	}
	return linesource.NewTCPSource(server), nil
}

type stdinInputPlugin struct {
	maxLineSize int
}

func (p stdinInputPlugin) Name() string { return "stdin" }

// Enabled reports whether stdin is piped rather than a terminal.
func (p stdinInputPlugin) Enabled() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (linesource.Source, error) {
	return linesource.NewStdinSource(ctx, linesource.StdinConfig{MaxLineSize: p.maxLineSize}), nil
}

// fileInputPlugin replays one file of saved documents.
type fileInputPlugin struct {
	path        string
	maxLineSize int
}

func (p fileInputPlugin) Name() string  { return "file:" + p.path }
func (p fileInputPlugin) Enabled() bool { return p.path != "" }

func (p fileInputPlugin) Build(ctx context.Context) (linesource.Source, error) {
	return linesource.NewFileSource(ctx, p.path, linesource.ReaderConfig{MaxLineSize: p.maxLineSize})
}
