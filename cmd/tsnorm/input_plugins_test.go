package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tinytelemetry/tsnorm/internal/linesource"
)

func TestBuildInputPlugins_RegistersPrimitives(t *testing.T) {
	t.Parallel()

	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled: true,
		TCPAddr:    "127.0.0.1:4000",
	})

	if len(plugins) != 2 {
		t.Fatalf("expected 2 plugins, got %d", len(plugins))
	}
	if plugins[0].Name() != "tcp" {
		t.Fatalf("plugins[0] name = %q, want %q", plugins[0].Name(), "tcp")
	}
	if plugins[1].Name() != "stdin" {
		t.Fatalf("plugins[1] name = %q, want %q", plugins[1].Name(), "stdin")
	}
	if !plugins[0].Enabled() {
		t.Fatal("expected tcp plugin to be enabled when TCPEnabled=true")
	}
}

func TestBuildInputPlugins_TCPDisabled(t *testing.T) {
	t.Parallel()

	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled: false,
		TCPAddr:    "127.0.0.1:4000",
	})

	if plugins[0].Enabled() {
		t.Fatal("expected tcp plugin to be disabled when TCPEnabled=false")
	}
}

func TestTCPInputPlugin_BuildDeliversLines(t *testing.T) {
	t.Parallel()

	plugin := tcpInputPlugin{addr: "127.0.0.1:0", enabled: true}
	src, err := plugin.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer src.Stop()

	tcpSrc, ok := src.(*linesource.TCPSource)
	if !ok {
		t.Fatalf("source type = %T, want *linesource.TCPSource", src)
	}
	conn, err := net.Dial("tcp", tcpSrc.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(`{"measurement":"badge","time":1,"value":1}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case env := <-src.Lines():
		if env.Source != "tcp" || env.Line != `{"measurement":"badge","time":1,"value":1}` {
			t.Fatalf("envelope = %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tcp line")
	}
}

func TestBuildSources_SkipsFailingPlugins(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	sources := buildSources(context.Background(), []InputSourcePlugin{
		tcpInputPlugin{addr: lis.Addr().String(), enabled: true},
		tcpInputPlugin{addr: "127.0.0.1:0", enabled: false},
	})
	for _, s := range sources {
		s.Stop()
	}
	if len(sources) != 0 {
		t.Fatalf("sources = %d, want 0 (port in use, second disabled)", len(sources))
	}
}

func TestFileInputPlugin_ReplaysFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "collectd.jsonl")
	if err := os.WriteFile(path, []byte(pipelineBadge+"\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	plugins := buildInputPlugins(InputPluginConfig{Files: []string{path}})
	if len(plugins) != 3 || plugins[2].Name() != "file:"+path || !plugins[2].Enabled() {
		t.Fatalf("plugins = %v", plugins)
	}

	src, err := plugins[2].Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer src.Stop()
	select {
	case env := <-src.Lines():
		if env.Line != pipelineBadge || env.Source != "file" {
			t.Fatalf("envelope = %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no line from file source")
	}
}
