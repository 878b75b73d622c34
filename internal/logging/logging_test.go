package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{" warn ", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_WritesToRotatingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "tsnorm.log")
	l := New(Options{Filename: path, Format: "json", Level: "info", MaxSize: 1})
	l.Infof("stored %d measurements", 3)
	l.Debugf("hidden at info level")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "stored 3 measurements") {
		t.Fatalf("log file missing info entry: %q", text)
	}
	if strings.Contains(text, "hidden at info level") {
		t.Fatalf("debug entry should be filtered: %q", text)
	}
}

func TestSetOptions_ReplacesStdLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "std.log")
	before := Std()
	cleanup := SetOptions(Options{Filename: path, Level: "debug"})
	t.Cleanup(func() {
		cleanup()
		mu.Lock()
		std = before
		mu.Unlock()
	})

	Debugf("debug via std")
	if Std() == before {
		t.Fatal("expected SetOptions to replace the std logger")
	}
}
