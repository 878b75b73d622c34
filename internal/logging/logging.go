// Package logging provides the process-wide structured logger backed by zap,
// with optional size-based rotation through lumberjack.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger.
type Options struct {
	// Stdout writes to standard output instead of Filename.
	Stdout bool

	// Format is "console" (default) or "json".
	Format string

	// Filename is the log file path. Rotated files live next to it.
	Filename string

	// MaxSize is the size in megabytes that triggers rotation.
	MaxSize int

	// MaxAge is the number of days rotated files are kept.
	MaxAge int

	// MaxBackups is the number of rotated files kept.
	MaxBackups int

	// Level is one of debug, info, warn, error.
	Level string
}

// Logger is a leveled, printf-style logger.
type Logger struct {
	sugared *zap.SugaredLogger
	writer  io.Writer
	closer  io.Closer
}

// New builds a logger from opt. It falls back to stderr when the log
// directory cannot be created.
func New(opt Options) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Local().Format("2006-01-02 15:04:05.000"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	switch opt.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var (
		w      zapcore.WriteSyncer
		closer io.Closer
	)
	switch {
	case opt.Stdout:
		w = zapcore.AddSync(os.Stdout)
	case opt.Filename == "":
		w = zapcore.AddSync(os.Stderr)
	default:
		if err := os.MkdirAll(filepath.Dir(opt.Filename), 0755); err != nil {
			w = zapcore.AddSync(os.Stderr)
			break
		}
		lj := &lumberjack.Logger{
			Filename:   opt.Filename,
			MaxSize:    opt.MaxSize,
			MaxBackups: opt.MaxBackups,
			MaxAge:     opt.MaxAge,
			LocalTime:  true,
		}
		w = zapcore.AddSync(lj)
		closer = lj
	}

	core := zapcore.NewCore(encoder, w, ParseLevel(opt.Level))
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
	return &Logger{
		sugared: logger.Sugar(),
		writer:  w,
		closer:  closer,
	}
}

// ParseLevel maps a level name to a zap level. Unknown names map to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *Logger) Writer() io.Writer { return l.writer }

func (l *Logger) Debugf(template string, args ...interface{}) { l.sugared.Debugf(template, args...) }
func (l *Logger) Infof(template string, args ...interface{})  { l.sugared.Infof(template, args...) }
func (l *Logger) Warnf(template string, args ...interface{})  { l.sugared.Warnf(template, args...) }
func (l *Logger) Errorf(template string, args ...interface{}) { l.sugared.Errorf(template, args...) }

// Close flushes buffered entries and closes the rotating file, if any.
func (l *Logger) Close() error {
	_ = l.sugared.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

var (
	mu  sync.RWMutex
	std = New(Options{Filename: "", Format: "console"})
)

// SetOptions replaces the process-wide logger and returns a cleanup func that
// closes it.
func SetOptions(opt Options) func() {
	l := New(opt)
	mu.Lock()
	std = l
	mu.Unlock()
	return func() { _ = l.Close() }
}

// Std returns the process-wide logger.
func Std() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

func Debugf(template string, args ...interface{}) { Std().Debugf(template, args...) }
func Infof(template string, args ...interface{})  { Std().Infof(template, args...) }
func Warnf(template string, args ...interface{})  { Std().Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { Std().Errorf(template, args...) }
