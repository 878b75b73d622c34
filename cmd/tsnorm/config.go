package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/tsnorm/internal/backup"
	"github.com/tinytelemetry/tsnorm/internal/duckdb"
	"github.com/tinytelemetry/tsnorm/internal/forward"
	"github.com/tinytelemetry/tsnorm/internal/httpserver"
	"github.com/tinytelemetry/tsnorm/internal/ingest"
	"github.com/tinytelemetry/tsnorm/internal/logging"
	"github.com/tinytelemetry/tsnorm/internal/socketrpc"
	"github.com/tinytelemetry/tsnorm/internal/tcpserver"
)

const (
	defaultBindHost         = "127.0.0.1"
	defaultTCPPort          = 4000
	defaultAPIPort          = 3000
	defaultMuxBufferSize    = DefaultMuxBuffer
	defaultQueryTimeout     = 30 * time.Second
	defaultRetentionDays    = 30 // 0 = disabled
	defaultBackupInterval   = 6 * time.Hour
	defaultBackupKeepLast   = 7
	defaultLogMaxSizeMB     = 50
	defaultLogMaxAgeDays    = 14
	defaultLogMaxBackups    = 5
	defaultInfluxDatabase   = "tsnorm"
	defaultForwardQueueSize = forward.DefaultQueueSize
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Host          string `mapstructure:"host" yaml:"host"`
	TCPEnabled    bool   `mapstructure:"tcp-enabled" yaml:"tcp-enabled"`
	TCPPort       int    `mapstructure:"tcp-port" yaml:"tcp-port"`
	TCPAddr       string `mapstructure:"tcp-addr" yaml:"tcp-addr"`
	MuxBufferSize int    `mapstructure:"mux-buffer-size" yaml:"mux-buffer-size"`

	TCPMaxConns    int           `mapstructure:"tcp-max-conns" yaml:"tcp-max-conns"`
	TCPIdleTimeout time.Duration `mapstructure:"tcp-idle-timeout" yaml:"tcp-idle-timeout"`
	InputFiles     []string      `mapstructure:"input-files" yaml:"input-files"`

	BatchMode        string `mapstructure:"batch-mode" yaml:"batch-mode"`
	MaxDocumentBytes int    `mapstructure:"max-document-bytes" yaml:"max-document-bytes"`

	DBPath              string        `mapstructure:"db-path" yaml:"db-path"`
	QueryTimeout        time.Duration `mapstructure:"query-timeout" yaml:"query-timeout"`
	InsertBatchSize     int           `mapstructure:"insert-batch-size" yaml:"insert-batch-size"`
	InsertFlushInterval time.Duration `mapstructure:"insert-flush-interval" yaml:"insert-flush-interval"`
	InsertFlushQueue    int           `mapstructure:"insert-flush-queue-size" yaml:"insert-flush-queue-size"`
	RetentionDays       int           `mapstructure:"retention-days" yaml:"retention-days"`
	JournalEnabled      bool          `mapstructure:"journal-enabled" yaml:"journal-enabled"`
	JournalPath         string        `mapstructure:"journal-path" yaml:"journal-path"`

	APIEnabled bool   `mapstructure:"api-enabled" yaml:"api-enabled"`
	APIPort    int    `mapstructure:"api-port" yaml:"api-port"`
	APIAddr    string `mapstructure:"api-addr" yaml:"api-addr"`
	SocketPath string `mapstructure:"socket-path" yaml:"socket-path"`

	BackupEnabled        bool          `mapstructure:"backup-enabled" yaml:"backup-enabled"`
	BackupInterval       time.Duration `mapstructure:"backup-interval" yaml:"backup-interval"`
	BackupLocalDir       string        `mapstructure:"backup-local-dir" yaml:"backup-local-dir"`
	BackupKeepLast       int           `mapstructure:"backup-keep-last" yaml:"backup-keep-last"`
	BackupBucketURL      string        `mapstructure:"backup-bucket-url" yaml:"backup-bucket-url"`
	BackupS3Endpoint     string        `mapstructure:"backup-s3-endpoint" yaml:"backup-s3-endpoint"`
	BackupS3Region       string        `mapstructure:"backup-s3-region" yaml:"backup-s3-region"`
	BackupS3AccessKey    string        `mapstructure:"backup-s3-access-key" yaml:"backup-s3-access-key"`
	BackupS3SecretKey    string        `mapstructure:"backup-s3-secret-key" yaml:"backup-s3-secret-key"`
	BackupS3SessionToken string        `mapstructure:"backup-s3-session-token" yaml:"backup-s3-session-token"`
	BackupS3UseSSL       bool          `mapstructure:"backup-s3-use-ssl" yaml:"backup-s3-use-ssl"`

	ForwardQueueSize     int           `mapstructure:"forward-queue-size" yaml:"forward-queue-size"`
	ForwardBatchSize     int           `mapstructure:"forward-batch-size" yaml:"forward-batch-size"`
	ForwardFlushInterval time.Duration `mapstructure:"forward-flush-interval" yaml:"forward-flush-interval"`
	ForwardTimeout       time.Duration `mapstructure:"forward-timeout" yaml:"forward-timeout"`

	InfluxEnabled         bool   `mapstructure:"influx-enabled" yaml:"influx-enabled"`
	InfluxAddr            string `mapstructure:"influx-addr" yaml:"influx-addr"`
	InfluxUsername        string `mapstructure:"influx-username" yaml:"influx-username"`
	InfluxPassword        string `mapstructure:"influx-password" yaml:"influx-password"`
	InfluxDatabase        string `mapstructure:"influx-database" yaml:"influx-database"`
	InfluxRetentionPolicy string `mapstructure:"influx-retention-policy" yaml:"influx-retention-policy"`

	OTLPEnabled  bool   `mapstructure:"otlp-enabled" yaml:"otlp-enabled"`
	OTLPEndpoint string `mapstructure:"otlp-endpoint" yaml:"otlp-endpoint"`

	LogLevel      string `mapstructure:"log-level" yaml:"log-level"`
	LogFormat     string `mapstructure:"log-format" yaml:"log-format"`
	LogFile       string `mapstructure:"log-file" yaml:"log-file"`
	LogStdout     bool   `mapstructure:"log-stdout" yaml:"log-stdout"`
	LogMaxSize    int    `mapstructure:"log-max-size" yaml:"log-max-size"`
	LogMaxAge     int    `mapstructure:"log-max-age" yaml:"log-max-age"`
	LogMaxBackups int    `mapstructure:"log-max-backups" yaml:"log-max-backups"`

	ConfigPath string `mapstructure:"-" yaml:"-"` // not from config file
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	shareDir := filepath.Join(home, ".local", "share", "tsnorm")
	stateDir := filepath.Join(home, ".local", "state", "tsnorm")

	v := viper.New()
	v.SetEnvPrefix("TSNORM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("host", defaultBindHost)
	v.SetDefault("tcp-enabled", true)
	v.SetDefault("tcp-port", defaultTCPPort)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("tcp-max-conns", tcpserver.DefaultMaxConns)
	v.SetDefault("tcp-idle-timeout", time.Duration(0))
	v.SetDefault("batch-mode", string(ingest.BatchAbort))
	v.SetDefault("max-document-bytes", ingest.DefaultMaxDocumentBytes)
	v.SetDefault("db-path", filepath.Join(shareDir, "tsnorm.duckdb"))
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("insert-batch-size", duckdb.DefaultBatchSize)
	v.SetDefault("insert-flush-interval", duckdb.DefaultFlushInterval)
	v.SetDefault("insert-flush-queue-size", duckdb.DefaultFlushQueueSize)
	v.SetDefault("retention-days", defaultRetentionDays)
	v.SetDefault("journal-enabled", true)
	v.SetDefault("journal-path", filepath.Join(shareDir, "ingest.journal"))
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupInterval)
	v.SetDefault("backup-local-dir", filepath.Join(shareDir, "backups"))
	v.SetDefault("backup-keep-last", defaultBackupKeepLast)
	v.SetDefault("backup-s3-use-ssl", true)
	v.SetDefault("forward-queue-size", defaultForwardQueueSize)
	v.SetDefault("forward-batch-size", forward.DefaultBatchSize)
	v.SetDefault("forward-flush-interval", forward.DefaultFlushInterval)
	v.SetDefault("forward-timeout", forward.DefaultExportTimeout)
	v.SetDefault("influx-enabled", false)
	v.SetDefault("influx-addr", "http://127.0.0.1:8086")
	v.SetDefault("influx-database", defaultInfluxDatabase)
	v.SetDefault("otlp-enabled", false)
	v.SetDefault("otlp-endpoint", "127.0.0.1:4317")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "console")
	v.SetDefault("log-file", filepath.Join(stateDir, "tsnorm.log"))
	v.SetDefault("log-stdout", false)
	v.SetDefault("log-max-size", defaultLogMaxSizeMB)
	v.SetDefault("log-max-age", defaultLogMaxAgeDays)
	v.SetDefault("log-max-backups", defaultLogMaxBackups)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "tsnorm", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err == nil {
		cfg.ConfigPath = v.ConfigFileUsed()
	}

	if err := validateConfig(&cfg, home); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// validateConfig checks ranges, expands paths and derives listen addresses.
func validateConfig(cfg *appConfig, home string) error {
	if cfg.TCPPort <= 0 || cfg.TCPPort > 65535 {
		return fmt.Errorf("invalid tcp-port: %d", cfg.TCPPort)
	}
	if cfg.TCPMaxConns <= 0 {
		return fmt.Errorf("invalid tcp-max-conns: %d", cfg.TCPMaxConns)
	}
	if cfg.TCPIdleTimeout < 0 {
		return fmt.Errorf("invalid tcp-idle-timeout: %s", cfg.TCPIdleTimeout)
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}

	mode, err := ingest.ParseBatchMode(cfg.BatchMode)
	if err != nil {
		return fmt.Errorf("invalid batch-mode: %w", err)
	}
	cfg.BatchMode = string(mode)

	if cfg.MaxDocumentBytes <= 0 {
		return fmt.Errorf("invalid max-document-bytes: %d", cfg.MaxDocumentBytes)
	}
	if cfg.RetentionDays < 0 {
		return fmt.Errorf("invalid retention-days: %d", cfg.RetentionDays)
	}

	if cfg.BackupEnabled {
		if cfg.BackupInterval <= 0 {
			return fmt.Errorf("invalid backup-interval: %s", cfg.BackupInterval)
		}
		if cfg.BackupKeepLast <= 0 {
			return fmt.Errorf("invalid backup-keep-last: %d", cfg.BackupKeepLast)
		}
		if cfg.BackupBucketURL != "" && (cfg.BackupS3AccessKey == "" || cfg.BackupS3SecretKey == "") {
			return fmt.Errorf("backup-s3-access-key and backup-s3-secret-key are required with backup-bucket-url")
		}
	}

	if cfg.InfluxEnabled && cfg.InfluxDatabase == "" {
		return fmt.Errorf("influx-database is required when influx-enabled is set")
	}
	if cfg.OTLPEnabled && cfg.OTLPEndpoint == "" {
		return fmt.Errorf("otlp-endpoint is required when otlp-enabled is set")
	}

	cfg.DBPath = expandHome(cfg.DBPath, home)
	cfg.JournalPath = expandHome(cfg.JournalPath, home)
	cfg.BackupLocalDir = expandHome(cfg.BackupLocalDir, home)
	cfg.SocketPath = expandHome(cfg.SocketPath, home)
	cfg.LogFile = expandHome(cfg.LogFile, home)
	for i, f := range cfg.InputFiles {
		cfg.InputFiles[i] = expandHome(f, home)
	}

	if cfg.Host == "" {
		cfg.Host = defaultBindHost
	}
	if cfg.TCPAddr == "" {
		cfg.TCPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCPPort))
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}
	return nil
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func (c appConfig) logOptions() logging.Options {
	return logging.Options{
		Stdout:     c.LogStdout,
		Format:     c.LogFormat,
		Filename:   c.LogFile,
		MaxSize:    c.LogMaxSize,
		MaxAge:     c.LogMaxAge,
		MaxBackups: c.LogMaxBackups,
		Level:      c.LogLevel,
	}
}

func (c appConfig) batchMode() ingest.BatchMode {
	mode, _ := ingest.ParseBatchMode(c.BatchMode)
	return mode
}

func (c appConfig) backupConfig() backup.Config {
	return backup.Config{
		Enabled:  c.BackupEnabled,
		Interval: c.BackupInterval,
		Dir:      c.BackupLocalDir,
		KeepLast: c.BackupKeepLast,
		S3: backup.S3Config{
			BucketURL:    c.BackupBucketURL,
			Endpoint:     c.BackupS3Endpoint,
			Region:       c.BackupS3Region,
			AccessKey:    c.BackupS3AccessKey,
			SecretKey:    c.BackupS3SecretKey,
			SessionToken: c.BackupS3SessionToken,
			UseSSL:       c.BackupS3UseSSL,
		},
	}
}

func (c appConfig) forwardConfig() forward.Config {
	return forward.Config{
		QueueSize:     c.ForwardQueueSize,
		BatchSize:     c.ForwardBatchSize,
		FlushInterval: c.ForwardFlushInterval,
		ExportTimeout: c.ForwardTimeout,
	}
}

// exporters builds the enabled forward exporters.
func (c appConfig) exporters() ([]forward.Exporter, error) {
	var out []forward.Exporter
	if c.InfluxEnabled {
		exp, err := forward.NewInfluxExporter(forward.InfluxConfig{
			Addr:            c.InfluxAddr,
			Username:        c.InfluxUsername,
			Password:        c.InfluxPassword,
			Database:        c.InfluxDatabase,
			RetentionPolicy: c.InfluxRetentionPolicy,
			Timeout:         c.ForwardTimeout,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	if c.OTLPEnabled {
		exp, err := forward.NewOTLPExporter(forward.OTLPConfig{Endpoint: c.OTLPEndpoint})
		if err != nil {
			for _, e := range out {
				_ = e.Close()
			}
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}

// redacted returns a copy safe to print.
func (c appConfig) redacted() appConfig {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.BackupS3AccessKey = mask(c.BackupS3AccessKey)
	c.BackupS3SecretKey = mask(c.BackupS3SecretKey)
	c.BackupS3SessionToken = mask(c.BackupS3SessionToken)
	c.InfluxPassword = mask(c.InfluxPassword)
	return c
}

// apiServerOptions maps config onto HTTP server options.
func (c appConfig) apiServerOptions() []httpserver.Option {
	return []httpserver.Option{httpserver.WithMaxBodyBytes(int64(c.MaxDocumentBytes))}
}
