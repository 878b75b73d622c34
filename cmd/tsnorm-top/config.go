package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/tsnorm/internal/model"
	"github.com/tinytelemetry/tsnorm/internal/socketrpc"
)

// cliConfig is the dashboard's slice of the service config file. Keys it
// does not know are ignored.
type cliConfig struct {
	UpdateInterval time.Duration `mapstructure:"update-interval"`
	RecentLimit    int           `mapstructure:"recent-limit"`
	SocketPath     string        `mapstructure:"socket-path"`
}

func (c cliConfig) validate() error {
	switch {
	case c.UpdateInterval <= 0:
		return fmt.Errorf("update-interval must be positive, got %s", c.UpdateInterval)
	case c.RecentLimit <= 0:
		return fmt.Errorf("recent-limit must be positive, got %d", c.RecentLimit)
	case c.SocketPath == "":
		return errors.New("socket-path is empty")
	}
	return nil
}

func defaultConfigFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "tsnorm", "config.yml"), nil
}

func loadCLIConfig(configPath string) (cliConfig, error) {
	if configPath == "" {
		p, err := defaultConfigFile()
		if err != nil {
			return cliConfig{}, err
		}
		configPath = p
	}

	v := viper.New()
	v.SetEnvPrefix("TSNORM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, def := range map[string]any{
		"update-interval": model.DefaultUpdateInterval,
		"recent-limit":    model.DefaultRecentLimit,
		"socket-path":     socketrpc.DefaultSocketPath(),
	} {
		v.SetDefault(key, def)
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return cliConfig{}, fmt.Errorf("reading %s: %w", configPath, err)
		}
	}

	var cfg cliConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return cliConfig{}, err
	}
	return cfg, cfg.validate()
}
