package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
)

// EnvPrefix prefixes environment overrides, e.g. TASKSYNC_SYNC_INTERVAL.
const EnvPrefix = "TASKSYNC"

// FileName is the config file searched for in the data directory.
const FileName = "tasksync.yaml"

// Load reads configuration from path, or from FileName in the data directory
// when path is empty. A missing search-path file is not an error; a missing
// explicit path is. Environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "read config "+path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(v.GetString("data_dir"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !stderrors.As(err, &notFound) {
				return nil, apperrors.Wrap(apperrors.ErrValidation, "read config", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	dir := os.Getenv(EnvPrefix + "_DATA_DIR")
	if dir == "" {
		dir = DefaultConfig().DataDir
	}
	return filepath.Join(dir, FileName)
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("namespace", d.Namespace)
	v.SetDefault("user", d.User)

	v.SetDefault("remote.base_url", d.Remote.BaseURL)
	v.SetDefault("remote.credential", d.Remote.Credential)
	v.SetDefault("remote.request_timeout", d.Remote.RequestTimeout)

	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.timeout", d.Sync.Timeout)
	v.SetDefault("sync.max_retries", d.Sync.MaxRetries)
	v.SetDefault("sync.replay_concurrency", d.Sync.ReplayConcurrency)

	v.SetDefault("connectivity.probe_interval", d.Connectivity.ProbeInterval)
	v.SetDefault("connectivity.probe_timeout", d.Connectivity.ProbeTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)

	v.SetDefault("relay.addr", d.Relay.Addr)
}

// Validate checks values that would otherwise fail deep inside a session.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return apperrors.Validation("data_dir is required")
	}
	if c.Namespace == "" {
		return apperrors.Validation("namespace is required")
	}
	if c.Remote.BaseURL == "" {
		return apperrors.Validation("remote.base_url is required")
	}
	if c.Sync.Interval <= 0 {
		return apperrors.Validation("sync.interval must be positive")
	}
	if c.Sync.MaxRetries < 1 {
		return apperrors.Validation("sync.max_retries must be at least 1")
	}
	if c.Sync.ReplayConcurrency < 1 {
		return apperrors.Validation("sync.replay_concurrency must be at least 1")
	}
	return nil
}
