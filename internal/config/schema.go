// Package config loads tasksync configuration from YAML and the environment.
package config

import "time"

// Config is the complete tasksync configuration.
type Config struct {
	DataDir   string `yaml:"data_dir" mapstructure:"data_dir"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	User      string `yaml:"user" mapstructure:"user"`

	Remote       RemoteConfig       `yaml:"remote" mapstructure:"remote"`
	Sync         SyncConfig         `yaml:"sync" mapstructure:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity" mapstructure:"connectivity"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Relay        RelayConfig        `yaml:"relay" mapstructure:"relay"`
}

// RemoteConfig locates the remote task service.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url" mapstructure:"base_url"`
	Credential     string        `yaml:"credential" mapstructure:"credential"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// SyncConfig tunes the scheduler and replay.
type SyncConfig struct {
	Interval          time.Duration `yaml:"interval" mapstructure:"interval"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries        int           `yaml:"max_retries" mapstructure:"max_retries"`
	ReplayConcurrency int           `yaml:"replay_concurrency" mapstructure:"replay_concurrency"`
}

// ConnectivityConfig tunes the health prober.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval" mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
}

// LogConfig selects log level and an optional rotated file.
type LogConfig struct {
	Level     string `yaml:"level" mapstructure:"level"`
	File      string `yaml:"file" mapstructure:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
}

// RelayConfig is the local websocket relay served by `tasksync serve`.
type RelayConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}
