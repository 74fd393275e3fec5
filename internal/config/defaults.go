package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfig returns the configuration used when no file or environment
// override is present.
func DefaultConfig() *Config {
	return &Config{
		DataDir:   defaultDataDir(),
		Namespace: "default",
		Remote: RemoteConfig{
			BaseURL:        "http://localhost:8080",
			RequestTimeout: 15 * time.Second,
		},
		Sync: SyncConfig{
			Interval:          30 * time.Second,
			Timeout:           5 * time.Minute,
			MaxRetries:        3,
			ReplayConcurrency: 4,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 10 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
		Relay: RelayConfig{
			Addr: "localhost:8090",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tasksync"
	}
	return filepath.Join(home, ".tasksync")
}

// WriteDefault writes the default configuration as YAML to path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	header := []byte("# tasksync configuration\n")
	return os.WriteFile(path, append(header, data...), 0644)
}
