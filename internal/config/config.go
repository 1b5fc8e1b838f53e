// Package config handles engine-wide settings: where cluster state lives
// on disk, and the environment-variable switches recognized by the core.
//
// Every orchestrator opens exactly one storage directory; clusters.json
// and the per-cluster databases live underneath it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultStorageDirName is the directory created under the user's
	// home directory when no override is supplied.
	DefaultStorageDirName = ".zeroshot"

	// EnvStorageDir overrides the storage directory outright.
	EnvStorageDir = "ZEROSHOT_STORAGE_DIR"
	// EnvSettingsFile points at a YAML settings override file consumed by
	// collaborators (e.g. provider adapters); the core only reads it for
	// the keys it recognizes below.
	EnvSettingsFile = "ZEROSHOT_SETTINGS_FILE"
	// EnvContextMetrics, when "1", prints context-build metrics to stdout.
	EnvContextMetrics = "ZEROSHOT_CONTEXT_METRICS"
	// EnvContextMetricsLedger, when "1", publishes context-build metrics
	// to the ledger under CONTEXT_METRICS.
	EnvContextMetricsLedger = "ZEROSHOT_CONTEXT_METRICS_LEDGER"
)

// Settings is the parsed form of the optional YAML settings file named by
// ZEROSHOT_SETTINGS_FILE. The core itself only consumes StorageDir;
// remaining keys pass through for external collaborators.
type Settings struct {
	StorageDir string         `yaml:"storage_dir,omitempty"`
	Extra      map[string]any `yaml:",inline"`
}

// Config holds the runtime configuration for one Orchestrator instance.
type Config struct {
	// StorageDir is the directory holding clusters.json and the
	// per-cluster *.db files. Defaults to ~/.zeroshot.
	StorageDir string

	Settings Settings
}

// Load resolves the storage directory and optional settings override from
// the environment, in the order: explicit override argument, then
// ZEROSHOT_STORAGE_DIR, then the settings file's storage_dir, then
// ~/.zeroshot.
func Load(storageDirOverride string) (*Config, error) {
	cfg := &Config{}

	settingsPath := strings.TrimSpace(os.Getenv(EnvSettingsFile))
	if settingsPath != "" {
		settings, err := loadSettingsFile(settingsPath)
		if err != nil {
			return nil, err
		}
		cfg.Settings = settings
	}

	dir := strings.TrimSpace(storageDirOverride)
	if dir == "" {
		dir = strings.TrimSpace(os.Getenv(EnvStorageDir))
	}
	if dir == "" {
		dir = strings.TrimSpace(cfg.Settings.StorageDir)
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("config: resolve home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultStorageDirName)
	}
	cfg.StorageDir = filepath.Clean(dir)

	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return nil, fmt.Errorf("config: ensure storage dir %s: %w", cfg.StorageDir, err)
	}
	return cfg, nil
}

// RegistryPath returns the path to the cluster registry file.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.StorageDir, "clusters.json")
}

// DatabasePath returns the path to one cluster's ledger database file.
func (c *Config) DatabasePath(clusterID string) string {
	return filepath.Join(c.StorageDir, clusterID+".db")
}

// LogPath returns the path to one cluster's optional logbook file.
func (c *Config) LogPath(clusterID string) string {
	return filepath.Join(c.StorageDir, clusterID+".log")
}

// ContextMetricsEnabled reports whether metrics should be printed after
// each context build (ZEROSHOT_CONTEXT_METRICS=1).
func ContextMetricsEnabled() bool {
	return envFlag(EnvContextMetrics)
}

// ContextMetricsLedgerEnabled reports whether metrics should also be
// published to the ledger (ZEROSHOT_CONTEXT_METRICS_LEDGER=1).
func ContextMetricsLedgerEnabled() bool {
	return envFlag(EnvContextMetricsLedger)
}

func envFlag(name string) bool {
	return strings.TrimSpace(os.Getenv(name)) == "1"
}

func loadSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("config: read settings file %s: %w", path, err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("config: parse settings file %s: %w", path, err)
	}
	return s, nil
}
