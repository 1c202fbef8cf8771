package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/stowage/internal/paths"
	"github.com/mesh-intelligence/stowage/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# stowage configuration

# Storage backend: sqlite, memory, postgres or mongo
backend: sqlite

# Data directory for the sqlite backend (optional; overridable by --data-dir)
# data_dir:

# When the sqlite backend rewrites its JSONL files: immediate or on_close
sync_strategy: immediate

# Connection settings for postgres (dsn) and mongo (dsn, database)
# dsn:
# database:

# Entity mapping file; relative paths are resolved against this directory.
# The built-in Parent/Child mapping is used when unset.
# mapping_file:

cache:
  enabled: true
  size: 1024
`

// loadConfig resolves the config directory, writes a default config.yaml on
// first run, and reads it with Viper. The data directory follows the
// --data-dir > data_dir > STOWAGE_DATA_DIR > default chain.
func (a *app) loadConfig() (types.Config, error) {
	configDir, err := paths.ResolveConfigDir(a.configDir)
	if err != nil {
		return types.Config{}, fmt.Errorf("resolve config dir: %w", err)
	}
	v, err := readConfig(configDir)
	if err != nil {
		return types.Config{}, err
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.DataDir, err = paths.ResolveDataDir(a.dataDir, cfg.DataDir)
	if err != nil {
		return types.Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	if cfg.MappingFile != "" && !filepath.IsAbs(cfg.MappingFile) {
		cfg.MappingFile = filepath.Join(configDir, cfg.MappingFile)
	}
	return cfg, nil
}

// readConfig reads config.yaml from configDir. It creates the directory and
// a default config.yaml if they do not exist.
func readConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault("backend", types.BackendSQLite)
	v.SetDefault("sync_strategy", types.SyncImmediate)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.size", types.DefaultCacheSize)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// ensureDefaultConfigFile creates config.yaml in configDir unless it exists.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileExt)

	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
