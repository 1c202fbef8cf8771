// Package paths resolves where stowage keeps its config.yaml and, for the
// SQLite backend, its JSONL data files.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// appName is the directory created under the platform config and data roots.
const appName = "stowage"

// CWD-relative directory names.
const (
	DefaultConfigDirName = ".stowage"
	DefaultDataDirName   = ".stowage-db"
)

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "STOWAGE_CONFIG_DIR"
	EnvDataDir   = "STOWAGE_DATA_DIR"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	goos          string
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	goos:          runtime.GOOS,
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// xdgRoot describes one XDG base directory and its fallback under $HOME.
type xdgRoot struct {
	env      string
	fallback []string
}

var (
	xdgConfig = xdgRoot{env: "XDG_CONFIG_HOME", fallback: []string{".config"}}
	xdgData   = xdgRoot{env: "XDG_DATA_HOME", fallback: []string{".local", "share"}}
)

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/stowage (fallback ~/.config/stowage)
// macOS:   ~/Library/Application Support/stowage
// Windows: %APPDATA%/stowage
func DefaultConfigDir() (string, error) {
	return platformDefault(xdgConfig)
}

// DefaultDataDir returns the platform-specific default data directory.
//
// Linux:   $XDG_DATA_HOME/stowage (fallback ~/.local/share/stowage)
// macOS and Windows: same as DefaultConfigDir.
func DefaultDataDir() (string, error) {
	return platformDefault(xdgData)
}

func platformDefault(root xdgRoot) (string, error) {
	if platformDir.goos != "linux" {
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, appName), nil
	}
	if xdg := os.Getenv(root.env); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	parts := append([]string{home}, root.fallback...)
	return filepath.Join(append(parts, appName)...), nil
}

// ResolveConfigDir returns the configuration directory following the
// precedence chain: flag > STOWAGE_CONFIG_DIR > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	return firstAbs(DefaultConfigDir, flag, os.Getenv(EnvConfigDir))
}

// ResolveDataDir returns the data directory following the precedence chain:
// flag > data_dir from config.yaml > STOWAGE_DATA_DIR > ./.stowage-db.
func ResolveDataDir(flag, configYAMLValue string) (string, error) {
	return firstAbs(func() (string, error) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, DefaultDataDirName), nil
	}, flag, configYAMLValue, os.Getenv(EnvDataDir))
}

// firstAbs returns the first non-empty candidate made absolute, or the
// fallback when every candidate is empty.
func firstAbs(fallback func() (string, error), candidates ...string) (string, error) {
	for _, c := range candidates {
		if c != "" {
			return filepath.Abs(c)
		}
	}
	return fallback()
}
