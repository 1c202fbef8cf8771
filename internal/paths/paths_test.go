package paths

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlatform swaps platformDir for the duration of a test.
func fakePlatform(t *testing.T, goos string) {
	t.Helper()
	saved := platformDir
	t.Cleanup(func() { platformDir = saved })
	platformDir.goos = goos
	platformDir.homeDir = func() (string, error) { return "/home/ann", nil }
	platformDir.userConfigDir = func() (string, error) { return "/Users/ann/Library/Application Support", nil }
}

func TestPlatformDefaults(t *testing.T) {
	tests := []struct {
		name       string
		goos       string
		env        map[string]string
		wantConfig string
		wantData   string
	}{
		{
			name:       "linux with XDG",
			goos:       "linux",
			env:        map[string]string{"XDG_CONFIG_HOME": "/tmp/xdg-config", "XDG_DATA_HOME": "/tmp/xdg-data"},
			wantConfig: "/tmp/xdg-config/stowage",
			wantData:   "/tmp/xdg-data/stowage",
		},
		{
			name:       "linux falls back to home",
			goos:       "linux",
			env:        map[string]string{"XDG_CONFIG_HOME": "", "XDG_DATA_HOME": ""},
			wantConfig: "/home/ann/.config/stowage",
			wantData:   "/home/ann/.local/share/stowage",
		},
		{
			name:       "darwin shares one directory",
			goos:       "darwin",
			wantConfig: "/Users/ann/Library/Application Support/stowage",
			wantData:   "/Users/ann/Library/Application Support/stowage",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakePlatform(t, tt.goos)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got, err := DefaultConfigDir()
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.wantConfig), got)

			got, err = DefaultDataDir()
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.wantData), got)
		})
	}
}

func TestPlatformDefaultError(t *testing.T) {
	fakePlatform(t, "linux")
	t.Setenv("XDG_CONFIG_HOME", "")
	boom := errors.New("no home")
	platformDir.homeDir = func() (string, error) { return "", boom }

	_, err := DefaultConfigDir()
	assert.ErrorIs(t, err, boom)
}

func TestResolveConfigDir(t *testing.T) {
	fakePlatform(t, "linux")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	tests := []struct {
		name   string
		flag   string
		envVal string
		want   string
	}{
		{name: "flag wins over env", flag: "/explicit/config", envVal: "/env/config", want: "/explicit/config"},
		{name: "env wins when flag empty", envVal: "/env/config", want: "/env/config"},
		{name: "platform default when both empty", want: "/xdg/stowage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvConfigDir, tt.envVal)
			got, err := ResolveConfigDir(tt.flag)
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.want), got)
		})
	}
}

func TestResolveDataDir(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		name          string
		flag          string
		configYAMLVal string
		envVal        string
		want          string
	}{
		{name: "flag wins over all", flag: "/flag/data", configYAMLVal: "/config/data", envVal: "/env/data", want: "/flag/data"},
		{name: "config.yaml wins over env", configYAMLVal: "/config/data", envVal: "/env/data", want: "/config/data"},
		{name: "env wins when flag and config empty", envVal: "/env/data", want: "/env/data"},
		{name: "CWD default when all empty", want: filepath.Join(cwd, DefaultDataDirName)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvDataDir, tt.envVal)
			got, err := ResolveDataDir(tt.flag, tt.configYAMLVal)
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.want), got)
		})
	}
}

func TestRelativePathsBecomeAbsolute(t *testing.T) {
	tests := []struct {
		name    string
		resolve func() (string, error)
	}{
		{"config flag", func() (string, error) { return ResolveConfigDir("relative/path") }},
		{"config env", func() (string, error) {
			t.Setenv(EnvConfigDir, "relative/env")
			return ResolveConfigDir("")
		}},
		{"data flag", func() (string, error) { return ResolveDataDir("relative/path", "") }},
		{"data config value", func() (string, error) { return ResolveDataDir("", "relative/config") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.resolve()
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(got), "expected absolute path, got %s", got)
		})
	}
}
