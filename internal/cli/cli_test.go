package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/stowage/internal/mapping"
)

// env is an isolated config and data directory pair.
type env struct {
	configDir string
	dataDir   string
}

func newEnv(t *testing.T) env {
	t.Helper()
	t.Setenv("STOWAGE_CONFIG_DIR", "")
	t.Setenv("STOWAGE_DATA_DIR", "")
	return env{
		configDir: filepath.Join(t.TempDir(), "config"),
		dataDir:   filepath.Join(t.TempDir(), "data"),
	}
}

// exec runs the CLI with the environment's directories and returns stdout,
// stderr and the exit code.
func (e env) exec(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	full := append([]string{"--config-dir", e.configDir, "--data-dir", e.dataDir}, args...)
	code := run(root, full, &stderr)
	return stdout.String(), stderr.String(), code
}

func (e env) writeConfig(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(e.configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.configDir, "config.yaml"), []byte(content), 0o644))
}

func TestVersion(t *testing.T) {
	e := newEnv(t)
	out, _, code := e.exec(t, "version")
	assert.Equal(t, exitSuccess, code)
	assert.Contains(t, out, "stowage v")
	assert.Contains(t, out, "module: github.com/mesh-intelligence/stowage")
}

func TestInitWritesDefaultConfig(t *testing.T) {
	e := newEnv(t)
	out, stderr, code := e.exec(t, "init")
	require.Equal(t, exitSuccess, code, stderr)
	assert.Contains(t, out, "stowage initialized (backend sqlite, data dir "+e.dataDir+")")

	data, err := os.ReadFile(filepath.Join(e.configDir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultConfigYAML, string(data))
	assert.FileExists(t, filepath.Join(e.dataDir, "gh_parent.jsonl"))
	assert.FileExists(t, filepath.Join(e.dataDir, "gh_child.jsonl"))
}

func TestConfigFile(t *testing.T) {
	tests := []struct {
		name    string
		config  func(e env) string
		args    []string
		wantOut string
	}{
		{
			name:    "memory backend",
			config:  func(env) string { return "backend: memory\n" },
			args:    []string{"init"},
			wantOut: "stowage initialized (backend memory)\n",
		},
		{
			name: "relative mapping file",
			config: func(e env) string {
				return "backend: memory\nmapping_file: mapping.yaml\n"
			},
			args:    []string{"--json", "init"},
			wantOut: `"Child"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.writeConfig(t, tt.config(e))
			require.NoError(t, os.WriteFile(filepath.Join(e.configDir, "mapping.yaml"), []byte(mapping.DefaultYAML), 0o644))
			out, stderr, code := e.exec(t, tt.args...)
			require.Equal(t, exitSuccess, code, stderr)
			assert.Contains(t, out, tt.wantOut)
		})
	}
}

func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name     string
		config   string
		wantCode int
		wantErr  string
	}{
		{"unknown backend", "backend: oracle\n", exitSysError, "unknown backend"},
		{"missing mapping file", "backend: memory\nmapping_file: absent.yaml\n", exitSysError, "load mapping"},
		{"malformed yaml", "backend: [sqlite\n", exitSysError, "read config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.writeConfig(t, tt.config)
			_, stderr, code := e.exec(t, "init")
			assert.Equal(t, tt.wantCode, code)
			assert.Contains(t, stderr, tt.wantErr)
		})
	}
}

// TestCommandsOverSQLite drives the data commands against one data
// directory, so every step reloads the JSONL files written by the last.
func TestCommandsOverSQLite(t *testing.T) {
	e := newEnv(t)
	steps := []struct {
		name     string
		args     []string
		wantCode int
		want     []string
	}{
		{"init", []string{"init"}, exitSuccess, []string{"stowage initialized"}},
		{"create first child", []string{"create", "Child", "1", "name=first"}, exitSuccess,
			[]string{"created Child#1", `name: "first"`, "parent -> null"}},
		{"create second child", []string{"create", "Child", "2", "name=second"}, exitSuccess,
			[]string{"created Child#2"}},
		{"create parent", []string{"create", "Parent", "10", "child=1"}, exitSuccess,
			[]string{"created Parent#10", "child -> Child#1"}},
		{"find parent", []string{"find", "Parent", "10"}, exitSuccess,
			[]string{"Parent#10 (initialized)", "id: 10", "child -> Child#1"}},
		{"inverse side", []string{"find", "Child", "1"}, exitSuccess,
			[]string{"parent -> Parent#10"}},
		{"link", []string{"link", "Parent", "10", "child", "2"}, exitSuccess,
			[]string{"linked Parent#10.child", "child -> Child#2"}},
		{"old child released", []string{"find", "Child", "1"}, exitSuccess,
			[]string{"parent -> null"}},
		{"new child claimed", []string{"find", "Child", "2"}, exitSuccess,
			[]string{"parent -> Parent#10"}},
		{"set", []string{"set", "Child", "1", "name", "renamed"}, exitSuccess,
			[]string{"updated Child#1.name", `name: "renamed"`}},
		{"set null", []string{"set", "Child", "1", "name", "null"}, exitSuccess,
			[]string{"name: null"}},
		{"unlink", []string{"link", "Parent", "10", "child", "null"}, exitSuccess,
			[]string{"child -> null"}},
		{"delete", []string{"delete", "Child", "1"}, exitSuccess,
			[]string{"deleted Child#1"}},
		{"deleted is gone", []string{"find", "Child", "1"}, exitUserError, nil},
		{"duplicate create", []string{"create", "Child", "2"}, exitUserError, nil},
	}
	for _, s := range steps {
		out, stderr, code := e.exec(t, s.args...)
		require.Equal(t, s.wantCode, code, "%s: %s", s.name, stderr)
		for _, w := range s.want {
			assert.Contains(t, out, w, s.name)
		}
	}
}

func TestFindJSON(t *testing.T) {
	e := newEnv(t)
	e.writeConfig(t, "backend: sqlite\n")
	_, stderr, code := e.exec(t, "create", "Child", "7", "name=seven")
	require.Equal(t, exitSuccess, code, stderr)

	out, stderr, code := e.exec(t, "--json", "find", "Child", "7")
	require.Equal(t, exitSuccess, code, stderr)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "Child#7", got["identity"])
	assert.Equal(t, "initialized", got["state"])
	assert.Equal(t, map[string]any{"id": float64(7), "name": "seven"}, got["fields"])
	assert.Equal(t, map[string]any{"parent": nil}, got["associations"])
}

func TestUserErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown entity", []string{"find", "Widget", "1"}, "unknown entity type"},
		{"bad id", []string{"find", "Parent", "ten"}, "invalid entity ID"},
		{"missing row", []string{"find", "Parent", "99"}, "entity not found"},
		{"wrong arg count", []string{"find", "Parent"}, "accepts 2 arg(s)"},
		{"unknown field", []string{"create", "Child", "1", "colour=red"}, "unknown field"},
		{"bad value", []string{"create", "Child", "1", "id=x"}, "is not an integer"},
		{"bad pair", []string{"create", "Child", "1", "name"}, "expected name=value"},
		{"not an association", []string{"create", "Parent", "1", "color=2"}, "unknown field"},
		{"bad order", []string{"scenario", "--order", "sometimes"}, "--order must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.writeConfig(t, "backend: memory\n")
			_, stderr, code := e.exec(t, tt.args...)
			assert.Equal(t, exitUserError, code, stderr)
			assert.Contains(t, stderr, tt.wantErr)
		})
	}
}

func TestScenarioGolden(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"scenario_all", []string{"scenario"}},
		{"scenario_after_flush", []string{"scenario", "--order", "after-flush"}},
		{"scenario_skip_json", []string{"--json", "scenario", "--order", "skip"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			out, stderr, code := e.exec(t, tt.args...)
			require.Equal(t, exitSuccess, code, stderr)

			g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
			g.Assert(t, tt.name, []byte(out))
		})
	}
}

func TestScenarioLeavesConfiguredBackendAlone(t *testing.T) {
	e := newEnv(t)
	_, stderr, code := e.exec(t, "scenario", "--order", "initialize")
	require.Equal(t, exitSuccess, code, stderr)
	assert.NoFileExists(t, filepath.Join(e.dataDir, "gh_parent.jsonl"))
}
