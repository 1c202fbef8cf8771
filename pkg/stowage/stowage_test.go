package stowage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/stowage/internal/mapping"
	"github.com/mesh-intelligence/stowage/internal/memory"
	"github.com/mesh-intelligence/stowage/pkg/types"
)

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     types.Config
		wantErr error
	}{
		{"empty backend", types.Config{}, types.ErrBackendEmpty},
		{"unknown backend", types.Config{Backend: "oracle"}, types.ErrBackendUnknown},
		{"postgres without dsn", types.Config{Backend: types.BackendPostgres}, types.ErrDSNRequired},
		{"negative cache", types.Config{Backend: types.BackendMemory, Cache: types.CacheConfig{Size: -1}}, types.ErrCacheSizeInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.cfg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOpenMissingMappingFile(t *testing.T) {
	cfg := types.Config{
		Backend:     types.BackendMemory,
		MappingFile: filepath.Join(t.TempDir(), "absent.yaml"),
	}
	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load mapping")
}

func TestOpenMappingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(mapping.DefaultYAML), 0o644))

	st, err := Open(context.Background(), types.Config{Backend: types.BackendMemory, MappingFile: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.Mapping.Entity("Parent")
	assert.NoError(t, err)
	assert.Nil(t, st.Cache())
}

// roundTrip writes a parent pointing at child 1, reassigns it to child 2 in a
// second scope, and returns the child id seen by a third scope.
func roundTrip(t *testing.T, st *Store) any {
	t.Helper()
	ctx := context.Background()

	s := st.NewSession()
	for _, id := range []int{1, 2} {
		c, err := s.NewEntity("Child")
		require.NoError(t, err)
		require.NoError(t, c.Set(ctx, "id", id))
		require.NoError(t, s.Persist(ctx, c))
	}
	p, err := s.NewEntity("Parent")
	require.NoError(t, err)
	require.NoError(t, p.Set(ctx, "id", 10))
	first, err := s.Find(ctx, "Child", 1)
	require.NoError(t, err)
	require.NoError(t, p.SetRef(ctx, "child", first))
	require.NoError(t, s.Persist(ctx, p))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())

	s = st.NewSession()
	parent, err := s.Find(ctx, "Parent", 10)
	require.NoError(t, err)
	old, err := parent.Ref(ctx, "child")
	require.NoError(t, err)
	second, err := s.Find(ctx, "Child", 2)
	require.NoError(t, err)
	require.NoError(t, parent.SetRef(ctx, "child", second))
	require.NoError(t, old.Initialize(ctx))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())

	s = st.NewSession()
	t.Cleanup(func() { _ = s.Close() })
	parent, err = s.Find(ctx, "Parent", 10)
	require.NoError(t, err)
	child, err := parent.Ref(ctx, "child")
	require.NoError(t, err)
	require.NotNil(t, child)
	return child.ID()
}

func TestStoreBackends(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(t *testing.T) types.Config
	}{
		{
			name: "memory",
			cfg: func(t *testing.T) types.Config {
				return types.Config{Backend: types.BackendMemory}
			},
		},
		{
			name: "memory with cache",
			cfg: func(t *testing.T) types.Config {
				return types.Config{Backend: types.BackendMemory, Cache: types.CacheConfig{Enabled: true, Size: 8}}
			},
		},
		{
			name: "sqlite",
			cfg: func(t *testing.T) types.Config {
				return types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}
			},
		},
		{
			name: "sqlite on_close with cache",
			cfg: func(t *testing.T) types.Config {
				return types.Config{
					Backend:      types.BackendSQLite,
					DataDir:      t.TempDir(),
					SyncStrategy: types.SyncOnClose,
					Cache:        types.CacheConfig{Enabled: true},
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := Open(context.Background(), tt.cfg(t))
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			assert.Equal(t, int64(2), roundTrip(t, st))
		})
	}
}

func TestSQLiteStorePersistsAcrossOpens(t *testing.T) {
	cfg := types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir(), SyncStrategy: types.SyncOnClose}
	st, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	roundTrip(t, st)
	require.NoError(t, st.Close())
	assert.FileExists(t, filepath.Join(cfg.DataDir, "gh_parent.jsonl"))

	st, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	s := st.NewSession()
	parent, err := s.Find(context.Background(), "Parent", 10)
	require.NoError(t, err)
	child, err := parent.Ref(context.Background(), "child")
	require.NoError(t, err)
	assert.Equal(t, int64(2), child.ID())
}

func TestWithStorageAndRegisterer(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	mem := memory.New()
	st, err := Open(context.Background(), types.Config{Backend: types.BackendMemory},
		WithStorage(mem), WithMapping(mapping.Default()), WithRegisterer(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	assert.Same(t, mem, st.Storage())

	roundTrip(t, st)
	assert.Equal(t, 1, mem.Len(mustMeta(t, st, "Parent")))

	n, err := testutil.GatherAndCount(reg, "stowage_rows_written_total")
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestReopenWithSameRegisterer(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	ctx := context.Background()

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	_, err := Open(ctx, types.Config{Backend: types.BackendSQLite, DataDir: blocker}, WithRegisterer(reg))
	require.Error(t, err)
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, n, "a failed open must not leave collectors behind")

	st, err := Open(ctx, types.Config{Backend: types.BackendMemory}, WithRegisterer(reg))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(ctx, types.Config{Backend: types.BackendMemory}, WithRegisterer(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	roundTrip(t, st)

	n, err = testutil.GatherAndCount(reg, "stowage_rows_written_total")
	require.NoError(t, err)
	assert.Positive(t, n)
}

func mustMeta(t *testing.T, st *Store, name string) *types.EntityMeta {
	t.Helper()
	m, err := st.Mapping.Entity(name)
	require.NoError(t, err)
	return m
}
