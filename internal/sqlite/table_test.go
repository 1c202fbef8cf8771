package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/stowage/internal/mapping"
	"github.com/mesh-intelligence/stowage/internal/unitofwork"
	"github.com/mesh-intelligence/stowage/pkg/types"
)

const eventYAML = `entities:
  - name: Event
    table: events
    id: id
    generator: uuid
    fields:
      - name: id
        kind: text
      - name: title
        kind: text
      - name: weight
        kind: real
        nullable: true
      - name: public
        kind: boolean
      - name: starts_at
        kind: timestamp
        nullable: true
`

func ctx() context.Context { return context.Background() }

func attach(t *testing.T, reg types.Metadata, strategy string) *Backend {
	t.Helper()
	b := NewBackend(reg)
	require.NoError(t, b.Attach(types.Config{
		Backend:      types.BackendSQLite,
		DataDir:      t.TempDir(),
		SyncStrategy: strategy,
	}))
	t.Cleanup(func() { _ = b.Detach() })
	return b
}

func TestTableCRUD(t *testing.T) {
	reg := mapping.Default()
	b := attach(t, reg, types.SyncImmediate)
	child, err := reg.Entity("Child")
	require.NoError(t, err)
	parent, err := reg.Entity("Parent")
	require.NoError(t, err)

	tests := []struct {
		name  string
		check func(t *testing.T)
	}{
		{
			name: "load missing row",
			check: func(t *testing.T) {
				_, err := b.Load(ctx(), child, 1)
				assert.True(t, errors.Is(err, types.ErrNotFound))
			},
		},
		{
			name: "insert and load",
			check: func(t *testing.T) {
				require.NoError(t, b.Insert(ctx(), child, types.Row{"id": 1, "name": "first"}))
				require.NoError(t, b.Insert(ctx(), child, types.Row{"id": 2, "name": nil}))
				require.NoError(t, b.Insert(ctx(), parent, types.Row{"id": 10, "child_id": 1}))

				row, err := b.Load(ctx(), child, int64(1))
				require.NoError(t, err)
				assert.Equal(t, types.Row{"id": int64(1), "name": "first"}, row)

				row, err = b.Load(ctx(), child, 2)
				require.NoError(t, err)
				assert.Nil(t, row["name"])
			},
		},
		{
			name: "duplicate insert",
			check: func(t *testing.T) {
				err := b.Insert(ctx(), child, types.Row{"id": 1, "name": "again"})
				assert.True(t, errors.Is(err, types.ErrDuplicateRow))
			},
		},
		{
			name: "insert with wrong kind",
			check: func(t *testing.T) {
				err := b.Insert(ctx(), child, types.Row{"id": 3, "name": 42})
				assert.True(t, errors.Is(err, types.ErrTypeMismatch))
			},
		},
		{
			name: "load by join column",
			check: func(t *testing.T) {
				rows, err := b.LoadBy(ctx(), parent, "child_id", int64(1))
				require.NoError(t, err)
				require.Len(t, rows, 1)
				assert.Equal(t, int64(10), rows[0]["id"])

				_, err = b.LoadBy(ctx(), parent, "nope", 1)
				assert.True(t, errors.Is(err, types.ErrUnknownField))
			},
		},
		{
			name: "update changed columns",
			check: func(t *testing.T) {
				require.NoError(t, b.Update(ctx(), parent, 10, types.Row{"child_id": int64(2)}))
				row, err := b.Load(ctx(), parent, 10)
				require.NoError(t, err)
				assert.Equal(t, int64(2), row["child_id"])

				assert.True(t, errors.Is(b.Update(ctx(), parent, 11, types.Row{"child_id": nil}), types.ErrNotFound))
				assert.True(t, errors.Is(b.Update(ctx(), parent, 10, types.Row{"id": 12}), types.ErrIdentifierChanged))
				assert.NoError(t, b.Update(ctx(), parent, 10, types.Row{}))
			},
		},
		{
			name: "JSONL reflects the table",
			check: func(t *testing.T) {
				data, err := os.ReadFile(filepath.Join(b.DataDir(), "gh_parent.jsonl"))
				require.NoError(t, err)
				assert.Equal(t, "{\"child_id\":2,\"id\":10}\n", string(data))
			},
		},
		{
			name: "delete",
			check: func(t *testing.T) {
				require.NoError(t, b.Delete(ctx(), child, 2))
				_, err := b.Load(ctx(), child, 2)
				assert.True(t, errors.Is(err, types.ErrNotFound))
				assert.True(t, errors.Is(b.Delete(ctx(), child, 2), types.ErrNotFound))

				data, err := os.ReadFile(filepath.Join(b.DataDir(), "gh_child.jsonl"))
				require.NoError(t, err)
				assert.Equal(t, 1, strings.Count(string(data), "\n"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.check)
	}
}

func TestTableKinds(t *testing.T) {
	reg, err := mapping.Parse([]byte(eventYAML))
	require.NoError(t, err)
	b := attach(t, reg, types.SyncOnClose)
	event, err := reg.Entity("Event")
	require.NoError(t, err)

	start := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	require.NoError(t, b.Insert(ctx(), event, types.Row{
		"id": "e1", "title": "launch", "weight": 2, "public": true, "starts_at": start,
	}))

	row, err := b.Load(ctx(), event, "e1")
	require.NoError(t, err)
	assert.Equal(t, "launch", row["title"])
	assert.Equal(t, 2.0, row["weight"])
	assert.Equal(t, true, row["public"])
	got, ok := row["starts_at"].(time.Time)
	require.True(t, ok)
	assert.True(t, start.Equal(got))
	assert.Equal(t, time.UTC, got.Location())

	rows, err := b.LoadBy(ctx(), event, "public", true)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCreateSchema(t *testing.T) {
	b := attach(t, mapping.Default(), types.SyncImmediate)
	extra, err := mapping.Parse([]byte(eventYAML))
	require.NoError(t, err)
	event, err := extra.Entity("Event")
	require.NoError(t, err)

	_, err = b.Load(ctx(), event, "e1")
	assert.True(t, errors.Is(err, types.ErrUnknownEntity))

	require.NoError(t, b.CreateSchema(ctx(), event))
	require.NoError(t, b.CreateSchema(ctx(), event))
	require.NoError(t, b.Insert(ctx(), event, types.Row{"id": "e1", "title": "x", "public": false}))
	_, err = os.Stat(filepath.Join(b.DataDir(), "events.jsonl"))
	assert.NoError(t, err)
}

// TestSessionOverSQLite runs the parent/child reassignment through a session
// backed by SQLite and reads the result back after a reattach.
func TestSessionOverSQLite(t *testing.T) {
	reg := mapping.Default()
	dir := t.TempDir()
	config := types.Config{Backend: types.BackendSQLite, DataDir: dir}
	b := NewBackend(reg)
	require.NoError(t, b.Attach(config))

	s := unitofwork.NewSession(b, reg)
	for _, c := range []struct {
		id   int
		name string
	}{{1, "first"}, {2, "second"}} {
		e, err := s.NewEntity("Child")
		require.NoError(t, err)
		require.NoError(t, e.Set(ctx(), "id", c.id))
		require.NoError(t, e.Set(ctx(), "name", c.name))
		require.NoError(t, s.Persist(ctx(), e))
	}
	p, err := s.NewEntity("Parent")
	require.NoError(t, err)
	require.NoError(t, p.Set(ctx(), "id", 10))
	first, err := s.Find(ctx(), "Child", 1)
	require.NoError(t, err)
	require.NoError(t, p.SetRef(ctx(), "child", first))
	require.NoError(t, s.Persist(ctx(), p))
	require.NoError(t, s.Flush(ctx()))
	s.Clear()

	parent, err := s.Find(ctx(), "Parent", 10)
	require.NoError(t, err)
	old, err := parent.Ref(ctx(), "child")
	require.NoError(t, err)
	second, err := s.Find(ctx(), "Child", 2)
	require.NoError(t, err)
	require.NoError(t, parent.SetRef(ctx(), "child", second))
	require.NoError(t, old.Initialize(ctx()))
	require.NoError(t, s.Flush(ctx()))
	require.NoError(t, s.Close())
	require.NoError(t, b.Detach())

	b2 := NewBackend(reg)
	require.NoError(t, b2.Attach(config))
	t.Cleanup(func() { _ = b2.Detach() })
	s2 := unitofwork.NewSession(b2, reg)
	parent, err = s2.Find(ctx(), "Parent", 10)
	require.NoError(t, err)
	child, err := parent.Ref(ctx(), "child")
	require.NoError(t, err)
	assert.Equal(t, int64(2), child.ID())
}
