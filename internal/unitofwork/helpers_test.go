package unitofwork

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/stowage/internal/mapping"
	"github.com/mesh-intelligence/stowage/internal/memory"
	"github.com/mesh-intelligence/stowage/pkg/types"
)

const teamYAML = `entities:
  - name: Team
    id: id
    fields:
      - name: id
        kind: integer
      - name: title
        kind: text
        nullable: true
    associations:
      - name: players
        kind: one_to_many
        target: Player
        mapped_by: team
  - name: Player
    id: id
    fields:
      - name: id
        kind: integer
      - name: nick
        kind: text
    associations:
      - name: team
        kind: many_to_one
        target: Team
        join_column: team_id
        inversed_by: players
  - name: Note
    id: id
    generator: uuid
    fields:
      - name: id
        kind: text
      - name: body
        kind: text
`

// recordingStorage wraps a store, counting loads and recording writes. When
// gate is set, loads of gateType block until gate is closed.
type recordingStorage struct {
	types.Storage

	mu      sync.Mutex
	loads   map[string]int
	writes  []string
	updates map[string]types.Row

	gateType string
	gate     chan struct{}
	entered  chan struct{}
}

func newRecordingStorage(inner types.Storage) *recordingStorage {
	return &recordingStorage{
		Storage: inner,
		loads:   make(map[string]int),
		updates: make(map[string]types.Row),
	}
}

func (r *recordingStorage) Load(ctx context.Context, meta *types.EntityMeta, id any) (types.Row, error) {
	r.mu.Lock()
	r.loads[meta.Name]++
	gate, entered := r.gate, r.entered
	gated := meta.Name == r.gateType
	r.mu.Unlock()

	if gated && gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		<-gate
	}
	return r.Storage.Load(ctx, meta, id)
}

func (r *recordingStorage) Insert(ctx context.Context, meta *types.EntityMeta, row types.Row) error {
	r.record("insert", meta, row[meta.IDColumn()])
	return r.Storage.Insert(ctx, meta, row)
}

func (r *recordingStorage) Update(ctx context.Context, meta *types.EntityMeta, id any, changes types.Row) error {
	r.record("update", meta, id)
	r.mu.Lock()
	r.updates[fmt.Sprintf("%s#%v", meta.Name, id)] = changes.Clone()
	r.mu.Unlock()
	return r.Storage.Update(ctx, meta, id, changes)
}

func (r *recordingStorage) Delete(ctx context.Context, meta *types.EntityMeta, id any) error {
	r.record("delete", meta, id)
	return r.Storage.Delete(ctx, meta, id)
}

func (r *recordingStorage) record(op string, meta *types.EntityMeta, id any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, fmt.Sprintf("%s %s#%v", op, meta.Name, id))
}

func (r *recordingStorage) loadCount(entity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads[entity]
}

func (r *recordingStorage) writeLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.writes))
	copy(out, r.writes)
	return out
}

func meta(t *testing.T, md types.Metadata, name string) *types.EntityMeta {
	t.Helper()
	m, err := md.Entity(name)
	require.NoError(t, err)
	return m
}

// seedParentChild stores Child 1 and Child 2 and Parent 10 referencing
// Child 1.
func seedParentChild(t *testing.T) (*memory.Store, *mapping.Registry) {
	t.Helper()
	ctx := context.Background()
	reg := mapping.Default()
	store := memory.New()
	child, parent := meta(t, reg, "Child"), meta(t, reg, "Parent")
	require.NoError(t, store.Insert(ctx, child, types.Row{"id": int64(1), "name": "first"}))
	require.NoError(t, store.Insert(ctx, child, types.Row{"id": int64(2), "name": "second"}))
	require.NoError(t, store.Insert(ctx, parent, types.Row{"id": int64(10), "child_id": int64(1)}))
	return store, reg
}

// seedTeams stores Team 1 with Players 1 and 2, and an empty Team 2.
func seedTeams(t *testing.T) (*memory.Store, *mapping.Registry) {
	t.Helper()
	ctx := context.Background()
	reg, err := mapping.Parse([]byte(teamYAML))
	require.NoError(t, err)
	store := memory.New()
	team, player := meta(t, reg, "Team"), meta(t, reg, "Player")
	require.NoError(t, store.Insert(ctx, team, types.Row{"id": int64(1), "title": "red"}))
	require.NoError(t, store.Insert(ctx, team, types.Row{"id": int64(2), "title": "blue"}))
	require.NoError(t, store.Insert(ctx, player, types.Row{"id": int64(1), "nick": "ann", "team_id": int64(1)}))
	require.NoError(t, store.Insert(ctx, player, types.Row{"id": int64(2), "nick": "bob", "team_id": int64(1)}))
	return store, reg
}
