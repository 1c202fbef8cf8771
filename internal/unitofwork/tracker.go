package unitofwork

import (
	"fmt"
	"sync"
	"time"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

// snapshot is the recorded state of one entity: scalar values and, for every
// owning single-valued association, the identity of the referent.
type snapshot struct {
	values map[string]any
	refs   map[string]*types.Identity
}

// Tracker records per-entity snapshots and diffs live state against them.
type Tracker struct {
	mu    sync.Mutex
	snaps map[types.Identity]snapshot
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{snaps: make(map[types.Identity]snapshot)}
}

// Snapshot records the current values of e, replacing any earlier snapshot.
func (t *Tracker) Snapshot(e *Entity) {
	s := snapshot{
		values: make(map[string]any, len(e.meta.Fields)),
		refs:   make(map[string]*types.Identity),
	}
	for _, f := range e.meta.Fields {
		s.values[f.Name] = e.values[f.Name]
	}
	for i := range e.meta.Associations {
		a := &e.meta.Associations[i]
		if a.IsOwningSide() {
			s.refs[a.Name] = slotIdentity(e.refs[a.Name])
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.snaps[e.id] = s
}

// ChangeSet compares e against its snapshot. Association values are
// identities, so a placeholder compared with itself is unchanged whether or
// not it has been initialized since. An entity without a snapshot yields an
// empty change set.
func (t *Tracker) ChangeSet(e *Entity) types.ChangeSet {
	t.mu.Lock()
	s, ok := t.snaps[e.id]
	t.mu.Unlock()

	cs := types.ChangeSet{}
	if !ok {
		return cs
	}
	for _, f := range e.meta.Fields {
		old, cur := s.values[f.Name], e.values[f.Name]
		if !valuesEqual(old, cur) {
			cs[f.Name] = types.Change{Old: old, New: cur}
		}
	}
	for i := range e.meta.Associations {
		a := &e.meta.Associations[i]
		if !a.IsOwningSide() {
			continue
		}
		old, cur := s.refs[a.Name], slotIdentity(e.refs[a.Name])
		if !identitiesEqual(old, cur) {
			cs[a.Name] = types.Change{Old: old, New: cur}
		}
	}
	return cs
}

// Has reports whether a snapshot exists for id.
func (t *Tracker) Has(id types.Identity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.snaps[id]
	return ok
}

// Forget drops the snapshot for id.
func (t *Tracker) Forget(id types.Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.snaps, id)
}

// Clear drops every snapshot.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snaps = make(map[types.Identity]snapshot)
}

// Len returns the number of snapshots.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.snaps)
}

func slotIdentity(target *Entity) *types.Identity {
	if target == nil {
		return nil
	}
	id := target.id
	return &id
}

func identitiesEqual(a, b *types.Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func valuesEqual(a, b any) bool {
	ta, okA := a.(time.Time)
	tb, okB := b.(time.Time)
	if okA || okB {
		return okA && okB && ta.Equal(tb)
	}
	return a == b
}

// persistedRef returns the identity to write for an owning association slot.
// The referent must already be stored or scheduled for insert in this flush.
func persistedRef(owner *Entity, a *types.AssociationMeta, target *Entity) (*types.Identity, error) {
	if target == nil {
		return nil, nil
	}
	switch target.life {
	case lifecycleNew:
		return nil, fmt.Errorf("%w: %s.%s references %s, which was never persisted",
			types.ErrNotManaged, owner, a.Name, target)
	case lifecycleRemoved, lifecycleDeleted:
		return nil, fmt.Errorf("%w: %s.%s references removed %s",
			types.ErrNotManaged, owner, a.Name, target)
	}
	id := target.id
	return &id, nil
}
