package unitofwork

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/stowage/internal/metrics"
	"github.com/mesh-intelligence/stowage/pkg/types"
)

// Flush writes every pending change to storage: scheduled inserts in
// foreign-key order, then updates of managed entities whose change set is not
// empty, then scheduled deletes in reverse dependency order. Association
// columns are written from the current slot values. Snapshots are retaken
// after each write and the second-level cache is kept coherent.
//
// A storage error aborts the flush and is returned wrapped. Writes already
// made are not undone.
func (s *Session) Flush(ctx context.Context) (err error) {
	if err := s.ready(); err != nil {
		return err
	}
	s.setState(StateFlushing)
	defer s.setState(StateActive)

	start := time.Now()
	var inserted, updated, deleted int
	defer func() {
		s.metrics.ObserveFlush(time.Since(start), err)
		if err != nil {
			s.log.Warn("flush failed", zap.Error(err))
			return
		}
		s.log.Debug("flush complete",
			zap.Int("inserts", inserted),
			zap.Int("updates", updated),
			zap.Int("deletes", deleted),
			zap.Duration("elapsed", time.Since(start)))
	}()

	for _, e := range commitOrder(s.inserts) {
		if err := s.insert(ctx, e); err != nil {
			return err
		}
		s.inserts = without(s.inserts, e)
		inserted++
	}

	for _, e := range s.identities.Entities() {
		if e.life != lifecycleManaged || !e.IsInitialized() {
			continue
		}
		ok, err := s.update(ctx, e)
		if err != nil {
			return err
		}
		if ok {
			updated++
		}
	}

	order := commitOrder(s.deletes)
	for i := len(order) - 1; i >= 0; i-- {
		if err := s.delete(ctx, order[i]); err != nil {
			return err
		}
		s.deletes = without(s.deletes, order[i])
		deleted++
	}
	return nil
}

func (s *Session) insert(ctx context.Context, e *Entity) error {
	row, err := e.row()
	if err != nil {
		return err
	}
	if err := s.storage.Insert(ctx, e.meta, row); err != nil {
		return fmt.Errorf("inserting %s: %w", e.id, err)
	}
	e.life = lifecycleManaged
	s.tracker.Snapshot(e)
	if s.cache != nil {
		s.cache.Put(e.id, row)
	}
	s.metrics.Wrote(e.meta.Name, metrics.OpInsert)
	s.log.Debug("insert", zap.Stringer("identity", e.id))
	return nil
}

// update writes the change set of e. It reports false when nothing changed.
func (s *Session) update(ctx context.Context, e *Entity) (bool, error) {
	cs := s.tracker.ChangeSet(e)
	if cs.Empty() {
		return false, nil
	}
	changes := make(types.Row, len(cs))
	for _, name := range cs.Fields() {
		if f, ok := e.meta.Field(name); ok {
			changes[f.Column] = cs[name].New
			continue
		}
		a, _ := e.meta.Association(name)
		ref, err := persistedRef(e, a, e.refs[a.Name])
		if err != nil {
			return false, err
		}
		if ref == nil {
			changes[a.JoinColumn] = nil
		} else {
			changes[a.JoinColumn] = ref.ID
		}
	}
	if err := s.storage.Update(ctx, e.meta, e.id.ID, changes); err != nil {
		return false, fmt.Errorf("updating %s: %w", e.id, err)
	}
	s.tracker.Snapshot(e)
	if s.cache != nil {
		s.cache.Evict(e.id)
	}
	s.metrics.Wrote(e.meta.Name, metrics.OpUpdate)
	s.log.Debug("update", zap.Stringer("identity", e.id), zap.Strings("fields", cs.Fields()))
	return true, nil
}

func (s *Session) delete(ctx context.Context, e *Entity) error {
	if err := s.storage.Delete(ctx, e.meta, e.id.ID); err != nil {
		return fmt.Errorf("deleting %s: %w", e.id, err)
	}
	s.identities.Remove(e.id)
	s.tracker.Forget(e.id)
	if s.cache != nil {
		s.cache.Evict(e.id)
	}
	e.life = lifecycleDeleted
	s.metrics.Wrote(e.meta.Name, metrics.OpDelete)
	s.log.Debug("delete", zap.Stringer("identity", e.id))
	return nil
}

// commitOrder sorts entities so that the referent of every owning
// association in the list precedes its owner. Entities with no dependency
// between them keep their scheduling order. A reference cycle is broken at
// the entity scheduled first.
func commitOrder(list []*Entity) []*Entity {
	index := make(map[*Entity]int, len(list))
	for i, e := range list {
		index[e] = i
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(list))
	out := make([]*Entity, 0, len(list))

	var visit func(i int)
	visit = func(i int) {
		if state[i] != unvisited {
			return
		}
		state[i] = visiting
		e := list[i]
		for k := range e.meta.Associations {
			a := &e.meta.Associations[k]
			if !a.IsOwningSide() {
				continue
			}
			if j, ok := index[e.refs[a.Name]]; ok && j != i {
				visit(j)
			}
		}
		state[i] = done
		out = append(out, e)
	}
	for i := range list {
		visit(i)
	}
	return out
}
