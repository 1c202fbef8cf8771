package unitofwork

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

// Initialize loads the entity's own data if it is still a placeholder.
//
// It is a no-op once the entity is Initialized. A trigger arriving while
// another is in flight waits for that fetch and returns its result instead of
// issuing a second one. A failed fetch returns the entity to Uninitialized so
// a later call can retry. A missing row yields ErrEntityNotFound.
func (e *Entity) Initialize(ctx context.Context) error {
	if err := e.usable(); err != nil {
		return err
	}

	e.mu.Lock()
	switch e.load {
	case Initialized:
		e.mu.Unlock()
		return nil
	case Initializing:
		call := e.inflight
		e.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &initCall{done: make(chan struct{})}
	e.load = Initializing
	e.inflight = call
	e.mu.Unlock()

	err := e.sess.initialize(ctx, e)

	e.mu.Lock()
	if err != nil {
		e.load = Uninitialized
	} else {
		e.load = Initialized
	}
	e.inflight = nil
	e.mu.Unlock()

	call.err = err
	close(call.done)
	return err
}

// createPlaceholder registers an uninitialized entity for id.
func (s *Session) createPlaceholder(meta *types.EntityMeta, id types.Identity) (*Entity, error) {
	e := newEntity(s, meta, Uninitialized)
	e.life = lifecycleManaged
	if err := e.assignIdentity(id.ID); err != nil {
		return nil, err
	}
	if err := s.identities.Register(e); err != nil {
		return nil, err
	}
	s.metrics.PlaceholderCreated(meta.Name)
	s.log.Debug("placeholder created", zap.Stringer("identity", id))
	return e, nil
}

// initialize fetches and hydrates a placeholder's own fields, then takes its
// change snapshot. Other entities' association slots are never written.
func (s *Session) initialize(ctx context.Context, e *Entity) error {
	row, source, err := s.fetch(ctx, e.meta, e.id)
	if err != nil {
		s.metrics.Initialized(e.meta.Name, err)
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%w: %s", types.ErrEntityNotFound, e.id)
		}
		return fmt.Errorf("initializing %s: %w", e.id, err)
	}
	if err := s.hydrate(ctx, e, row); err != nil {
		s.metrics.Initialized(e.meta.Name, err)
		return fmt.Errorf("initializing %s: %w", e.id, err)
	}
	s.tracker.Snapshot(e)
	s.metrics.Initialized(e.meta.Name, nil)
	s.log.Debug("placeholder initialized",
		zap.Stringer("identity", e.id),
		zap.String("source", source))
	return nil
}
