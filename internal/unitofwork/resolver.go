package unitofwork

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

// Resolver mediates reads and writes of association slots.
type Resolver struct {
	sess *Session
}

// Read returns the current referent of a single-valued association. A
// placeholder owner is initialized first, because the slot is part of its own
// data; the referent is returned as is and never initialized here.
func (r *Resolver) Read(ctx context.Context, owner *Entity, field string) (*Entity, error) {
	if _, err := r.single(owner, field); err != nil {
		return nil, err
	}
	if err := owner.Initialize(ctx); err != nil {
		return nil, err
	}
	return owner.refs[field], nil
}

// Write replaces a single-valued association slot with target, which may be
// nil. The previous occupant, loaded or not, plays no part: the write wins
// over any later initialization of that occupant.
func (r *Resolver) Write(ctx context.Context, owner *Entity, field string, target *Entity) error {
	a, err := r.single(owner, field)
	if err != nil {
		return err
	}
	if target != nil {
		if err := target.usable(); err != nil {
			return err
		}
		if target.sess != owner.sess {
			return fmt.Errorf("%w: %s belongs to another session", types.ErrStaleSession, target)
		}
		if target.meta.Name != a.Target {
			return fmt.Errorf("%w: %s.%s expects %s, got %s",
				types.ErrTypeMismatch, owner.meta.Name, field, a.Target, target.meta.Name)
		}
	}
	if owner.life == lifecycleDeleted {
		return fmt.Errorf("%w: %s was deleted", types.ErrNotManaged, owner)
	}
	// The owner's own slots are filled by its initialization, so it must be
	// initialized before the write or the write would be overwritten later.
	if err := owner.Initialize(ctx); err != nil {
		return err
	}
	owner.refs[field] = target
	return nil
}

// Collection returns a copy of a collection-valued association slot.
func (r *Resolver) Collection(ctx context.Context, owner *Entity, field string) ([]*Entity, error) {
	if err := owner.usable(); err != nil {
		return nil, err
	}
	a, ok := owner.meta.Association(field)
	if !ok {
		return nil, owner.unknownAssociation(field)
	}
	if !a.IsCollection() {
		return nil, fmt.Errorf("%w: %s.%s", types.ErrNotCollection, owner.meta.Name, field)
	}
	if err := owner.Initialize(ctx); err != nil {
		return nil, err
	}
	items := owner.colls[field]
	out := make([]*Entity, len(items))
	copy(out, items)
	return out, nil
}

func (r *Resolver) single(owner *Entity, field string) (*types.AssociationMeta, error) {
	if err := owner.usable(); err != nil {
		return nil, err
	}
	a, ok := owner.meta.Association(field)
	if !ok {
		return nil, owner.unknownAssociation(field)
	}
	if a.IsCollection() {
		return nil, fmt.Errorf("%w: %s.%s is collection-valued", types.ErrTypeMismatch, owner.meta.Name, field)
	}
	return a, nil
}

func (e *Entity) unknownAssociation(field string) error {
	if _, ok := e.meta.Field(field); ok {
		return fmt.Errorf("%w: %s.%s", types.ErrNotAssociation, e.meta.Name, field)
	}
	return fmt.Errorf("%w: %s.%s", types.ErrUnknownField, e.meta.Name, field)
}
