package unitofwork

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

// hydrate fills e from a stored row: scalar fields, owning association slots
// (as identity-map hits or new placeholders), and derived inverse slots.
func (s *Session) hydrate(ctx context.Context, e *Entity, row types.Row) error {
	for _, f := range e.meta.Fields {
		if f.Name == e.meta.ID {
			continue
		}
		v, err := types.Coerce(f.Kind, row[f.Column])
		if err != nil {
			return fmt.Errorf("%s.%s: %w", e.meta.Name, f.Name, err)
		}
		e.values[f.Name] = v
	}

	for i := range e.meta.Associations {
		a := &e.meta.Associations[i]
		if a.IsOwningSide() {
			ref, err := s.resolveReference(a, row[a.JoinColumn])
			if err != nil {
				return fmt.Errorf("%s.%s: %w", e.meta.Name, a.Name, err)
			}
			e.refs[a.Name] = ref
			continue
		}

		owners, err := s.inverseOwners(ctx, e, a)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", e.meta.Name, a.Name, err)
		}
		if a.IsCollection() {
			e.colls[a.Name] = owners
		} else if len(owners) > 0 {
			e.refs[a.Name] = owners[0]
		} else {
			e.refs[a.Name] = nil
		}
	}
	return nil
}

// resolveReference maps a join column value onto the identity map, creating
// a placeholder for identities not seen yet in this session.
func (s *Session) resolveReference(a *types.AssociationMeta, raw any) (*Entity, error) {
	if raw == nil {
		return nil, nil
	}
	target, err := s.metadata.Entity(a.Target)
	if err != nil {
		return nil, err
	}
	id, err := types.NewIdentity(target.Name, raw)
	if err != nil {
		return nil, err
	}
	if existing, ok := s.identities.Get(id); ok {
		return existing, nil
	}
	return s.createPlaceholder(target, id)
}

// inverseOwners derives the entities whose owning association currently
// points at e. Stored rows are filtered through the live owning slot of any
// owner already in the session, so an unflushed reassignment away from e
// hides the stored row and an unflushed reassignment to e is included. The
// owners themselves are only read.
func (s *Session) inverseOwners(ctx context.Context, e *Entity, a *types.AssociationMeta) ([]*Entity, error) {
	ownerMeta, err := s.metadata.Entity(a.Target)
	if err != nil {
		return nil, err
	}
	owning, ok := ownerMeta.Association(a.MappedBy)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", types.ErrInvalidMapping, ownerMeta.Name, a.MappedBy)
	}

	rows, err := s.storage.LoadBy(ctx, ownerMeta, owning.JoinColumn, e.id.ID)
	if err != nil {
		return nil, err
	}

	var owners []*Entity
	seen := make(map[*Entity]bool)
	for _, row := range rows {
		id, err := types.NewIdentity(ownerMeta.Name, row[ownerMeta.IDColumn()])
		if err != nil {
			return nil, err
		}
		owner, ok := s.identities.Get(id)
		if ok {
			if !owner.pointsAt(owning.Name, e) {
				continue
			}
		} else {
			owner, err = s.createPlaceholder(ownerMeta, id)
			if err != nil {
				return nil, err
			}
		}
		if !seen[owner] {
			seen[owner] = true
			owners = append(owners, owner)
		}
	}

	for _, owner := range s.identities.Entities() {
		if owner.meta.Name != ownerMeta.Name || seen[owner] {
			continue
		}
		if owner.LoadState() == Initialized && owner.live() && owner.refs[owning.Name] == e {
			seen[owner] = true
			owners = append(owners, owner)
		}
	}
	return owners, nil
}

// pointsAt reports whether the owning slot field of o refers to target. An
// owner that has not been initialized cannot have been reassigned, so its
// stored row is authoritative.
func (o *Entity) pointsAt(field string, target *Entity) bool {
	if !o.live() {
		return false
	}
	if o.LoadState() != Initialized {
		return true
	}
	return o.refs[field] == target
}

// live reports whether the entity is stored or about to be.
func (o *Entity) live() bool {
	return o.life == lifecycleManaged || o.life == lifecycleScheduled
}
