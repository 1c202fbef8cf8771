// Package mapping builds and validates entity mappings and serves them to the
// unit of work through types.Metadata. Mappings come from Go literals or from
// a YAML mapping file.
package mapping

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

var _ types.Metadata = (*Registry)(nil)

// Registry is an immutable, validated set of entity mappings.
type Registry struct {
	order  []*types.EntityMeta
	byName map[string]*types.EntityMeta
}

// NewRegistry copies metas, fills defaults (table and column names), and
// validates every association pair. The returned registry never changes.
func NewRegistry(metas ...*types.EntityMeta) (*Registry, error) {
	r := &Registry{byName: make(map[string]*types.EntityMeta, len(metas))}
	for _, m := range metas {
		if m == nil || m.Name == "" {
			return nil, fmt.Errorf("%w: entity without a name", types.ErrInvalidMapping)
		}
		if _, dup := r.byName[m.Name]; dup {
			return nil, fmt.Errorf("%w: entity %s declared twice", types.ErrInvalidMapping, m.Name)
		}
		c := withDefaults(m)
		r.order = append(r.order, c)
		r.byName[c.Name] = c
	}
	for _, m := range r.order {
		if err := r.validate(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry is NewRegistry for package-level literals; it panics on an
// invalid mapping.
func MustRegistry(metas ...*types.EntityMeta) *Registry {
	r, err := NewRegistry(metas...)
	if err != nil {
		panic(err)
	}
	return r
}

// Entity returns the mapping for name.
func (r *Registry) Entity(name string) (*types.EntityMeta, error) {
	m, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownEntity, name)
	}
	return m, nil
}

// Entities returns the mappings in declaration order.
func (r *Registry) Entities() []*types.EntityMeta {
	out := make([]*types.EntityMeta, len(r.order))
	copy(out, r.order)
	return out
}

func withDefaults(m *types.EntityMeta) *types.EntityMeta {
	c := *m
	if c.Table == "" {
		c.Table = strings.ToLower(c.Name)
	}
	c.Fields = make([]types.FieldMeta, len(m.Fields))
	copy(c.Fields, m.Fields)
	for i := range c.Fields {
		if c.Fields[i].Column == "" {
			c.Fields[i].Column = c.Fields[i].Name
		}
	}
	c.Associations = make([]types.AssociationMeta, len(m.Associations))
	copy(c.Associations, m.Associations)
	return &c
}

func (r *Registry) validate(m *types.EntityMeta) error {
	names := make(map[string]bool)
	columns := make(map[string]bool)
	for _, f := range m.Fields {
		if f.Name == "" {
			return invalid(m, "field without a name")
		}
		if names[f.Name] {
			return invalid(m, "field %s declared twice", f.Name)
		}
		if columns[f.Column] {
			return invalid(m, "column %s used twice", f.Column)
		}
		if !types.ValidFieldKind(f.Kind) {
			return invalid(m, "field %s has unknown kind %q", f.Name, f.Kind)
		}
		names[f.Name] = true
		columns[f.Column] = true
	}

	id, ok := m.Field(m.ID)
	if !ok {
		return invalid(m, "identifier field %q is not declared", m.ID)
	}
	if id.Kind != types.KindInteger && id.Kind != types.KindText {
		return invalid(m, "identifier %s must be integer or text", id.Name)
	}
	switch m.Generator {
	case types.GeneratorNone:
	case types.GeneratorUUID:
		if id.Kind != types.KindText {
			return invalid(m, "uuid generator needs a text identifier")
		}
	default:
		return invalid(m, "unknown generator %q", m.Generator)
	}

	for i := range m.Associations {
		a := &m.Associations[i]
		if a.Name == "" {
			return invalid(m, "association without a name")
		}
		if names[a.Name] {
			return invalid(m, "association %s clashes with another field", a.Name)
		}
		names[a.Name] = true
		if a.JoinColumn != "" {
			if columns[a.JoinColumn] {
				return invalid(m, "join column %s used twice", a.JoinColumn)
			}
			columns[a.JoinColumn] = true
		}
		if err := r.validateAssociation(m, a); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) validateAssociation(m *types.EntityMeta, a *types.AssociationMeta) error {
	target, ok := r.byName[a.Target]
	if !ok {
		return invalid(m, "association %s targets unknown entity %q", a.Name, a.Target)
	}
	if a.JoinColumn != "" && a.MappedBy != "" {
		return invalid(m, "association %s cannot be both owning and inverse", a.Name)
	}

	switch a.Kind {
	case types.OneToOne:
		if a.JoinColumn == "" && a.MappedBy == "" {
			return invalid(m, "one_to_one %s needs join_column or mapped_by", a.Name)
		}
	case types.ManyToOne:
		if a.JoinColumn == "" {
			return invalid(m, "many_to_one %s needs join_column", a.Name)
		}
	case types.OneToMany:
		if a.MappedBy == "" {
			return invalid(m, "one_to_many %s needs mapped_by", a.Name)
		}
	default:
		return invalid(m, "association %s has unknown kind %q", a.Name, a.Kind)
	}

	if a.MappedBy != "" {
		owning, ok := target.Association(a.MappedBy)
		if !ok || !owning.IsOwningSide() || owning.Target != m.Name {
			return invalid(m, "association %s is mapped by %s.%s, which is not an owning association to %s",
				a.Name, target.Name, a.MappedBy, m.Name)
		}
		if a.Kind == types.OneToMany && owning.Kind != types.ManyToOne {
			return invalid(m, "one_to_many %s must be mapped by a many_to_one", a.Name)
		}
		if a.Kind == types.OneToOne && owning.Kind != types.OneToOne {
			return invalid(m, "one_to_one %s must be mapped by a one_to_one", a.Name)
		}
	}
	if a.InversedBy != "" {
		if a.JoinColumn == "" {
			return invalid(m, "inversed_by on %s requires the owning side", a.Name)
		}
		inverse, ok := target.Association(a.InversedBy)
		if !ok || inverse.MappedBy != a.Name || inverse.Target != m.Name {
			return invalid(m, "association %s is inversed by %s.%s, which does not map it back",
				a.Name, target.Name, a.InversedBy)
		}
	}
	return nil
}

func invalid(m *types.EntityMeta, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", types.ErrInvalidMapping, m.Name, fmt.Sprintf(format, args...))
}
