// Mapping metadata consumed by the unit of work: per entity type, its table,
// identifier, scalar fields and associations with their ownership direction.
package types

// FieldKind is the storage kind of a scalar field.
type FieldKind string

// Scalar field kinds.
const (
	KindInteger   FieldKind = "integer"
	KindText      FieldKind = "text"
	KindReal      FieldKind = "real"
	KindBoolean   FieldKind = "boolean"
	KindTimestamp FieldKind = "timestamp"
)

// validFieldKinds is the set of recognized scalar kinds.
var validFieldKinds = map[FieldKind]bool{
	KindInteger:   true,
	KindText:      true,
	KindReal:      true,
	KindBoolean:   true,
	KindTimestamp: true,
}

// ValidFieldKind reports whether k is a recognized scalar kind.
func ValidFieldKind(k FieldKind) bool {
	return validFieldKinds[k]
}

// AssociationKind is the cardinality of an association.
type AssociationKind string

// Association kinds.
const (
	OneToOne  AssociationKind = "one_to_one"
	ManyToOne AssociationKind = "many_to_one"
	OneToMany AssociationKind = "one_to_many"
)

// IDGenerator selects how identifiers are assigned on persist.
type IDGenerator string

// Identifier generators. GeneratorNone requires application-assigned ids.
const (
	GeneratorNone IDGenerator = ""
	GeneratorUUID IDGenerator = "uuid"
)

// FieldMeta describes one scalar field.
type FieldMeta struct {
	Name     string
	Column   string
	Kind     FieldKind
	Nullable bool
}

// AssociationMeta describes one association field.
//
// The owning side carries JoinColumn and is the only side whose value is
// tracked and written. The inverse side names the owning association on the
// target type in MappedBy and is derived on load.
type AssociationMeta struct {
	Name       string
	Kind       AssociationKind
	Target     string
	JoinColumn string
	MappedBy   string
	InversedBy string
}

// IsOwningSide reports whether this association is persisted through a join
// column on the declaring entity's table.
func (a *AssociationMeta) IsOwningSide() bool {
	return a.JoinColumn != ""
}

// IsCollection reports whether the association slot holds many entities.
func (a *AssociationMeta) IsCollection() bool {
	return a.Kind == OneToMany
}

// EntityMeta is the mapping of one entity type.
type EntityMeta struct {
	Name         string
	Table        string
	ID           string
	Generator    IDGenerator
	Fields       []FieldMeta
	Associations []AssociationMeta
}

// Field returns the scalar field with the given name.
func (m *EntityMeta) Field(name string) (*FieldMeta, bool) {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i], true
		}
	}
	return nil, false
}

// Association returns the association with the given name.
func (m *EntityMeta) Association(name string) (*AssociationMeta, bool) {
	for i := range m.Associations {
		if m.Associations[i].Name == name {
			return &m.Associations[i], true
		}
	}
	return nil, false
}

// IDField returns the identifier field. Mapping validation guarantees it
// exists.
func (m *EntityMeta) IDField() *FieldMeta {
	f, _ := m.Field(m.ID)
	return f
}

// IDColumn returns the column holding the identifier.
func (m *EntityMeta) IDColumn() string {
	if f := m.IDField(); f != nil {
		return f.Column
	}
	return m.ID
}

// Columns lists every persisted column: scalar columns in declaration order
// followed by owning-side join columns.
func (m *EntityMeta) Columns() []string {
	cols := make([]string, 0, len(m.Fields)+len(m.Associations))
	for _, f := range m.Fields {
		cols = append(cols, f.Column)
	}
	for _, a := range m.Associations {
		if a.IsOwningSide() {
			cols = append(cols, a.JoinColumn)
		}
	}
	return cols
}

// Metadata supplies entity mappings by name.
type Metadata interface {
	// Entity returns the mapping for name or ErrUnknownEntity.
	Entity(name string) (*EntityMeta, error)

	// Entities returns every mapping in declaration order.
	Entities() []*EntityMeta
}

// ColumnKinds maps every persisted column of m to its kind. A join column
// takes the kind of its target's identifier, or text when the target is not
// in md.
func ColumnKinds(md Metadata, m *EntityMeta) map[string]FieldKind {
	kinds := make(map[string]FieldKind, len(m.Fields)+len(m.Associations))
	for _, f := range m.Fields {
		kinds[f.Column] = f.Kind
	}
	for _, a := range m.Associations {
		if !a.IsOwningSide() {
			continue
		}
		kinds[a.JoinColumn] = KindText
		if md == nil {
			continue
		}
		if target, err := md.Entity(a.Target); err == nil {
			kinds[a.JoinColumn] = target.IDField().Kind
		}
	}
	return kinds
}
