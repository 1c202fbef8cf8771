package types

import "context"

// Row is one stored record keyed by column name.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Storage is the persistence collaborator used by the unit of work. It knows
// nothing about identity maps or placeholders; it reads and writes rows.
type Storage interface {
	// Load returns the row with the given identifier.
	// Returns ErrNotFound if no row exists.
	Load(ctx context.Context, meta *EntityMeta, id any) (Row, error)

	// LoadBy returns every row whose column equals value. An empty result is
	// not an error.
	LoadBy(ctx context.Context, meta *EntityMeta, column string, value any) ([]Row, error)

	// Insert writes a new row. The row contains every column of meta.
	Insert(ctx context.Context, meta *EntityMeta, row Row) error

	// Update writes the changed columns of an existing row.
	// Returns ErrNotFound if no row exists.
	Update(ctx context.Context, meta *EntityMeta, id any, changes Row) error

	// Delete removes a row. Returns ErrNotFound if no row exists.
	Delete(ctx context.Context, meta *EntityMeta, id any) error
}

// SchemaCreator is implemented by backends that need tables or collections
// created before use.
type SchemaCreator interface {
	CreateSchema(ctx context.Context, metas ...*EntityMeta) error
}

// Cache is the optional second-level cache consulted before Storage.Load.
// Rows handed to and returned from a cache are copies.
type Cache interface {
	Get(id Identity) (Row, bool)
	Put(id Identity, row Row)
	Evict(id Identity)
	Clear()
}

// Attachable is a Storage whose lifecycle is driven by a Config, such as the
// SQLite backend. Attach opens the backend; Detach releases it and persists
// anything still pending.
type Attachable interface {
	Storage
	SchemaCreator
	Attach(config Config) error
	Detach() error
}
