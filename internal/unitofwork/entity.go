package unitofwork

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

// LoadState is the initialization state of an entity. Entities returned by
// Find and entities created with New are Initialized; placeholders created
// for association targets start Uninitialized.
type LoadState int

// Load states, in the only order an entity moves through them.
const (
	Uninitialized LoadState = iota
	Initializing
	Initialized
)

func (s LoadState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	default:
		return fmt.Sprintf("LoadState(%d)", int(s))
	}
}

// lifecycle is the persistence status of an entity within its session.
type lifecycle int

const (
	lifecycleNew       lifecycle = iota // created with New, not persisted
	lifecycleScheduled                  // persisted, insert pending
	lifecycleManaged                    // backed by a stored row
	lifecycleRemoved                    // delete pending
	lifecycleDeleted                    // row deleted by a flush
)

// initCall is the in-flight record shared by concurrent initialization
// triggers.
type initCall struct {
	done chan struct{}
	err  error
}

// Entity is one persistent object in a session. The same *Entity serves as
// the placeholder before initialization and as the loaded entity after it.
type Entity struct {
	sess  *Session
	epoch uuid.UUID
	meta  *types.EntityMeta
	id    types.Identity
	hasID bool
	life  lifecycle

	mu       sync.Mutex
	load     LoadState
	inflight *initCall

	values map[string]any
	refs   map[string]*Entity
	colls  map[string][]*Entity
}

func newEntity(s *Session, meta *types.EntityMeta, state LoadState) *Entity {
	return &Entity{
		sess:   s,
		epoch:  s.epoch,
		meta:   meta,
		load:   state,
		values: make(map[string]any, len(meta.Fields)),
		refs:   make(map[string]*Entity),
		colls:  make(map[string][]*Entity),
	}
}

// Type returns the entity type name.
func (e *Entity) Type() string {
	return e.meta.Name
}

// Meta returns the mapping of the entity type.
func (e *Entity) Meta() *types.EntityMeta {
	return e.meta
}

// ID returns the identifier without triggering initialization. It is nil for
// a new entity whose identifier has not been assigned yet.
func (e *Entity) ID() any {
	if e.hasID {
		return e.id.ID
	}
	return e.values[e.meta.ID]
}

// Identity returns the entity identity. The zero Identity is returned until
// an identifier is assigned.
func (e *Entity) Identity() types.Identity {
	return e.id
}

// LoadState reports the initialization state.
func (e *Entity) LoadState() LoadState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load
}

// IsInitialized reports whether the entity's own data has been loaded.
func (e *Entity) IsInitialized() bool {
	return e.LoadState() == Initialized
}

// String renders the entity as its identity.
func (e *Entity) String() string {
	if !e.hasID {
		return e.meta.Name + "#new"
	}
	return e.id.String()
}

// Get returns a scalar field value. Reading the identifier field does not
// initialize a placeholder; every other field does.
func (e *Entity) Get(ctx context.Context, field string) (any, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	if field == e.meta.ID {
		return e.ID(), nil
	}
	if _, ok := e.meta.Field(field); !ok {
		return nil, e.unknownField(field)
	}
	if err := e.Initialize(ctx); err != nil {
		return nil, err
	}
	return e.values[field], nil
}

// Set assigns a scalar field. The identifier can only be assigned while the
// entity is new.
func (e *Entity) Set(ctx context.Context, field string, value any) error {
	if err := e.usable(); err != nil {
		return err
	}
	f, ok := e.meta.Field(field)
	if !ok {
		return e.unknownField(field)
	}
	if field == e.meta.ID {
		return e.setID(value)
	}
	v, err := types.Coerce(f.Kind, value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", e.meta.Name, field, err)
	}
	if e.life == lifecycleDeleted {
		return fmt.Errorf("%w: %s was deleted", types.ErrNotManaged, e)
	}
	if err := e.Initialize(ctx); err != nil {
		return err
	}
	e.values[field] = v
	return nil
}

// Ref returns the entity held in a single-valued association slot. The
// returned entity may be an uninitialized placeholder; Ref never initializes
// it.
func (e *Entity) Ref(ctx context.Context, field string) (*Entity, error) {
	return e.sess.resolver.Read(ctx, e, field)
}

// SetRef replaces a single-valued association slot.
func (e *Entity) SetRef(ctx context.Context, field string, target *Entity) error {
	return e.sess.resolver.Write(ctx, e, field, target)
}

// Collection returns the entities of a collection-valued association.
func (e *Entity) Collection(ctx context.Context, field string) ([]*Entity, error) {
	return e.sess.resolver.Collection(ctx, e, field)
}

func (e *Entity) setID(value any) error {
	if e.life != lifecycleNew {
		return fmt.Errorf("%w: %s", types.ErrIdentifierChanged, e)
	}
	id, err := types.NormalizeID(value)
	if err != nil {
		return err
	}
	v, err := types.Coerce(e.meta.IDField().Kind, id)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", e.meta.Name, e.meta.ID, err)
	}
	e.values[e.meta.ID] = v
	return nil
}

// assignIdentity fixes the identity from the identifier value.
func (e *Entity) assignIdentity(id any) error {
	ident, err := types.NewIdentity(e.meta.Name, id)
	if err != nil {
		return err
	}
	e.id = ident
	e.hasID = true
	e.values[e.meta.ID] = ident.ID
	return nil
}

// usable rejects references that outlived their session scope.
func (e *Entity) usable() error {
	if e.sess.isClosed() {
		return types.ErrSessionClosed
	}
	if e.epoch != e.sess.currentEpoch() {
		return fmt.Errorf("%w: %s", types.ErrStaleSession, e)
	}
	return nil
}

func (e *Entity) unknownField(field string) error {
	if _, ok := e.meta.Association(field); ok {
		return fmt.Errorf("%w: %s.%s is an association", types.ErrTypeMismatch, e.meta.Name, field)
	}
	return fmt.Errorf("%w: %s.%s", types.ErrUnknownField, e.meta.Name, field)
}

// row renders the entity's stored columns for an insert.
func (e *Entity) row() (types.Row, error) {
	row := make(types.Row, len(e.meta.Fields)+len(e.meta.Associations))
	for _, f := range e.meta.Fields {
		row[f.Column] = e.values[f.Name]
	}
	for i := range e.meta.Associations {
		a := &e.meta.Associations[i]
		if !a.IsOwningSide() {
			continue
		}
		ref, err := persistedRef(e, a, e.refs[a.Name])
		if err != nil {
			return nil, err
		}
		if ref == nil {
			row[a.JoinColumn] = nil
		} else {
			row[a.JoinColumn] = ref.ID
		}
	}
	return row, nil
}
