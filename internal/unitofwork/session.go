package unitofwork

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/stowage/internal/metrics"
	"github.com/mesh-intelligence/stowage/pkg/types"
)

// State is the lifecycle state of a session.
type State int

// Session states.
const (
	StateActive State = iota
	StateFlushing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateFlushing:
		return "flushing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is a unit of work: one identity map, one set of change snapshots,
// and the inserts and deletes scheduled since the last flush.
type Session struct {
	storage  types.Storage
	metadata types.Metadata
	cache    types.Cache
	log      *zap.Logger
	metrics  *metrics.Recorder

	mu    sync.Mutex
	state State
	epoch uuid.UUID

	identities *IdentityMap
	tracker    *Tracker
	resolver   *Resolver

	inserts []*Entity
	deletes []*Entity
}

// Option configures a Session.
type Option func(*Session)

// WithCache enables the second-level cache. A cache hit is treated exactly
// like a storage hit.
func WithCache(c types.Cache) Option {
	return func(s *Session) { s.cache = c }
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records session activity on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Session) { s.metrics = r }
}

// NewSession opens an active session over storage and metadata.
func NewSession(storage types.Storage, metadata types.Metadata, opts ...Option) *Session {
	s := &Session{
		storage:    storage,
		metadata:   metadata,
		log:        zap.NewNop(),
		epoch:      newEpoch(),
		identities: NewIdentityMap(),
		tracker:    NewTracker(),
	}
	s.resolver = &Resolver{sess: s}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newEpoch() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Epoch returns the tag shared by every entity handed out since the last
// Clear.
func (s *Session) Epoch() uuid.UUID {
	return s.currentEpoch()
}

// Resolver returns the association resolver bound to this session.
func (s *Session) Resolver() *Resolver {
	return s.resolver
}

// Tracker returns the change tracker bound to this session.
func (s *Session) Tracker() *Tracker {
	return s.tracker
}

// Find returns the entity for (entityType, id). An identity already in the
// session is returned as is, including an uninitialized placeholder.
// Otherwise the row is loaded (second-level cache first), hydrated,
// registered and snapshotted. Returns ErrEntityNotFound if no row exists.
func (s *Session) Find(ctx context.Context, entityType string, id any) (*Entity, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	meta, err := s.metadata.Entity(entityType)
	if err != nil {
		return nil, err
	}
	ident, err := s.identityFor(meta, id)
	if err != nil {
		return nil, err
	}

	if e, ok := s.identities.Get(ident); ok {
		if !e.live() {
			return nil, fmt.Errorf("%w: %s is scheduled for removal", types.ErrEntityNotFound, ident)
		}
		s.log.Debug("find", zap.Stringer("identity", ident), zap.String("source", "identity_map"),
			zap.Stringer("state", e.LoadState()))
		return e, nil
	}

	row, source, err := s.fetch(ctx, meta, ident)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrEntityNotFound, ident)
		}
		return nil, fmt.Errorf("loading %s: %w", ident, err)
	}

	// The entity is registered before hydration so that references back to
	// it from the row's associations resolve to this instance.
	e := newEntity(s, meta, Initializing)
	e.life = lifecycleManaged
	call := &initCall{done: make(chan struct{})}
	e.inflight = call
	if err := e.assignIdentity(ident.ID); err != nil {
		return nil, err
	}
	if err := s.identities.Register(e); err != nil {
		return nil, err
	}
	err = s.hydrate(ctx, e, row)

	e.mu.Lock()
	e.inflight = nil
	if err != nil {
		e.load = Uninitialized
	} else {
		e.load = Initialized
	}
	e.mu.Unlock()
	call.err = err
	close(call.done)

	if err != nil {
		s.identities.Remove(ident)
		return nil, fmt.Errorf("loading %s: %w", ident, err)
	}
	s.tracker.Snapshot(e)

	s.log.Debug("find", zap.Stringer("identity", ident), zap.String("source", source))
	return e, nil
}

// NewEntity creates a transient entity of entityType. It joins the session
// when passed to Persist.
func (s *Session) NewEntity(entityType string) (*Entity, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	meta, err := s.metadata.Entity(entityType)
	if err != nil {
		return nil, err
	}
	return newEntity(s, meta, Initialized), nil
}

// Persist schedules a new entity for insert at the next flush and registers
// it in the identity map. The identifier must be set unless the mapping
// generates one. Persisting a managed entity is a no-op; persisting an entity
// scheduled for removal cancels the removal.
func (s *Session) Persist(ctx context.Context, e *Entity) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.owns(e); err != nil {
		return err
	}
	switch e.life {
	case lifecycleManaged, lifecycleScheduled:
		return nil
	case lifecycleRemoved:
		e.life = lifecycleManaged
		s.deletes = without(s.deletes, e)
		return nil
	case lifecycleDeleted:
		return fmt.Errorf("%w: %s was deleted", types.ErrNotManaged, e)
	}

	id := e.values[e.meta.ID]
	if id == nil {
		if e.meta.Generator != types.GeneratorUUID {
			return fmt.Errorf("%w: %s has no identifier", types.ErrInvalidID, e.meta.Name)
		}
		id = newUUID()
	}
	ident, err := s.identityFor(e.meta, id)
	if err != nil {
		return err
	}
	if _, taken := s.identities.Get(ident); taken {
		return fmt.Errorf("%w: %s", types.ErrDuplicateIdentity, ident)
	}
	if err := e.assignIdentity(ident.ID); err != nil {
		return err
	}
	if err := s.identities.Register(e); err != nil {
		return err
	}
	e.life = lifecycleScheduled
	s.inserts = append(s.inserts, e)
	s.log.Debug("persist", zap.Stringer("identity", ident))
	return nil
}

// Remove schedules a managed entity for delete at the next flush. Removing an
// entity whose insert is still pending cancels the insert.
func (s *Session) Remove(ctx context.Context, e *Entity) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.owns(e); err != nil {
		return err
	}
	switch e.life {
	case lifecycleScheduled:
		s.inserts = without(s.inserts, e)
		s.identities.Remove(e.id)
		e.life = lifecycleNew
		e.hasID = false
		e.id = types.Identity{}
	case lifecycleManaged:
		e.life = lifecycleRemoved
		s.deletes = append(s.deletes, e)
		s.log.Debug("remove", zap.Stringer("identity", e.id))
	}
	return nil
}

// Contains reports whether e is live in the current scope of this session.
func (s *Session) Contains(e *Entity) bool {
	if e == nil || e.sess != s || e.epoch != s.currentEpoch() {
		return false
	}
	return e.live()
}

// Entities returns every instance in the identity map in registration order.
func (s *Session) Entities() []*Entity {
	return s.identities.Entities()
}

// Clear discards the identity map, every snapshot, and pending inserts and
// deletes. References handed out before Clear fail with ErrStaleSession.
// The second-level cache is shared across scopes and is kept.
func (s *Session) Clear() {
	s.mu.Lock()
	s.epoch = newEpoch()
	s.mu.Unlock()

	s.identities.Clear()
	s.tracker.Clear()
	s.inserts = nil
	s.deletes = nil
	s.log.Debug("session cleared")
}

// Close clears the session and makes it unusable. Close is idempotent.
func (s *Session) Close() error {
	if s.isClosed() {
		return nil
	}
	s.Clear()
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	return nil
}

// Stats is a point-in-time summary of a session.
type Stats struct {
	State          string `json:"state"`
	Epoch          string `json:"epoch"`
	Managed        int    `json:"managed"`
	Placeholders   int    `json:"placeholders"`
	Snapshots      int    `json:"snapshots"`
	PendingInserts int    `json:"pending_inserts"`
	PendingDeletes int    `json:"pending_deletes"`
}

// Stats summarizes the session contents.
func (s *Session) Stats() Stats {
	st := Stats{
		State:          s.State().String(),
		Epoch:          s.currentEpoch().String(),
		Snapshots:      s.tracker.Len(),
		PendingInserts: len(s.inserts),
		PendingDeletes: len(s.deletes),
	}
	for _, e := range s.identities.Entities() {
		st.Managed++
		if e.LoadState() != Initialized {
			st.Placeholders++
		}
	}
	return st
}

// fetch reads a row through the second-level cache.
func (s *Session) fetch(ctx context.Context, meta *types.EntityMeta, id types.Identity) (types.Row, string, error) {
	if s.cache != nil {
		if row, ok := s.cache.Get(id); ok {
			s.metrics.Loaded(meta.Name, metrics.SourceCache)
			return row, metrics.SourceCache, nil
		}
	}
	row, err := s.storage.Load(ctx, meta, id.ID)
	if err != nil {
		return nil, "", err
	}
	s.metrics.Loaded(meta.Name, metrics.SourceStorage)
	if s.cache != nil {
		s.cache.Put(id, row)
	}
	return row, metrics.SourceStorage, nil
}

func (s *Session) identityFor(meta *types.EntityMeta, id any) (types.Identity, error) {
	ident, err := types.NewIdentity(meta.Name, id)
	if err != nil {
		return types.Identity{}, err
	}
	if _, err := types.Coerce(meta.IDField().Kind, ident.ID); err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", types.ErrInvalidID, err)
	}
	return ident, nil
}

func (s *Session) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return types.ErrSessionClosed
	case StateFlushing:
		return types.ErrSessionFlushing
	}
	return nil
}

func (s *Session) owns(e *Entity) error {
	if e == nil {
		return fmt.Errorf("%w: nil entity", types.ErrNotManaged)
	}
	if e.sess != s {
		return fmt.Errorf("%w: %s belongs to another session", types.ErrNotManaged, e)
	}
	return e.usable()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosed
}

func (s *Session) currentEpoch() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// newUUID generates a UUID v7 string for generated identifiers.
func newUUID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func without(list []*Entity, e *Entity) []*Entity {
	out := list[:0]
	for _, x := range list {
		if x != e {
			out = append(out, x)
		}
	}
	return out
}
