// Package stowage opens a configured storage backend and hands out
// unit-of-work sessions over it.
//
// A Store owns the backend, the mapping, and the optional second-level cache.
// Sessions are cheap; open one per logical unit of work and close it when
// done.
package stowage

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/stowage/internal/cache"
	"github.com/mesh-intelligence/stowage/internal/mapping"
	"github.com/mesh-intelligence/stowage/internal/memory"
	"github.com/mesh-intelligence/stowage/internal/metrics"
	"github.com/mesh-intelligence/stowage/internal/mongodb"
	"github.com/mesh-intelligence/stowage/internal/postgres"
	"github.com/mesh-intelligence/stowage/internal/unitofwork"
	"github.com/mesh-intelligence/stowage/pkg/sqlite"
	"github.com/mesh-intelligence/stowage/pkg/types"
)

// Version is the stowage release.
const Version = "0.3.0"

// Session, Entity and LoadState are re-exported so callers need not import
// the internal package.
type (
	Session   = unitofwork.Session
	Entity    = unitofwork.Entity
	LoadState = unitofwork.LoadState
)

// Store is an opened backend plus the mapping and cache its sessions share.
type Store struct {
	Config  types.Config
	Mapping types.Metadata

	storage types.Storage
	cache   types.Cache
	closer  io.Closer
	log     *zap.Logger
	metrics *metrics.Recorder
	reg     prometheus.Registerer
}

// Option configures Open.
type Option func(*options)

type options struct {
	log     *zap.Logger
	reg     prometheus.Registerer
	mapping types.Metadata
	storage types.Storage
}

// WithLogger sets the logger passed to every session.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRegisterer registers the store's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithMapping overrides Config.MappingFile and the built-in mapping.
func WithMapping(md types.Metadata) Option {
	return func(o *options) { o.mapping = md }
}

// WithStorage uses an already open storage collaborator instead of the one
// named by Config.Backend. The store does not close it.
func WithStorage(s types.Storage) Option {
	return func(o *options) { o.storage = s }
}

// Open validates cfg, loads the mapping, and opens the configured backend.
func Open(ctx context.Context, cfg types.Config, opts ...Option) (*Store, error) {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	md := o.mapping
	if md == nil {
		var err error
		if md, err = loadMapping(cfg); err != nil {
			return nil, err
		}
	}

	c, err := cache.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	st := &Store{
		Config:  cfg,
		Mapping: md,
		cache:   c,
		log:     o.log,
		reg:     o.reg,
	}
	if o.storage != nil {
		st.storage = o.storage
	} else if err := st.openBackend(ctx); err != nil {
		return nil, err
	}

	// Collectors are registered last so a failed Open leaves reg untouched.
	if st.metrics, err = metrics.NewRecorder(o.reg); err != nil {
		err = fmt.Errorf("register metrics: %w", err)
		if st.closer != nil {
			err = multierr.Append(err, st.closer.Close())
		}
		return nil, err
	}
	o.log.Debug("store opened",
		zap.String("backend", cfg.Backend),
		zap.Int("entities", len(md.Entities())),
		zap.Bool("cache", c != nil))
	return st, nil
}

func loadMapping(cfg types.Config) (types.Metadata, error) {
	if cfg.MappingFile == "" {
		return mapping.Default(), nil
	}
	r, err := mapping.LoadFile(cfg.MappingFile)
	if err != nil {
		return nil, fmt.Errorf("load mapping %s: %w", cfg.MappingFile, err)
	}
	return r, nil
}

func (s *Store) openBackend(ctx context.Context) error {
	metas := s.Mapping.Entities()
	switch s.Config.Backend {
	case types.BackendMemory:
		m := memory.New()
		if err := m.CreateSchema(ctx, metas...); err != nil {
			return err
		}
		s.storage = m
	case types.BackendSQLite:
		b := sqlite.NewBackend(s.Mapping)
		if err := b.Attach(s.Config); err != nil {
			return fmt.Errorf("attach sqlite: %w", err)
		}
		s.storage = b
		s.closer = closerFunc(b.Detach)
	case types.BackendPostgres:
		p, err := postgres.Open(ctx, s.Config.DSN, s.Mapping)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		if err := p.CreateSchema(ctx, metas...); err != nil {
			return multierr.Append(fmt.Errorf("create schema: %w", err), p.Close())
		}
		s.storage = p
		s.closer = p
	case types.BackendMongo:
		m, err := mongodb.Open(ctx, s.Config.DSN, s.Config.Database, s.Mapping)
		if err != nil {
			return fmt.Errorf("open mongo: %w", err)
		}
		if err := m.CreateSchema(ctx, metas...); err != nil {
			return multierr.Append(fmt.Errorf("create indexes: %w", err), m.Close())
		}
		s.storage = m
		s.closer = m
	default:
		return types.ErrBackendUnknown
	}
	return nil
}

// NewSession opens a unit of work over the store. Options given here are
// applied after the store's logger, metrics, and cache.
func (s *Store) NewSession(opts ...unitofwork.Option) *Session {
	base := []unitofwork.Option{
		unitofwork.WithLogger(s.log),
		unitofwork.WithMetrics(s.metrics),
	}
	if s.cache != nil {
		base = append(base, unitofwork.WithCache(s.cache))
	}
	return unitofwork.NewSession(s.storage, s.Mapping, append(base, opts...)...)
}

// Storage returns the backend the store's sessions write to.
func (s *Store) Storage() types.Storage {
	return s.storage
}

// Cache returns the shared second-level cache, or nil when caching is off.
func (s *Store) Cache() types.Cache {
	return s.cache
}

// Close releases the backend and unregisters the store's metrics. Open
// sessions must not be used afterwards.
func (s *Store) Close() error {
	var err error
	if s.closer != nil {
		err = s.closer.Close()
		s.closer = nil
	}
	s.metrics.Unregister(s.reg)
	s.reg = nil
	if s.cache != nil {
		s.cache.Clear()
	}
	return err
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
