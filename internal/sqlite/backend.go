// Package sqlite implements types.Storage on SQLite, with one JSONL file per
// table in the data directory as the source of truth. On Attach the JSONL
// files are loaded into a fresh database; writes go to SQLite and are
// persisted back to JSONL either immediately or when the backend detaches.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

// dbFile is the database file created in the data directory on every Attach.
const dbFile = "stowage.db"

// Backend is the SQLite storage backend.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	mapping  types.Metadata
	db       *sql.DB
	tables   map[string]*Table // keyed by entity name

	syncStrategy  string
	pendingWrites []pendingWrite
	pendingMu     sync.Mutex
}

// pendingWrite is a JSONL rewrite deferred by the on_close strategy.
type pendingWrite struct {
	tableName string
	persist   func() error
}

// NewBackend creates a detached backend for the entities in mapping.
func NewBackend(mapping types.Metadata) *Backend {
	return &Backend{
		mapping: mapping,
		tables:  make(map[string]*Table),
	}
}

// Attach opens a fresh database in config.DataDir, creates a table for every
// mapped entity, and loads the JSONL files. Returns ErrAlreadyAttached if the
// backend is attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// The database is rebuilt from JSONL on every attach.
	dbPath := filepath.Join(dataDir, dbFile)
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	b.db = db
	b.config = config
	b.config.DataDir = dataDir
	b.syncStrategy = config.GetSyncStrategy()
	b.pendingWrites = nil

	for _, meta := range b.mapping.Entities() {
		if err := b.createTableLocked(meta); err != nil {
			return multierr.Append(err, b.closeLocked())
		}
	}
	if err := b.loadAllJSONL(); err != nil {
		return multierr.Append(fmt.Errorf("load JSONL: %w", err), b.closeLocked())
	}

	b.attached = true
	return nil
}

// Detach persists pending writes and closes the database. Detach is
// idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	err := b.flushPendingWrites()
	b.attached = false
	err = multierr.Append(err, b.closeLocked())
	b.tables = make(map[string]*Table)
	return err
}

// Close is Detach, so a Backend can be used as an io.Closer.
func (b *Backend) Close() error {
	return b.Detach()
}

// DataDir returns the directory holding the JSONL files.
func (b *Backend) DataDir() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.DataDir
}

func (b *Backend) closeLocked() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// table returns the accessor for meta. The caller holds b.mu.
func (b *Backend) table(meta *types.EntityMeta) (*Table, error) {
	if !b.attached {
		return nil, types.ErrDetached
	}
	t, ok := b.tables[meta.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no table", types.ErrUnknownEntity, meta.Name)
	}
	return t, nil
}

// persist rewrites the JSONL file of t now or queues it, depending on the
// sync strategy. The caller holds b.mu.
func (b *Backend) persist(t *Table) error {
	if b.syncStrategy == types.SyncImmediate {
		return t.persistJSONL()
	}
	b.queueWrite(t.meta.Table, t.persistJSONL)
	return nil
}

// queueWrite records a deferred rewrite; one per table is enough because a
// rewrite always writes the whole table.
func (b *Backend) queueWrite(tableName string, persist func() error) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	for _, pw := range b.pendingWrites {
		if pw.tableName == tableName {
			return
		}
	}
	b.pendingWrites = append(b.pendingWrites, pendingWrite{tableName: tableName, persist: persist})
}

// flushPendingWrites runs every queued rewrite. Failures are collected so
// one bad file does not keep the others from being written.
func (b *Backend) flushPendingWrites() error {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()

	var err error
	for _, pw := range b.pendingWrites {
		if perr := pw.persist(); perr != nil {
			err = multierr.Append(err, fmt.Errorf("flush %s: %w", pw.tableName, perr))
		}
	}
	b.pendingWrites = nil
	return err
}
