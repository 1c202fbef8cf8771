// Package sqlite provides the public API for the SQLite storage backend.
// This package exposes the factory function for creating SQLite backends
// while keeping implementation details internal.
package sqlite

import (
	"github.com/mesh-intelligence/stowage/internal/sqlite"
	"github.com/mesh-intelligence/stowage/pkg/types"
)

// NewBackend creates a new SQLite backend for the entities in mapping.
// The backend is not attached; call Attach with a Config to initialize.
//
// Example:
//
//	backend := sqlite.NewBackend(mapping.Default())
//	err := backend.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".stowage-db",
//	})
//	defer backend.Detach()
func NewBackend(mapping types.Metadata) types.Attachable {
	return sqlite.NewBackend(mapping)
}
