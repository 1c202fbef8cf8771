// Package types defines the contracts shared by the stowage persistence core
// and its collaborators: entity identities, mapping metadata, the storage and
// second-level cache interfaces, change sets, configuration, and the standard
// error values.
//
// The unit-of-work session lives in internal/unitofwork; storage backends in
// internal/memory, internal/sqlite, internal/postgres and internal/mongodb all
// implement Storage from this package.
package types
