// Package unitofwork implements the session that loads entities, hands out
// lazy placeholders for associations that have not been loaded, tracks
// association and scalar changes against load-time snapshots, and flushes
// only genuine changes to a types.Storage.
//
// A placeholder is not a separate type: every identity maps to exactly one
// *Entity, whose LoadState starts Uninitialized for placeholders and moves to
// Initialized the first time any accessor other than ID is used.
// Initialization fills the placeholder's own fields. It never writes into an
// association slot of another entity, so a reassignment made before the
// placeholder was touched survives initialization and flush.
//
// A Session is meant to be driven by one goroutine at a time.
package unitofwork
