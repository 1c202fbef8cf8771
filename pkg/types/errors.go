package types

import "errors"

// Storage errors.
var (
	ErrNotFound     = errors.New("row not found")
	ErrDuplicateRow = errors.New("row already exists")
	ErrInvalidID    = errors.New("invalid entity ID")
)

// Mapping errors.
var (
	ErrUnknownEntity     = errors.New("unknown entity type")
	ErrUnknownField      = errors.New("unknown field")
	ErrNotAssociation    = errors.New("field is not an association")
	ErrNotCollection     = errors.New("association is not collection-valued")
	ErrInvalidMapping    = errors.New("invalid mapping")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrIdentifierChanged = errors.New("identifier cannot change once assigned")
)

// Unit of work errors.
var (
	ErrDuplicateIdentity = errors.New("an instance with this identity is already registered")
	ErrEntityNotFound    = errors.New("entity not found")
	ErrStaleSession      = errors.New("entity reference belongs to a cleared session")
	ErrSessionClosed     = errors.New("session is closed")
	ErrNotManaged        = errors.New("entity is not managed by this session")
	ErrSessionFlushing   = errors.New("session is flushing")
)

// Backend errors.
var (
	ErrAlreadyAttached = errors.New("backend is already attached")
	ErrDetached        = errors.New("backend is detached")
)
