package unitofwork

import (
	"fmt"
	"sync"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

// IdentityMap holds the single live instance for each identity in a session.
// Entries keep registration order so flushes and listings are deterministic.
type IdentityMap struct {
	mu      sync.RWMutex
	entries map[types.Identity]*Entity
	order   []types.Identity
}

// NewIdentityMap returns an empty map.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{entries: make(map[types.Identity]*Entity)}
}

// Get returns the instance registered for id, placeholder or loaded.
func (m *IdentityMap) Get(id types.Identity) (*Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e, ok
}

// Register adds e under its identity.
// Returns ErrDuplicateIdentity if another instance is already registered.
func (m *IdentityMap) Register(e *Entity) error {
	id := e.Identity()
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[id]; ok {
		if existing == e {
			return nil
		}
		return fmt.Errorf("%w: %s", types.ErrDuplicateIdentity, id)
	}
	m.entries[id] = e
	m.order = append(m.order, id)
	return nil
}

// Remove drops the entry for id if present.
func (m *IdentityMap) Remove(id types.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return
	}
	delete(m.entries, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Clear releases every entry.
func (m *IdentityMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[types.Identity]*Entity)
	m.order = nil
}

// Len returns the number of registered instances.
func (m *IdentityMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Entities returns the registered instances in registration order.
func (m *IdentityMap) Entities() []*Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entity, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id])
	}
	return out
}
