// Package memory implements types.Storage on in-process maps. It backs the
// "memory" backend and the unit-of-work tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

type table struct {
	rows  map[any]types.Row
	order []any
}

// Store is a concurrency-safe in-memory row store keyed by table name.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

// New returns an empty store.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

// CreateSchema creates empty tables. Tables are also created on first
// insert, so calling it is optional.
func (s *Store) CreateSchema(_ context.Context, metas ...*types.EntityMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range metas {
		s.table(m.Table)
	}
	return nil
}

// Load returns a copy of the row with the given identifier.
func (s *Store) Load(_ context.Context, meta *types.EntityMeta, id any) (types.Row, error) {
	key, err := types.NormalizeID(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[meta.Table]
	if !ok {
		return nil, types.ErrNotFound
	}
	row, ok := t.rows[key]
	if !ok {
		return nil, types.ErrNotFound
	}
	return row.Clone(), nil
}

// LoadBy returns copies of the rows whose column equals value, in insertion
// order.
func (s *Store) LoadBy(_ context.Context, meta *types.EntityMeta, column string, value any) ([]types.Row, error) {
	want := normalize(value)
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[meta.Table]
	if !ok {
		return nil, nil
	}
	var out []types.Row
	for _, key := range t.order {
		row := t.rows[key]
		if v, ok := row[column]; ok && v != nil && normalize(v) == want {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

// Insert stores a copy of row. Returns ErrDuplicateRow if the identifier is
// taken.
func (s *Store) Insert(_ context.Context, meta *types.EntityMeta, row types.Row) error {
	key, err := types.NormalizeID(row[meta.IDColumn()])
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(meta.Table)
	if _, exists := t.rows[key]; exists {
		return fmt.Errorf("%w: %s %v", types.ErrDuplicateRow, meta.Table, key)
	}
	t.rows[key] = row.Clone()
	t.order = append(t.order, key)
	return nil
}

// Update merges changes into the stored row.
func (s *Store) Update(_ context.Context, meta *types.EntityMeta, id any, changes types.Row) error {
	key, err := types.NormalizeID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[meta.Table]
	if !ok {
		return types.ErrNotFound
	}
	row, ok := t.rows[key]
	if !ok {
		return types.ErrNotFound
	}
	for col, v := range changes {
		row[col] = v
	}
	return nil
}

// Delete removes the row.
func (s *Store) Delete(_ context.Context, meta *types.EntityMeta, id any) error {
	key, err := types.NormalizeID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[meta.Table]
	if !ok {
		return types.ErrNotFound
	}
	if _, ok := t.rows[key]; !ok {
		return types.ErrNotFound
	}
	delete(t.rows, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of rows in meta's table.
func (s *Store) Len(meta *types.EntityMeta) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tables[meta.Table]; ok {
		return len(t.rows)
	}
	return 0
}

// table returns the named table, creating it. Callers hold s.mu.
func (s *Store) table(name string) *table {
	t, ok := s.tables[name]
	if !ok {
		t = &table{rows: make(map[any]types.Row)}
		s.tables[name] = t
	}
	return t
}

func normalize(v any) any {
	if n, err := types.NormalizeID(v); err == nil {
		return n
	}
	return v
}
