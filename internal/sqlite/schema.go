package sqlite

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

// column describes one stored column of an entity table.
type column struct {
	name     string
	kind     types.FieldKind
	nullable bool
	primary  bool
	join     bool
}

// sqliteType maps a field kind onto a column type. Booleans are stored as
// integers and timestamps as RFC 3339 text.
func sqliteType(kind types.FieldKind) string {
	switch kind {
	case types.KindInteger, types.KindBoolean:
		return "INTEGER"
	case types.KindReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// columnsFor lists the scalar columns of meta followed by its join columns.
// A join column takes the kind of the target's identifier.
func columnsFor(mapping types.Metadata, meta *types.EntityMeta) []column {
	cols := make([]column, 0, len(meta.Fields)+len(meta.Associations))
	for _, f := range meta.Fields {
		cols = append(cols, column{
			name:     f.Column,
			kind:     f.Kind,
			nullable: f.Nullable && f.Name != meta.ID,
			primary:  f.Name == meta.ID,
		})
	}
	for _, a := range meta.Associations {
		if !a.IsOwningSide() {
			continue
		}
		kind := types.KindText
		if target, err := mapping.Entity(a.Target); err == nil {
			kind = target.IDField().Kind
		}
		cols = append(cols, column{name: a.JoinColumn, kind: kind, nullable: true, join: true})
	}
	return cols
}

// createTableSQL renders the DDL for meta. Foreign keys are not declared:
// the unit of work orders inserts itself and placeholders may point at rows
// that do not exist yet.
func createTableSQL(meta *types.EntityMeta, cols []column) []string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		def := quoteIdent(c.name) + " " + sqliteType(c.kind)
		switch {
		case c.primary:
			def += " PRIMARY KEY"
		case !c.nullable:
			def += " NOT NULL"
		}
		defs[i] = def
	}
	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n);",
		quoteIdent(meta.Table), strings.Join(defs, ",\n    "))}
	for _, c := range cols {
		if c.join {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);",
				quoteIdent("idx_"+meta.Table+"_"+c.name), quoteIdent(meta.Table), quoteIdent(c.name)))
		}
	}
	return stmts
}

// createTableLocked creates the SQLite table for meta, makes sure its JSONL
// file exists, and registers the accessor. The caller holds b.mu.
func (b *Backend) createTableLocked(meta *types.EntityMeta) error {
	cols := columnsFor(b.mapping, meta)
	for _, stmt := range createTableSQL(meta, cols) {
		if _, err := b.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating table %s: %w", meta.Table, err)
		}
	}
	t := newTable(b, meta, cols)
	if _, err := os.Stat(t.jsonlPath()); os.IsNotExist(err) {
		if err := writeRows(t.jsonlPath(), nil); err != nil {
			return fmt.Errorf("creating %s: %w", t.jsonlPath(), err)
		}
	}
	b.tables[meta.Name] = t
	return nil
}

// CreateSchema creates tables for entities that are not mapped yet and makes
// sure every JSONL file exists. Tables that already exist are left alone.
func (b *Backend) CreateSchema(_ context.Context, metas ...*types.EntityMeta) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrDetached
	}
	for _, meta := range metas {
		if _, ok := b.tables[meta.Name]; ok {
			continue
		}
		if err := b.createTableLocked(meta); err != nil {
			return err
		}
	}
	return nil
}

// quoteIdent quotes a table or column name.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
