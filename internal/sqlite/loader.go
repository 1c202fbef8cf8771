package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

// loadAllJSONL reads the JSONL file of every table into SQLite inside one
// transaction: either every file loads or the database stays empty.
// Malformed lines, records that do not fit the column kinds, and duplicate
// identifiers are skipped. Unknown keys in a record are ignored. The caller
// holds b.mu.
func (b *Backend) loadAllJSONL() error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	for _, meta := range b.mapping.Entities() {
		t, ok := b.tables[meta.Name]
		if !ok {
			continue
		}
		rows, err := readRows(t.jsonlPath())
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		if err := t.insertRows(tx, rows); err != nil {
			return fmt.Errorf("loading %s: %w", t.jsonlPath(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}

// insertRows inserts decoded JSONL rows into the table. Only mapped columns
// are read, so rows written by a newer mapping still load.
func (t *Table) insertRows(tx *sql.Tx, rows []types.Row) error {
	names := make([]string, len(t.cols))
	marks := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = quoteIdent(c.name)
		marks[i] = "?"
	}
	stmt, err := tx.Prepare(fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		quoteIdent(t.meta.Table), strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("preparing insert for %s: %w", t.meta.Table, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		var err error
		args := make([]any, len(t.cols))
		ok := true
		for i, c := range t.cols {
			if args[i], err = t.arg(c.name, row[c.name]); err != nil {
				ok = false
				break
			}
		}
		if !ok || args[t.idIndex()] == nil {
			continue
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("inserting into %s: %w", t.meta.Table, err)
		}
	}
	return nil
}

func (t *Table) idIndex() int {
	for i, c := range t.cols {
		if c.primary {
			return i
		}
	}
	return 0
}
