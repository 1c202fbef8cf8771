package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

// Table reads and writes the rows of one entity type. Each table knows its
// mapping, its columns, and the backend it belongs to for database access
// and JSONL writes.
type Table struct {
	backend *Backend
	meta    *types.EntityMeta
	cols    []column
	kinds   map[string]types.FieldKind
	idCol   string
}

func newTable(b *Backend, meta *types.EntityMeta, cols []column) *Table {
	kinds := make(map[string]types.FieldKind, len(cols))
	for _, c := range cols {
		kinds[c.name] = c.kind
	}
	return &Table{backend: b, meta: meta, cols: cols, kinds: kinds, idCol: meta.IDColumn()}
}

// Load returns the row with the given identifier.
// Returns ErrNotFound if no row exists.
func (b *Backend) Load(ctx context.Context, meta *types.EntityMeta, id any) (types.Row, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, err := b.table(meta)
	if err != nil {
		return nil, err
	}
	rows, err := t.query(ctx, t.idCol, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, types.ErrNotFound
	}
	return rows[0], nil
}

// LoadBy returns the rows whose column equals value, in insertion order.
func (b *Backend) LoadBy(ctx context.Context, meta *types.EntityMeta, column string, value any) ([]types.Row, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, err := b.table(meta)
	if err != nil {
		return nil, err
	}
	if _, ok := t.kinds[column]; !ok {
		return nil, fmt.Errorf("%w: %s.%s", types.ErrUnknownField, meta.Table, column)
	}
	return t.query(ctx, column, value)
}

// Insert writes a new row. Returns ErrDuplicateRow if the identifier exists.
func (b *Backend) Insert(ctx context.Context, meta *types.EntityMeta, row types.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.table(meta)
	if err != nil {
		return err
	}

	id, err := t.arg(t.idCol, row[t.idCol])
	if err != nil {
		return err
	}
	if exists, err := t.exists(ctx, id); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: %s %v", types.ErrDuplicateRow, meta.Table, id)
	}

	names := make([]string, len(t.cols))
	marks := make([]string, len(t.cols))
	args := make([]any, len(t.cols))
	for i, c := range t.cols {
		names[i] = quoteIdent(c.name)
		marks[i] = "?"
		if args[i], err = t.arg(c.name, row[c.name]); err != nil {
			return err
		}
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(meta.Table), strings.Join(names, ", "), strings.Join(marks, ", "))
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting into %s: %w", meta.Table, err)
	}
	return b.persist(t)
}

// Update writes the changed columns of an existing row.
// Returns ErrNotFound if no row exists.
func (b *Backend) Update(ctx context.Context, meta *types.EntityMeta, id any, changes types.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.table(meta)
	if err != nil {
		return err
	}

	cols := make([]string, 0, len(changes))
	for col := range changes {
		if _, ok := t.kinds[col]; !ok {
			return fmt.Errorf("%w: %s.%s", types.ErrUnknownField, meta.Table, col)
		}
		if col == t.idCol {
			return fmt.Errorf("%w: %s", types.ErrIdentifierChanged, meta.Table)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	key, err := t.arg(t.idCol, id)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		if exists, err := t.exists(ctx, key); err != nil {
			return err
		} else if !exists {
			return types.ErrNotFound
		}
		return nil
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets[i] = quoteIdent(col) + " = ?"
		v, err := t.arg(col, changes[col])
		if err != nil {
			return err
		}
		args = append(args, v)
	}
	args = append(args, key)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		quoteIdent(meta.Table), strings.Join(sets, ", "), quoteIdent(t.idCol))
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating %s: %w", meta.Table, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return types.ErrNotFound
	}
	return b.persist(t)
}

// Delete removes a row. Returns ErrNotFound if no row exists.
func (b *Backend) Delete(ctx context.Context, meta *types.EntityMeta, id any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.table(meta)
	if err != nil {
		return err
	}
	key, err := t.arg(t.idCol, id)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(meta.Table), quoteIdent(t.idCol))
	res, err := b.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", meta.Table, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return types.ErrNotFound
	}
	return b.persist(t)
}

// arg converts a value for column into the form bound to a statement.
func (t *Table) arg(col string, v any) (any, error) {
	c, err := types.Coerce(t.kinds[col], v)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", t.meta.Table, col, err)
	}
	return types.Storable(c), nil
}

func (t *Table) exists(ctx context.Context, id any) (bool, error) {
	var one int
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?", quoteIdent(t.meta.Table), quoteIdent(t.idCol))
	err := t.backend.db.QueryRowContext(ctx, query, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", t.meta.Table, err)
	}
	return true, nil
}

// query selects every row whose column equals value, or every row when
// column is empty.
func (t *Table) query(ctx context.Context, column string, value any) ([]types.Row, error) {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = quoteIdent(c.name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(names, ", "), quoteIdent(t.meta.Table))
	var args []any
	if column != "" {
		v, err := t.arg(column, value)
		if err != nil {
			return nil, err
		}
		query += fmt.Sprintf(" WHERE %s = ?", quoteIdent(column))
		args = append(args, v)
	}
	query += " ORDER BY rowid"

	rows, err := t.backend.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", t.meta.Table, err)
	}
	defer rows.Close()

	var out []types.Row
	for rows.Next() {
		row, err := t.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *Table) scan(rows *sql.Rows) (types.Row, error) {
	values := make([]any, len(t.cols))
	ptrs := make([]any, len(t.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", t.meta.Table, err)
	}
	row := make(types.Row, len(t.cols))
	for i, c := range t.cols {
		v, err := types.Coerce(c.kind, values[i])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.meta.Table, c.name, err)
		}
		row[c.name] = v
	}
	return row, nil
}

func (t *Table) jsonlPath() string {
	return filepath.Join(t.backend.config.DataDir, t.meta.Table+".jsonl")
}

// persistJSONL rewrites the table's JSONL file from the database.
func (t *Table) persistJSONL() error {
	rows, err := t.query(context.Background(), "", nil)
	if err != nil {
		return fmt.Errorf("reading %s for JSONL: %w", t.meta.Table, err)
	}
	if err := writeRows(t.jsonlPath(), rows); err != nil {
		return fmt.Errorf("writing %s: %w", t.jsonlPath(), err)
	}
	return nil
}
