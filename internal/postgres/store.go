// Package postgres implements types.Storage on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

// Store is the PostgreSQL storage backend.
type Store struct {
	pool    *pgxpool.Pool
	mapping types.Metadata
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, mapping types.Metadata) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, mapping: mapping}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// pgType maps a field kind onto a column type.
func pgType(kind types.FieldKind) string {
	switch kind {
	case types.KindInteger:
		return "BIGINT"
	case types.KindReal:
		return "DOUBLE PRECISION"
	case types.KindBoolean:
		return "BOOLEAN"
	case types.KindTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// CreateSchema creates a table per entity, with an index on every join
// column. Existing tables are left alone.
func (s *Store) CreateSchema(ctx context.Context, metas ...*types.EntityMeta) error {
	for _, meta := range metas {
		kinds := types.ColumnKinds(s.mapping, meta)
		var defs []string
		for _, f := range meta.Fields {
			def := ident(f.Column) + " " + pgType(f.Kind)
			if f.Name == meta.ID {
				def += " PRIMARY KEY"
			} else if !f.Nullable {
				def += " NOT NULL"
			}
			defs = append(defs, def)
		}
		var indexes []string
		for _, a := range meta.Associations {
			if !a.IsOwningSide() {
				continue
			}
			defs = append(defs, ident(a.JoinColumn)+" "+pgType(kinds[a.JoinColumn]))
			indexes = append(indexes, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				ident("idx_"+meta.Table+"_"+a.JoinColumn), ident(meta.Table), ident(a.JoinColumn)))
		}
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", ident(meta.Table), strings.Join(defs, ", "))
		for _, q := range append([]string{stmt}, indexes...) {
			if _, err := s.pool.Exec(ctx, q); err != nil {
				return fmt.Errorf("creating %s: %w", meta.Table, err)
			}
		}
	}
	return nil
}

// Load returns the row with the given identifier.
func (s *Store) Load(ctx context.Context, meta *types.EntityMeta, id any) (types.Row, error) {
	rows, err := s.find(ctx, meta, meta.IDColumn(), id, true)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, types.ErrNotFound
	}
	return rows[0], nil
}

// LoadBy returns the rows whose column equals value, ordered by identifier.
func (s *Store) LoadBy(ctx context.Context, meta *types.EntityMeta, column string, value any) ([]types.Row, error) {
	return s.find(ctx, meta, column, value, false)
}

// Insert writes a new row. Returns ErrDuplicateRow if the identifier exists.
func (s *Store) Insert(ctx context.Context, meta *types.EntityMeta, row types.Row) error {
	kinds := types.ColumnKinds(s.mapping, meta)
	cols := meta.Columns()
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		v, err := coerce(kinds, meta, col, row[col])
		if err != nil {
			return err
		}
		names[i] = ident(col)
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = v
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		ident(meta.Table), strings.Join(names, ", "), strings.Join(marks, ", "))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("inserting into %s: %w", meta.Table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %v", types.ErrDuplicateRow, meta.Table, row[meta.IDColumn()])
	}
	return nil
}

// Update writes the changed columns of an existing row.
func (s *Store) Update(ctx context.Context, meta *types.EntityMeta, id any, changes types.Row) error {
	kinds := types.ColumnKinds(s.mapping, meta)
	cols := make([]string, 0, len(changes))
	for col := range changes {
		if col == meta.IDColumn() {
			return fmt.Errorf("%w: %s", types.ErrIdentifierChanged, meta.Table)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	if len(cols) == 0 {
		_, err := s.Load(ctx, meta, id)
		return err
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		v, err := coerce(kinds, meta, col, changes[col])
		if err != nil {
			return err
		}
		args = append(args, v)
		sets[i] = fmt.Sprintf("%s = $%d", ident(col), len(args))
	}
	key, err := coerce(kinds, meta, meta.IDColumn(), id)
	if err != nil {
		return err
	}
	args = append(args, key)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		ident(meta.Table), strings.Join(sets, ", "), ident(meta.IDColumn()), len(args))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating %s: %w", meta.Table, err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

// Delete removes a row.
func (s *Store) Delete(ctx context.Context, meta *types.EntityMeta, id any) error {
	key, err := coerce(types.ColumnKinds(s.mapping, meta), meta, meta.IDColumn(), id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = $1", ident(meta.Table), ident(meta.IDColumn())), key)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", meta.Table, err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *Store) find(ctx context.Context, meta *types.EntityMeta, column string, value any, single bool) ([]types.Row, error) {
	kinds := types.ColumnKinds(s.mapping, meta)
	arg, err := coerce(kinds, meta, column, value)
	if err != nil {
		return nil, err
	}

	cols := meta.Columns()
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = ident(col)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY %s",
		strings.Join(names, ", "), ident(meta.Table), ident(column), ident(meta.IDColumn()))
	if single {
		query += " LIMIT 1"
	}

	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", meta.Table, err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (types.Row, error) {
		values, err := r.Values()
		if err != nil {
			return nil, err
		}
		row := make(types.Row, len(cols))
		for i, col := range cols {
			v, err := types.Coerce(kinds[col], values[i])
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", meta.Table, col, err)
			}
			row[col] = v
		}
		return row, nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", meta.Table, err)
	}
	return out, nil
}

func coerce(kinds map[string]types.FieldKind, meta *types.EntityMeta, col string, v any) (any, error) {
	kind, ok := kinds[col]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", types.ErrUnknownField, meta.Table, col)
	}
	c, err := types.Coerce(kind, v)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", meta.Table, col, err)
	}
	return c, nil
}

// ident quotes a table or column name for use in SQL text.
func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
