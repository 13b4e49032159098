// Package postgres persists tables into PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"imdbetl/internal/sqlrows"
	"imdbetl/internal/storage"
	"imdbetl/internal/table"
)

// Postgres accepts up to 65535 bind parameters per statement.
const maxParams = 65535

// Pool is the subset of *pgxpool.Pool the sink uses.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Sink implements storage.Sink for Postgres. Table names may be schema
// qualified; the schema is created when missing.
type Sink struct {
	pool Pool
	cfg  storage.Config
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pool for cfg.DSN and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, storage.Wrap("postgres", "open", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storage.Wrap("postgres", "open", err)
	}
	return NewWithPool(pool, cfg), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool Pool, cfg storage.Config) *Sink {
	return &Sink{pool: pool, cfg: cfg}
}

// Close closes the connection pool.
func (s *Sink) Close() {
	s.pool.Close()
}

// Write drops and recreates the table for id and loads t in one transaction.
func (s *Sink) Write(ctx context.Context, id string, t table.Table) error {
	name := s.cfg.Target(id, id)
	stmts, err := buildWriteStatements(name, t)
	if err != nil {
		return storage.Wrap(id, "write", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.Wrap(id, "write", err)
	}
	for _, st := range stmts {
		if _, err := tx.Exec(ctx, st.SQL, st.Args...); err != nil {
			_ = tx.Rollback(ctx)
			return storage.Wrap(id, "write", fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.Wrap(id, "write", err)
	}
	return nil
}

func buildWriteStatements(name string, t table.Table) ([]storage.Statement, error) {
	spec, err := storage.InferSpec(name, t)
	if err != nil {
		return nil, err
	}
	schemaSQL, createSQL, err := buildCreateSQL(spec)
	if err != nil {
		return nil, err
	}

	var out []storage.Statement
	if schemaSQL != "" {
		out = append(out, storage.Statement{SQL: schemaSQL})
	}
	out = append(out,
		storage.Statement{SQL: "DROP TABLE IF EXISTS " + pgTableIdent(name)},
		storage.Statement{SQL: createSQL},
	)

	cols := make([]string, 0, len(spec.Columns)+1)
	cols = append(cols, pgIdent(storage.RowIndexColumn))
	for _, c := range spec.Columns {
		cols = append(cols, pgIdent(c.Name))
	}
	inserts, err := storage.InsertChunks(sq.Dollar, pgTableIdent(name), cols, storage.InsertRows(spec, t), maxParams)
	if err != nil {
		return nil, err
	}
	return append(out, inserts...), nil
}

// Read returns the table for id in insertion order without the row index.
func (s *Sink) Read(ctx context.Context, id string) (table.Table, error) {
	name := s.cfg.Target(id, id)
	q, err := storage.SelectOrdered(pgTableIdent(name), []string{"*"}, pgIdent(storage.RowIndexColumn))
	if err != nil {
		return table.Table{}, storage.Wrap(id, "read", err)
	}
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return table.Table{}, storage.Wrap(id, "read", err)
	}
	defer rows.Close()

	t, err := sqlrows.ScanPgx(rows)
	if err != nil {
		return table.Table{}, storage.Wrap(id, "read", err)
	}
	t, err = table.Drop(t, storage.RowIndexColumn)
	if err != nil {
		return table.Table{}, storage.Wrap(id, "read", err)
	}
	t.Name = id
	return t, nil
}

// buildCreateSQL builds the optional CREATE SCHEMA statement for qualified
// names and the CREATE TABLE statement.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, createSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("table name is empty")
	}
	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgIdent(schema))
	}

	defs := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		defs = append(defs, fmt.Sprintf(`%s BIGINT PRIMARY KEY`, pgIdent(t.PrimaryKey.Name)))
	}
	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return "", "", fmt.Errorf("table %s: no columns", t.Name)
	}
	createSQL = fmt.Sprintf(`CREATE TABLE %s (%s)`, pgTableIdent(t.Name), strings.Join(defs, ", "))
	return schemaSQL, createSQL, nil
}

// buildColumnDef renders a single column definition.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("column name must be set")
	}
	def := pgIdent(name) + " " + pgType(c.Type)
	if !c.Nullable {
		def += " NOT NULL"
	}
	return def, nil
}

func pgType(logical string) string {
	switch logical {
	case storage.TypeBigint:
		return "BIGINT"
	case storage.TypeDouble:
		return "DOUBLE PRECISION"
	case storage.TypeBoolean:
		return "BOOLEAN"
	case storage.TypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}

func pgTableIdent(name string) string {
	schema, tbl := splitQualifiedName(name)
	if schema == "" {
		return pgIdent(tbl)
	}
	return pgx.Identifier{schema, tbl}.Sanitize()
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "public.countries" => ("public", "countries")
//   - "countries"        => ("", "countries")
//
// Only a single dot is handled; anything else is treated as unqualified.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

var (
	_ Pool         = (*pgxpool.Pool)(nil)
	_ storage.Sink = (*Sink)(nil)
)
