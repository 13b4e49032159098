// Package mssql persists tables into Microsoft SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/microsoft/go-mssqldb"

	"imdbetl/internal/sqlrows"
	"imdbetl/internal/storage"
	"imdbetl/internal/table"
)

// SQL Server rejects statements with more than 2100 parameters.
const maxParams = 2000

// Sink implements storage.Sink for SQL Server. Table names may be schema
// qualified ("dbo.joined_table").
type Sink struct {
	db  dbConn
	cfg storage.Config
}

func init() {
	storage.Register("mssql", New)
}

// New opens the "sqlserver" driver and validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, storage.Wrap("mssql", "open", err)
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, storage.Wrap("mssql", "open", err)
	}
	return &Sink{db: &sqlDB{db: raw}, cfg: cfg}, nil
}

// Close releases database resources held by this sink.
func (s *Sink) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// Write drops and recreates the table for id and loads t in one transaction.
func (s *Sink) Write(ctx context.Context, id string, t table.Table) error {
	name := s.cfg.Target(id, id)
	stmts, err := buildWriteStatements(name, t)
	if err != nil {
		return storage.Wrap(id, "write", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap(id, "write", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.SQL, st.Args...); err != nil {
			return storage.Wrap(id, "write", fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return storage.Wrap(id, "write", err)
	}
	return nil
}

// buildWriteStatements returns the drop, create and insert statements that
// replace table name with t.
func buildWriteStatements(name string, t table.Table) ([]storage.Statement, error) {
	spec, err := storage.InferSpec(name, t)
	if err != nil {
		return nil, err
	}
	defs, err := buildCreateTableDefs(spec)
	if err != nil {
		return nil, err
	}

	out := []storage.Statement{
		{SQL: fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;", escapeLiteral(name), mssqlTableIdent(name))},
		{SQL: fmt.Sprintf("CREATE TABLE %s (%s);", mssqlTableIdent(name), defs)},
	}

	cols := make([]string, 0, len(spec.Columns)+1)
	cols = append(cols, mssqlIdent(storage.RowIndexColumn))
	for _, c := range spec.Columns {
		cols = append(cols, mssqlIdent(c.Name))
	}
	inserts, err := storage.InsertChunks(sq.AtP, mssqlTableIdent(name), cols, storage.InsertRows(spec, t), maxParams)
	if err != nil {
		return nil, err
	}
	return append(out, inserts...), nil
}

// Read returns the table for id in insertion order without the row index.
func (s *Sink) Read(ctx context.Context, id string) (table.Table, error) {
	name := s.cfg.Target(id, id)
	q, err := storage.SelectOrdered(mssqlTableIdent(name), []string{"*"}, mssqlIdent(storage.RowIndexColumn))
	if err != nil {
		return table.Table{}, storage.Wrap(id, "read", err)
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return table.Table{}, storage.Wrap(id, "read", err)
	}
	defer rows.Close()

	t, err := sqlrows.Scan(rows)
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

func buildCreateTableDefs(t storage.TableSpec) (string, error) {
	var parts []string
	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf("%s BIGINT NOT NULL PRIMARY KEY", mssqlIdent(t.PrimaryKey.Name)))
	}
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return "", fmt.Errorf("mssql: column name is empty")
		}
		def := mssqlIdent(c.Name) + " " + mssqlType(c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		parts = append(parts, def)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("mssql: table %s has no columns", t.Name)
	}
	return strings.Join(parts, ", "), nil
}

func mssqlType(logical string) string {
	switch logical {
	case storage.TypeBigint:
		return "BIGINT"
	case storage.TypeDouble:
		return "FLOAT"
	case storage.TypeBoolean:
		return "BIT"
	case storage.TypeTimestamp:
		return "DATETIMEOFFSET"
	default:
		return "NVARCHAR(MAX)"
	}
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.imports" -> [dbo].[imports]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx used for testability.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var (
	_ dbConn       = (*sqlDB)(nil)
	_ txConn       = (*sql.Tx)(nil)
	_ storage.Sink = (*Sink)(nil)
)
