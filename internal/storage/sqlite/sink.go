// Package sqlite persists tables into a SQLite database file using
// modernc.org/sqlite (no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"imdbetl/internal/sqlrows"
	"imdbetl/internal/storage"
	"imdbetl/internal/table"
)

// maxParams stays under SQLITE_MAX_VARIABLE_NUMBER of older builds.
const maxParams = 999

// Sink implements storage.Sink for SQLite.
//
// SQLite has no native timestamp type. Timestamps are stored as RFC3339Nano
// TEXT in a column declared TIMESTAMP and parsed back on read.
type Sink struct {
	db  *sql.DB
	cfg storage.Config
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, storage.Wrap(cfg.DSN, "open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storage.Wrap(cfg.DSN, "open", err)
	}
	return &Sink{db: db, cfg: cfg}, nil
}

func (s *Sink) Close() { _ = s.db.Close() }

// Write drops and recreates the table for id and loads t in one transaction.
func (s *Sink) Write(ctx context.Context, id string, t table.Table) error {
	name := s.cfg.Target(id, id)
	spec, err := storage.InferSpec(name, t)
	if err != nil {
		return storage.Wrap(id, "write", err)
	}
	createSQL, err := buildCreateTableSQL(spec)
	if err != nil {
		return storage.Wrap(id, "write", err)
	}

	cols := make([]string, 0, len(spec.Columns)+1)
	cols = append(cols, sqlIdent(storage.RowIndexColumn))
	for _, c := range spec.Columns {
		cols = append(cols, sqlIdent(c.Name))
	}
	rows := storage.InsertRows(spec, t)
	for _, r := range rows {
		for i, v := range r {
			if ts, ok := v.(time.Time); ok {
				r[i] = formatSQLiteTime(ts)
			}
		}
	}
	stmts, err := storage.InsertChunks(sq.Question, sqlIdent(name), cols, rows, maxParams)
	if err != nil {
		return storage.Wrap(id, "write", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap(id, "write", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlIdent(name)); err != nil {
		return storage.Wrap(id, "write", fmt.Errorf("drop table %s: %w", name, err))
	}
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return storage.Wrap(id, "write", fmt.Errorf("create table %s: %w", name, err))
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.SQL, st.Args...); err != nil {
			return storage.Wrap(id, "write", fmt.Errorf("insert %s: %w", name, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return storage.Wrap(id, "write", err)
	}
	return nil
}

// Read returns the table for id in insertion order without the row index.
func (s *Sink) Read(ctx context.Context, id string) (table.Table, error) {
	name := s.cfg.Target(id, id)
	q, err := storage.SelectOrdered(sqlIdent(name), []string{"*"}, sqlIdent(storage.RowIndexColumn))
	if err != nil {
		return table.Table{}, storage.Wrap(id, "read", err)
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return table.Table{}, storage.Wrap(id, "read", err)
	}
	defer rows.Close()

	t, err := sqlrows.ScanWith(rows, coerce)
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

func coerce(dbType string, v any) (any, error) {
	if dbType == "TIMESTAMP" {
		switch t := v.(type) {
		case string:
			return parseSQLiteTime(t)
		case []byte:
			return parseSQLiteTime(string(t))
		}
	}
	return sqlrows.Coerce(dbType, v)
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqliteType(logical string) string {
	switch logical {
	case storage.TypeBigint:
		return "INTEGER"
	case storage.TypeDouble:
		return "REAL"
	case storage.TypeBoolean:
		return "BOOLEAN"
	case storage.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	var parts []string
	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY`, sqlIdent(t.PrimaryKey.Name)))
	}
	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), sqliteType(c.Type))
		if !c.Nullable {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("table %s: no columns", t.Name)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", sqlIdent(t.Name), strings.Join(parts, ", ")), nil
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseSQLiteTime parses timestamps returned by SQLite into time.Time.
//
// Supported formats:
//   - RFC3339Nano (what we write)
//   - RFC3339
//   - "2006-01-02 15:04:05Z07:00" and its fractional form
//   - "2006-01-02 15:04:05" (interpreted as UTC)
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}

var _ storage.Sink = (*Sink)(nil)
