package source

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"imdbetl/internal/table"
)

// DB is a Conn over database/sql, shared by the mysql, sqlite and sqlserver
// backends.
type DB struct {
	kind string
	db   *sql.DB
}

// OpenDB opens driverName and pings it. Failures are *ConnectionError.
func OpenDB(ctx context.Context, kind, driverName, dsn string) (*DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, &ConnectionError{Kind: kind, Err: err}
	}
	return pingDB(ctx, kind, db)
}

// OpenConnector is OpenDB for drivers configured through a driver.Connector.
func OpenConnector(ctx context.Context, kind string, c driver.Connector) (*DB, error) {
	return pingDB(ctx, kind, sql.OpenDB(c))
}

func pingDB(ctx context.Context, kind string, db *sql.DB) (*DB, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &ConnectionError{Kind: kind, Err: err}
	}
	return &DB{kind: kind, db: db}, nil
}

// Query implements Conn.
func (d *DB) Query(ctx context.Context, query string) (table.Table, error) {
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return table.Table{}, &QueryError{Query: query, Err: err}
	}
	defer rows.Close()
	return ScanTable(query, rows)
}

// Close implements Conn.
func (d *DB) Close() error { return d.db.Close() }

var _ Conn = (*DB)(nil)
