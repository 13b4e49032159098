// Package postgres registers the "postgres" source backend (pgx pool).
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"imdbetl/internal/source"
	"imdbetl/internal/sqlrows"
	"imdbetl/internal/table"
)

func init() {
	source.Register("postgres", Open)
}

// Querier is the subset of *pgxpool.Pool a Conn needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Conn implements source.Conn over a pgx pool.
type Conn struct {
	db Querier
}

// Open creates a pool for cfg.DSN and pings it.
func Open(ctx context.Context, cfg source.Config) (source.Conn, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, &source.ConnectionError{Kind: cfg.Kind, Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &source.ConnectionError{Kind: cfg.Kind, Err: err}
	}
	return New(pool), nil
}

// New wraps an existing pool or mock.
func New(db Querier) *Conn {
	return &Conn{db: db}
}

// Query implements source.Conn.
func (c *Conn) Query(ctx context.Context, query string) (table.Table, error) {
	rows, err := c.db.Query(ctx, query)
	if err != nil {
		return table.Table{}, &source.QueryError{Query: query, Err: err}
	}
	defer rows.Close()

	t, err := sqlrows.ScanPgx(rows)
	if err != nil {
		return table.Table{}, &source.QueryError{Query: query, Err: err}
	}
	return t, nil
}

// Close implements source.Conn.
func (c *Conn) Close() error {
	c.db.Close()
	return nil
}

var (
	_ Querier     = (*pgxpool.Pool)(nil)
	_ source.Conn = (*Conn)(nil)
)
