// Package sqlite registers the "sqlite" source backend (modernc.org/sqlite).
package sqlite

import (
	"context"

	_ "modernc.org/sqlite"

	"imdbetl/internal/source"
)

func init() {
	source.Register("sqlite", Open)
}

// Open opens the database file named by cfg.DSN.
func Open(ctx context.Context, cfg source.Config) (source.Conn, error) {
	return source.OpenDB(ctx, cfg.Kind, "sqlite", cfg.DSN)
}
