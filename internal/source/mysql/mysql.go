// Package mysql registers the "mysql" source backend (go-sql-driver/mysql).
package mysql

import (
	"context"
	"time"

	"github.com/go-sql-driver/mysql"

	"imdbetl/internal/source"
)

func init() {
	source.Register("mysql", Open)
}

// Open parses cfg.DSN ("user:pass@tcp(host:3306)/imdb") and connects.
//
// parseTime stays as configured in the DSN. Without it DATETIME values
// arrive as text and are kept as strings.
func Open(ctx context.Context, cfg source.Config) (source.Conn, error) {
	mc, err := connectorConfig(cfg.DSN)
	if err != nil {
		return nil, &source.ConnectionError{Kind: cfg.Kind, Err: err}
	}
	conn, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, &source.ConnectionError{Kind: cfg.Kind, Err: err}
	}
	return source.OpenConnector(ctx, cfg.Kind, conn)
}

func connectorConfig(dsn string) (*mysql.Config, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if mc.Timeout == 0 {
		mc.Timeout = 10 * time.Second
	}
	if mc.Loc == nil {
		mc.Loc = time.UTC
	}
	return mc, nil
}
