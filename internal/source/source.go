// Package source runs the extraction queries against the relational
// database and materializes each result set as a table.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"imdbetl/internal/sqlrows"
	"imdbetl/internal/table"
)

// Config selects a backend and its connection string. DSN is used as given;
// environment expansion is the caller's job.
type Config struct {
	Kind string
	DSN  string
}

// Conn is one connection to the source database.
type Conn interface {
	// Query runs a parameterless query and returns the full result set with
	// columns in the order the query yields them.
	Query(ctx context.Context, query string) (table.Table, error)
	Close() error
}

// Factory opens a Conn. Failures must be *ConnectionError.
type Factory func(ctx context.Context, cfg Config) (Conn, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under kind. Call it from an init function in
// the backend package.
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("source: Register called with empty kind")
	}
	if f == nil {
		panic("source: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("source: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds returns the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open connects using the registered backend for cfg.Kind.
func Open(ctx context.Context, cfg Config) (Conn, error) {
	if cfg.Kind == "" {
		return nil, &ConnectionError{Kind: cfg.Kind, Err: errors.New("missing source kind")}
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, &ConnectionError{
			Kind: cfg.Kind,
			Err:  fmt.Errorf("unsupported source.kind=%s (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", ")),
		}
	}
	return f(ctx, cfg)
}

// WithConn opens a connection for cfg, passes it to fn and closes it on every
// exit path.
func WithConn(ctx context.Context, cfg Config, fn func(Conn) error) error {
	return Scoped(ctx, func(ctx context.Context) (Conn, error) { return Open(ctx, cfg) }, fn)
}

// Scoped is WithConn for an arbitrary opener. A Close failure is reported
// only when fn succeeded.
func Scoped(ctx context.Context, open func(context.Context) (Conn, error), fn func(Conn) error) (err error) {
	c, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close source connection: %w", cerr)
		}
	}()
	return fn(c)
}

// ReadQuery loads query text from path. The text is trimmed and otherwise
// passed through untouched. A missing or blank file is a *QueryError.
func ReadQuery(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", &QueryError{Query: path, Err: err}
	}
	q := strings.TrimSpace(string(raw))
	if q == "" {
		return "", &QueryError{Query: path, Err: errors.New("query file is empty")}
	}
	return q, nil
}

// ScanTable reads a database/sql result into a table. Failures are
// *QueryError.
func ScanTable(query string, rows *sql.Rows) (table.Table, error) {
	t, err := sqlrows.Scan(rows)
	if err != nil {
		return table.Table{}, &QueryError{Query: query, Err: err}
	}
	return t, nil
}

// ConnectionError reports that the source could not be reached.
type ConnectionError struct {
	Kind string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("source %s: connect: %v", e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError reports a query that could not be run or read. Query is the
// query text, or the file it should have come from.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("source query %q: %v", abbreviate(e.Query, 80), e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func abbreviate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
