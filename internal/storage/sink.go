// Package storage defines the tabular sink the pipeline persists to and the
// registry backends add themselves to.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"imdbetl/internal/config"
	"imdbetl/internal/table"
)

// Config is the minimal configuration needed to create a Sink.
//
// Kind must match a registered backend. DSN is passed through to the backend
// factory; it is a directory for csv and a connection string otherwise.
// Tables maps logical ids (movie, director, joined) to file paths or table
// names; ids missing from Tables use the backend default.
type Config struct {
	Kind    string
	DSN     string
	Tables  map[string]string
	Options config.Options
}

// Target returns the configured location for id, or def when none is set.
func (c Config) Target(id, def string) string {
	if t := strings.TrimSpace(c.Tables[id]); t != "" {
		return t
	}
	return def
}

// Sink persists whole tables under a logical id and reads them back.
//
// Write fully replaces whatever the id held before. Read returns the persisted
// form, which may differ in cell types from what was written (a CSV reload
// has no type information) but not in columns, row order or values.
type Sink interface {
	Write(ctx context.Context, id string, t table.Table) error
	Read(ctx context.Context, id string) (table.Table, error)

	// Close releases backend resources. Call once.
	Close()
}

// Factory builds a Sink from cfg.
type Factory func(ctx context.Context, cfg Config) (Sink, error)

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
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Sink using the registered backend factory.
func New(ctx context.Context, cfg Config) (Sink, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing sink kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
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

// PersistenceError wraps every sink failure. Op is "open", "write", "read"
// or "verify".
type PersistenceError struct {
	Table string
	Op    string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Wrap returns err as a *PersistenceError unless it already is one or is nil.
func Wrap(id, op string, err error) error {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*PersistenceError); ok {
		return pe
	}
	return &PersistenceError{Table: id, Op: op, Err: err}
}
