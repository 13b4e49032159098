// Package table holds the in-memory tabular value passed between the source,
// the transforms and the sinks: named columns plus positional rows.
package table

import (
	"fmt"
	"time"
)

// Table is an immutable-by-convention snapshot of a result set.
//
// Operations in this package never mutate their inputs; they return new
// tables that may share cell values (cells are scalars).
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// New returns an empty table with a copy of columns.
func New(name string, columns ...string) Table {
	return Table{Name: name, Columns: append([]string(nil), columns...)}
}

// Append adds a row. It is meant for building tables, not for editing
// snapshots that other stages already hold.
func (t *Table) Append(row ...any) {
	t.Rows = append(t.Rows, row)
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// Index returns the position of column, or -1.
func (t Table) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// MustIndex is Index that returns an error for unknown columns.
func (t Table) MustIndex(column string) (int, error) {
	i := t.Index(column)
	if i < 0 {
		return -1, fmt.Errorf("table %s: unknown column %q", t.label(), column)
	}
	return i, nil
}

// Clone copies the column list and every row slice.
func (t Table) Clone() Table {
	out := Table{Name: t.Name, Columns: append([]string(nil), t.Columns...)}
	out.Rows = make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		out.Rows[i] = append([]any(nil), r...)
	}
	return out
}

// Map returns a copy of t where column has been rewritten by fn.
// fn receives the row index and the current cell value.
func (t Table) Map(column string, fn func(row int, v any) (any, error)) (Table, error) {
	idx, err := t.MustIndex(column)
	if err != nil {
		return Table{}, err
	}
	out := t.Clone()
	for i, r := range out.Rows {
		if idx >= len(r) {
			return Table{}, fmt.Errorf("table %s: row %d has %d cells, want %d", t.label(), i, len(r), len(t.Columns))
		}
		v, err := fn(i, r[idx])
		if err != nil {
			return Table{}, err
		}
		r[idx] = v
	}
	return out, nil
}

func (t Table) label() string {
	if t.Name == "" {
		return "<unnamed>"
	}
	return t.Name
}

// Value canonicalizes a driver- or parser-produced cell so that tables built
// from different backends hold the same Go types.
//
//   - []byte becomes string
//   - every signed/unsigned integer width becomes int64
//   - float32 becomes float64
//   - time.Time is normalized to UTC
func Value(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}
