package storage

import (
	"fmt"
	"time"

	"imdbetl/internal/table"
)

// RowIndexColumn is the primary key SQL sinks add to keep row order.
const RowIndexColumn = "row_index"

// Logical column types. Backends map them to dialect types.
const (
	TypeBigint    = "bigint"
	TypeDouble    = "double"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamp"
	TypeText      = "text"
)

// TableSpec describes a table a SQL sink creates before loading.
type TableSpec struct {
	Name       string
	PrimaryKey *PrimaryKeySpec
	Columns    []ColumnSpec
}

type PrimaryKeySpec struct {
	Name string
	Type string
}

type ColumnSpec struct {
	Name     string
	Type     string
	Nullable bool
}

// ColumnNames returns the data column names in order.
func (s TableSpec) ColumnNames() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// InferSpec derives a TableSpec from the cells of t. A column takes the
// logical type shared by all its non-nil cells; mixed or all-nil columns are
// text. A column named like RowIndexColumn is rejected.
func InferSpec(name string, t table.Table) (TableSpec, error) {
	spec := TableSpec{
		Name:       name,
		PrimaryKey: &PrimaryKeySpec{Name: RowIndexColumn, Type: TypeBigint},
		Columns:    make([]ColumnSpec, len(t.Columns)),
	}
	for i, c := range t.Columns {
		if c == RowIndexColumn {
			return TableSpec{}, fmt.Errorf("table %s: column name %q is reserved", name, c)
		}
		typ, nullable := columnType(t, i)
		spec.Columns[i] = ColumnSpec{Name: c, Type: typ, Nullable: nullable}
	}
	return spec, nil
}

func columnType(t table.Table, col int) (typ string, nullable bool) {
	for _, r := range t.Rows {
		v := table.Value(r[col])
		if v == nil {
			nullable = true
			continue
		}
		k := logicalType(v)
		switch {
		case typ == "":
			typ = k
		case typ == k:
		case (typ == TypeBigint && k == TypeDouble) || (typ == TypeDouble && k == TypeBigint):
			typ = TypeDouble
		default:
			typ = TypeText
		}
	}
	if typ == "" {
		return TypeText, true
	}
	return typ, nullable
}

func logicalType(v any) string {
	switch v.(type) {
	case int64:
		return TypeBigint
	case float64:
		return TypeDouble
	case bool:
		return TypeBoolean
	case time.Time:
		return TypeTimestamp
	default:
		return TypeText
	}
}

// InsertRows prefixes every row of t with its position, matching the column
// list RowIndexColumn + t.Columns. Cells of text columns holding non-string
// values are rendered canonically so a mixed column loads as text.
func InsertRows(spec TableSpec, t table.Table) [][]any {
	out := make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		row := make([]any, 0, len(r)+1)
		row = append(row, int64(i))
		for j, v := range r {
			v = table.Value(v)
			if v != nil && spec.Columns[j].Type == TypeText {
				if _, ok := v.(string); !ok {
					v = table.Canonical(v)
				}
			}
			if v != nil && spec.Columns[j].Type == TypeDouble {
				if n, ok := v.(int64); ok {
					v = float64(n)
				}
			}
			row = append(row, v)
		}
		out[i] = row
	}
	return out
}
