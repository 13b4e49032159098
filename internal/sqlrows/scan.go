// Package sqlrows decodes database/sql result sets into table.Table values.
//
// Drivers disagree on what they hand back: MySQL's text protocol returns
// []byte for every column, SQL Server returns []byte for DECIMAL, SQLite
// returns int64 for BOOLEAN. Coerce uses the column's database type name to
// bring them all to the cell types table.Value produces.
package sqlrows

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"imdbetl/internal/table"
)

// CoerceFunc converts one driver value given its database type name.
type CoerceFunc func(dbType string, v any) (any, error)

// Scan reads every row of rows into a table using Coerce. It does not close
// rows.
func Scan(rows *sql.Rows) (table.Table, error) {
	return ScanWith(rows, Coerce)
}

// ScanWith is Scan with a backend-specific conversion.
func ScanWith(rows *sql.Rows, coerce CoerceFunc) (table.Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return table.Table{}, fmt.Errorf("columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return table.Table{}, fmt.Errorf("column types: %w", err)
	}
	dbTypes := make([]string, len(types))
	for i, ct := range types {
		dbTypes[i] = strings.ToUpper(ct.DatabaseTypeName())
	}

	out := table.New("", cols...)
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return table.Table{}, fmt.Errorf("scan row %d: %w", out.Len(), err)
		}
		row := make([]any, len(cols))
		for i, v := range dest {
			c, err := coerce(dbTypes[i], v)
			if err != nil {
				return table.Table{}, fmt.Errorf("row %d column %s: %w", out.Len(), cols[i], err)
			}
			row[i] = c
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return table.Table{}, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// Coerce converts a driver value of the given database type name.
func Coerce(dbType string, v any) (any, error) {
	v = table.Value(v)
	if v == nil {
		return nil, nil
	}
	switch classify(dbType) {
	case classInt:
		switch t := v.(type) {
		case int64:
			return t, nil
		case float64:
			return int64(t), nil
		case bool:
			if t {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s value %q: %w", dbType, t, err)
			}
			return n, nil
		}
	case classFloat:
		switch t := v.(type) {
		case float64:
			return t, nil
		case int64:
			return float64(t), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, fmt.Errorf("%s value %q: %w", dbType, t, err)
			}
			return f, nil
		}
	case classBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(t))
			if err != nil {
				return nil, fmt.Errorf("%s value %q: %w", dbType, t, err)
			}
			return b, nil
		}
	}
	return v, nil
}

type class uint8

const (
	classOther class = iota
	classInt
	classFloat
	classBool
)

func classify(dbType string) class {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	t = strings.TrimPrefix(t, "UNSIGNED ")
	switch t {
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "MEDIUMINT",
		"INT2", "INT4", "INT8", "YEAR", "SERIAL", "BIGSERIAL":
		return classInt
	case "DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL", "FLOAT4", "FLOAT8",
		"DOUBLE PRECISION", "MONEY", "SMALLMONEY":
		return classFloat
	case "BOOL", "BOOLEAN", "BIT":
		return classBool
	}
	return classOther
}
