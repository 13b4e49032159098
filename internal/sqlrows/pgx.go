package sqlrows

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"imdbetl/internal/table"
)

// ScanPgx reads every row of a pgx result into a table. It does not close
// rows.
func ScanPgx(rows pgx.Rows) (table.Table, error) {
	fds := rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}

	out := table.New("", cols...)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return table.Table{}, fmt.Errorf("scan row %d: %w", out.Len(), err)
		}
		row := make([]any, len(vals))
		for i, v := range vals {
			c, err := PgValue(v)
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

// PgValue converts a value from pgx.Rows.Values to a table cell. NUMERIC
// becomes float64.
func PgValue(v any) (any, error) {
	switch t := v.(type) {
	case pgtype.Numeric:
		if !t.Valid {
			return nil, nil
		}
		f, err := t.Float64Value()
		if err != nil {
			return nil, fmt.Errorf("numeric: %w", err)
		}
		if !f.Valid {
			return nil, nil
		}
		return f.Float64, nil
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16]), nil
	}
	return table.Value(v), nil
}
