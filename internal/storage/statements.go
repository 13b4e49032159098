package storage

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Statement is a rendered SQL string plus its bind arguments.
type Statement struct {
	SQL  string
	Args []any
}

// InsertChunks renders multi-row INSERTs of rows into the already quoted
// table and column identifiers. Each statement binds at most maxParams
// arguments.
func InsertChunks(format sq.PlaceholderFormat, into string, columns []string, rows [][]any, maxParams int) ([]Statement, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("insert %s: no columns", into)
	}
	per := maxParams / len(columns)
	if per < 1 {
		return nil, fmt.Errorf("insert %s: %d columns exceed %d bind parameters", into, len(columns), maxParams)
	}

	var out []Statement
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		b := sq.Insert(into).Columns(columns...).PlaceholderFormat(format)
		for _, r := range rows[start:end] {
			if len(r) != len(columns) {
				return nil, fmt.Errorf("insert %s: row %d has %d values, want %d", into, start, len(r), len(columns))
			}
			b = b.Values(r...)
		}
		sql, args, err := b.ToSql()
		if err != nil {
			return nil, fmt.Errorf("insert %s: build: %w", into, err)
		}
		out = append(out, Statement{SQL: sql, Args: args})
	}
	return out, nil
}

// SelectOrdered renders SELECT columns FROM from ORDER BY orderBy. All
// identifiers must be quoted by the caller.
func SelectOrdered(from string, columns []string, orderBy string) (string, error) {
	sql, _, err := sq.Select(columns...).From(from).OrderBy(orderBy).ToSql()
	if err != nil {
		return "", fmt.Errorf("select %s: build: %w", from, err)
	}
	return sql, nil
}
