package storage

import (
	"fmt"
	"slices"

	"imdbetl/internal/table"
)

// Verify checks that got is the persisted form of want: same columns in the
// same order, same row count, and every cell equal under table.EqualCells.
// An empty string and nil compare equal, since a delimited file cannot tell
// them apart.
func Verify(want, got table.Table) error {
	if !slices.Equal(want.Columns, got.Columns) {
		return fmt.Errorf("columns differ: wrote %v, read %v", want.Columns, got.Columns)
	}
	if want.Len() != got.Len() {
		return fmt.Errorf("row count differs: wrote %d, read %d", want.Len(), got.Len())
	}
	for i := range want.Rows {
		w, g := want.Rows[i], got.Rows[i]
		if len(w) != len(g) {
			return fmt.Errorf("row %d: wrote %d cells, read %d", i, len(w), len(g))
		}
		for j := range w {
			if !table.EqualCells(blankToNil(w[j]), blankToNil(g[j])) {
				return fmt.Errorf("row %d column %s: wrote %s, read %s",
					i, want.Columns[j], table.Canonical(w[j]), table.Canonical(g[j]))
			}
		}
	}
	return nil
}

func blankToNil(v any) any {
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	return v
}
