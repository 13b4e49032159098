// Package transformer holds the row-wise transforms applied between extraction
// and persistence.
package transformer

import (
	"fmt"
	"strings"

	"imdbetl/internal/table"
)

// SwapRegnal moves a parenthesized regnal number that sits right after the
// first name token behind the following token:
//
//	"John (II) Smith"  -> "John Smith (II)"
//	"Jane (III) Doe X" -> "Jane Doe (III) X"
//
// Only tokens 1 and 2 are considered; a marker further right is left where it
// is. Tokens are split on single spaces, so repeated spaces produce empty
// tokens that take part in the positions. Strings with fewer than three
// tokens are returned unchanged.
//
// The swap is not an involution: applying it to its own output moves
// whatever now sits at index 1 if that starts with "(".
func SwapRegnal(name string) string {
	tokens := strings.Split(name, " ")
	if len(tokens) < 3 || !strings.HasPrefix(tokens[1], "(") {
		return name
	}
	tokens[1], tokens[2] = tokens[2], tokens[1]
	return strings.Join(tokens, " ")
}

// DataError reports a cell that cannot be normalized.
//
// Row is the 0-based row position, or -1 when the problem is the column itself.
type DataError struct {
	Table  string
	Column string
	Row    int
	Reason string
}

func (e *DataError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("data: table %s column %s: %s", e.Table, e.Column, e.Reason)
	}
	return fmt.Sprintf("data: table %s column %s row %d: %s", e.Table, e.Column, e.Row, e.Reason)
}

// NormalizeColumn returns a copy of t with SwapRegnal applied to every cell of
// column. Names must be non-empty strings; nil, empty and non-string cells are
// rejected before any swap is attempted.
func NormalizeColumn(t table.Table, column string) (table.Table, error) {
	if t.Index(column) < 0 {
		return table.Table{}, &DataError{Table: t.Name, Column: column, Row: -1, Reason: "column not found"}
	}
	return t.Map(column, func(row int, v any) (any, error) {
		switch s := table.Value(v).(type) {
		case nil:
			return nil, &DataError{Table: t.Name, Column: column, Row: row, Reason: "name is null"}
		case string:
			if s == "" {
				return nil, &DataError{Table: t.Name, Column: column, Row: row, Reason: "name is empty"}
			}
			return SwapRegnal(s), nil
		default:
			return nil, &DataError{Table: t.Name, Column: column, Row: row, Reason: fmt.Sprintf("name has type %T, want string", v)}
		}
	})
}
