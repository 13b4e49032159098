package table

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
)

// Head returns the first n rows of t (all rows if n exceeds Len).
func Head(t Table, n int) Table {
	if n < 0 {
		n = 0
	}
	if n > t.Len() {
		n = t.Len()
	}
	out := Table{Name: t.Name, Columns: append([]string(nil), t.Columns...)}
	out.Rows = t.Rows[:n:n]
	return out
}

// Render writes t as an aligned text grid with a leading row-position
// column, the way a dataframe preview prints.
//
// Widths are measured in terminal cells so wide runes in titles and names
// do not break alignment.
func Render(w io.Writer, t Table) error {
	header := append([]string{""}, t.Columns...)
	cells := make([][]string, 0, t.Len())
	for i, r := range t.Rows {
		line := make([]string, len(header))
		line[0] = strconv.Itoa(i)
		for j := range t.Columns {
			if j < len(r) {
				line[j+1] = renderCell(r[j])
			}
		}
		cells = append(cells, line)
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, line := range cells {
		for i, c := range line {
			if cw := runewidth.StringWidth(c); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	writeLine := func(line []string) error {
		var sb strings.Builder
		for i, c := range line {
			if i > 0 {
				sb.WriteString("  ")
			}
			pad := widths[i] - runewidth.StringWidth(c)
			if i == 0 {
				// Index column is left-aligned; everything else right-aligned.
				sb.WriteString(c)
				sb.WriteString(strings.Repeat(" ", pad))
				continue
			}
			sb.WriteString(strings.Repeat(" ", pad))
			sb.WriteString(c)
		}
		sb.WriteByte('\n')
		_, err := io.WriteString(w, sb.String())
		return err
	}

	if err := writeLine(header); err != nil {
		return err
	}
	for _, line := range cells {
		if err := writeLine(line); err != nil {
			return err
		}
	}
	return nil
}

func renderCell(v any) string {
	if v == nil {
		return "NaN"
	}
	return Canonical(v)
}

// String renders t; errors from the in-memory writer cannot occur.
func (t Table) String() string {
	var sb strings.Builder
	if err := Render(&sb, t); err != nil {
		return fmt.Sprintf("<render error: %v>", err)
	}
	return sb.String()
}
