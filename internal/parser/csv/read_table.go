// Package csv reads delimited files back into table.Table values.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"imdbetl/internal/config"
	"imdbetl/internal/table"
)

// ReadTable reads a header line followed by records from r.
//
// Options:
//
//	comma        field delimiter (default ',')
//	index_col    drop the first column when its header is empty (default true)
//	trim_space   trim cells and headers (default false)
//	lazy_quotes  csv.Reader.LazyQuotes (default false)
//	header_map   map of source header -> column name
//	infer_types  per-column int64/float64/bool inference (default true);
//	             a kind is used only when every cell renders back unchanged
//
// Empty cells become nil. A file with no header is an error; a header with
// no records yields an empty table.
func ReadTable(r io.Reader, opt config.Options) (table.Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = -1

	trim := opt.Bool("trim_space", false)
	hm := opt.StringMap("header_map")

	hdr, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return table.Table{}, fmt.Errorf("read header: empty input")
	}
	if err != nil {
		return table.Table{}, fmt.Errorf("read header: %w", err)
	}

	columns := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if trim {
			h = strings.TrimSpace(h)
		}
		if mapped, ok := hm[h]; ok {
			h = mapped
		}
		columns[i] = h
	}

	skip := 0
	if opt.Bool("index_col", true) && len(columns) > 0 && columns[0] == "" {
		skip = 1
	}
	columns = columns[skip:]
	if err := checkHeader(columns); err != nil {
		return table.Table{}, err
	}

	var raw [][]string
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return table.Table{}, fmt.Errorf("csv read line %d: %w", line, err)
		}
		if len(rec) != len(columns)+skip {
			return table.Table{}, fmt.Errorf("csv read line %d: got %d fields, want %d", line, len(rec), len(columns)+skip)
		}
		row := rec[skip:]
		if trim {
			for i := range row {
				row[i] = strings.TrimSpace(row[i])
			}
		}
		raw = append(raw, row)
	}

	kinds := make([]cellKind, len(columns))
	if opt.Bool("infer_types", true) {
		kinds = inferKinds(len(columns), raw)
	}

	out := table.New("", columns...)
	out.Rows = make([][]any, 0, len(raw))
	for _, rec := range raw {
		row := make([]any, len(rec))
		for i, s := range rec {
			row[i] = convert(s, kinds[i])
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func checkHeader(columns []string) error {
	if len(columns) == 0 {
		return fmt.Errorf("read header: no columns")
	}
	seen := make(map[string]struct{}, len(columns))
	for i, c := range columns {
		if c == "" {
			return fmt.Errorf("read header: column %d has no name", i)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("read header: duplicate column %q", c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

type cellKind uint8

const (
	kindString cellKind = iota
	kindInt
	kindFloat
	kindBool
)

// inferKinds picks the narrowest kind every non-empty cell of a column
// converts to without changing its text, so "007", "1.50" or "Inf" keep the
// column a string. Columns with no non-empty cells stay strings.
func inferKinds(n int, rows [][]string) []cellKind {
	out := make([]cellKind, n)
	for col := 0; col < n; col++ {
		out[col] = kindString
		seen := false
		allInt, allFloat, allBool := true, true, true
		for _, r := range rows {
			v := r[col]
			if v == "" {
				continue
			}
			seen = true
			allInt = allInt && roundTrips(v, kindInt)
			allFloat = allFloat && roundTrips(v, kindFloat)
			allBool = allBool && roundTrips(v, kindBool)
			if !allInt && !allFloat && !allBool {
				break
			}
		}
		switch {
		case !seen:
		case allInt:
			out[col] = kindInt
		case allFloat:
			out[col] = kindFloat
		case allBool:
			out[col] = kindBool
		}
	}
	return out
}

// roundTrips reports whether s parses as k and renders back to s.
func roundTrips(s string, k cellKind) bool {
	switch k {
	case kindInt:
		n, err := strconv.ParseInt(s, 10, 64)
		return err == nil && strconv.FormatInt(n, 10) == s
	case kindFloat:
		f, err := strconv.ParseFloat(s, 64)
		return err == nil && table.Canonical(f) == s
	case kindBool:
		return s == "true" || s == "false"
	}
	return true
}

func convert(s string, k cellKind) any {
	if s == "" {
		return nil
	}
	switch k {
	case kindInt:
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	case kindFloat:
		f, _ := strconv.ParseFloat(s, 64)
		return f
	case kindBool:
		return s == "true"
	default:
		return s
	}
}
