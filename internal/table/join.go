package table

import (
	"fmt"
	"strings"
)

// JoinStats describes how many rows an inner join kept and dropped.
//
// Unmatched rows are expected, not an error; callers log and meter them.
type JoinStats struct {
	LeftRows       int
	RightRows      int
	Matched        int // output rows
	LeftUnmatched  int
	RightUnmatched int
}

// Dropped returns the total number of input rows without a partner.
func (s JoinStats) Dropped() int { return s.LeftUnmatched + s.RightUnmatched }

// InnerJoin combines left and right on exact equality of every column in on.
// Key cells are equal when EqualCells says so.
//
// Output columns are all left columns followed by the right columns that are
// not join keys. A non-key column present on both sides is suffixed with
// "_x" (left) and "_y" (right). Output rows follow left row order, and right
// row order within one key. A nil key component never matches.
func InnerJoin(left, right Table, on []string) (Table, JoinStats, error) {
	stats := JoinStats{LeftRows: left.Len(), RightRows: right.Len()}
	if len(on) == 0 {
		return Table{}, stats, fmt.Errorf("join: no key columns")
	}

	lIdx := make([]int, len(on))
	rIdx := make([]int, len(on))
	isKey := make(map[string]bool, len(on))
	for i, k := range on {
		li, err := left.MustIndex(k)
		if err != nil {
			return Table{}, stats, fmt.Errorf("join: left: %w", err)
		}
		ri, err := right.MustIndex(k)
		if err != nil {
			return Table{}, stats, fmt.Errorf("join: right: %w", err)
		}
		lIdx[i], rIdx[i] = li, ri
		isKey[k] = true
	}

	// Right-hand payload columns (non-key), in right order.
	rPayload := make([]int, 0, len(right.Columns))
	for i, c := range right.Columns {
		if !isKey[c] {
			rPayload = append(rPayload, i)
		}
	}

	columns := joinedColumns(left.Columns, right.Columns, rPayload, isKey)

	var b strings.Builder
	var scratch [64]byte

	index := make(map[string][]int, right.Len())
	for i, r := range right.Rows {
		k, ok := compositeKey(r, rIdx, &b, &scratch)
		if !ok {
			continue
		}
		index[k] = append(index[k], i)
	}

	rightHit := make([]bool, right.Len())
	out := Table{Columns: columns}
	for _, l := range left.Rows {
		k, ok := compositeKey(l, lIdx, &b, &scratch)
		if !ok {
			stats.LeftUnmatched++
			continue
		}
		partners := index[k]
		if len(partners) == 0 {
			stats.LeftUnmatched++
			continue
		}
		for _, ri := range partners {
			rightHit[ri] = true
			r := right.Rows[ri]
			row := make([]any, 0, len(columns))
			row = append(row, l...)
			for _, p := range rPayload {
				row = append(row, r[p])
			}
			out.Rows = append(out.Rows, row)
		}
	}

	for _, hit := range rightHit {
		if !hit {
			stats.RightUnmatched++
		}
	}
	stats.Matched = out.Len()
	return out, stats, nil
}

func joinedColumns(lCols, rCols []string, rPayload []int, isKey map[string]bool) []string {
	inRight := make(map[string]bool, len(rPayload))
	for _, p := range rPayload {
		inRight[rCols[p]] = true
	}
	inLeft := make(map[string]bool, len(lCols))
	for _, c := range lCols {
		inLeft[c] = true
	}

	out := make([]string, 0, len(lCols)+len(rPayload))
	for _, c := range lCols {
		if !isKey[c] && inRight[c] {
			c += "_x"
		}
		out = append(out, c)
	}
	for _, p := range rPayload {
		c := rCols[p]
		if inLeft[c] {
			c += "_y"
		}
		out = append(out, c)
	}
	return out
}

// Drop returns t without column.
func Drop(t Table, column string) (Table, error) {
	idx, err := t.MustIndex(column)
	if err != nil {
		return Table{}, err
	}
	keep := make([]string, 0, len(t.Columns)-1)
	for i, c := range t.Columns {
		if i != idx {
			keep = append(keep, c)
		}
	}
	return Project(t, keep...)
}

// Project returns a table holding exactly columns, in that order.
func Project(t Table, columns ...string) (Table, error) {
	idx := make([]int, len(columns))
	seen := make(map[string]bool, len(columns))
	for i, c := range columns {
		if seen[c] {
			return Table{}, fmt.Errorf("table %s: duplicate column %q in projection", t.label(), c)
		}
		seen[c] = true
		ix, err := t.MustIndex(c)
		if err != nil {
			return Table{}, err
		}
		idx[i] = ix
	}

	out := Table{Name: t.Name, Columns: append([]string(nil), columns...)}
	out.Rows = make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		row := make([]any, len(idx))
		for j, ix := range idx {
			if ix < len(r) {
				row[j] = r[ix]
			}
		}
		out.Rows[i] = row
	}
	return out, nil
}
