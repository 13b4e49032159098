package table

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Canonical renders a scalar cell deterministically.
//
// Rules:
//   - nil renders as "null"
//   - integers render in base 10, floats with the shortest 'g' form, so an
//     int64(2000) and a float64(2000) render identically
//   - time.Time renders as RFC3339Nano in UTC
//   - []byte renders as its string content
func Canonical(v any) string {
	var b strings.Builder
	var scratch [64]byte
	appendCanonical(&b, v, &scratch)
	return b.String()
}

func appendCanonical(b *strings.Builder, v any, scratch *[64]byte) {
	switch t := Value(v).(type) {
	case nil:
		b.WriteString("null")
	case string:
		b.WriteString(t)
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case int64:
		b.Write(strconv.AppendInt(scratch[:0], t, 10))
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case time.Time:
		b.WriteString(t.Format(time.RFC3339Nano))
	default:
		b.WriteString(fmt.Sprintf("%v", t))
	}
}

// compositeKey builds an exact-match key from the canonical text of the
// cells at idx, so a key column reloaded as text still matches its numeric
// counterpart. Each part is length-prefixed; no two tuples share a key.
// ok is false when any component is nil; such rows never match.
func compositeKey(row []any, idx []int, b *strings.Builder, scratch *[64]byte) (key string, ok bool) {
	b.Reset()
	for _, ix := range idx {
		v := row[ix]
		if v == nil {
			return "", false
		}
		s := Canonical(v)
		b.Write(strconv.AppendInt(scratch[:0], int64(len(s)), 10))
		b.WriteByte(':')
		b.WriteString(s)
	}
	return b.String(), true
}

// EqualCells reports whether two cells are equal after canonicalization.
// It tolerates the numeric coercion a storage round trip may apply.
func EqualCells(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Canonical(a) == Canonical(b)
}
