package transformer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"imdbetl/internal/table"
)

const digestSep = "\x1f"

// Digest returns a lowercase hex SHA-256 over the column names and the
// canonical rendering of every cell, row by row.
//
// Two tables that differ only by numeric width (int32 vs int64) or by an
// integral float vs int produce the same digest; a persisted table and its
// reload therefore hash equal when the round trip is faithful.
func Digest(t table.Table) string {
	var b strings.Builder
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(digestSep)
		}
		b.WriteString(c)
	}
	b.WriteByte('\n')

	for _, r := range t.Rows {
		for i, v := range r {
			if i > 0 {
				b.WriteString(digestSep)
			}
			if v == nil {
				// NUL keeps a missing cell distinct from the string "null".
				b.WriteByte(0)
				continue
			}
			b.WriteString(table.Canonical(v))
		}
		b.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
