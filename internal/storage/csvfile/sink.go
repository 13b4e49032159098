// Package csvfile persists tables as delimited text files, one file per id.
package csvfile

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"imdbetl/internal/config"
	csvparser "imdbetl/internal/parser/csv"
	"imdbetl/internal/storage"
	"imdbetl/internal/table"
)

const bom = "\uFEFF"

func init() {
	storage.Register("csv", New)
}

// Sink writes <DSN>/<id>.csv unless Tables names another path.
//
// Options:
//
//	comma        field delimiter (default ',')
//	encoding     any WHATWG encoding label; "utf-8-sig" writes a BOM (default utf-8)
//	write_index  leading unnamed 0..n-1 index column (default true)
type Sink struct {
	cfg        storage.Config
	comma      rune
	writeIndex bool
	withBOM    bool
	enc        encoding.Encoding
}

// New validates the options and returns a Sink. Nothing is touched on disk.
func New(_ context.Context, cfg storage.Config) (storage.Sink, error) {
	s := &Sink{
		cfg:        cfg,
		comma:      cfg.Options.Rune("comma", ','),
		writeIndex: cfg.Options.Bool("write_index", true),
	}
	if s.comma == '"' || s.comma == '\r' || s.comma == '\n' {
		return nil, fmt.Errorf("csvfile: invalid comma %q", s.comma)
	}

	name := strings.ToLower(strings.TrimSpace(cfg.Options.String("encoding", "utf-8")))
	switch name {
	case "", "utf-8", "utf8":
	case "utf-8-sig", "utf_8_sig":
		s.withBOM = true
	default:
		enc, err := htmlindex.Get(name)
		if err != nil {
			return nil, fmt.Errorf("csvfile: encoding %q: %w", name, err)
		}
		s.enc = enc
	}
	return s, nil
}

// Path returns the file a table id is written to.
func (s *Sink) Path(id string) string {
	return s.cfg.Target(id, filepath.Join(s.cfg.DSN, id+".csv"))
}

// Write replaces the file for id. The table is written to a temporary file
// in the same directory and renamed over the target, so readers never see a
// partial file.
func (s *Sink) Write(ctx context.Context, id string, t table.Table) error {
	if err := ctx.Err(); err != nil {
		return storage.Wrap(id, "write", err)
	}
	path := s.Path(id)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storage.Wrap(id, "write", fmt.Errorf("mkdir %s: %w", dir, err))
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return storage.Wrap(id, "write", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := s.encode(tmp, t); err != nil {
		_ = tmp.Close()
		return storage.Wrap(id, "write", fmt.Errorf("%s: %w", path, err))
	}
	if err := tmp.Close(); err != nil {
		return storage.Wrap(id, "write", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return storage.Wrap(id, "write", err)
	}
	committed = true
	return nil
}

func (s *Sink) encode(f *os.File, t table.Table) error {
	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var tw *transform.Writer
	if s.enc != nil {
		tw = transform.NewWriter(bw, s.enc.NewEncoder())
		w = tw
	}
	if s.withBOM {
		if _, err := io.WriteString(w, bom); err != nil {
			return err
		}
	}

	cw := csv.NewWriter(w)
	cw.Comma = s.comma

	off := 0
	if s.writeIndex {
		off = 1
	}
	rec := make([]string, len(t.Columns)+off)
	copy(rec[off:], t.Columns)
	if err := cw.Write(rec); err != nil {
		return err
	}
	for i, r := range t.Rows {
		if len(r) != len(t.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(r), len(t.Columns))
		}
		if s.writeIndex {
			rec[0] = strconv.Itoa(i)
		}
		for j, v := range r {
			rec[j+off] = formatCell(v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if tw != nil {
		if err := tw.Close(); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatCell(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return table.Canonical(v)
}

// Read loads the file for id. Cell types are inferred per column.
func (s *Sink) Read(ctx context.Context, id string) (table.Table, error) {
	if err := ctx.Err(); err != nil {
		return table.Table{}, storage.Wrap(id, "read", err)
	}
	path := s.Path(id)
	f, err := os.Open(path)
	if err != nil {
		return table.Table{}, storage.Wrap(id, "read", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if s.enc != nil {
		r = transform.NewReader(r, s.enc.NewDecoder())
	}

	opts := config.Options{
		"comma":     string(s.comma),
		"index_col": s.writeIndex,
	}
	t, err := csvparser.ReadTable(r, opts)
	if err != nil {
		return table.Table{}, storage.Wrap(id, "read", fmt.Errorf("%s: %w", path, err))
	}
	t.Name = id
	return t, nil
}

// Close is a no-op; files are closed after every call.
func (s *Sink) Close() {}

var _ storage.Sink = (*Sink)(nil)
