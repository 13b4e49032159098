package csvfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imdbetl/internal/config"
	"imdbetl/internal/storage"
	"imdbetl/internal/table"
)

func joined() table.Table {
	t := table.New("joined", "Actor", "Director", "Movie", "Role", "Year")
	t.Append("John Smith (II)", "Jane Doe (III)", "Film, A", "Lead", int64(2000))
	t.Append("Zoë Ann", "Bob Roe", `The "Quote"`, nil, int64(2001))
	return t
}

func newSink(t *testing.T, cfg storage.Config) *Sink {
	t.Helper()
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return s.(*Sink)
}

func TestWriteRead_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newSink(t, storage.Config{Kind: "csv", DSN: dir})
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "joined", joined()))

	raw, err := os.ReadFile(filepath.Join(dir, "joined.csv"))
	require.NoError(t, err)
	assert.Equal(t, ",Actor,Director,Movie,Role,Year\n"+
		"0,John Smith (II),Jane Doe (III),\"Film, A\",Lead,2000\n"+
		"1,Zoë Ann,Bob Roe,\"The \"\"Quote\"\"\",,2001\n", string(raw))

	got, err := s.Read(ctx, "joined")
	require.NoError(t, err)
	assert.Equal(t, "joined", got.Name)
	assert.Equal(t, joined().Columns, got.Columns)
	assert.Equal(t, joined().Rows, got.Rows)
}

func TestWrite_ReplacesAndCreatesDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "movie_related_information.csv")
	s := newSink(t, storage.Config{DSN: dir, Tables: map[string]string{"movie": path}})
	ctx := context.Background()

	first := table.New("movie", "MID", "Movie")
	first.Append(int64(1), "A")
	first.Append(int64(2), "B")
	require.NoError(t, s.Write(ctx, "movie", first))

	second := table.New("movie", "MID", "Movie")
	second.Append(int64(3), "C")
	require.NoError(t, s.Write(ctx, "movie", second))

	got, err := s.Read(ctx, "movie")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(3), "C"}}, got.Rows)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWrite_NoIndexAndTabs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newSink(t, storage.Config{DSN: dir, Options: config.Options{"write_index": false, "comma": `\t`}})
	ctx := context.Background()

	tb := table.New("d", "MID", "Score")
	tb.Append(int64(1), 2.5)
	require.NoError(t, s.Write(ctx, "director", tb))

	raw, err := os.ReadFile(filepath.Join(dir, "director.csv"))
	require.NoError(t, err)
	assert.Equal(t, "MID\tScore\n1\t2.5\n", string(raw))

	got, err := s.Read(ctx, "director")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1), 2.5}}, got.Rows)
}

func TestEncodings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("utf-8-sig", func(t *testing.T) {
		dir := t.TempDir()
		s := newSink(t, storage.Config{DSN: dir, Options: config.Options{"encoding": "utf-8-sig"}})
		require.NoError(t, s.Write(ctx, "joined", joined()))

		raw, err := os.ReadFile(filepath.Join(dir, "joined.csv"))
		require.NoError(t, err)
		assert.Equal(t, []byte{0xEF, 0xBB, 0xBF}, raw[:3])

		got, err := s.Read(ctx, "joined")
		require.NoError(t, err)
		assert.Equal(t, joined().Columns, got.Columns)
	})

	t.Run("windows-1252", func(t *testing.T) {
		dir := t.TempDir()
		s := newSink(t, storage.Config{DSN: dir, Options: config.Options{"encoding": "windows-1252"}})
		require.NoError(t, s.Write(ctx, "joined", joined()))

		raw, err := os.ReadFile(filepath.Join(dir, "joined.csv"))
		require.NoError(t, err)
		assert.Contains(t, string(raw), "Zo\xeb Ann")

		got, err := s.Read(ctx, "joined")
		require.NoError(t, err)
		assert.Equal(t, "Zoë Ann", got.Rows[1][0])
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := New(ctx, storage.Config{Options: config.Options{"encoding": "klingon"}})
		require.Error(t, err)
	})
}

func TestRead_MissingIsPersistenceError(t *testing.T) {
	t.Parallel()

	s := newSink(t, storage.Config{DSN: t.TempDir()})
	_, err := s.Read(context.Background(), "movie")

	var pe *storage.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "movie", pe.Table)
	assert.Equal(t, "read", pe.Op)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWrite_RaggedRowFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newSink(t, storage.Config{DSN: dir})
	bad := table.Table{Columns: []string{"a", "b"}, Rows: [][]any{{1}}}

	err := s.Write(context.Background(), "movie", bad)
	var pe *storage.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "write", pe.Op)

	_, statErr := os.Stat(filepath.Join(dir, "movie.csv"))
	assert.ErrorIs(t, statErr, os.ErrNotExist, "failed writes leave no target file")
}

func TestWriteRead_TextThatLooksNumericSurvivesVerify(t *testing.T) {
	t.Parallel()

	s := newSink(t, storage.Config{Kind: "csv", DSN: t.TempDir()})
	ctx := context.Background()

	movie := table.New("movie", "MID", "Movie", "Year", "Role", "Budget")
	movie.Append(int64(1), "007", int64(1962), "007", 1.5)
	movie.Append(int64(2), "1.50", int64(1995), "Inf", 2.0)
	require.NoError(t, s.Write(ctx, "movie", movie))

	got, err := s.Read(ctx, "movie")
	require.NoError(t, err)
	require.NoError(t, storage.Verify(movie, got))
	assert.Equal(t, []any{int64(1), "007", int64(1962), "007", 1.5}, got.Rows[0])
	assert.Equal(t, []any{int64(2), "1.50", int64(1995), "Inf", 2.0}, got.Rows[1])
}
