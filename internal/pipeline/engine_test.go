package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imdbetl/internal/config"
	"imdbetl/internal/metrics"
	"imdbetl/internal/source"
	"imdbetl/internal/storage"
	"imdbetl/internal/table"
	"imdbetl/internal/transformer"
)

const (
	movieQuery    = "SELECT MID, Movie, Year, Actor, Role FROM movie_related_information"
	directorQuery = "SELECT MID, Movie, Year, Director FROM director_related_information"
)

type fakeConn struct {
	tables map[string]table.Table
	err    error
	closed *int
}

func (c fakeConn) Query(_ context.Context, q string) (table.Table, error) {
	if c.err != nil {
		return table.Table{}, c.err
	}
	t, ok := c.tables[q]
	if !ok {
		return table.Table{}, &source.QueryError{Query: q, Err: errors.New("no such table")}
	}
	return t.Clone(), nil
}

func (c fakeConn) Close() error {
	*c.closed++
	return nil
}

type memSink struct {
	tables map[string]table.Table
	writes []string
	// onRead rewrites what Read returns, to simulate a lossy store.
	onRead   func(id string, t table.Table) table.Table
	writeErr map[string]error
	closed   bool
}

func newMemSink() *memSink { return &memSink{tables: map[string]table.Table{}} }

func (s *memSink) Write(_ context.Context, id string, t table.Table) error {
	if err := s.writeErr[id]; err != nil {
		return err
	}
	s.writes = append(s.writes, id)
	s.tables[id] = t.Clone()
	return nil
}

func (s *memSink) Read(_ context.Context, id string) (table.Table, error) {
	t, ok := s.tables[id]
	if !ok {
		return table.Table{}, fmt.Errorf("no table %q", id)
	}
	t = t.Clone()
	if s.onRead != nil {
		t = s.onRead(id, t)
	}
	return t, nil
}

func (s *memSink) Close() { s.closed = true }

type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func (l *testLogger) joined() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

func sampleTables() map[string]table.Table {
	movie := table.New("", "MID", "Movie", "Year", "Actor", "Role")
	movie.Append(int64(1), "X", int64(2000), "John (II) Smith", "Lead")
	movie.Append(int64(2), "Y", int64(2001), "Ann Lee", "Extra")

	director := table.New("", "MID", "Movie", "Year", "Director")
	director.Append(int64(1), "X", int64(2000), "Jane (III) Doe")

	return map[string]table.Table{movieQuery: movie, directorQuery: director}
}

type harness struct {
	engine *Engine
	sink   *memSink
	log    *testLogger
	opens  int
	closes int
}

func newHarness(tables map[string]table.Table) *harness {
	h := &harness{sink: newMemSink(), log: &testLogger{}}
	queries := map[string]string{"movie.sql": movieQuery, "director.sql": directorQuery}
	h.engine = &Engine{
		Logger: h.log,
		OpenSource: func(_ context.Context, cfg source.Config) (source.Conn, error) {
			h.opens++
			return fakeConn{tables: tables, closed: &h.closes}, nil
		},
		NewSink: func(context.Context, storage.Config) (storage.Sink, error) {
			return h.sink, nil
		},
		ReadQuery: func(path string) (string, error) {
			q, ok := queries[path]
			if !ok {
				return "", &source.QueryError{Query: path, Err: errors.New("missing")}
			}
			return q, nil
		},
	}
	return h
}

func testConfig() config.Pipeline {
	cfg := config.Default()
	cfg.Source = config.Source{Kind: "fake", DSN: "fake://"}
	cfg.Queries = config.Queries{Movie: "movie.sql", Director: "director.sql"}
	cfg.Sink.Kind = "mem"
	return cfg
}

func TestRun_NormalizesJoinsAndPersists(t *testing.T) {
	t.Parallel()

	h := newHarness(sampleTables())
	res, err := h.engine.Run(context.Background(), testConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"movie", "director", "joined"}, h.sink.writes)
	assert.True(t, h.sink.closed)
	assert.Equal(t, 2, h.opens, "one scoped connection per query")
	assert.Equal(t, 2, h.closes)

	assert.Equal(t, "John Smith (II)", res.Movie.Rows[0][3])
	assert.Equal(t, "Jane Doe (III)", res.Director.Rows[0][3])
	assert.Equal(t, 2, res.Movie.Len(), "unmatched movie rows stay in the movie table")
	assert.Equal(t, 1, res.Director.Len())

	assert.Equal(t, JoinedColumns, res.Joined.Columns)
	require.Equal(t, 1, res.Joined.Len())
	assert.Equal(t, []any{"John Smith (II)", "Jane Doe (III)", "X", "Lead", int64(2000)}, res.Joined.Rows[0])

	assert.Equal(t, table.JoinStats{LeftRows: 2, RightRows: 1, Matched: 1, LeftUnmatched: 1}, res.Stats)

	persisted := h.sink.tables["joined"]
	assert.Equal(t, res.Joined.Rows, persisted.Rows)

	for _, id := range config.TableIDs {
		assert.Len(t, res.Digests[id], 64, id)
	}
	assert.Equal(t, transformer.Digest(res.Joined), res.Digests["joined"])

	out := h.log.joined()
	assert.Contains(t, out, "stage=extract_movie ok duration=")
	assert.Contains(t, out, "stage=persist_joined ok duration=")
	assert.Contains(t, out, "left_unmatched=1 right_unmatched=0")
	assert.Contains(t, out, "warning: join dropped 1 movie rows and 0 director rows")
}

func TestRun_JoinUsesReloadedTables(t *testing.T) {
	t.Parallel()

	h := newHarness(sampleTables())
	h.sink.onRead = func(id string, t table.Table) table.Table {
		if id != config.TableMovie {
			return t
		}
		// A store that hands every cell back as text.
		for _, r := range t.Rows {
			for j, v := range r {
				r[j] = table.Canonical(v)
			}
		}
		return t
	}

	res, err := h.engine.Run(context.Background(), testConfig())
	require.NoError(t, err)
	assert.Equal(t, "1", res.Movie.Rows[0][0], "the reloaded table is the canonical copy")
	require.Equal(t, 1, res.Joined.Len(), "text keys still match their numeric counterparts")
	assert.Equal(t, []any{"John Smith (II)", "Jane Doe (III)", "X", "Lead", "2000"}, res.Joined.Rows[0])
	assert.Equal(t, 1, res.Stats.LeftUnmatched)
}

func TestRun_SkipVerifyStillReloads(t *testing.T) {
	t.Parallel()

	h := newHarness(sampleTables())
	h.sink.onRead = func(id string, t table.Table) table.Table {
		if id == config.TableDirector {
			t.Rows[0][3] = "someone else"
		}
		return t
	}
	cfg := testConfig()
	cfg.Runtime.SkipVerify = true

	res, err := h.engine.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "someone else", res.Joined.Rows[0][1])
}

func TestRun_VerifyMismatchIsPersistenceError(t *testing.T) {
	t.Parallel()

	h := newHarness(sampleTables())
	h.sink.onRead = func(id string, t table.Table) table.Table {
		if id == config.TableDirector {
			t.Rows = t.Rows[:0]
		}
		return t
	}

	_, err := h.engine.Run(context.Background(), testConfig())
	require.Error(t, err)

	var pe *storage.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, config.TableDirector, pe.Table)
	assert.Equal(t, "verify", pe.Op)
	assert.Contains(t, err.Error(), "row count differs")
	assert.Equal(t, []string{"movie", "director"}, h.sink.writes, "joined is never written")
	assert.True(t, h.sink.closed)
}

func TestRun_WriteErrorIsPersistenceError(t *testing.T) {
	t.Parallel()

	h := newHarness(sampleTables())
	h.sink.writeErr = map[string]error{config.TableJoined: errors.New("disk full")}

	_, err := h.engine.Run(context.Background(), testConfig())
	var pe *storage.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "write", pe.Op)
	assert.Equal(t, config.TableJoined, pe.Table)
	assert.Contains(t, h.log.joined(), "stage=persist_joined error")
}

func TestRun_SinkOpenError(t *testing.T) {
	t.Parallel()

	h := newHarness(sampleTables())
	h.engine.NewSink = func(context.Context, storage.Config) (storage.Sink, error) {
		return nil, errors.New("no such directory")
	}

	_, err := h.engine.Run(context.Background(), testConfig())
	var pe *storage.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "open", pe.Op)
}

func TestRun_ConnectionErrorAbortsBeforeAnyWrite(t *testing.T) {
	t.Parallel()

	h := newHarness(sampleTables())
	h.engine.OpenSource = func(_ context.Context, cfg source.Config) (source.Conn, error) {
		return nil, &source.ConnectionError{Kind: cfg.Kind, Err: errors.New("connection refused")}
	}

	_, err := h.engine.Run(context.Background(), testConfig())
	var ce *source.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "fake", ce.Kind)
	assert.Empty(t, h.sink.writes)
}

func TestRun_QueryErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing query file", func(t *testing.T) {
		h := newHarness(sampleTables())
		cfg := testConfig()
		cfg.Queries.Director = "nope.sql"

		_, err := h.engine.Run(context.Background(), cfg)
		var qe *source.QueryError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, 0, h.opens, "queries are read before connecting")
	})

	t.Run("query fails", func(t *testing.T) {
		tables := sampleTables()
		delete(tables, directorQuery)
		h := newHarness(tables)

		_, err := h.engine.Run(context.Background(), testConfig())
		var qe *source.QueryError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, h.opens, h.closes, "connection released on failure")
		assert.Empty(t, h.sink.writes)
	})
}

func TestRun_EmptyNameIsDataError(t *testing.T) {
	t.Parallel()

	tables := sampleTables()
	movie := tables[movieQuery]
	movie.Append(int64(3), "Z", int64(2002), "", "Cameo")
	tables[movieQuery] = movie
	h := newHarness(tables)

	_, err := h.engine.Run(context.Background(), testConfig())
	var de *transformer.DataError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "movie", de.Table)
	assert.Equal(t, ColActor, de.Column)
	assert.Equal(t, 2, de.Row)
	assert.Empty(t, h.sink.writes)
}

func TestRun_PreviewLogsHead(t *testing.T) {
	t.Parallel()

	h := newHarness(sampleTables())
	h.engine.Preview = true
	cfg := testConfig()
	cfg.Runtime.PreviewRows = 1

	_, err := h.engine.Run(context.Background(), cfg)
	require.NoError(t, err)
	out := h.log.joined()
	assert.Contains(t, out, "preview table=movie rows=2")
	assert.Contains(t, out, "John (II) Smith", "preview shows extracted rows before normalization")
	assert.NotContains(t, out, "Ann Lee")
}

func TestRun_NilLoggerDiscards(t *testing.T) {
	t.Parallel()

	h := newHarness(sampleTables())
	h.engine.Logger = nil
	_, err := h.engine.Run(context.Background(), testConfig())
	require.NoError(t, err)
}

func TestJoin_MissingKeyColumn(t *testing.T) {
	t.Parallel()

	movie := table.New("movie", "Movie", "Year", "Actor", "Role")
	director := table.New("director", "MID", "Movie", "Year", "Director")
	_, _, err := Join(movie, director)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "join")
}

func TestJoin_DropsMIDAndOrdersColumns(t *testing.T) {
	t.Parallel()

	movie := table.New("movie", "Role", "Actor", "Year", "Movie", "MID")
	movie.Append("Lead", "A", int64(1999), "M", int64(7))
	director := table.New("director", "Director", "MID", "Movie", "Year")
	director.Append("D", int64(7), "M", int64(1999))

	got, stats, err := Join(movie, director)
	require.NoError(t, err)
	assert.Equal(t, "joined", got.Name)
	assert.Equal(t, JoinedColumns, got.Columns)
	assert.Equal(t, [][]any{{"A", "D", "M", "Lead", int64(1999)}}, got.Rows)
	assert.Equal(t, 0, stats.Dropped())
}

type countingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
}

func (b *countingBackend) IncCounter(name string, delta float64, l metrics.Labels) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := name
	for _, k := range []string{"step", "status", "table", "side"} {
		if v, ok := l[k]; ok {
			key += "," + k + "=" + v
		}
	}
	b.counters[key] += delta
}

func (b *countingBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *countingBackend) Flush() error                                     { return nil }

// Not parallel: swaps the process-wide metrics backend.
func TestRun_RecordsMetrics(t *testing.T) {
	b := &countingBackend{counters: map[string]float64{}}
	metrics.SetBackend(b)
	t.Cleanup(func() { metrics.SetBackend(nil) })

	h := newHarness(sampleTables())
	_, err := h.engine.Run(context.Background(), testConfig())
	require.NoError(t, err)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 2.0, b.counters["etl_records_total,table=movie"])
	assert.Equal(t, 1.0, b.counters["etl_records_total,table=director"])
	assert.Equal(t, 1.0, b.counters["etl_records_total,table=joined"])
	assert.Equal(t, 1.0, b.counters["etl_join_dropped_total,side=left"])
	assert.Zero(t, b.counters["etl_join_dropped_total,side=right"])
	assert.Equal(t, 1.0, b.counters["etl_step_total,step=join,status=ok"])
	assert.Equal(t, 1.0, b.counters["etl_step_total,step=persist_joined,status=ok"])
}
