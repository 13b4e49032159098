// Package pipeline runs the extract, normalize, persist, join sequence.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"imdbetl/internal/config"
	"imdbetl/internal/metrics"
	"imdbetl/internal/source"
	"imdbetl/internal/storage"
	"imdbetl/internal/table"
	"imdbetl/internal/transformer"
)

// Column names the pipeline addresses.
const (
	ColMID      = "MID"
	ColMovie    = "Movie"
	ColYear     = "Year"
	ColActor    = "Actor"
	ColRole     = "Role"
	ColDirector = "Director"
)

// JoinKeys are matched by exact equality on all three columns.
var JoinKeys = []string{ColMID, ColMovie, ColYear}

// JoinedColumns is the column order of the joined table.
var JoinedColumns = []string{ColActor, ColDirector, ColMovie, ColRole, ColYear}

// Logger is the minimal logging interface used by the engine.
// *log.Logger and *charmbracelet/log.Logger satisfy it.
type Logger interface {
	Printf(format string, v ...any)
}

// Result is the canonical state after a successful run.
//
// Movie and Director are the reloaded tables the join ran on. Joined is the
// table that was written; its reload is only compared, never kept.
type Result struct {
	Movie    table.Table
	Director table.Table
	Joined   table.Table
	Stats    table.JoinStats
	Digests  map[string]string
}

// Engine runs one pipeline. The function fields are seams; nil fields use
// the registered backends.
type Engine struct {
	Logger Logger

	// Preview logs the first Runtime.PreviewRows rows of each extracted table.
	Preview bool

	OpenSource func(ctx context.Context, cfg source.Config) (source.Conn, error)
	NewSink    func(ctx context.Context, cfg storage.Config) (storage.Sink, error)
	ReadQuery  func(path string) (string, error)
}

// NewDefaultEngine returns an Engine wired to the registered source and
// storage backends.
func NewDefaultEngine(l Logger) *Engine {
	return &Engine{
		Logger:     l,
		OpenSource: source.Open,
		NewSink:    storage.New,
		ReadQuery:  source.ReadQuery,
	}
}

// Run executes the whole sequence. Any error aborts the run; tables written
// before the failure stay where they are.
func (e *Engine) Run(ctx context.Context, cfg config.Pipeline) (Result, error) {
	logf := e.logger()
	runStart := time.Now()
	var res Result

	var movieQ, directorQ string
	err := e.step("read_queries", func() error {
		var err error
		if movieQ, err = e.readQuery(cfg.Queries.Movie); err != nil {
			return err
		}
		directorQ, err = e.readQuery(cfg.Queries.Director)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	srcCfg := source.Config{Kind: cfg.Source.Kind, DSN: config.ExpandDSN(cfg.Source.DSN)}
	movie, err := e.extract(ctx, srcCfg, config.TableMovie, movieQ)
	if err != nil {
		return Result{}, err
	}
	director, err := e.extract(ctx, srcCfg, config.TableDirector, directorQ)
	if err != nil {
		return Result{}, err
	}
	if e.Preview {
		e.preview(movie, cfg.Runtime.PreviewRows)
		e.preview(director, cfg.Runtime.PreviewRows)
	}

	err = e.step("normalize", func() error {
		var err error
		if movie, err = transformer.NormalizeColumn(movie, ColActor); err != nil {
			return err
		}
		director, err = transformer.NormalizeColumn(director, ColDirector)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	sink, err := e.newSink(ctx, storage.Config{
		Kind:    cfg.Sink.Kind,
		DSN:     config.ExpandDSN(cfg.Sink.DSN),
		Tables:  cfg.Sink.Tables,
		Options: cfg.Sink.Options,
	})
	if err != nil {
		return Result{}, storage.Wrap(cfg.Sink.Kind, "open", err)
	}
	defer sink.Close()

	verify := !cfg.Runtime.SkipVerify
	if res.Movie, err = e.persist(ctx, sink, config.TableMovie, movie, verify); err != nil {
		return Result{}, err
	}
	if res.Director, err = e.persist(ctx, sink, config.TableDirector, director, verify); err != nil {
		return Result{}, err
	}

	err = e.step("join", func() error {
		var err error
		res.Joined, res.Stats, err = Join(res.Movie, res.Director)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	e.reportJoin(res.Stats)
	metrics.RecordRows(config.TableJoined, res.Joined.Len())

	if _, err := e.persist(ctx, sink, config.TableJoined, res.Joined, verify); err != nil {
		return Result{}, err
	}

	res.Digests = map[string]string{
		config.TableMovie:    transformer.Digest(res.Movie),
		config.TableDirector: transformer.Digest(res.Director),
		config.TableJoined:   transformer.Digest(res.Joined),
	}
	for _, id := range config.TableIDs {
		logf("table=%s digest=%s", id, res.Digests[id])
	}
	logf("stage=run ok duration=%s", durMS(runStart))
	return res, nil
}

// Join inner-joins movie and director on JoinKeys, drops MID and orders the
// columns as JoinedColumns.
func Join(movie, director table.Table) (table.Table, table.JoinStats, error) {
	joined, stats, err := table.InnerJoin(movie, director, JoinKeys)
	if err != nil {
		return table.Table{}, stats, err
	}
	joined, err = table.Drop(joined, ColMID)
	if err != nil {
		return table.Table{}, stats, fmt.Errorf("join: drop: %w", err)
	}
	joined, err = table.Project(joined, JoinedColumns...)
	if err != nil {
		return table.Table{}, stats, fmt.Errorf("join: project: %w", err)
	}
	joined.Name = config.TableJoined
	return joined, stats, nil
}

func (e *Engine) extract(ctx context.Context, cfg source.Config, id, query string) (table.Table, error) {
	var out table.Table
	err := e.step("extract_"+id, func() error {
		return source.Scoped(ctx, func(ctx context.Context) (source.Conn, error) {
			return e.openSource(ctx, cfg)
		}, func(c source.Conn) error {
			t, err := c.Query(ctx, query)
			if err != nil {
				return err
			}
			out = t
			return nil
		})
	})
	if err != nil {
		return table.Table{}, err
	}
	out.Name = id
	metrics.RecordRows(id, out.Len())
	e.logger()("stage=extract_%s rows=%d columns=%v", id, out.Len(), out.Columns)
	return out, nil
}

// persist writes t, reads it back and, when verify is set, compares the two.
// The reloaded table is returned.
func (e *Engine) persist(ctx context.Context, sink storage.Sink, id string, t table.Table, verify bool) (table.Table, error) {
	var reloaded table.Table
	err := e.step("persist_"+id, func() error {
		if err := sink.Write(ctx, id, t); err != nil {
			return storage.Wrap(id, "write", err)
		}
		got, err := sink.Read(ctx, id)
		if err != nil {
			return storage.Wrap(id, "read", err)
		}
		if verify {
			if err := storage.Verify(t, got); err != nil {
				return &storage.PersistenceError{Table: id, Op: "verify", Err: err}
			}
		}
		got.Name = id
		reloaded = got
		return nil
	})
	if err != nil {
		return table.Table{}, err
	}
	return reloaded, nil
}

func (e *Engine) reportJoin(s table.JoinStats) {
	logf := e.logger()
	logf("stage=join left_rows=%d right_rows=%d matched=%d left_unmatched=%d right_unmatched=%d",
		s.LeftRows, s.RightRows, s.Matched, s.LeftUnmatched, s.RightUnmatched)
	if s.Dropped() > 0 {
		logf("warning: join dropped %d movie rows and %d director rows without a partner on %v",
			s.LeftUnmatched, s.RightUnmatched, JoinKeys)
	}
	metrics.RecordJoinDropped("left", s.LeftUnmatched)
	metrics.RecordJoinDropped("right", s.RightUnmatched)
}

func (e *Engine) preview(t table.Table, n int) {
	if n <= 0 {
		return
	}
	e.logger()("preview table=%s rows=%d\n%s", t.Name, t.Len(), table.Head(t, n))
}

// step times fn, records the outcome and logs it.
func (e *Engine) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	d := durMS(start)
	if err != nil {
		metrics.RecordStep(name, "error", d)
		e.logger()("stage=%s error duration=%s err=%v", name, d, err)
		return err
	}
	metrics.RecordStep(name, "ok", d)
	e.logger()("stage=%s ok duration=%s", name, d)
	return nil
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return e.Logger.Printf
}

func (e *Engine) openSource(ctx context.Context, cfg source.Config) (source.Conn, error) {
	if e.OpenSource != nil {
		return e.OpenSource(ctx, cfg)
	}
	return source.Open(ctx, cfg)
}

func (e *Engine) newSink(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	if e.NewSink != nil {
		return e.NewSink(ctx, cfg)
	}
	return storage.New(ctx, cfg)
}

func (e *Engine) readQuery(path string) (string, error) {
	if e.ReadQuery != nil {
		return e.ReadQuery(path)
	}
	return source.ReadQuery(path)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
