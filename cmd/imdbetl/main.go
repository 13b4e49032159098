// Command imdbetl extracts the movie and director tables, normalizes names,
// joins them and persists all three tables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"imdbetl/internal/config"
	"imdbetl/internal/metrics"
	"imdbetl/internal/metrics/datadog"
	"imdbetl/internal/metrics/prompush"
	"imdbetl/internal/pipeline"

	// register every source and sink backend; the config picks one of each.
	_ "imdbetl/internal/source/all"
	_ "imdbetl/internal/storage/all"
)

const defaultPushgatewayURL = "http://localhost:9091"

type runner interface {
	Run(ctx context.Context, cfg config.Pipeline) (pipeline.Result, error)
}

// appDeps are the side-effecting collaborators of runMain.
type appDeps struct {
	loadEnv     func(path string) error
	loadConfig  func(path string) (config.Pipeline, error)
	initMetrics func(ctx context.Context, jobName, backendName, gatewayURL string) (func(), error)
	newRunner   func(l pipeline.Logger, preview bool) runner
}

func defaultDeps() appDeps {
	return appDeps{
		loadEnv:     loadEnvFile,
		loadConfig:  config.Load,
		initMetrics: initMetrics,
		newRunner: func(l pipeline.Logger, preview bool) runner {
			e := pipeline.NewDefaultEngine(l)
			e.Preview = preview
			return e
		},
	}
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultDeps()))
}

// runMain returns the process exit code: 0 on success, 1 on a failed run or
// invalid config, 2 on usage errors.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	flags := flag.NewFlagSet("imdbetl", flag.ContinueOnError)
	flags.SetOutput(stderr)

	var (
		cfgPath    string
		envFile    string
		backend    string
		gatewayURL string
		validate   bool
		verbose    bool
	)
	flags.StringVar(&cfgPath, "config", "", "pipeline config path (.json, .yaml); built-in defaults when empty")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before DSN expansion; a missing file is ignored")
	flags.StringVar(&backend, "metrics-backend", "", "metrics backend: none|datadog|pushgateway (overrides env METRICS_BACKEND)")
	flags.StringVar(&gatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flags.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flags.BoolVar(&verbose, "v", false, "enable verbose logs")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: imdbetl [-config path] [-v]; unexpected argument %q\n", flags.Arg(0))
		return 2
	}

	if envFile != "" {
		if err := deps.loadEnv(envFile); err != nil {
			fmt.Fprintf(stderr, "load env: %v\n", err)
			return 1
		}
	}

	p := config.Default()
	if strings.TrimSpace(cfgPath) != "" {
		var err error
		if p, err = deps.loadConfig(cfgPath); err != nil {
			fmt.Fprintf(stderr, "load config: %v\n", err)
			return 1
		}
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintln(stderr, "configuration is invalid")
		return 1
	}
	if validate {
		fmt.Fprintln(stdout, "configuration is valid")
		return 0
	}

	if backend == "" {
		backend = os.Getenv("METRICS_BACKEND")
	}
	if gatewayURL == "" {
		gatewayURL = os.Getenv("PUSHGATEWAY_URL")
	}
	cleanup, err := deps.initMetrics(ctx, p.Job, backend, gatewayURL)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	logger := newLogger(stderr, verbose)
	if verbose {
		logger.Debugf("pipeline: job=%s source=%s sink=%s", p.Job, p.Source.Kind, p.Sink.Kind)
	}

	start := time.Now()
	res, err := deps.newRunner(logger, verbose).Run(ctx, p)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "ok movie=%d director=%d joined=%d dropped=%d duration=%s\n",
		res.Movie.Len(), res.Director.Len(), res.Joined.Len(), res.Stats.Dropped(),
		time.Since(start).Truncate(time.Millisecond))
	return 0
}

func newLogger(w io.Writer, verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Prefix:          "imdbetl",
	})
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

type datadogBackend interface {
	metrics.Backend
	Close() error
}

// Seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (datadogBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url)
	}
	setMetricsBackend = metrics.SetBackend
	logPrintf         = func(format string, v ...any) { fmt.Fprintf(os.Stderr, format+"\n", v...) }
)

// initMetrics installs the named backend. The returned cleanup is never nil
// and flushes (or closes) the backend.
func initMetrics(ctx context.Context, jobName, backendName, gatewayURL string) (func(), error) {
	nop := func() {}
	if jobName == "" {
		jobName = "imdbetl"
	}

	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "", "none", "nop", "noop":
		return nop, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return nop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	case "pushgateway", "prometheus":
		if gatewayURL == "" {
			gatewayURL = defaultPushgatewayURL
		}
		b, err := newPushBackend(jobName, gatewayURL)
		if err != nil {
			return nop, fmt.Errorf("pushgateway: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway flush error: %v", err)
			}
		}, nil

	default:
		return nop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", backendName)
	}
}
