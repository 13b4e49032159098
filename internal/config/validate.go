package config

import (
	"fmt"
	"sort"
	"strings"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a dotted config path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

var (
	sourceKinds = map[string]bool{"mysql": true, "postgres": true, "sqlite": true, "sqlserver": true}
	sinkKinds   = map[string]bool{"csv": true, "sqlite": true, "postgres": true, "mssql": true}
)

// ValidatePipeline checks p and returns every issue found. The pipeline is
// runnable when no issue has SeverityError.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		add(SeverityWarning, "job", "job name is empty; metrics will use a default")
	}

	switch {
	case p.Source.Kind == "":
		add(SeverityError, "source.kind", "must be set (one of %s)", kindList(sourceKinds))
	case !sourceKinds[p.Source.Kind]:
		add(SeverityError, "source.kind", "unsupported kind %q (one of %s)", p.Source.Kind, kindList(sourceKinds))
	}
	if strings.TrimSpace(p.Source.DSN) == "" {
		add(SeverityError, "source.dsn", "must be set")
	}

	if strings.TrimSpace(p.Queries.Movie) == "" {
		add(SeverityError, "queries.movie", "query file path must be set")
	}
	if strings.TrimSpace(p.Queries.Director) == "" {
		add(SeverityError, "queries.director", "query file path must be set")
	}

	switch {
	case p.Sink.Kind == "":
		add(SeverityError, "sink.kind", "must be set (one of %s)", kindList(sinkKinds))
	case !sinkKinds[p.Sink.Kind]:
		add(SeverityError, "sink.kind", "unsupported kind %q (one of %s)", p.Sink.Kind, kindList(sinkKinds))
	}
	if p.Sink.Kind != "" && p.Sink.Kind != "csv" && strings.TrimSpace(p.Sink.DSN) == "" {
		add(SeverityError, "sink.dsn", "must be set for sink kind %q", p.Sink.Kind)
	}

	known := map[string]bool{}
	for _, id := range TableIDs {
		known[id] = true
	}
	ids := make([]string, 0, len(p.Sink.Tables))
	for id := range p.Sink.Tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !known[id] {
			add(SeverityError, "sink.tables."+id, "unknown table id (one of %s)", strings.Join(TableIDs, ", "))
			continue
		}
		if strings.TrimSpace(p.Sink.Tables[id]) == "" {
			add(SeverityError, "sink.tables."+id, "must not be empty")
		}
	}

	if p.Runtime.PreviewRows < 0 {
		add(SeverityWarning, "runtime.preview_rows", "negative value %d is treated as 0", p.Runtime.PreviewRows)
	}
	if p.Runtime.SkipVerify {
		add(SeverityWarning, "runtime.skip_verify", "reloaded tables will not be compared with what was written")
	}

	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

func kindList(m map[string]bool) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
