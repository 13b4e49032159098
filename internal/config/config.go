// Package config defines the pipeline configuration file and its validation.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Logical sink identifiers for the three persisted tables.
const (
	TableMovie    = "movie"
	TableDirector = "director"
	TableJoined   = "joined"
)

// TableIDs lists the sink identifiers a pipeline writes, in write order.
var TableIDs = []string{TableMovie, TableDirector, TableJoined}

// Pipeline is the top-level job description.
type Pipeline struct {
	Job     string        `json:"job" yaml:"job"`
	Source  Source        `json:"source" yaml:"source"`
	Queries Queries       `json:"queries" yaml:"queries"`
	Sink    Sink          `json:"sink" yaml:"sink"`
	Runtime RuntimeConfig `json:"runtime" yaml:"runtime"`
}

// Source is the relational database the two queries run against.
type Source struct {
	// Kind: "mysql" | "postgres" | "sqlite" | "sqlserver"
	Kind string `json:"kind" yaml:"kind"`
	// DSN may reference environment variables (${IMDB_DSN}); they are
	// expanded when the connection is opened.
	DSN string `json:"dsn" yaml:"dsn"`
}

// Queries names the files holding the two SQL texts.
type Queries struct {
	Movie    string `json:"movie" yaml:"movie"`
	Director string `json:"director" yaml:"director"`
}

// Sink is where the movie, director and joined tables are persisted.
type Sink struct {
	// Kind: "csv" | "sqlite" | "postgres" | "mssql"
	Kind string `json:"kind" yaml:"kind"`
	// DSN is a directory for csv and a connection string otherwise.
	DSN string `json:"dsn" yaml:"dsn"`
	// Tables maps logical ids (movie, director, joined) to file paths or
	// table names. Missing ids fall back to the backend default.
	Tables  map[string]string `json:"tables,omitempty" yaml:"tables,omitempty"`
	Options Options           `json:"options,omitempty" yaml:"options,omitempty"`
}

// RuntimeConfig controls run behavior that is not part of the data flow.
type RuntimeConfig struct {
	// PreviewRows is how many rows of each extracted table are logged in
	// verbose mode. 0 disables the preview.
	PreviewRows int `json:"preview_rows" yaml:"preview_rows"`

	// SkipVerify disables the read-after-write comparison. The reload
	// itself always happens because the reloaded tables feed the join.
	SkipVerify bool `json:"skip_verify" yaml:"skip_verify"`
}

// Default returns the layout the job has always used: SQL under ./SQL and
// CSV output under ./data.
func Default() Pipeline {
	return Pipeline{
		Job: "imdb_prep",
		Source: Source{
			Kind: "mysql",
			DSN:  "${IMDB_DSN}",
		},
		Queries: Queries{
			Movie:    "SQL/movie_related_information.sql",
			Director: "SQL/director_related_information.sql",
		},
		Sink: Sink{
			Kind: "csv",
			DSN:  "data",
			Tables: map[string]string{
				TableMovie:    "data/movie_related_information.csv",
				TableDirector: "data/director_related_information.csv",
				TableJoined:   "data/joined_table.csv",
			},
		},
		Runtime: RuntimeConfig{PreviewRows: 5},
	}
}

// Load reads a pipeline file. ".yaml"/".yml" files are decoded as YAML,
// anything else as JSON. Fields absent from the file keep Default values.
func Load(path string) (Pipeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config: %w", err)
	}
	return Decode(raw, filepath.Ext(path))
}

// Decode parses raw config bytes; ext selects the format like Load does.
func Decode(raw []byte, ext string) (Pipeline, error) {
	p := Default()
	// Tables from the file replace the default map rather than merging into it.
	p.Sink.Tables = nil

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return Pipeline{}, fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, fmt.Errorf("decode config: %w", err)
		}
	}

	if p.Sink.Tables == nil && p.Sink.Kind == "csv" && p.Sink.DSN == Default().Sink.DSN {
		p.Sink.Tables = Default().Sink.Tables
	}
	return p, nil
}

// ExpandDSN expands ${VAR} references in a DSN.
func ExpandDSN(dsn string) string {
	return os.ExpandEnv(dsn)
}
