package sqlserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imdbetl/internal/source"
)

func TestInit_RegistersKind(t *testing.T) {
	assert.Contains(t, source.Kinds(), "sqlserver")
}

func TestOpen_BadDSNIsConnectionError(t *testing.T) {
	_, err := Open(context.Background(), source.Config{Kind: "sqlserver", DSN: "sqlserver://imdb:pw@%zz/?database=imdb"})
	var ce *source.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "sqlserver", ce.Kind)
}

func TestOpen_ThroughRegistry(t *testing.T) {
	_, err := source.Open(context.Background(), source.Config{Kind: "sqlserver", DSN: "sqlserver://imdb:pw@%zz/?database=imdb"})
	var ce *source.ConnectionError
	require.ErrorAs(t, err, &ce)
}
