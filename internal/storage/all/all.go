// Package all registers every storage backend.
package all

import (
	_ "imdbetl/internal/storage/csvfile"
	_ "imdbetl/internal/storage/mssql"
	_ "imdbetl/internal/storage/postgres"
	_ "imdbetl/internal/storage/sqlite"
)
