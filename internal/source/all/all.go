// Package all registers every source backend.
package all

import (
	_ "imdbetl/internal/source/mysql"
	_ "imdbetl/internal/source/postgres"
	_ "imdbetl/internal/source/sqlite"
	_ "imdbetl/internal/source/sqlserver"
)
