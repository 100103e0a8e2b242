package store

import (
	"database/sql"

	"github.com/thrasher-corp/goose"
)

// sqlDialect maps the active driver onto the dialect name goose
// understands.
func sqlDialect(d Driver) string {
	if d == DriverPostgres {
		return "postgres"
	}
	return "sqlite3"
}

func gooseUp(db *sql.DB, d Driver, dir string) error {
	return goose.Run("up", db, sqlDialect(d), dir, "")
}
