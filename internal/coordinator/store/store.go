// Package store is the coordinator's relational persistence layer. It
// follows the teacher's dual-driver shape (database/testhelpers wires
// both a postgres and a sqlite3 connection behind one database.Config):
// production runs against Postgres via lib/pq, and a single-binary
// dev/test mode runs against mattn/go-sqlite3, with schema managed by
// goose migrations. There is no sqlboiler-generated model layer here —
// the schema is small enough, and the chunk-transition queries are all
// hand-written CAS statements, that a generated ORM would add an
// unusable build step without earning its keep (see DESIGN.md).
package store

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Driver selects the backing relational engine.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite3"
)

// Config describes how to reach the coordinator's relational store,
// mirroring the teacher's database.Config shape.
type Config struct {
	Driver            Driver
	ConnectionString  string
	MigrationsDir     string
}

// Store wraps the open *sql.DB along with the driver, since a few
// queries (upsert semantics, LIMIT/RETURNING support) differ between
// Postgres and SQLite.
type Store struct {
	DB     *sql.DB
	Driver Driver
}

// Connect opens the configured driver and applies pending goose
// migrations from cfg.MigrationsDir.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open(string(cfg.Driver), cfg.ConnectionString)
	if err != nil {
		return nil, errors.Wrap(err, "store: open")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "store: ping")
	}
	s := &Store{DB: db, Driver: cfg.Driver}
	if cfg.MigrationsDir != "" {
		if err := s.migrate(cfg.MigrationsDir); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) migrate(dir string) error {
	return errors.Wrap(gooseUp(s.DB, s.Driver, dir), "store: migrate: up")
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}
