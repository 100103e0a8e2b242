package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/thrasher-corp/wowlab-fleet/internal/model"
)

// ErrNotFound is returned when a content-addressed config or rotation
// lookup misses: the caller's config hash or rotation id is unknown.
var ErrNotFound = errors.New("store: not found")

// ConfigRepository persists content-addressed SimConfig bytes.
type ConfigRepository struct{ s *Store }

// NewConfigRepository builds a repository bound to the given store.
func NewConfigRepository(s *Store) *ConfigRepository { return &ConfigRepository{s: s} }

// Put stores the canonical bytes under their content hash, a no-op if
// the hash already exists (configs are immutable once written).
func (r *ConfigRepository) Put(ctx context.Context, hash string, body []byte) error {
	_, err := r.s.DB.ExecContext(ctx,
		rebind(r.s.Driver, `INSERT INTO sim_configs (hash, body, created_at) VALUES (?, ?, ?)
			ON CONFLICT (hash) DO NOTHING`),
		hash, body, time.Now().UTC(),
	)
	if err != nil && r.s.Driver == DriverSQLite {
		// mattn/go-sqlite3 historically needs the SQLite-flavored upsert
		// syntax; ON CONFLICT works on both in modern sqlite3/pg, but
		// fall back explicitly if the conflict target differs.
		_, err = r.s.DB.ExecContext(ctx,
			`INSERT OR IGNORE INTO sim_configs (hash, body, created_at) VALUES (?, ?, ?)`,
			hash, body, time.Now().UTC())
	}
	return errors.Wrap(err, "store: put config")
}

// Get fetches canonical config bytes by hash.
func (r *ConfigRepository) Get(ctx context.Context, hash string) ([]byte, error) {
	row := r.s.DB.QueryRowContext(ctx, rebind(r.s.Driver, `SELECT body FROM sim_configs WHERE hash=?`), hash)
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "store: get config")
	}
	return body, nil
}

// RotationRepository persists mutable RotationScript rows.
type RotationRepository struct{ s *Store }

// NewRotationRepository builds a repository bound to the given store.
func NewRotationRepository(s *Store) *RotationRepository { return &RotationRepository{s: s} }

// Upsert writes (or overwrites) a rotation script and recomputes its
// checksum; consumers refetch when the checksum they hold goes stale.
func (r *RotationRepository) Upsert(ctx context.Context, id, script string) (string, error) {
	checksum := model.ChecksumScript(script)
	_, err := r.s.DB.ExecContext(ctx,
		rebind(r.s.Driver, `INSERT INTO rotation_scripts (id, script, checksum) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET script=excluded.script, checksum=excluded.checksum`),
		id, script, checksum,
	)
	return checksum, errors.Wrap(err, "store: upsert rotation")
}

// Get fetches the current script + checksum.
func (r *RotationRepository) Get(ctx context.Context, id string) (model.RotationScript, error) {
	row := r.s.DB.QueryRowContext(ctx,
		rebind(r.s.Driver, `SELECT script, checksum FROM rotation_scripts WHERE id=?`), id)
	var rs model.RotationScript
	rs.ID = id
	if err := row.Scan(&rs.Script, &rs.Checksum); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RotationScript{}, ErrNotFound
		}
		return model.RotationScript{}, errors.Wrap(err, "store: get rotation")
	}
	return rs, nil
}
