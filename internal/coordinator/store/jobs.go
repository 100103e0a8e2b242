package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/thrasher-corp/wowlab-fleet/internal/model"
)

// JobRepository persists submitted jobs and backs ChunkDescriptor
// construction once a chunk is claimed.
type JobRepository struct{ s *Store }

// NewJobRepository builds a repository bound to the given store.
func NewJobRepository(s *Store) *JobRepository { return &JobRepository{s: s} }

// Create inserts a new job row; CreateChunks (ChunkRepository) is called
// separately once the row exists, splitting it per job.ChunkCount().
func (r *JobRepository) Create(ctx context.Context, j model.Job) error {
	_, err := r.s.DB.ExecContext(ctx,
		rebind(r.s.Driver, `INSERT INTO jobs (id, config_hash, rotation_id, rotation_checksum, iterations, chunk_size, base_seed, owning_user, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		j.ID.String(), j.ConfigHash, j.RotationID, j.RotationChecksum, j.Iterations, j.ChunkSize, int64(j.BaseSeed), j.OwningUser, j.CreatedAt,
	)
	return errors.Wrap(err, "store: create job")
}

// Get fetches one job by id, used to fill in a ChunkDescriptor's
// config/rotation/seed fields once a chunk has been claimed.
func (r *JobRepository) Get(ctx context.Context, id model.JobID) (model.Job, error) {
	row := r.s.DB.QueryRowContext(ctx,
		rebind(r.s.Driver, `SELECT config_hash, rotation_id, rotation_checksum, iterations, chunk_size, base_seed, owning_user, created_at
			FROM jobs WHERE id=?`), id.String())

	var (
		j        model.Job
		baseSeed int64
	)
	j.ID = id
	if err := row.Scan(&j.ConfigHash, &j.RotationID, &j.RotationChecksum, &j.Iterations, &j.ChunkSize, &baseSeed, &j.OwningUser, &j.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, ErrNotFound
		}
		return model.Job{}, errors.Wrap(err, "store: get job")
	}
	j.BaseSeed = uint64(baseSeed)
	return j, nil
}
