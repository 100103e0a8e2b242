package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null"

	"github.com/thrasher-corp/wowlab-fleet/internal/model"
)

// ErrNotClaimed is returned by Claim when the targeted chunk already
// moved out from under the caller — not an error condition, just a
// signal to keep polling.
var ErrNotClaimed = errors.New("store: chunk not claimed")

// ChunkRepository persists the chunk lifecycle state machine: pending,
// running, done and failed, with claim/report/reclaim as the only
// transitions.
type ChunkRepository struct {
	s *Store
}

// NewChunkRepository builds a repository bound to the given store.
func NewChunkRepository(s *Store) *ChunkRepository {
	return &ChunkRepository{s: s}
}

// CreateChunks inserts the pending rows for a freshly split job.
func (r *ChunkRepository) CreateChunks(ctx context.Context, job model.Job) error {
	tx, err := r.s.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "store: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	for i := int64(0); i < job.ChunkCount(); i++ {
		_, err := tx.ExecContext(ctx,
			rebind(r.s.Driver, `INSERT INTO chunks (job_id, chunk_index, iterations, status) VALUES (?, ?, ?, 'pending')`),
			job.ID.String(), i, job.ChunkIterations(i),
		)
		if err != nil {
			return errors.Wrap(err, "store: insert chunk")
		}
	}
	return tx.Commit()
}

// Claim performs an atomic compare-and-swap: only a pending, unassigned
// chunk for the given job moves to running. Returns ErrNotClaimed (not
// a hard error) if no row matched.
func (r *ChunkRepository) Claim(ctx context.Context, jobID model.JobID, chunkIndex int64, worker model.NodeID, now time.Time) error {
	res, err := r.s.DB.ExecContext(ctx,
		rebind(r.s.Driver, `UPDATE chunks SET status='running', assigned_worker=?, claimed_at=?, last_liveness_at=?
			WHERE job_id=? AND chunk_index=? AND status='pending' AND assigned_worker IS NULL`),
		worker.String(), now, now, jobID.String(), chunkIndex,
	)
	if err != nil {
		return errors.Wrap(err, "store: claim")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "store: claim rows affected")
	}
	if n == 0 {
		return ErrNotClaimed
	}
	return nil
}

// ClaimNextEligible finds and claims the first pending chunk belonging to
// a job whose eligibility check accepts the worker's owning user. The
// eligibility filter (a Bloom sketch, see internal/coordinator/eligibility)
// is applied by the caller before the row is even considered, since it
// never touches the database.
func (r *ChunkRepository) ClaimNextEligible(ctx context.Context, jobIDs []model.JobID, worker model.NodeID, now time.Time) (*model.Chunk, error) {
	for _, jobID := range jobIDs {
		row := r.s.DB.QueryRowContext(ctx,
			rebind(r.s.Driver, `SELECT chunk_index, iterations FROM chunks WHERE job_id=? AND status='pending' AND assigned_worker IS NULL ORDER BY chunk_index LIMIT 1`),
			jobID.String(),
		)
		var idx, iterations int64
		if err := row.Scan(&idx, &iterations); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, errors.Wrap(err, "store: scan candidate")
		}
		if err := r.Claim(ctx, jobID, idx, worker, now); err != nil {
			if errors.Is(err, ErrNotClaimed) {
				continue // lost the race, try next job
			}
			return nil, err
		}
		return &model.Chunk{Job: jobID, Index: idx, Iterations: iterations, Status: model.ChunkRunning, AssignedWorker: &worker}, nil
	}
	return nil, ErrNotClaimed
}

// ReportResult transitions a running chunk to done. It is only permitted
// when reporter equals the chunk's assigned worker.
func (r *ChunkRepository) ReportResult(ctx context.Context, jobID model.JobID, chunkIndex int64, reporter model.NodeID, result model.ChunkResult) error {
	res, err := r.s.DB.ExecContext(ctx,
		rebind(r.s.Driver, `UPDATE chunks SET status='done', result_count=?, result_mean=?, result_stddev=?, result_min=?, result_max=?
			WHERE job_id=? AND chunk_index=? AND status='running' AND assigned_worker=?`),
		result.Stats.Count, result.Stats.Mean, result.Stats.StdDev, result.Stats.Min, result.Stats.Max,
		jobID.String(), chunkIndex, reporter.String(),
	)
	if err != nil {
		return errors.Wrap(err, "store: report result")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.New("store: report result: chunk not running or not assigned to reporter")
	}
	return nil
}

// ReportFailure transitions a running chunk back to pending (if retries
// remain) or to failed (terminal).
func (r *ChunkRepository) ReportFailure(ctx context.Context, jobID model.JobID, chunkIndex int64, reporter model.NodeID, reason string, maxRetries int) error {
	row := r.s.DB.QueryRowContext(ctx,
		rebind(r.s.Driver, `SELECT retry_count FROM chunks WHERE job_id=? AND chunk_index=? AND status='running' AND assigned_worker=?`),
		jobID.String(), chunkIndex, reporter.String(),
	)
	var retries int
	if err := row.Scan(&retries); err != nil {
		return errors.Wrap(err, "store: report failure: scan retry count")
	}

	nextStatus := model.ChunkPending
	var nextWorker any
	if retries+1 >= maxRetries {
		nextStatus = model.ChunkFailed
		nextWorker = reporter.String()
	}

	_, err := r.s.DB.ExecContext(ctx,
		rebind(r.s.Driver, `UPDATE chunks SET status=?, assigned_worker=?, claimed_at=NULL, failure_reason=?, retry_count=retry_count+1
			WHERE job_id=? AND chunk_index=? AND status='running' AND assigned_worker=?`),
		string(nextStatus), nextWorker, reason, jobID.String(), chunkIndex, reporter.String(),
	)
	return errors.Wrap(err, "store: report failure")
}

// Heartbeat records a liveness signal for a chunk's assigned worker.
func (r *ChunkRepository) Heartbeat(ctx context.Context, jobID model.JobID, chunkIndex int64, worker model.NodeID, now time.Time) error {
	_, err := r.s.DB.ExecContext(ctx,
		rebind(r.s.Driver, `UPDATE chunks SET last_liveness_at=? WHERE job_id=? AND chunk_index=? AND assigned_worker=? AND status='running'`),
		now, jobID.String(), chunkIndex, worker.String(),
	)
	return errors.Wrap(err, "store: heartbeat")
}

// ReclaimStale reverts any running chunk whose liveness is older than
// staleAfter back to pending, clearing its assigned worker. This is the
// sole safety net against a worker that silently dies mid-chunk: a
// reclaimed chunk is never left running with a stale worker. Returns
// the number of rows reclaimed.
func (r *ChunkRepository) ReclaimStale(ctx context.Context, staleAfter time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-staleAfter)
	res, err := r.s.DB.ExecContext(ctx,
		rebind(r.s.Driver, `UPDATE chunks SET status='pending', assigned_worker=NULL, claimed_at=NULL
			WHERE status='running' AND last_liveness_at < ?`),
		cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "store: reclaim stale")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "store: reclaim rows affected")
}

// JobsWithPendingChunks returns distinct job ids that currently have at
// least one pending chunk, newest-job-last so assignment stays
// best-effort FIFO across jobs rather than strictly fair.
func (r *ChunkRepository) JobsWithPendingChunks(ctx context.Context) ([]model.JobID, error) {
	rows, err := r.s.DB.QueryContext(ctx,
		`SELECT c.job_id FROM chunks c JOIN jobs j ON j.id = c.job_id
		 WHERE c.status='pending'
		 GROUP BY c.job_id, j.created_at ORDER BY j.created_at, c.job_id`)
	if err != nil {
		return nil, errors.Wrap(err, "store: jobs with pending chunks")
	}
	defer rows.Close()

	var ids []model.JobID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := model.NewJobIDFromString(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetChunk reads back one chunk row. assigned_worker and claimed_at are
// nullable columns (pending/done chunks have neither); scanning them as
// null.String/null.Time is what this repo uses volatiletech/null for in
// place of the sqlboiler-generated model layer it dropped (see DESIGN.md).
func (r *ChunkRepository) GetChunk(ctx context.Context, jobID model.JobID, chunkIndex int64) (model.Chunk, error) {
	row := r.s.DB.QueryRowContext(ctx,
		rebind(r.s.Driver, `SELECT iterations, status, assigned_worker, claimed_at, failure_reason, retry_count
			FROM chunks WHERE job_id=? AND chunk_index=?`),
		jobID.String(), chunkIndex,
	)

	var (
		iterations int64
		status     string
		worker     null.String
		claimedAt  null.Time
		reason     null.String
		retries    int
	)
	if err := row.Scan(&iterations, &status, &worker, &claimedAt, &reason, &retries); err != nil {
		return model.Chunk{}, errors.Wrap(err, "store: get chunk")
	}

	c := model.Chunk{
		Job:           jobID,
		Index:         chunkIndex,
		Iterations:    iterations,
		Status:        model.ChunkStatus(status),
		FailureReason: reason.String,
		RetryCount:    retries,
	}
	if worker.Valid {
		id, err := model.NewJobIDFromString(worker.String)
		if err != nil {
			return model.Chunk{}, errors.Wrap(err, "store: get chunk: assigned worker id")
		}
		c.AssignedWorker = &id
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		c.ClaimedAt = &t
	}
	return c, nil
}

// rebind rewrites '?' placeholders into the active driver's dialect.
func rebind(d Driver, query string) string {
	if d != DriverPostgres {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			out = append(out, '$')
			out = append(out, []byte(itoa(n))...)
			n++
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func itoa(n int) string {
	if n < 10 {
		return string(rune('0' + n))
	}
	return itoa(n/10) + string(rune('0'+n%10))
}
