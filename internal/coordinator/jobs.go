package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/thrasher-corp/wowlab-fleet/internal/coordinator/store"
	"github.com/thrasher-corp/wowlab-fleet/internal/log"
	"github.com/thrasher-corp/wowlab-fleet/internal/model"
	"github.com/thrasher-corp/wowlab-fleet/internal/pubsub"
)

// Broadcaster is the subset of *pubsub.Hub the job service needs; kept
// as an interface so job-creation logic is testable without a live
// websocket hub.
type Broadcaster interface {
	Broadcast(channel string, data []byte)
}

var _ Broadcaster = (*pubsub.Hub)(nil)

// SubmitJobParams is everything a caller (a web UI, or the
// cmd/coordinator submit-job CLI) supplies to create a job: a config
// already PUT to /configs, a rotation already PUT to /rotations, and
// the split/seed parameters.
type SubmitJobParams struct {
	ConfigHash       string
	RotationID       string
	RotationChecksum string
	Iterations       int64
	ChunkSize        int64
	BaseSeed         uint64
	OwningUser       string
	AuthorizedUsers  []string // optional eligibility filter membership
}

// JobService splits a submitted job into pending chunk rows and
// advertises its availability on the bus: splits into chunks, then
// broadcasts a chunks-available event.
type JobService struct {
	Jobs        *store.JobRepository
	Chunks      *store.ChunkRepository
	Assignment  *AssignmentRegistry
	Bus         Broadcaster
}

// NewJobService wires a JobService from its dependencies.
func NewJobService(jobs *store.JobRepository, chunks *store.ChunkRepository, assignment *AssignmentRegistry, bus Broadcaster) *JobService {
	return &JobService{Jobs: jobs, Chunks: chunks, Assignment: assignment, Bus: bus}
}

type jobAvailablePush struct {
	JobID string `json:"job_id"`
}

// Submit creates the job row, splits it into pending chunk rows,
// registers an eligibility filter (if one was requested) and broadcasts
// a chunks-available push so subscribed workers add the job to their
// claim candidate set.
func (s *JobService) Submit(ctx context.Context, p SubmitJobParams) (model.JobID, error) {
	if p.ChunkSize <= 0 {
		return model.JobID{}, errors.New("coordinator: chunk_size must be positive")
	}
	if p.Iterations <= 0 {
		return model.JobID{}, errors.New("coordinator: iterations must be positive")
	}

	id, err := model.NewJobID()
	if err != nil {
		return model.JobID{}, errors.Wrap(err, "coordinator: submit: new job id")
	}

	job := model.Job{
		ID:               id,
		ConfigHash:       p.ConfigHash,
		RotationID:       p.RotationID,
		RotationChecksum: p.RotationChecksum,
		Iterations:       p.Iterations,
		ChunkSize:        p.ChunkSize,
		BaseSeed:         p.BaseSeed,
		OwningUser:       p.OwningUser,
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.Jobs.Create(ctx, job); err != nil {
		return model.JobID{}, err
	}
	if err := s.Chunks.CreateChunks(ctx, job); err != nil {
		return model.JobID{}, err
	}

	if len(p.AuthorizedUsers) > 0 && s.Assignment != nil {
		s.Assignment.Register(NewEligibilityFilter(id, p.AuthorizedUsers))
	}

	if s.Bus != nil {
		data, err := json.Marshal(jobAvailablePush{JobID: id.String()})
		if err != nil {
			return model.JobID{}, errors.Wrap(err, "coordinator: submit: encode push")
		}
		s.Bus.Broadcast("chunks-available", data)
	}

	log.Coordinator.Info("job submitted", "job_id", id, "chunks", job.ChunkCount())
	return id, nil
}

// Retire drops a terminal job's eligibility filter, once all its chunks
// reach a terminal state (the caller is responsible for checking that,
// e.g. via ChunkRepository — JobService itself holds no polling loop).
func (s *JobService) Retire(jobID model.JobID) {
	if s.Assignment != nil {
		s.Assignment.Unregister(jobID)
	}
}
