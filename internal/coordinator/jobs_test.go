package coordinator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrasher-corp/wowlab-fleet/internal/coordinator/store"
	"github.com/thrasher-corp/wowlab-fleet/internal/model"
)

type recordingBus struct {
	channels []string
	payloads [][]byte
}

func (b *recordingBus) Broadcast(channel string, data []byte) {
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, data)
}

func newJobService(t *testing.T) (*JobService, *store.Store, *recordingBus) {
	t.Helper()
	s, err := store.Connect(context.Background(), store.Config{
		Driver:           store.DriverSQLite,
		ConnectionString: "file::memory:?cache=shared",
		MigrationsDir:    "store/migrations",
	})
	require.NoError(t, err)
	s.DB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = s.Close() })

	bus := &recordingBus{}
	svc := NewJobService(
		store.NewJobRepository(s),
		store.NewChunkRepository(s),
		NewAssignmentRegistry(),
		bus,
	)
	return svc, s, bus
}

// TestSubmitSplitsAndAdvertises covers the job intake path end to end:
// a submitted job lands as one job row plus ceil(iterations/chunk_size)
// pending chunk rows, and exactly one chunks-available push goes out on
// the bus carrying the new job id.
func TestSubmitSplitsAndAdvertises(t *testing.T) {
	svc, s, bus := newJobService(t)

	id, err := svc.Submit(context.Background(), SubmitJobParams{
		ConfigHash:       "cafebabe",
		RotationID:       "bm-st",
		RotationChecksum: "v1",
		Iterations:       1050,
		ChunkSize:        100,
		BaseSeed:         0xC0FFEE,
		OwningUser:       "alice",
	})
	require.NoError(t, err)

	job, err := store.NewJobRepository(s).Get(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 0xC0FFEE, job.BaseSeed)

	chunks := store.NewChunkRepository(s)
	pending, err := chunks.JobsWithPendingChunks(context.Background())
	require.NoError(t, err)
	assert.Contains(t, pending, id)

	last, err := chunks.GetChunk(context.Background(), id, 10)
	require.NoError(t, err)
	assert.Equal(t, model.ChunkPending, last.Status)
	assert.EqualValues(t, 50, last.Iterations, "tail chunk carries the remainder")

	require.Len(t, bus.channels, 1)
	assert.Equal(t, "chunks-available", bus.channels[0])
	var push struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(bus.payloads[0], &push))
	assert.Equal(t, id.String(), push.JobID)
}

func TestSubmitRejectsNonPositiveSplit(t *testing.T) {
	svc, _, bus := newJobService(t)

	_, err := svc.Submit(context.Background(), SubmitJobParams{Iterations: 100, ChunkSize: 0})
	assert.Error(t, err)
	_, err = svc.Submit(context.Background(), SubmitJobParams{Iterations: 0, ChunkSize: 100})
	assert.Error(t, err)
	assert.Empty(t, bus.channels, "nothing may be advertised for a rejected job")
}

// TestSubmitRegistersEligibilityFilter covers the restricted-audience
// path: supplying AuthorizedUsers installs a filter that gates the job
// for outsiders while leaving it visible to members.
func TestSubmitRegistersEligibilityFilter(t *testing.T) {
	svc, _, _ := newJobService(t)

	id, err := svc.Submit(context.Background(), SubmitJobParams{
		ConfigHash:       "cafebabe",
		RotationID:       "bm-st",
		RotationChecksum: "v1",
		Iterations:       100,
		ChunkSize:        100,
		OwningUser:       "alice",
		AuthorizedUsers:  []string{"alice", "bob"},
	})
	require.NoError(t, err)

	assert.Equal(t, []model.JobID{id}, svc.Assignment.EligibleJobs([]model.JobID{id}, "bob"))
	assert.Empty(t, svc.Assignment.EligibleJobs([]model.JobID{id}, "mallory"))

	svc.Retire(id)
	assert.Equal(t, []model.JobID{id}, svc.Assignment.EligibleJobs([]model.JobID{id}, "mallory"))
}
