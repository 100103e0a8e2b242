package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrasher-corp/wowlab-fleet/internal/model"
)

func newJobID(t *testing.T) model.JobID {
	t.Helper()
	id, err := model.NewJobID()
	require.NoError(t, err)
	return id
}

// TestEligibleJobsFiltersByOwningUser covers the assignment gate: a job
// with a registered filter only surfaces for users in its authorized
// set, while unfiltered jobs surface for everyone.
func TestEligibleJobsFiltersByOwningUser(t *testing.T) {
	reg := NewAssignmentRegistry()

	restricted := newJobID(t)
	open := newJobID(t)
	reg.Register(NewEligibilityFilter(restricted, []string{"alice", "bob"}))

	candidates := []model.JobID{restricted, open}

	forAlice := reg.EligibleJobs(candidates, "alice")
	assert.Equal(t, candidates, forAlice, "authorized user sees both jobs in order")

	forMallory := reg.EligibleJobs(candidates, "mallory")
	assert.Equal(t, []model.JobID{open}, forMallory, "outsider only sees the unfiltered job")
}

func TestEligibleJobsPreservesCandidateOrder(t *testing.T) {
	reg := NewAssignmentRegistry()
	a, b, c := newJobID(t), newJobID(t), newJobID(t)

	got := reg.EligibleJobs([]model.JobID{c, a, b}, "anyone")
	assert.Equal(t, []model.JobID{c, a, b}, got)
}

// TestUnregisterDropsFilter covers filter retirement: dropping a
// terminal job's filter removes the restriction record entirely, which
// by the registry's semantics makes the job open — callers are expected
// to stop advertising terminal jobs rather than rely on the filter.
func TestUnregisterDropsFilter(t *testing.T) {
	reg := NewAssignmentRegistry()
	job := newJobID(t)
	reg.Register(NewEligibilityFilter(job, []string{"alice"}))

	require.Empty(t, reg.EligibleJobs([]model.JobID{job}, "mallory"))

	reg.Unregister(job)
	assert.Equal(t, []model.JobID{job}, reg.EligibleJobs([]model.JobID{job}, "mallory"))
}

func TestFilterWithNoSketchAllowsAll(t *testing.T) {
	f := EligibilityFilter{JobID: newJobID(t)}
	assert.True(t, f.Allows("anyone"))
}
