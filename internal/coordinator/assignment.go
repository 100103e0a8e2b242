package coordinator

import (
	"sync"

	"github.com/thrasher-corp/wowlab-fleet/internal/coordinator/eligibility"
	"github.com/thrasher-corp/wowlab-fleet/internal/model"
)

// EligibilityFilter describes a job's worker-eligibility rule: only
// workers whose owning user is a member of some authorized community may
// be notified of its chunks.
type EligibilityFilter struct {
	JobID   model.JobID
	sketch  *eligibility.Sketch
}

// NewEligibilityFilter pre-builds the membership sketch for a job's
// authorized-user set. Rebuilding happens whenever the job's community
// membership changes; lookups never touch the membership source again.
func NewEligibilityFilter(jobID model.JobID, authorizedUsers []string) EligibilityFilter {
	return EligibilityFilter{JobID: jobID, sketch: eligibility.NewSketch(authorizedUsers)}
}

// Allows reports whether a worker's owning user may be offered chunks
// from this job. A false positive lets an ineligible worker claim and
// run the chunk; the worker does not check eligibility itself.
func (f EligibilityFilter) Allows(owningUser string) bool {
	if f.sketch == nil {
		return true // no filter configured: open to all
	}
	return f.sketch.MayContain(owningUser)
}

// AssignmentRegistry keeps the in-memory set of active eligibility
// filters, one per job with a restricted audience. It is a small
// process-wide map guarded by a mutex, with its lifecycle made explicit
// by Register/Unregister rather than left as ambient global state.
type AssignmentRegistry struct {
	mu      sync.RWMutex
	filters map[model.JobID]EligibilityFilter
}

// NewAssignmentRegistry constructs an empty registry.
func NewAssignmentRegistry() *AssignmentRegistry {
	return &AssignmentRegistry{filters: make(map[model.JobID]EligibilityFilter)}
}

// Register installs (or replaces) a job's eligibility filter.
func (a *AssignmentRegistry) Register(f EligibilityFilter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filters[f.JobID] = f
}

// Unregister drops a job's filter once the job is terminal.
func (a *AssignmentRegistry) Unregister(jobID model.JobID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.filters, jobID)
}

// EligibleJobs filters candidateJobs down to the ones whose filter (if
// any) allows owningUser, preserving the order of candidateJobs (no
// cross-job order is imposed here).
func (a *AssignmentRegistry) EligibleJobs(candidateJobs []model.JobID, owningUser string) []model.JobID {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]model.JobID, 0, len(candidateJobs))
	for _, jobID := range candidateJobs {
		f, ok := a.filters[jobID]
		if !ok || f.Allows(owningUser) {
			out = append(out, jobID)
		}
	}
	return out
}
