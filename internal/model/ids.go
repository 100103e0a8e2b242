// Package model holds the shared data contracts of the fleet: jobs,
// chunks, sim configs, rotation scripts and worker node registrations.
// Nothing in this package performs I/O; it is the schema both the
// coordinator and the worker nodes agree on.
package model

import (
	"strconv"

	"github.com/gofrs/uuid"
)

// JobID identifies a user-submitted simulation job.
type JobID = uuid.UUID

// NodeID identifies a registered worker node.
type NodeID = uuid.UUID

// NewJobID mints a random job identifier.
func NewJobID() (JobID, error) {
	return uuid.NewV4()
}

// NewNodeID mints a random worker node identifier.
func NewNodeID() (NodeID, error) {
	return uuid.NewV4()
}

// NewJobIDFromString parses a job or node identifier back out of its
// string form (both are plain uuid.UUID under the JobID/NodeID aliases).
func NewJobIDFromString(s string) (uuid.UUID, error) {
	return uuid.FromString(s)
}

// ChunkID is a composite, deterministic identifier: a chunk is uniquely
// named by its parent job and index, never reassigned.
type ChunkID struct {
	Job   JobID
	Index int64
}

func (c ChunkID) String() string {
	return c.Job.String() + "/" + strconv.FormatInt(c.Index, 10)
}
