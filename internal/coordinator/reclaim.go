// Package coordinator wires the chunk state machine, eligibility
// filters, reclamation cron and signed-request verification into the
// worker-facing HTTP API.
package coordinator

import (
	"context"
	"time"

	"github.com/thrasher-corp/wowlab-fleet/internal/coordinator/store"
	"github.com/thrasher-corp/wowlab-fleet/internal/log"
)

// DefaultLiveness is how long a running chunk may go without a liveness
// signal from its assigned worker before it is considered abandoned.
const DefaultLiveness = 60 * time.Second

// DefaultReclaimInterval is the periodic reclaim timer's default period.
const DefaultReclaimInterval = time.Minute

// DefaultNodeGarbageTTL is how long a node may sit unclaimed in pending
// status before it is garbage-collected.
const DefaultNodeGarbageTTL = time.Hour

// Reclaimer runs the periodic safety net that reverts abandoned running
// chunks back to pending and garbage-collects stale pending node
// registrations. It is the sole mechanism that retracts in-flight work:
// the coordinator otherwise has no way to cancel a chunk a worker is
// already running.
type Reclaimer struct {
	chunks   *store.ChunkRepository
	nodes    *store.NodeRepository
	liveness time.Duration
	interval time.Duration
	nodeTTL  time.Duration

	// reclaimedTotal counts reclaim events, one increment per
	// UPDATE-affected row per tick: a chunk reclaimed twice counts twice.
	// See DESIGN.md for why multi-reclaims aren't deduplicated.
	reclaimedTotal int64
}

// NewReclaimer builds a Reclaimer with the package's default timings.
func NewReclaimer(chunks *store.ChunkRepository, nodes *store.NodeRepository) *Reclaimer {
	return &Reclaimer{
		chunks:   chunks,
		nodes:    nodes,
		liveness: DefaultLiveness,
		interval: DefaultReclaimInterval,
		nodeTTL:  DefaultNodeGarbageTTL,
	}
}

// ReclaimedTotal reports the running count of reclaim events.
func (r *Reclaimer) ReclaimedTotal() int64 { return r.reclaimedTotal }

// Run blocks, ticking every r.interval until ctx is canceled.
func (r *Reclaimer) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.tick(ctx)
		}
	}
}

func (r *Reclaimer) tick(ctx context.Context) {
	now := time.Now().UTC()

	n, err := r.chunks.ReclaimStale(ctx, r.liveness, now)
	if err != nil {
		log.Coordinator.Error("reclaim stale chunks failed", "error", err)
	} else if n > 0 {
		r.reclaimedTotal += n
		log.Coordinator.Info("reclaimed stale chunks", "count", n)
	}

	gc, err := r.nodes.GarbageCollectPending(ctx, r.nodeTTL, now)
	if err != nil {
		log.Coordinator.Error("gc pending nodes failed", "error", err)
	} else if gc > 0 {
		log.Coordinator.Info("garbage collected pending nodes", "count", gc)
	}
}
