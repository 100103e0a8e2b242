// Package pool implements the worker node's fixed-size thread pool: one
// goroutine per slot, running the sim kernel to completion for one
// chunk. It is the architectural boundary between the async world
// (pub/sub, HTTP) and the synchronous sim kernel.
package pool

import (
	"context"

	"go.uber.org/atomic"

	"github.com/thrasher-corp/wowlab-fleet/internal/log"
	"github.com/thrasher-corp/wowlab-fleet/internal/model"
)

// Outcome is what a pool job reports back once it finishes, one of the
// categorized chunk outcomes the worker pool surfaces to the
// coordinator.
type Outcome struct {
	Chunk  model.ChunkDescriptor
	Result *model.ChunkResult
	Err    error // non-nil on failure (including recovered panics)
}

// Job is one unit of dispatched work: a chunk descriptor and the
// function that actually runs the sim kernel for it.
type Job struct {
	Chunk model.ChunkDescriptor
	Run   func(ctx context.Context) (model.ChunkResult, error)
}

// Pool is a bounded, fixed-size worker pool. Capacity never grows past
// the size fixed at construction (min(enabled_cores,
// declared_max_parallel)): Submit rejects work outright when every slot
// is busy rather than queuing it, so an overloaded worker never accepts
// a claim it cannot promptly start.
type Pool struct {
	size    int
	slots   chan struct{}
	outcome chan Outcome
	inFlight atomic.Int64
}

// New constructs a Pool with the given fixed size.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:    size,
		slots:   make(chan struct{}, size),
		outcome: make(chan Outcome, size),
	}
}

// Size returns the pool's fixed capacity.
func (p *Pool) Size() int { return p.size }

// InFlight returns the number of jobs currently executing.
func (p *Pool) InFlight() int64 { return p.inFlight.Load() }

// Outcomes returns the channel outcomes are reported on.
func (p *Pool) Outcomes() <-chan Outcome { return p.outcome }

// TrySubmit attempts to claim a pool slot and start j. It returns false
// immediately, without blocking, if the pool is saturated, so an
// overloaded worker never accepts work it cannot promptly start.
func (p *Pool) TrySubmit(ctx context.Context, j Job) bool {
	select {
	case p.slots <- struct{}{}:
	default:
		return false
	}

	p.inFlight.Inc()
	go p.run(ctx, j)
	return true
}

func (p *Pool) run(ctx context.Context, j Job) {
	defer func() {
		<-p.slots
		p.inFlight.Dec()
	}()

	outcome := Outcome{Chunk: j.Chunk}
	func() {
		defer func() {
			// Panics inside the sim kernel are caught at the pool
			// boundary, logged, and reported as a chunk failure; the
			// slot (and thus the "replaced" worker thread) is freed by
			// the outer defer regardless.
			if r := recover(); r != nil {
				log.Worker.Error("sim kernel panic", "chunk", j.Chunk.ChunkIndex, "recovered", r)
				outcome.Err = panicError{recovered: r}
			}
		}()
		result, err := j.Run(ctx)
		if err != nil {
			outcome.Err = err
			return
		}
		outcome.Result = &result
	}()

	p.outcome <- outcome
}

type panicError struct{ recovered any }

func (p panicError) Error() string { return "sim kernel panic" }
