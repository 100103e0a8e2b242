package worker

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/thrasher-corp/wowlab-fleet/internal/log"
	"github.com/thrasher-corp/wowlab-fleet/internal/model"
	"github.com/thrasher-corp/wowlab-fleet/internal/pubsub"
	"github.com/thrasher-corp/wowlab-fleet/internal/sim"
	"github.com/thrasher-corp/wowlab-fleet/internal/worker/cache"
	"github.com/thrasher-corp/wowlab-fleet/internal/worker/pool"
)

// Config is everything a Runtime needs to start.
type Config struct {
	APIURL       string
	BusURL       string
	EnabledCores int
	StorageDir   string
	LogLevel     string
}

// identityPath is the fixed filename under StorageDir holding the
// persisted node identity.
const identityPath = "identity.json"

// Runtime is the worker node's orchestrator: it owns the persisted
// identity, the pub/sub client, the bounded pool and the config/rotation
// caches, and is the only point where the async world (pub/sub pushes,
// HTTP calls) hands work to the synchronous sim kernel.
type Runtime struct {
	cfg    Config
	client *CoordinatorClient
	ident  Identity

	pubsub   *pubsub.Client
	pool     *pool.Pool
	configs  *cache.ConfigCache
	rotas    *cache.RotationCache

	mu        sync.Mutex
	candidate map[model.JobID]struct{} // jobs currently advertised on chunks-available

	authFail chan *AuthFailure
}

// consecutiveUnauthorizedLimit is how many back-to-back 401s on a
// steady-state signed route it takes before the worker gives up
// retrying and surfaces an AuthFailure: a single 401 could be a
// coordinator hiccup, but a run of them means the signature itself is
// rejected.
const consecutiveUnauthorizedLimit = 5

// Bootstrap loads a persisted identity from cfg.StorageDir, registering
// a fresh one with the coordinator on first run via the claim-code flow,
// writing the new identity file atomically (write-new-then-rename).
func Bootstrap(ctx context.Context, cfg Config) (*Runtime, error) {
	path := cfg.StorageDir + "/" + identityPath

	ident, err := LoadIdentity(path)
	if err != nil {
		newIdent, kp, genErr := NewIdentity()
		if genErr != nil {
			return nil, errors.Wrap(genErr, "worker: bootstrap: generate identity")
		}
		bootstrapClient := NewCoordinatorClient(cfg.APIURL, "", kp.Private)
		nodeID, claimCode, regErr := bootstrapClient.Register(ctx, kp.Public, cfg.EnabledCores, cfg.EnabledCores)
		if regErr != nil {
			return nil, errors.Wrap(regErr, "worker: bootstrap: register")
		}
		newIdent.NodeID = nodeID
		newIdent.LastKnownClaim = claimCode
		if saveErr := SaveIdentity(path, newIdent); saveErr != nil {
			return nil, errors.Wrap(saveErr, "worker: bootstrap: save identity")
		}
		log.Worker.Info("registered new node, awaiting claim", "node_id", nodeID, "claim_code", claimCode)
		ident = newIdent
	}

	return newRuntime(cfg, ident)
}

func newRuntime(cfg Config, ident Identity) (*Runtime, error) {
	kp, err := ident.KeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "worker: runtime: key pair")
	}

	client := NewCoordinatorClient(cfg.APIURL, ident.NodeID, ed25519.PrivateKey(kp.Private))

	size := cfg.EnabledCores
	if size < 1 {
		size = 1
	}
	p := pool.New(size)

	configs := cache.NewConfigCache(cache.DefaultConfigTTL, cache.DefaultConfigCapacity,
		func(ctx context.Context, hash string) (model.SimConfig, error) {
			body, err := client.FetchConfig(ctx, hash)
			if err != nil {
				return model.SimConfig{}, err
			}
			var cfg model.SimConfig
			if err := json.Unmarshal(body, &cfg); err != nil {
				return model.SimConfig{}, errors.Wrap(err, "worker: decode config")
			}
			return cfg, nil
		})

	rotas := cache.NewRotationCache(func(ctx context.Context, id string) (cache.RotationEntry, error) {
		script, checksum, err := client.FetchRotation(ctx, id)
		if err != nil {
			return cache.RotationEntry{}, err
		}
		return cache.RotationEntry{Script: script, Checksum: checksum}, nil
	})

	rt := &Runtime{
		cfg:       cfg,
		client:    client,
		ident:     ident,
		pool:      p,
		configs:   configs,
		rotas:     rotas,
		candidate: make(map[model.JobID]struct{}),
		authFail:  make(chan *AuthFailure, 1),
	}

	rt.pubsub = pubsub.NewClient(cfg.BusURL, pubsub.NewGorillaDialer(), &credential{client: client}, rt.onPush)
	return rt, nil
}

// credential adapts the CoordinatorClient's node identity into the
// pub/sub client's Authenticator: the bearer credential presented on
// connect is just the node id (signature auth happens on the HTTP side);
// Refresh is a no-op since nothing short-lived needs rotating on this
// side of the fence (the hub issues no session tokens; the client's
// token-expired path only ever calls this no-op).
type credential struct {
	client *CoordinatorClient
}

func (c *credential) Credential(ctx context.Context) (string, error) {
	return c.client.NodeID, nil
}

func (c *credential) Refresh(ctx context.Context) error {
	return nil
}

// onPush handles a chunks-available / targeted-assignment push frame
// from the bus.
func (rt *Runtime) onPush(push pubsub.PushFrame) {
	switch push.Channel {
	case "chunks-available":
		var body struct {
			JobID string `json:"job_id"`
		}
		if err := json.Unmarshal(push.Data, &body); err != nil {
			return
		}
		id, err := model.NewJobIDFromString(body.JobID)
		if err != nil {
			return
		}
		rt.mu.Lock()
		rt.candidate[id] = struct{}{}
		rt.mu.Unlock()
	default:
		// targeted assignment pushes reuse the same claim path; the bus
		// is advisory, not authoritative (the claim CAS is).
	}
}

// Run drives the worker node until ctx is canceled: the pub/sub session,
// the heartbeat loop and the claim poller all run concurrently. A
// persistent authentication failure in either of the latter two cancels
// the internal context so every subsystem winds down before Run returns
// the AuthFailure.
func (rt *Runtime) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if err := rt.pubsub.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Worker.Error("pubsub client exited", "error", err)
		}
	}()

	go func() {
		defer wg.Done()
		rt.heartbeatLoop(runCtx, cancel)
	}()

	go func() {
		defer wg.Done()
		rt.claimLoop(runCtx, cancel)
	}()

	wg.Wait()

	select {
	case fail := <-rt.authFail:
		return fail
	default:
		return ctx.Err()
	}
}

func (rt *Runtime) heartbeatLoop(ctx context.Context, cancel context.CancelFunc) {
	t := time.NewTicker(pubsub.DefaultHeartbeat)
	defer t.Stop()
	consecutiveUnauthorized := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := rt.client.Heartbeat(ctx, string(model.NodeOnline))
			if err == nil {
				consecutiveUnauthorized = 0
				continue
			}
			log.Worker.Warn("heartbeat failed", "error", err)
			if errors.Is(err, ErrUnauthorized) {
				consecutiveUnauthorized++
				if consecutiveUnauthorized >= consecutiveUnauthorizedLimit {
					rt.signalAuthFailure("heartbeat", err, cancel)
					return
				}
			} else {
				consecutiveUnauthorized = 0
			}
		}
	}
}

// signalAuthFailure delivers a non-blocking AuthFailure signal to Run and
// cancels the shared run context so every subsystem winds down; the
// channel is buffered by one so only the first reporter's failure reason
// wins, which is fine since any persistent-401 report is equally
// actionable.
func (rt *Runtime) signalAuthFailure(route string, err error, cancel context.CancelFunc) {
	select {
	case rt.authFail <- &AuthFailure{Route: route, Err: err}:
	default:
	}
	cancel()
}

// claimLoop repeatedly attempts to claim a chunk among the currently
// advertised candidate jobs and dispatch it to the pool, backing off
// briefly when nothing is available or the pool is saturated: claims
// are rejected, not buffered, when the pool is full, so this loop
// simply waits for a free slot before trying again.
func (rt *Runtime) claimLoop(ctx context.Context, cancel context.CancelFunc) {
	const idleDelay = 2 * time.Second
	consecutiveUnauthorized := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if rt.pool.InFlight() >= int64(rt.pool.Size()) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleDelay):
			}
			continue
		}

		candidates := rt.candidateJobs()
		claimed, err := rt.client.ClaimChunk(ctx, candidates)
		if err != nil {
			if !errors.Is(err, ErrNoChunkAvailable) {
				log.Worker.Warn("claim failed", "error", err)
			}
			if errors.Is(err, ErrUnauthorized) {
				consecutiveUnauthorized++
				if consecutiveUnauthorized >= consecutiveUnauthorizedLimit {
					rt.signalAuthFailure("claim", err, cancel)
					return
				}
			} else {
				consecutiveUnauthorized = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleDelay):
			}
			continue
		}
		consecutiveUnauthorized = 0

		rt.dispatch(ctx, claimed)
	}
}

func (rt *Runtime) candidateJobs() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]string, 0, len(rt.candidate))
	for id := range rt.candidate {
		out = append(out, id.String())
	}
	return out
}

// dispatch resolves a claimed chunk's config/rotation and submits it to
// the pool. Submission failure (pool saturated between the size check
// and here) is reported as a failure so the coordinator's reclamation
// timer retracts the chunk rather than losing it silently.
func (rt *Runtime) dispatch(ctx context.Context, claimed ClaimedChunk) {
	job := Job{Chunk: claimed}

	submitted := rt.pool.TrySubmit(ctx, pool.Job{
		Chunk: model.ChunkDescriptor{
			JobID:            mustParseJobID(claimed.JobID),
			ChunkIndex:       claimed.ChunkIndex,
			Iterations:       claimed.Iterations,
			Seed:             claimed.Seed,
			ConfigHash:       claimed.ConfigHash,
			RotationID:       claimed.RotationID,
			RotationChecksum: claimed.RotationChecksum,
		},
		Run: func(ctx context.Context) (model.ChunkResult, error) {
			return rt.runChunk(ctx, job)
		},
	})

	if !submitted {
		// The size gate in claimLoop already avoids this in practice; if
		// it still races, report the failure so the coordinator reclaims.
		if err := rt.client.ReportFailure(ctx, claimed.JobID, claimed.ChunkIndex, "pool-saturated"); err != nil {
			log.Worker.Warn("report pool-saturated failure failed", "error", err)
		}
		return
	}

	go rt.drainOutcome(ctx)
}

// Job bundles a claimed chunk descriptor for the duration of its run.
type Job struct {
	Chunk ClaimedChunk
}

func mustParseJobID(s string) model.JobID {
	id, err := model.NewJobIDFromString(s)
	if err != nil {
		return model.JobID{}
	}
	return id
}

// chunkLivenessInterval is how often a worker refreshes a running
// chunk's liveness row; a third of the coordinator's default 60s
// staleness horizon leaves two missed beats of slack before a live
// chunk gets reclaimed out from under it.
const chunkLivenessInterval = 20 * time.Second

// chunkLivenessLoop keeps the claimed chunk's liveness timestamp fresh
// for as long as the sim kernel is still running it.
func (rt *Runtime) chunkLivenessLoop(ctx context.Context, c ClaimedChunk) {
	t := time.NewTicker(chunkLivenessInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := rt.client.ChunkHeartbeat(ctx, c.JobID, c.ChunkIndex); err != nil {
				log.Worker.Warn("chunk liveness beat failed", "chunk", c.ChunkIndex, "error", err)
			}
		}
	}
}

// runChunk resolves config + rotation (populating caches) and runs the
// sim kernel over the chunk's iteration range, keeping the chunk's
// liveness fresh for the duration.
func (rt *Runtime) runChunk(ctx context.Context, j Job) (model.ChunkResult, error) {
	liveCtx, stopLiveness := context.WithCancel(ctx)
	defer stopLiveness()
	go rt.chunkLivenessLoop(liveCtx, j.Chunk)

	cfg, err := rt.configs.Get(ctx, j.Chunk.ConfigHash)
	if err != nil {
		return model.ChunkResult{}, errors.Wrap(err, "worker: resolve config")
	}

	entry, err := rt.rotas.Resolve(ctx, j.Chunk.RotationID, j.Chunk.RotationChecksum)
	if err != nil {
		return model.ChunkResult{}, errors.Wrap(err, "worker: resolve rotation")
	}

	cap, err := sim.BuildCapability(cfg, entry.Script, nil)
	if err != nil {
		return model.ChunkResult{}, errors.Wrap(err, "worker: build capability")
	}

	durationMS := cfg.Target.DurationMS
	workers := rt.pool.Size()
	acc, err := sim.RunChunk(ctx, cap, j.Chunk.Seed, 0, int(j.Chunk.Iterations), durationMS, workers)
	if err != nil {
		return model.ChunkResult{}, errors.Wrap(err, "worker: run chunk")
	}

	return model.ChunkResult{Stats: acc.Summary()}, nil
}

// drainOutcome waits for exactly one pool outcome and reports it; the
// pool's Outcomes channel is shared across slots, so each dispatch spawns
// one drain goroutine per submitted job rather than a single long-lived
// consumer, keeping the (chunk, outcome) pairing obvious.
func (rt *Runtime) drainOutcome(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case o := <-rt.pool.Outcomes():
		if o.Err != nil {
			if err := rt.client.ReportFailure(ctx, o.Chunk.JobID.String(), o.Chunk.ChunkIndex, o.Err.Error()); err != nil {
				log.Worker.Warn("report failure failed", "error", err)
			}
			return
		}
		s := o.Result.Stats
		if err := rt.client.ReportResult(ctx, o.Chunk.JobID.String(), o.Chunk.ChunkIndex, s.Count, s.Mean, s.StdDev, s.Min, s.Max); err != nil {
			log.Worker.Warn("report result failed", "error", err)
		}
	}
}
