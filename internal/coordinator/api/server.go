// Package api implements the coordinator's HTTP surface:
// node registration/claim/heartbeat, the chunk claim/report protocol,
// and the config/rotation content-addressed fetch endpoints. Routing
// is github.com/gorilla/mux, request bodies are validated with
// github.com/kat-co/vala, and every worker-authenticated route is
// wrapped by the Ed25519 signed-request middleware of internal/signing.
package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/thrasher-corp/wowlab-fleet/internal/coordinator"
	"github.com/thrasher-corp/wowlab-fleet/internal/coordinator/store"
	"github.com/thrasher-corp/wowlab-fleet/internal/log"
	"github.com/thrasher-corp/wowlab-fleet/internal/signing"
)

// Server bundles every dependency the HTTP handlers need. It holds no
// transport-level state itself; gorilla/mux's Router is built once by
// NewServer and served by the caller's own http.Server.
type Server struct {
	Jobs       *store.JobRepository
	Chunks     *store.ChunkRepository
	Nodes      *store.NodeRepository
	Configs    *store.ConfigRepository
	Rotations  *store.RotationRepository
	Nonces     signing.NonceStore
	Assignment *coordinator.AssignmentRegistry

	Skew       time.Duration
	MaxRetries int

	limiters   sync.Map // model.NodeID.String() -> *rate.Limiter
	claimRate  rate.Limit
	claimBurst int
}

// NewServer wires a Server with the default signature skew window and a
// conservative default claim-rate limit, both overridable by field
// assignment before calling Router().
func NewServer(jobs *store.JobRepository, chunks *store.ChunkRepository, nodes *store.NodeRepository, configs *store.ConfigRepository, rotations *store.RotationRepository, nonces signing.NonceStore, assignment *coordinator.AssignmentRegistry) *Server {
	return &Server{
		Jobs:       jobs,
		Chunks:     chunks,
		Nodes:      nodes,
		Configs:    configs,
		Rotations:  rotations,
		Nonces:     nonces,
		Assignment: assignment,
		Skew:       signing.DefaultSkew,
		MaxRetries: 3,
		claimRate:  rate.Limit(2), // 2 claims/sec sustained per node
		claimBurst: 5,
	}
}

// Router builds the gorilla/mux route table for the worker-facing API.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logMiddleware)

	r.HandleFunc("/nodes/register", s.handleNodeRegister).Methods(http.MethodPost)
	r.HandleFunc("/nodes/claim", s.handleNodeClaim).Methods(http.MethodPost)

	signed := r.NewRoute().Subrouter()
	signed.Use(s.signatureMiddleware)
	signed.HandleFunc("/nodes/heartbeat", s.handleNodeHeartbeat).Methods(http.MethodPost)
	signed.HandleFunc("/chunks/claim", s.rateLimitClaim(s.handleChunksClaim)).Methods(http.MethodPost)
	signed.HandleFunc("/chunks/report", s.handleChunksReport).Methods(http.MethodPost)
	signed.HandleFunc("/chunks/heartbeat", s.handleChunkHeartbeat).Methods(http.MethodPost)

	r.HandleFunc("/configs/{hash}", s.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/configs", s.handlePutConfig).Methods(http.MethodPost)
	r.HandleFunc("/rotations/{id}", s.handleGetRotation).Methods(http.MethodGet)
	r.HandleFunc("/rotations/{id}", s.handlePutRotation).Methods(http.MethodPut)

	return r
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	logger := log.Sub("coordinator.api")
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logger.Debug("request", "method", req.Method, "path", req.URL.Path)
		next.ServeHTTP(w, req)
	})
}

// limiterFor returns (creating if absent) the per-node token bucket
// gating /chunks/claim, preventing one misbehaving worker from starving
// the claim path for the rest of the fleet.
func (s *Server) limiterFor(nodeID string) *rate.Limiter {
	if v, ok := s.limiters.Load(nodeID); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(s.claimRate, s.claimBurst)
	actual, _ := s.limiters.LoadOrStore(nodeID, l)
	return actual.(*rate.Limiter)
}

func (s *Server) rateLimitClaim(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodeID := nodeIDFromContext(r.Context())
		if nodeID != "" && !s.limiterFor(nodeID).Allow() {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(s.claimRate)))
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next(w, r)
	}
}

// retryAfterSeconds turns a sustained token-bucket rate into a whole
// number of seconds a caller should wait before its next token is
// available, rounding up so a retry never arrives early.
func retryAfterSeconds(limit rate.Limit) int {
	if limit <= 0 {
		return 1
	}
	secs := int(math.Ceil(1 / float64(limit)))
	if secs < 1 {
		secs = 1
	}
	return secs
}
