package api

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/kat-co/vala"

	"github.com/thrasher-corp/wowlab-fleet/internal/coordinator/store"
	"github.com/thrasher-corp/wowlab-fleet/internal/model"
)

func (s *Server) handleNodeRegister(w http.ResponseWriter, r *http.Request) {
	var req registerNodeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	if err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(req.PublicKeyHex, "public_key_hex"),
	).Check(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DeclaredCores <= 0 || req.MaxParallel <= 0 {
		writeError(w, http.StatusBadRequest, "declared_cores and max_parallel must be positive")
		return
	}

	pub, err := hex.DecodeString(req.PublicKeyHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "public_key_hex: not valid hex")
		return
	}

	id, err := model.NewNodeID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "node id generation failed")
		return
	}

	n, err := s.Nodes.Register(r.Context(), model.WorkerNode{
		ID:            id,
		PublicKey:     pub,
		DeclaredCores: req.DeclaredCores,
		MaxParallel:   req.MaxParallel,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, registerNodeResponse{NodeID: n.ID.String(), ClaimCode: n.ClaimCode})
}

func (s *Server) handleNodeClaim(w http.ResponseWriter, r *http.Request) {
	var req claimNodeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(req.ClaimCode, "claim_code"),
		vala.StringNotEmpty(req.User, "user"),
	).Check(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.Nodes.ClaimByCode(r.Context(), req.ClaimCode, req.User); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNodeHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	id, err := model.NewJobIDFromString(nodeIDFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "bad node id")
		return
	}

	status := model.NodeStatus(req.Status)
	if status == "" {
		status = model.NodeOnline
	}
	if err := s.Nodes.Heartbeat(r.Context(), id, status, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChunkHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req chunkHeartbeatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	jobID, err := model.NewJobIDFromString(req.JobID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad job_id")
		return
	}
	workerID, err := model.NewJobIDFromString(nodeIDFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "bad node id")
		return
	}

	if err := s.Chunks.Heartbeat(r.Context(), jobID, req.ChunkIndex, workerID, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleChunksClaim implements the assignment protocol: a worker lists
// the jobs it is currently subscribed to on the pub/sub bus, the
// coordinator filters those through the worker's owning user's
// eligibility (the Bloom sketch never touches the database) and then
// attempts the atomic CAS claim against the filtered candidates in order.
func (s *Server) handleChunksClaim(w http.ResponseWriter, r *http.Request) {
	var req claimChunkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	workerID, err := model.NewJobIDFromString(nodeIDFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "bad node id")
		return
	}
	owningUser, err := s.Nodes.OwningUser(r.Context(), workerID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if owningUser == "" {
		// A node no user has claimed yet is registered but gets no work.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	candidates := make([]model.JobID, 0, len(req.CandidateJobs))
	for _, raw := range req.CandidateJobs {
		id, err := model.NewJobIDFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad candidate job id "+raw)
			return
		}
		candidates = append(candidates, id)
	}

	eligible := s.Assignment.EligibleJobs(candidates, owningUser)

	chunk, err := s.Chunks.ClaimNextEligible(r.Context(), eligible, workerID, time.Now().UTC())
	if err != nil {
		if err == store.ErrNotClaimed {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job, err := s.Jobs.Get(r.Context(), chunk.Job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, chunkDescriptorResponse{
		JobID:            chunk.Job.String(),
		ChunkIndex:       chunk.Index,
		Iterations:       chunk.Iterations,
		Seed:             job.BaseSeed + uint64(chunk.Index),
		ConfigHash:       job.ConfigHash,
		RotationID:       job.RotationID,
		RotationChecksum: job.RotationChecksum,
	})
}

func (s *Server) handleChunksReport(w http.ResponseWriter, r *http.Request) {
	var req reportChunkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	jobID, err := model.NewJobIDFromString(req.JobID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad job_id")
		return
	}
	workerID, err := model.NewJobIDFromString(nodeIDFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "bad node id")
		return
	}

	if req.Failure != "" {
		if err := s.Chunks.ReportFailure(r.Context(), jobID, req.ChunkIndex, workerID, req.Failure, s.MaxRetries); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	result := model.ChunkResult{Stats: model.StatSummary{
		Count: req.Count, Mean: req.Mean, StdDev: req.StdDev, Min: req.Min, Max: req.Max,
	}}
	if err := s.Chunks.ReportResult(r.Context(), jobID, req.ChunkIndex, workerID, result); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	body, err := s.Configs.Get(r.Context(), hash)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "unknown config hash")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body) //nolint:errcheck
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req putConfigRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	body, err := hex.DecodeString(req.BodyHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "body_hex: not valid hex")
		return
	}

	sum := sha256sum(body)
	if err := s.Configs.Put(r.Context(), sum, body); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, putConfigResponse{Hash: sum})
}

func (s *Server) handleGetRotation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rs, err := s.Rotations.Get(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "unknown rotation id")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handlePutRotation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req putRotationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(req.Script, "script"),
	).Check(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	checksum, err := s.Rotations.Upsert(r.Context(), id, req.Script)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.RotationScript{ID: id, Script: req.Script, Checksum: checksum})
}
