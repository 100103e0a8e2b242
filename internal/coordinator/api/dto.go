package api

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

type registerNodeRequest struct {
	PublicKeyHex  string `json:"public_key_hex"`
	DeclaredCores int    `json:"declared_cores"`
	MaxParallel   int    `json:"max_parallel"`
}

type registerNodeResponse struct {
	NodeID    string `json:"node_id"`
	ClaimCode string `json:"claim_code"`
}

type claimNodeRequest struct {
	ClaimCode string `json:"claim_code"`
	User      string `json:"user"`
}

type heartbeatRequest struct {
	Status string `json:"status"`
}

type chunkHeartbeatRequest struct {
	JobID      string `json:"job_id"`
	ChunkIndex int64  `json:"chunk_index"`
}

type claimChunkRequest struct {
	CandidateJobs []string `json:"candidate_jobs"`
}

type chunkDescriptorResponse struct {
	JobID            string `json:"job_id"`
	ChunkIndex       int64  `json:"chunk_index"`
	Iterations       int64  `json:"iterations"`
	Seed             uint64 `json:"seed"`
	ConfigHash       string `json:"config_hash"`
	RotationID       string `json:"rotation_id"`
	RotationChecksum string `json:"rotation_checksum"`
}

type reportChunkRequest struct {
	JobID      string  `json:"job_id"`
	ChunkIndex int64   `json:"chunk_index"`
	Failure    string  `json:"failure,omitempty"`
	Count      int64   `json:"count,omitempty"`
	Mean       float64 `json:"mean,omitempty"`
	StdDev     float64 `json:"stddev,omitempty"`
	Min        float64 `json:"min,omitempty"`
	Max        float64 `json:"max,omitempty"`
}

type putRotationRequest struct {
	Script string `json:"script"`
}

type putConfigRequest struct {
	BodyHex string `json:"body_hex"`
}

type putConfigResponse struct {
	Hash string `json:"hash"`
}
