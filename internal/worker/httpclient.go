package worker

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/thrasher-corp/wowlab-fleet/internal/signing"
)

// CoordinatorClient is the worker's outbound HTTP client, signing every
// worker-authenticated request and leaving the content addressed
// config/rotation GET routes unsigned, matching the coordinator's route
// table (internal/coordinator/api.Server.Router).
type CoordinatorClient struct {
	BaseURL string
	NodeID  string
	Priv    ed25519.PrivateKey
	HTTP    *http.Client
}

// NewCoordinatorClient builds a client bound to one node identity.
func NewCoordinatorClient(baseURL, nodeID string, priv ed25519.PrivateKey) *CoordinatorClient {
	return &CoordinatorClient{
		BaseURL: baseURL,
		NodeID:  nodeID,
		Priv:    priv,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
			},
		},
	}
}

// httpRetryMaxAttempts, httpRetryBaseDelay and httpRetryCapDelay implement
// the outbound retry policy every coordinator call is wrapped in:
// exponential backoff with factor 2 capped at 5s, at most 3 attempts. A
// 429 waits out its Retry-After header instead of the exponential delay;
// a 5xx or transport error falls back to the exponential schedule; any
// other 4xx is terminal and returned to the caller on the first try.
const (
	httpRetryMaxAttempts = 3
	httpRetryBaseDelay   = 250 * time.Millisecond
	httpRetryCapDelay    = 5 * time.Second
)

// doWithRetry drives one logical request through send, which must build
// and dispatch a fresh *http.Request on every call (so a signed request
// gets a fresh timestamp/nonce on each retry rather than replaying a
// stale signature).
func doWithRetry(ctx context.Context, send func() (*http.Response, error)) (*http.Response, error) {
	delay := httpRetryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= httpRetryMaxAttempts; attempt++ {
		resp, err := send()
		switch {
		case err != nil:
			lastErr = errors.Wrap(err, "coordinator client: request")

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := delay
			if ra, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
				wait = ra
			}
			resp.Body.Close()
			lastErr = errors.Errorf("coordinator client: status %d", resp.StatusCode)
			if attempt == httpRetryMaxAttempts {
				return nil, lastErr
			}
			if !sleepCtx(ctx, wait) {
				return nil, ctx.Err()
			}
			continue

		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = errors.Errorf("coordinator client: status %d", resp.StatusCode)

		default:
			return resp, nil
		}

		if attempt == httpRetryMaxAttempts {
			break
		}
		if !sleepCtx(ctx, delay) {
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > httpRetryCapDelay {
			delay = httpRetryCapDelay
		}
	}
	return nil, lastErr
}

// parseRetryAfter reads a Retry-After header's delay-seconds form (the
// coordinator never emits the HTTP-date form).
func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// signedRequest builds and sends a signed request carrying
// X-Node-Id/X-Timestamp/X-Nonce/X-Signature headers, per the canonical
// string internal/signing.CanonicalString defines, retrying per the
// policy above.
func (c *CoordinatorClient) signedRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	return doWithRetry(ctx, func() (*http.Response, error) {
		nonce, err := uuid.NewV4()
		if err != nil {
			return nil, errors.Wrap(err, "coordinator client: nonce")
		}
		ts := time.Now().UTC().Unix()
		sig := signing.Sign(c.Priv, method, path, body, ts, nonce.String())

		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "coordinator client: build request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Node-Id", c.NodeID)
		req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
		req.Header.Set("X-Nonce", nonce.String())
		req.Header.Set("X-Signature", hex.EncodeToString(sig))

		return c.HTTP.Do(req)
	})
}

func (c *CoordinatorClient) plainRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	return doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "coordinator client: build request")
		}
		req.Header.Set("Content-Type", "application/json")
		return c.HTTP.Do(req)
	})
}

// ErrUnauthorized is returned for any signed-route 401: a worker seeing
// this on a steady-state route (heartbeat, claim, report) has a
// signature or node registration problem that retrying will not fix.
var ErrUnauthorized = errors.New("coordinator client: unauthorized")

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return errors.Errorf("coordinator client: status %d: %s", resp.StatusCode, string(b))
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// Register calls POST /nodes/register, unsigned (no node identity exists
// yet).
func (c *CoordinatorClient) Register(ctx context.Context, pub ed25519.PublicKey, declaredCores, maxParallel int) (nodeID, claimCode string, err error) {
	body, _ := json.Marshal(map[string]any{
		"public_key_hex": hex.EncodeToString(pub),
		"declared_cores": declaredCores,
		"max_parallel":   maxParallel,
	})
	resp, err := c.plainRequest(ctx, http.MethodPost, "/nodes/register", body)
	if err != nil {
		return "", "", errors.Wrap(err, "coordinator client: register")
	}
	var out struct {
		NodeID    string `json:"node_id"`
		ClaimCode string `json:"claim_code"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", "", err
	}
	return out.NodeID, out.ClaimCode, nil
}

// Heartbeat calls the signed POST /nodes/heartbeat route.
func (c *CoordinatorClient) Heartbeat(ctx context.Context, status string) error {
	body, _ := json.Marshal(map[string]string{"status": status})
	resp, err := c.signedRequest(ctx, http.MethodPost, "/nodes/heartbeat", body)
	if err != nil {
		return errors.Wrap(err, "coordinator client: heartbeat")
	}
	return decodeJSON(resp, nil)
}

// ClaimedChunk is the descriptor the coordinator hands back from a
// successful /chunks/claim call.
type ClaimedChunk struct {
	JobID            string `json:"job_id"`
	ChunkIndex       int64  `json:"chunk_index"`
	Iterations       int64  `json:"iterations"`
	Seed             uint64 `json:"seed"`
	ConfigHash       string `json:"config_hash"`
	RotationID       string `json:"rotation_id"`
	RotationChecksum string `json:"rotation_checksum"`
}

// ErrNoChunkAvailable is returned by ClaimChunk when the coordinator has
// nothing to hand out (204 No Content).
var ErrNoChunkAvailable = errors.New("coordinator client: no chunk available")

// ClaimChunk calls the signed, rate-limited POST /chunks/claim route
// with the candidate job ids the worker currently sees advertised on
// the pub/sub bus.
func (c *CoordinatorClient) ClaimChunk(ctx context.Context, candidateJobs []string) (ClaimedChunk, error) {
	body, _ := json.Marshal(map[string]any{"candidate_jobs": candidateJobs})
	resp, err := c.signedRequest(ctx, http.MethodPost, "/chunks/claim", body)
	if err != nil {
		return ClaimedChunk{}, errors.Wrap(err, "coordinator client: claim chunk")
	}
	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return ClaimedChunk{}, ErrNoChunkAvailable
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return ClaimedChunk{}, errors.New("coordinator client: claim rate limited")
	}
	var out ClaimedChunk
	if err := decodeJSON(resp, &out); err != nil {
		return ClaimedChunk{}, err
	}
	return out, nil
}

// ReportResult calls the signed POST /chunks/report route with an
// aggregated stats summary.
func (c *CoordinatorClient) ReportResult(ctx context.Context, jobID string, chunkIndex int64, count int64, mean, stddev, min, max float64) error {
	body, _ := json.Marshal(map[string]any{
		"job_id": jobID, "chunk_index": chunkIndex,
		"count": count, "mean": mean, "stddev": stddev, "min": min, "max": max,
	})
	resp, err := c.signedRequest(ctx, http.MethodPost, "/chunks/report", body)
	if err != nil {
		return errors.Wrap(err, "coordinator client: report result")
	}
	return decodeJSON(resp, nil)
}

// ReportFailure calls the signed POST /chunks/report route with a
// failure reason, letting the coordinator decide on requeue vs. terminal
// failure.
func (c *CoordinatorClient) ReportFailure(ctx context.Context, jobID string, chunkIndex int64, reason string) error {
	body, _ := json.Marshal(map[string]any{
		"job_id": jobID, "chunk_index": chunkIndex, "failure": reason,
	})
	resp, err := c.signedRequest(ctx, http.MethodPost, "/chunks/report", body)
	if err != nil {
		return errors.Wrap(err, "coordinator client: report failure")
	}
	return decodeJSON(resp, nil)
}

// ChunkHeartbeat calls the signed POST /chunks/heartbeat route, refreshing
// the in-progress chunk's liveness timestamp.
func (c *CoordinatorClient) ChunkHeartbeat(ctx context.Context, jobID string, chunkIndex int64) error {
	body, _ := json.Marshal(map[string]any{"job_id": jobID, "chunk_index": chunkIndex})
	resp, err := c.signedRequest(ctx, http.MethodPost, "/chunks/heartbeat", body)
	if err != nil {
		return errors.Wrap(err, "coordinator client: chunk heartbeat")
	}
	return decodeJSON(resp, nil)
}

// FetchConfig calls the unsigned GET /configs/{hash} route, returning the
// raw canonical JSON bytes for the worker's config cache to unmarshal.
func (c *CoordinatorClient) FetchConfig(ctx context.Context, hash string) ([]byte, error) {
	resp, err := c.plainRequest(ctx, http.MethodGet, fmt.Sprintf("/configs/%s", hash), nil)
	if err != nil {
		return nil, errors.Wrap(err, "coordinator client: fetch config")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, errors.Errorf("coordinator client: fetch config status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}

// FetchRotation calls the unsigned GET /rotations/{id} route.
func (c *CoordinatorClient) FetchRotation(ctx context.Context, id string) (script, checksum string, err error) {
	resp, err := c.plainRequest(ctx, http.MethodGet, fmt.Sprintf("/rotations/%s", id), nil)
	if err != nil {
		return "", "", errors.Wrap(err, "coordinator client: fetch rotation")
	}
	var out struct {
		ID       string
		Script   string
		Checksum string
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", "", err
	}
	return out.Script, out.Checksum, nil
}
