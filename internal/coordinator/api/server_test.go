package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/thrasher-corp/wowlab-fleet/internal/coordinator"
	"github.com/thrasher-corp/wowlab-fleet/internal/coordinator/store"
	"github.com/thrasher-corp/wowlab-fleet/internal/signing"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := store.Connect(context.Background(), store.Config{
		Driver:           store.DriverSQLite,
		ConnectionString: "file::memory:?cache=shared",
		MigrationsDir:    "../store/migrations",
	})
	require.NoError(t, err)
	s.DB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = s.Close() })

	srv := NewServer(
		store.NewJobRepository(s),
		store.NewChunkRepository(s),
		store.NewNodeRepository(s),
		store.NewConfigRepository(s),
		store.NewRotationRepository(s),
		signing.NewInMemoryNonceStore(),
		coordinator.NewAssignmentRegistry(),
	)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func registerTestNode(t *testing.T, ts *httptest.Server) (nodeID string, kp signing.KeyPair) {
	t.Helper()
	var err error
	kp, err = signing.GenerateKeyPair()
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"public_key_hex": hex.EncodeToString(kp.Public),
		"declared_cores": 4,
		"max_parallel":   4,
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/nodes/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		NodeID    string `json:"node_id"`
		ClaimCode string `json:"claim_code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.NodeID)
	require.Len(t, out.ClaimCode, 8)
	return out.NodeID, kp
}

// signedPost builds the exact request shape the worker's http client
// sends, with caller-controlled timestamp and nonce so replay/stale
// cases can be staged.
func signedPost(t *testing.T, ts *httptest.Server, nodeID string, priv ed25519.PrivateKey, path string, body []byte, timestamp int64, nonce string) *http.Response {
	t.Helper()
	sig := signing.Sign(priv, http.MethodPost, path, body, timestamp, nonce)

	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Node-Id", nodeID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-Nonce", nonce)
	req.Header.Set("X-Signature", hex.EncodeToString(sig))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// TestSignedHeartbeatAcceptedOnceRejectedOnReplay covers the replay
// scenario end to end over real HTTP: the first delivery of a signed
// request succeeds, and an exact byte-for-byte replay one moment later
// is rejected with 401.
func TestSignedHeartbeatAcceptedOnceRejectedOnReplay(t *testing.T) {
	_, ts := newTestServer(t)
	nodeID, kp := registerTestNode(t, ts)

	body := []byte(`{"status":"online"}`)
	now := time.Now().UTC().Unix()

	resp := signedPost(t, ts, nodeID, kp.Private, "/nodes/heartbeat", body, now, "nonce-1")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	replay := signedPost(t, ts, nodeID, kp.Private, "/nodes/heartbeat", body, now, "nonce-1")
	replay.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, replay.StatusCode)
}

// TestSignedRequestRejectedWhenStale covers the other E5 arm: the same
// signed request presented with a timestamp outside the skew window is
// rejected regardless of its never-used nonce.
func TestSignedRequestRejectedWhenStale(t *testing.T) {
	_, ts := newTestServer(t)
	nodeID, kp := registerTestNode(t, ts)

	body := []byte(`{"status":"online"}`)
	stale := time.Now().UTC().Add(-10 * time.Minute).Unix()

	resp := signedPost(t, ts, nodeID, kp.Private, "/nodes/heartbeat", body, stale, "nonce-stale")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSignedRequestRejectsWrongKey(t *testing.T) {
	_, ts := newTestServer(t)
	nodeID, _ := registerTestNode(t, ts)
	imposter, err := signing.GenerateKeyPair()
	require.NoError(t, err)

	resp := signedPost(t, ts, nodeID, imposter.Private, "/nodes/heartbeat", []byte(`{}`), time.Now().UTC().Unix(), "n")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnsignedRequestToSignedRouteRejected(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/chunks/claim", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestClaimWithNoPendingWorkReturnsNoContent covers the contention
// convention: an empty claim is a 204, not an error status, so workers
// resume polling without tripping retry logic.
func TestClaimWithNoPendingWorkReturnsNoContent(t *testing.T) {
	_, ts := newTestServer(t)
	nodeID, kp := registerTestNode(t, ts)

	body := []byte(`{"candidate_jobs":[]}`)
	resp := signedPost(t, ts, nodeID, kp.Private, "/chunks/claim", body, time.Now().UTC().Unix(), "claim-1")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

// TestClaimRateLimitHonored covers the per-node claim throttle: once
// the node's burst is spent, further claims get 429 with a positive
// Retry-After, while a different node is unaffected.
func TestClaimRateLimitHonored(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.claimRate = rate.Limit(0.5)
	srv.claimBurst = 1

	nodeID, kp := registerTestNode(t, ts)
	body := []byte(`{"candidate_jobs":[]}`)

	first := signedPost(t, ts, nodeID, kp.Private, "/chunks/claim", body, time.Now().UTC().Unix(), "rl-1")
	first.Body.Close()
	require.Equal(t, http.StatusNoContent, first.StatusCode)

	second := signedPost(t, ts, nodeID, kp.Private, "/chunks/claim", body, time.Now().UTC().Unix(), "rl-2")
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	retryAfter, err := strconv.Atoi(second.Header.Get("Retry-After"))
	require.NoError(t, err)
	assert.Positive(t, retryAfter)

	otherID, otherKP := registerTestNode(t, ts)
	third := signedPost(t, ts, otherID, otherKP.Private, "/chunks/claim", body, time.Now().UTC().Unix(), "rl-3")
	third.Body.Close()
	assert.Equal(t, http.StatusNoContent, third.StatusCode, "the limiter is per node, not global")
}

func TestGetConfigUnknownHash(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/configs/doesnotexist")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestPutThenGetRotation covers the rotation read/write pair: an
// upserted script comes back with a checksum that changes when the
// script body changes, which is the signal worker caches invalidate on.
func TestPutThenGetRotation(t *testing.T) {
	_, ts := newTestServer(t)

	put := func(script string) string {
		body, err := json.Marshal(map[string]string{"script": script})
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPut, ts.URL+"/rotations/bm-st", bytes.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out struct {
			Checksum string `json:"checksum"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out.Checksum
	}

	v1 := put(`cast("kill_command")`)
	v2 := put(`cast("barbed_shot")`)
	assert.NotEqual(t, v1, v2)

	resp, err := http.Get(ts.URL + "/rotations/bm-st")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rs struct {
		Script   string `json:"script"`
		Checksum string `json:"checksum"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rs))
	assert.Equal(t, `cast("barbed_shot")`, rs.Script)
	assert.Equal(t, v2, rs.Checksum)
}
