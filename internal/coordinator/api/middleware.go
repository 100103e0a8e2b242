package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/thrasher-corp/wowlab-fleet/internal/model"
	"github.com/thrasher-corp/wowlab-fleet/internal/signing"
)

type ctxKey int

const nodeIDCtxKey ctxKey = iota

func nodeIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(nodeIDCtxKey).(string)
	return v
}

// signatureMiddleware enforces the signed-request protocol on every
// worker-initiated route: the caller presents X-Node-Id,
// X-Timestamp, X-Nonce and X-Signature headers; the body is re-hashed
// and checked against the node's registered public key.
func (s *Server) signatureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nodeIDStr := r.Header.Get("X-Node-Id")
		tsStr := r.Header.Get("X-Timestamp")
		nonce := r.Header.Get("X-Nonce")
		sigHex := r.Header.Get("X-Signature")
		if nodeIDStr == "" || tsStr == "" || nonce == "" || sigHex == "" {
			writeError(w, http.StatusUnauthorized, "missing signature headers")
			return
		}

		nodeID, err := model.NewJobIDFromString(nodeIDStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "malformed node id")
			return
		}

		ts, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "malformed timestamp")
			return
		}

		sig, err := hex.DecodeString(sigHex)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "malformed signature")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		pub, err := s.Nodes.PublicKey(r.Context(), nodeID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unknown node")
			return
		}

		err = signing.Verify(r.Context(), s.Nonces, ed25519.PublicKey(pub), nodeIDStr,
			r.Method, r.URL.Path, body, ts, nonce, sig, time.Now().UTC(), s.Skew)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), nodeIDCtxKey, nodeIDStr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
