// Package signing implements the signed request protocol every
// worker-initiated HTTP request carries: (node_id, timestamp, nonce,
// signature), verified against the node's registered public key.
//
// Crypto primitives are treated as a black-box capability elsewhere in
// this system — this package wires that capability to the standard
// library's ed25519, the one primitive in the whole dependency surface
// where reaching past the standard library buys nothing: every
// third-party Ed25519 package in the ecosystem is itself a wrapper over
// crypto/ed25519.
package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrSignatureInvalid = errors.New("signing: signature invalid")
	ErrTimestampSkew     = errors.New("signing: timestamp outside skew window")
	ErrReplay            = errors.New("signing: nonce replayed within window")
)

// DefaultSkew is the default allowed clock-skew window on either side of
// a request's timestamp.
const DefaultSkew = 5 * time.Minute

// KeyPair is a worker node's long-lived signing identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair mints a new Ed25519 key pair for first-run bootstrap.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// CanonicalString builds the exact string signed by the worker:
// method || path || body_hash || timestamp || nonce.
func CanonicalString(method, path string, body []byte, timestamp int64, nonce string) string {
	bodyHash := sha256.Sum256(body)
	return method + "|" + path + "|" + hex.EncodeToString(bodyHash[:]) + "|" +
		strconv.FormatInt(timestamp, 10) + "|" + nonce
}

// Sign produces a signature over the canonical request string.
func Sign(priv ed25519.PrivateKey, method, path string, body []byte, timestamp int64, nonce string) []byte {
	msg := CanonicalString(method, path, body, timestamp, nonce)
	return ed25519.Sign(priv, []byte(msg))
}

// Verify checks a signature, the timestamp skew window and, via the
// supplied NonceStore, that (node_id, nonce) has not been seen before
// within the window, rejecting replays of a previously accepted request.
func Verify(ctx context.Context, store NonceStore, pub ed25519.PublicKey, nodeID, method, path string, body []byte, timestamp int64, nonce string, sig []byte, now time.Time, skew time.Duration) error {
	reqTime := time.Unix(timestamp, 0)
	if reqTime.Before(now.Add(-skew)) || reqTime.After(now.Add(skew)) {
		return ErrTimestampSkew
	}

	msg := CanonicalString(method, path, body, timestamp, nonce)
	if !ed25519.Verify(pub, []byte(msg), sig) {
		return ErrSignatureInvalid
	}

	seen, err := store.SeenAndRecord(ctx, nodeID, nonce, reqTime, skew)
	if err != nil {
		return errors.Wrap(err, "signing: nonce store")
	}
	if seen {
		return ErrReplay
	}
	return nil
}

// NonceStore deduplicates (node_id, nonce) pairs within the skew window.
// A coordinator-backed implementation persists to the relational store;
// InMemoryNonceStore below is sufficient for single-process deployments
// and tests.
type NonceStore interface {
	// SeenAndRecord atomically checks whether nonce was already recorded
	// for nodeID within the window and, if not, records it. Returns true
	// if it was a replay.
	SeenAndRecord(ctx context.Context, nodeID, nonce string, at time.Time, window time.Duration) (bool, error)
}

type nonceEntry struct {
	at time.Time
}

// InMemoryNonceStore is a sweep-on-access nonce cache keyed by
// (nodeID, nonce), bounded by periodic expiry of entries past the skew
// window.
type InMemoryNonceStore struct {
	mu      sync.Mutex
	entries map[string]nonceEntry
}

// NewInMemoryNonceStore constructs an empty store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{entries: make(map[string]nonceEntry)}
}

func (s *InMemoryNonceStore) SeenAndRecord(_ context.Context, nodeID, nonce string, at time.Time, window time.Duration) (bool, error) {
	key := nodeID + "|" + nonce
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.entries {
		if at.Sub(e.at) > window*2 {
			delete(s.entries, k)
		}
	}

	if _, ok := s.entries[key]; ok {
		return true, nil
	}
	s.entries[key] = nonceEntry{at: at}
	return false, nil
}
