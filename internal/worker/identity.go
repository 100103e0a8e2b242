// Package worker implements the worker node's runtime: persisted node
// identity, claim-code bootstrap, and the orchestrator that wires the
// pub/sub client, bounded pool and config/rotation caches together.
package worker

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/thrasher-corp/wowlab-fleet/internal/signing"
)

// Identity is a worker node's durable self-knowledge: its assigned id,
// long-lived signing key pair, and the claim code last handed out by
// the coordinator (useful to reprint if the operator missed it on first
// run). It is the only state a worker node must survive a restart with.
type Identity struct {
	NodeID        string `json:"node_id"`
	PrivateKeyHex string `json:"private_key_hex"`
	PublicKeyHex  string `json:"public_key_hex"`
	LastKnownClaim string `json:"last_known_claim"`
}

// KeyPair reconstructs the ed25519 key pair from its hex encoding.
func (id Identity) KeyPair() (signing.KeyPair, error) {
	priv, err := hex.DecodeString(id.PrivateKeyHex)
	if err != nil {
		return signing.KeyPair{}, errors.Wrap(err, "identity: decode private key")
	}
	pub, err := hex.DecodeString(id.PublicKeyHex)
	if err != nil {
		return signing.KeyPair{}, errors.Wrap(err, "identity: decode public key")
	}
	return signing.KeyPair{Public: pub, Private: priv}, nil
}

// LoadIdentity reads a persisted identity from path. Returns
// os.ErrNotExist (wrapped) when no identity has been bootstrapped yet.
func LoadIdentity(path string) (Identity, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Identity{}, err
	}
	var id Identity
	if err := json.Unmarshal(b, &id); err != nil {
		return Identity{}, errors.Wrap(err, "identity: decode")
	}
	return id, nil
}

// SaveIdentity persists id to path via write-new-then-rename, so a crash
// mid-write never leaves a half-written identity file behind for the
// next start to trip over.
func SaveIdentity(path string, id Identity) error {
	b, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return errors.Wrap(err, "identity: encode")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".identity-*.tmp")
	if err != nil {
		return errors.Wrap(err, "identity: create temp")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "identity: write temp")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "identity: close temp")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "identity: rename")
	}
	return nil
}

// NewIdentity mints a fresh signing key pair for first-run bootstrap;
// NodeID and LastKnownClaim are filled in once registration completes.
func NewIdentity() (Identity, signing.KeyPair, error) {
	kp, err := signing.GenerateKeyPair()
	if err != nil {
		return Identity{}, signing.KeyPair{}, errors.Wrap(err, "identity: generate key pair")
	}
	return Identity{
		PrivateKeyHex: hex.EncodeToString(kp.Private),
		PublicKeyHex:  hex.EncodeToString(kp.Public),
	}, kp, nil
}
