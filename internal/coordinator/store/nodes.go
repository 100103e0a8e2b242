package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base32"
	"time"

	"github.com/pkg/errors"

	"github.com/thrasher-corp/wowlab-fleet/internal/model"
)

// NodeRepository persists WorkerNode registrations, including the
// claim-code bootstrap flow.
type NodeRepository struct {
	s *Store
}

// NewNodeRepository builds a repository bound to the given store.
func NewNodeRepository(s *Store) *NodeRepository {
	return &NodeRepository{s: s}
}

// claimCodeAlphabet avoids visually ambiguous characters (0/O, 1/I) for a
// code a human types in from the web UI.
const claimCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newClaimCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	enc := base32.NewEncoding(claimCodeAlphabet).WithPadding(base32.NoPadding)
	return enc.EncodeToString(buf)[:8], nil
}

// Register inserts a new pending node and mints its claim code.
func (r *NodeRepository) Register(ctx context.Context, n model.WorkerNode) (model.WorkerNode, error) {
	code, err := newClaimCode()
	if err != nil {
		return model.WorkerNode{}, errors.Wrap(err, "store: claim code")
	}
	n.ClaimCode = code
	n.Status = model.NodePending
	n.RegisteredAt = time.Now().UTC()

	_, err = r.s.DB.ExecContext(ctx,
		rebind(r.s.Driver, `INSERT INTO worker_nodes (id, public_key, declared_cores, max_parallel, status, owning_user, claim_code, registered_at)
			VALUES (?, ?, ?, ?, ?, '', ?, ?)`),
		n.ID.String(), n.PublicKey, n.DeclaredCores, n.MaxParallel, string(n.Status), n.ClaimCode, n.RegisteredAt,
	)
	return n, errors.Wrap(err, "store: register node")
}

// ClaimByCode associates a user account with a pending node's claim
// code, unblocking assignment.
func (r *NodeRepository) ClaimByCode(ctx context.Context, code, user string) error {
	res, err := r.s.DB.ExecContext(ctx,
		rebind(r.s.Driver, `UPDATE worker_nodes SET owning_user=?, status='online' WHERE claim_code=? AND owning_user=''`),
		user, code,
	)
	if err != nil {
		return errors.Wrap(err, "store: claim by code")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.New("store: claim code not found or already claimed")
	}
	return nil
}

// Heartbeat updates a node's last-seen timestamp and status.
func (r *NodeRepository) Heartbeat(ctx context.Context, id model.NodeID, status model.NodeStatus, now time.Time) error {
	_, err := r.s.DB.ExecContext(ctx,
		rebind(r.s.Driver, `UPDATE worker_nodes SET last_seen_at=?, status=? WHERE id=?`),
		now, string(status), id.String(),
	)
	return errors.Wrap(err, "store: node heartbeat")
}

// PublicKey looks up a node's registered verification key, for the
// signed-request protocol.
func (r *NodeRepository) PublicKey(ctx context.Context, id model.NodeID) ([]byte, error) {
	row := r.s.DB.QueryRowContext(ctx,
		rebind(r.s.Driver, `SELECT public_key FROM worker_nodes WHERE id=?`), id.String())
	var key []byte
	if err := row.Scan(&key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("store: unknown node")
		}
		return nil, errors.Wrap(err, "store: node public key")
	}
	return key, nil
}

// OwningUser returns the user a node belongs to, empty if unclaimed.
func (r *NodeRepository) OwningUser(ctx context.Context, id model.NodeID) (string, error) {
	row := r.s.DB.QueryRowContext(ctx,
		rebind(r.s.Driver, `SELECT owning_user FROM worker_nodes WHERE id=?`), id.String())
	var user string
	err := row.Scan(&user)
	return user, errors.Wrap(err, "store: owning user")
}

// GarbageCollectPending deletes pending, never-claimed nodes older than
// ttl: a node that registered but was never associated with a user
// account is garbage.
func (r *NodeRepository) GarbageCollectPending(ctx context.Context, ttl time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-ttl)
	res, err := r.s.DB.ExecContext(ctx,
		rebind(r.s.Driver, `DELETE FROM worker_nodes WHERE status='pending' AND owning_user='' AND registered_at < ?`),
		cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "store: gc pending nodes")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "store: gc rows affected")
}
