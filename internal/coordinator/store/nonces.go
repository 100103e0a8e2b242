package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// NonceStore implements signing.NonceStore against the relational store,
// so replay protection survives coordinator restarts (unlike the
// worker-side in-memory variant, which does not need to).
type NonceStore struct{ s *Store }

// NewNonceStore builds a DB-backed nonce store bound to the given store.
func NewNonceStore(s *Store) *NonceStore { return &NonceStore{s: s} }

// SeenAndRecord implements signing.NonceStore.
func (n *NonceStore) SeenAndRecord(ctx context.Context, nodeID, nonce string, at time.Time, window time.Duration) (bool, error) {
	tx, err := n.s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "store: nonce begin")
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx,
		rebind(n.s.Driver, `SELECT 1 FROM signed_nonces WHERE node_id=? AND nonce=?`), nodeID, nonce)
	var one int
	switch err := row.Scan(&one); {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return false, errors.Wrap(err, "store: nonce lookup")
	}

	if _, err := tx.ExecContext(ctx,
		rebind(n.s.Driver, `INSERT INTO signed_nonces (node_id, nonce, seen_at) VALUES (?, ?, ?)`),
		nodeID, nonce, at); err != nil {
		return false, errors.Wrap(err, "store: nonce insert")
	}

	cutoff := at.Add(-window * 2)
	if _, err := tx.ExecContext(ctx,
		rebind(n.s.Driver, `DELETE FROM signed_nonces WHERE seen_at < ?`), cutoff); err != nil {
		return false, errors.Wrap(err, "store: nonce sweep")
	}

	return false, errors.Wrap(tx.Commit(), "store: nonce commit")
}
