package model

import "time"

// NodeStatus enumerates the WorkerNode lifecycle.
type NodeStatus string

const (
	NodePending NodeStatus = "pending"
	NodeOnline  NodeStatus = "online"
	NodeOffline NodeStatus = "offline"
)

// WorkerNode is a registered remote peer.
type WorkerNode struct {
	ID             NodeID
	PublicKey      []byte
	DeclaredCores  int
	MaxParallel    int
	Status         NodeStatus
	OwningUser     string // empty until claimed via claim code
	ClaimCode      string
	LastSeenAt     time.Time
	RegisteredAt   time.Time
}

// IsGarbage reports whether a pending, unclaimed node older than the
// given TTL should be reclaimed (the coordinator's cron defaults to a
// 1 hour TTL).
func (n WorkerNode) IsGarbage(ttl time.Duration, now time.Time) bool {
	return n.Status == NodePending && n.OwningUser == "" && now.Sub(n.RegisteredAt) > ttl
}
