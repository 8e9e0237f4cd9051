package storage

import (
	"time"

	"github.com/SharefulNetworks/shareful-gsls/types"
)

// Record - A value held by this node for a storage key, whether it was put here
// directly or replicated here by a peer.
type Record struct {
	Key       types.NodeID
	Value     []byte
	Expiry    time.Time
	Publisher types.NodeID //the node that sent the value; self for local puts.
	StoredAt  time.Time
}

// Expired - Reports whether the record has outlived its TTL at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.Expiry.IsZero() && !now.Before(r.Expiry)
}

// TTL - Remaining lifetime at now, never negative.
func (r *Record) TTL(now time.Time) time.Duration {
	if r.Expiry.IsZero() {
		return 0
	}
	return max(r.Expiry.Sub(now), 0)
}
