package routing

import (
	"slices"
	"time"
)

// KBucket - Models a single Kademlia K-Bucket. Peers are ordered least recently seen
// first.
type KBucket struct {
	Peers       []*Peer
	lastRefresh time.Time
}

// Size - Returns the number of peers in this bucket.
func (kb *KBucket) Size() int {
	return len(kb.Peers)
}

// Remove - Removes the peer at the specified index.
func (kb *KBucket) Remove(index int) bool {
	if index < 0 || index >= len(kb.Peers) {
		return false
	}
	kb.Peers = slices.Delete(kb.Peers, index, index+1)
	return true
}

func (kb *KBucket) indexOf(p *Peer) int {
	return slices.Index(kb.Peers, p)
}

// evictionCandidate - The peer to drop when the bucket is full: the one with the most
// consecutive failures, otherwise the least recently seen.
func (kb *KBucket) evictionCandidate() int {
	victim := 0
	for i, p := range kb.Peers {
		if p.Failures > kb.Peers[victim].Failures {
			victim = i
		}
	}
	return victim
}

// ComputeLastRefreshTime - A bucket was last active at the later of its last explicit
// refresh and the most recent contact with any of its peers.
func (kb *KBucket) ComputeLastRefreshTime() time.Time {
	for _, peer := range kb.Peers {
		if peer.LastSeen.After(kb.lastRefresh) {
			kb.lastRefresh = peer.LastSeen
		}
	}
	return kb.lastRefresh
}

// UpdateLastRefreshTime - Marks the bucket refreshed at now.
func (kb *KBucket) UpdateLastRefreshTime(now time.Time) {
	kb.lastRefresh = now
}
