package routing

import (
	"sort"
	"sync"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/types"
	"github.com/benbjohnson/clock"
)

const DefaultBucketSize = 20

// RoutingTable - Models a Kademlia compliant routing table.
// It contains one K-Bucket per bit of the keyspace; bucket i holds the peers whose XOR
// distance from the local node has its highest set bit at position i. The table is
// safe for concurrent use.
type RoutingTable struct {
	self       types.NodeID
	buckets    []KBucket
	bucketSize int
	clock      clock.Clock
	mu         sync.RWMutex
}

// NewRoutingTable - Creates an empty table for self. A nil clk uses the wall clock.
func NewRoutingTable(self types.NodeID, bucketSize int, clk clock.Clock) *RoutingTable {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}
	if clk == nil {
		clk = clock.New()
	}
	rt := &RoutingTable{
		self:       self,
		buckets:    make([]KBucket, types.IDBits),
		bucketSize: bucketSize,
		clock:      clk,
	}
	now := clk.Now()
	for i := range rt.buckets {
		rt.buckets[i].UpdateLastRefreshTime(now)
	}
	return rt
}

func (rt *RoutingTable) Self() types.NodeID {
	return rt.self
}

// Update - Upserts (i.e Updates or Inserts) a peer after successful contact.
// A known peer is refreshed, its failure count reset, and moved to the tail of its
// bucket. A new peer is appended; when the bucket is full the most failed (else the
// least recently seen) peer is evicted to make room. Returns true when the peer was
// not previously known.
func (rt *RoutingTable) Update(id types.NodeID, addr string) bool {
	i := BucketIndex(rt.self, id)
	if i < 0 {
		return false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := &rt.buckets[i]
	now := rt.clock.Now()

	for idx, p := range b.Peers {
		if p.ID != id {
			continue
		}
		if addr != "" {
			p.Addr = addr
		}
		p.LastSeen = now
		p.Failures = 0

		// move to end (most recently seen)
		if idx != len(b.Peers)-1 {
			copy(b.Peers[idx:], b.Peers[idx+1:])
			b.Peers[len(b.Peers)-1] = p
		}
		return false
	}

	// a peer we have never heard from directly needs an address to be useful.
	if addr == "" {
		return false
	}

	p := &Peer{ID: id, Addr: addr, LastSeen: now}
	if len(b.Peers) >= rt.bucketSize {
		b.Remove(b.evictionCandidate())
	}
	b.Peers = append(b.Peers, p)
	return true
}

// MarkFailed - Records a failed request to id. Once the peer has failed threshold
// times in a row it is removed. Returns true when the peer was removed.
func (rt *RoutingTable) MarkFailed(id types.NodeID, threshold int) bool {
	i := BucketIndex(rt.self, id)
	if i < 0 {
		return false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := &rt.buckets[i]
	for _, p := range b.Peers {
		if p.ID != id {
			continue
		}
		p.Failures++
		if p.Failures >= threshold {
			return b.Remove(b.indexOf(p))
		}
		return false
	}
	return false
}

// Remove - Removes the peer with the specified id, where it exists. Returns true when
// the peer was found and removed.
func (rt *RoutingTable) Remove(id types.NodeID) bool {
	i := BucketIndex(rt.self, id)
	if i < 0 {
		return false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := &rt.buckets[i]
	for idx, p := range b.Peers {
		if p.ID == id {
			return b.Remove(idx)
		}
	}
	return false
}

// GetAddr - Returns the address recorded for id.
func (rt *RoutingTable) GetAddr(id types.NodeID) (string, bool) {
	i := BucketIndex(rt.self, id)
	if i < 0 {
		return "", false
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	for _, p := range rt.buckets[i].Peers {
		if p.ID == id {
			return p.Addr, true
		}
	}
	return "", false
}

// ListKnownPeers - Returns a snapshot of every peer in the table.
func (rt *RoutingTable) ListKnownPeers() []Peer {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	peers := make([]Peer, 0, 64)
	for i := range rt.buckets {
		for _, p := range rt.buckets[i].Peers {
			peers = append(peers, *p)
		}
	}
	return peers
}

// Size - Returns the number of peers in the table.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	n := 0
	for i := range rt.buckets {
		n += rt.buckets[i].Size()
	}
	return n
}

// Closest - Returns up to count peers closest to target across all buckets, nearest
// first.
func (rt *RoutingTable) Closest(target types.NodeID, count int) []Peer {
	all := rt.ListKnownPeers()
	sort.Slice(all, func(i, j int) bool {
		return types.CompareDistance(all[i].ID, all[j].ID, target) < 0
	})
	if count > len(all) {
		count = len(all)
	}
	return all[:count]
}

// TouchBucket - Marks the bucket covering target as refreshed. Called whenever a
// lookup for target completes.
func (rt *RoutingTable) TouchBucket(target types.NodeID) {
	i := BucketIndex(rt.self, target)
	if i < 0 {
		return
	}
	rt.mu.Lock()
	rt.buckets[i].UpdateLastRefreshTime(rt.clock.Now())
	rt.mu.Unlock()
}

// StaleBuckets - Returns the indices of non-empty buckets with no activity within
// maxAge.
func (rt *RoutingTable) StaleBuckets(maxAge time.Duration) []int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	cutoff := rt.clock.Now().Add(-maxAge)
	var stale []int
	for i := range rt.buckets {
		b := &rt.buckets[i]
		if b.Size() == 0 {
			continue
		}
		if b.ComputeLastRefreshTime().Before(cutoff) {
			stale = append(stale, i)
		}
	}
	return stale
}

// RandomIDInBucket - Returns a random id that falls into bucket index.
func (rt *RoutingTable) RandomIDInBucket(index int) types.NodeID {
	return types.RandomIDWithPrefix(rt.self, types.IDBits-1-index)
}

// BucketIndex - Returns the bucket index of other relative to self, or -1 when they
// are equal.
func BucketIndex(self, other types.NodeID) int {
	if self == other {
		return -1
	}
	return types.IDBits - 1 - types.CommonPrefixLen(self, other)
}
