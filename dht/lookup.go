package dht

import (
	"sort"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/types"
	"github.com/SharefulNetworks/shareful-gsls/wire"
)

type candidateState int

const (
	stateNew candidateState = iota
	stateInFlight
	stateResponded
	stateFailed
)

type candidate struct {
	peer  PeerAddress
	state candidateState
}

// lookupResult - What an iterative lookup learned.
type lookupResult struct {
	// Closest holds the peers that answered, nearest first, at most K.
	Closest []PeerAddress
	// Values holds the distinct values returned by FIND_VALUE responders.
	Values [][]byte
	// Contacted counts the peers queried, Answered those that replied.
	Contacted int
	Answered  int
}

type lookupReply struct {
	c    *candidate
	resp *wire.Message
	err  error
}

// iterativeLookup runs the Kademlia node lookup for target. It keeps at most Alpha
// queries in flight against the closest candidates not yet queried, folds the peers
// each response names back into the candidate set, and stops once the K closest
// non-failed candidates have all answered, or at deadline. op is OP_FIND_NODE or
// OP_FIND_VALUE; with OP_FIND_VALUE the lookup still converges fully so that every
// replica's value is collected.
func (n *Node) iterativeLookup(target types.NodeID, op int, deadline time.Time) *lookupResult {
	res := &lookupResult{}
	seen := map[types.NodeID]*candidate{}
	var shortlist []*candidate

	add := func(p PeerAddress) {
		if p.ID == n.ID || p.ID.IsZero() || p.Addr == "" {
			return
		}
		if _, ok := seen[p.ID]; ok {
			return
		}
		c := &candidate{peer: p}
		seen[p.ID] = c
		shortlist = append(shortlist, c)
	}
	for _, p := range n.rt.Closest(target, n.cfg.K) {
		add(PeerAddress{ID: p.ID, Addr: p.Addr})
	}

	replies := make(chan lookupReply, n.cfg.Alpha)
	valueSeen := map[string]bool{}
	inFlight := 0

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

loop:
	for {
		sort.Slice(shortlist, func(i, j int) bool {
			return types.CompareDistance(shortlist[i].peer.ID, shortlist[j].peer.ID, target) < 0
		})

		active := 0
		for _, c := range shortlist {
			if inFlight >= n.cfg.Alpha || active >= n.cfg.K {
				break
			}
			if c.state == stateFailed {
				continue
			}
			active++
			if c.state != stateNew {
				continue
			}
			c.state = stateInFlight
			inFlight++
			res.Contacted++
			go func(c *candidate) {
				resp, err := n.requestPeer(c.peer, &wire.Message{Op: op, Key: target})
				replies <- lookupReply{c: c, resp: resp, err: err}
			}(c)
		}
		if inFlight == 0 {
			break
		}

		select {
		case r := <-replies:
			inFlight--
			if r.err != nil {
				r.c.state = stateFailed
				continue
			}
			r.c.state = stateResponded
			res.Answered++
			if op == OP_FIND_VALUE && r.resp.OK && !valueSeen[string(r.resp.Value)] {
				valueSeen[string(r.resp.Value)] = true
				res.Values = append(res.Values, r.resp.Value)
			}
			for _, p := range r.resp.Peers {
				add(p)
			}
		case <-timer.C:
			n.log.Debug("lookup hit deadline", "key", target.String(), "op", opName(op), "in_flight", inFlight)
			break loop
		case <-n.stop:
			break loop
		}
	}

	sort.Slice(shortlist, func(i, j int) bool {
		return types.CompareDistance(shortlist[i].peer.ID, shortlist[j].peer.ID, target) < 0
	})
	for _, c := range shortlist {
		if len(res.Closest) == n.cfg.K {
			break
		}
		if c.state == stateResponded {
			res.Closest = append(res.Closest, c.peer)
		}
	}
	n.rt.TouchBucket(target)
	return res
}
