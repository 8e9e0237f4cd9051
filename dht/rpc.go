package dht

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/events"
	"github.com/SharefulNetworks/shareful-gsls/metrics"
	"github.com/SharefulNetworks/shareful-gsls/storage"
	"github.com/SharefulNetworks/shareful-gsls/types"
	"github.com/SharefulNetworks/shareful-gsls/wire"
)

func (n *Node) nextReqID() uint64 { return atomic.AddUint64(&n.reqSeq, 1) }

// -----------------------------------------------------------------------------
// Outbound requests
// -----------------------------------------------------------------------------

// request sends msg to the listener at to and waits for the matching response,
// re-sending up to RequestRetries times on timeout.
func (n *Node) request(to string, msg *wire.Message) (*wire.Message, error) {
	var err error
	for attempt := 0; attempt <= n.cfg.RequestRetries; attempt++ {
		var resp *wire.Message
		resp, err = n.requestOnce(to, msg)
		metrics.OverlayRPCs.WithLabelValues(opName(msg.Op), rpcOutcome(err)).Inc()
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrOverlayTimeout) {
			return nil, err
		}
	}
	return nil, err
}

func rpcOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrOverlayTimeout):
		return "timeout"
	}
	return "error"
}

func (n *Node) requestOnce(to string, msg *wire.Message) (*wire.Message, error) {
	req := *msg
	req.ReqID = n.nextReqID()
	req.IsResponse = false
	req.FromID = n.ID
	req.FromAddr = n.Addr()

	b, err := n.cd.Wrap(&req)
	if err != nil {
		return nil, err
	}

	ch := make(chan *wire.Message, 1)
	n.pending.Store(req.ReqID, ch)
	defer n.pending.Delete(req.ReqID)

	if err := n.transport.Send(to, b); err != nil {
		return nil, fmt.Errorf("%w: send to %s: %v", ErrOverlay, to, err)
	}

	timer := time.NewTimer(n.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s to %s", ErrOverlayTimeout, opName(msg.Op), to)
	case <-n.stop:
		return nil, ErrClosed
	}
}

// requestPeer is request against a known peer, keeping the routing table in step with
// the outcome.
func (n *Node) requestPeer(p PeerAddress, msg *wire.Message) (*wire.Message, error) {
	resp, err := n.request(p.Addr, msg)
	if err != nil {
		if errors.Is(err, ErrClosed) {
			return nil, err
		}
		if n.rt.MarkFailed(p.ID, n.cfg.StaleAfterFailures) {
			n.log.Debug("pruned unresponsive peer", "peer", p.ID.String(), "addr", p.Addr)
			n.notify(func(l events.NodeEventListener) {
				l.OnPeerRemoved(events.PeerEvent{ID: p.ID, Addr: p.Addr, EventTime: n.clock.Now()})
			})
		}
		return nil, err
	}
	id := resp.FromID
	if id.IsZero() {
		id = p.ID
	}
	n.peerSeen(id, p.Addr)
	return resp, nil
}

// peerSeen records successful contact with a peer.
func (n *Node) peerSeen(id types.NodeID, addr string) {
	if id == n.ID || id.IsZero() {
		return
	}
	if n.rt.Update(id, addr) {
		n.log.Debug("peer added", "peer", id.String(), "addr", addr)
		n.notify(func(l events.NodeEventListener) {
			l.OnPeerAdded(events.PeerEvent{ID: id, Addr: addr, EventTime: n.clock.Now()})
		})
	}
}

// -----------------------------------------------------------------------------
// Incoming Message Handler
// -----------------------------------------------------------------------------

func (n *Node) onMessage(from string, data []byte) {
	msg, err := n.cd.Unwrap(data)
	if err != nil {
		n.log.Debug("unwrap failed", "addr", from, "err", err)
		return
	}

	//responses are handed to whichever request is waiting on them.
	if msg.IsResponse {
		if chI, ok := n.pending.Load(msg.ReqID); ok {
			select {
			case chI.(chan *wire.Message) <- msg:
			default:
			}
		}
		return
	}

	if !n.limiter.allow(from) {
		metrics.OverlayInboundDropped.Inc()
		n.log.Debug("rate limited", "addr", from, "op", opName(msg.Op))
		return
	}

	senderAddr := resolveSender(msg.FromAddr, from)
	if senderAddr == "" {
		n.log.Debug("request without a reply address", "addr", from, "op", opName(msg.Op))
		return
	}
	n.peerSeen(msg.FromID, senderAddr)

	resp := n.handleRequest(msg, from, senderAddr)
	b, err := n.cd.Wrap(resp)
	if err != nil {
		n.log.Warn("wrap response failed", "op", opName(msg.Op), "err", err)
		return
	}
	if err := n.transport.Send(senderAddr, b); err != nil {
		n.log.Debug("reply failed", "addr", senderAddr, "op", opName(msg.Op), "err", err)
	}
}

func (n *Node) handleRequest(msg *wire.Message, from, senderAddr string) *wire.Message {
	resp := msg.Reply(n.ID)

	switch msg.Op {
	case OP_PING:
		resp.OK = true

	case OP_DISCOVER:
		resp.OK = true
		resp.ObservedAddr = from

	case OP_FIND_NODE:
		resp.OK = true
		resp.Peers = n.closestPeers(msg.Key, msg.FromID)

	case OP_FIND_VALUE:
		rec, ok, err := n.store.Get(msg.Key)
		if err != nil {
			resp.Err = err.Error()
		} else if ok {
			resp.OK = true
			resp.Value = rec.Value
		}
		resp.Peers = n.closestPeers(msg.Key, msg.FromID)

	case OP_STORE:
		if err := n.storeReplica(msg, senderAddr); err != nil {
			resp.Err = err.Error()
		} else {
			resp.OK = true
		}

	case OP_DELETE:
		if !n.cfg.AllowRemoteDelete {
			resp.Err = "remote delete disabled"
			n.log.Warn("refused remote delete", "from", from, "key", msg.Key.String())
		} else if err := n.store.Delete(msg.Key); err != nil {
			resp.Err = err.Error()
		} else {
			resp.OK = true
		}

	default:
		resp.Err = fmt.Sprintf("unknown op %d", msg.Op)
	}
	return resp
}

func (n *Node) storeReplica(msg *wire.Message, senderAddr string) error {
	now := n.clock.Now()
	event := events.ValueStoredEvent{
		Key:           msg.Key,
		Size:          len(msg.Value),
		PublisherID:   msg.FromID,
		PublisherAddr: senderAddr,
		EventTime:     now,
	}

	if n.validator != nil {
		if err := n.validator.Validate(msg.Key, msg.Value); err != nil {
			n.notify(func(l events.NodeEventListener) { l.OnValueRejected(event, err) })
			return err
		}
	}

	ttl := time.Duration(msg.TTLms) * time.Millisecond
	if ttl <= 0 || ttl > n.cfg.ValueTTL {
		ttl = n.cfg.ValueTTL
	}
	err := n.store.Put(storage.Record{
		Key:       msg.Key,
		Value:     msg.Value,
		Expiry:    now.Add(ttl),
		Publisher: msg.FromID,
		StoredAt:  now,
	})
	if err != nil {
		return err
	}
	n.notify(func(l events.NodeEventListener) { l.OnValueStored(event) })
	return nil
}

// closestPeers returns the K known peers closest to key, leaving out the requester.
func (n *Node) closestPeers(key, requester types.NodeID) []wire.PeerInfo {
	closest := n.rt.Closest(key, n.cfg.K+1)
	out := make([]wire.PeerInfo, 0, len(closest))
	for _, p := range closest {
		if p.ID == requester {
			continue
		}
		if len(out) == n.cfg.K {
			break
		}
		out = append(out, wire.PeerInfo{ID: p.ID, Addr: p.Addr})
	}
	return out
}

// resolveSender turns a request's advertised listen address into one we can reply
// to. A sender bound to an unspecified host is reached at the host its connection
// came from.
func resolveSender(advertised, from string) string {
	host, port, err := net.SplitHostPort(advertised)
	if err != nil {
		return ""
	}
	if host == "" || net.ParseIP(host).IsUnspecified() {
		fromHost, _, err := net.SplitHostPort(from)
		if err != nil {
			return ""
		}
		return net.JoinHostPort(fromHost, port)
	}
	return advertised
}
