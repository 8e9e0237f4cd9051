// Package dht implements the Kademlia overlay that stores and serves envelopes by
// storage key.
package dht

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/commons"
	"github.com/SharefulNetworks/shareful-gsls/config"
	"github.com/SharefulNetworks/shareful-gsls/events"
	"github.com/SharefulNetworks/shareful-gsls/metrics"
	"github.com/SharefulNetworks/shareful-gsls/netx"
	"github.com/SharefulNetworks/shareful-gsls/routing"
	"github.com/SharefulNetworks/shareful-gsls/storage"
	"github.com/SharefulNetworks/shareful-gsls/types"
	"github.com/SharefulNetworks/shareful-gsls/wire"
	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

// PeerAddress - A peer's id and dialable address.
type PeerAddress = wire.PeerInfo

// NodeOptions - Everything a Node is built from. Only Config and ListenAddr are
// required.
type NodeOptions struct {
	Config     config.Config
	ListenAddr string
	// Transport defaults to a TCPTransport configured from Config.
	Transport netx.Transport
	// Store defaults to an in-memory store owned (and closed) by the node.
	Store storage.Store
	// Validator, when set, vets every STORE received from a peer.
	Validator commons.ValueValidator
	Logger    *slog.Logger
	Clock     clock.Clock
	ID        types.NodeID
}

// Node - A single overlay participant. All public operations are synchronous and
// bounded by Config.OperationTimeout; they cannot be cancelled once started.
type Node struct {
	ID types.NodeID

	cfg       config.Config
	log       *slog.Logger
	clock     clock.Clock
	transport netx.Transport
	cd        wire.Codec
	rt        *routing.RoutingTable
	store     storage.Store
	ownsStore bool
	validator commons.ValueValidator
	limiter   *limiterTable

	addrMu     sync.RWMutex
	advertised string

	listenersMu sync.RWMutex
	listeners   []events.NodeEventListener

	reqSeq  uint64
	pending sync.Map // map[uint64]chan *wire.Message

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ commons.NodeLike = (*Node)(nil)

// NewNode - Creates a node, binds its transport and starts its background loops.
func NewNode(opts NodeOptions) (*Node, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := opts.ID
	if id.IsZero() {
		id = types.NewRandomID()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "overlay", "node", id.String()[:8])
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	limiter, err := newLimiterTable(cfg.InboundRatePerSecond, cfg.InboundBurst, cfg.RateLimiterCacheSize)
	if err != nil {
		return nil, err
	}

	n := &Node{
		ID:        id,
		cfg:       cfg,
		log:       logger,
		clock:     clk,
		transport: opts.Transport,
		cd:        wire.NewCodec(cfg.UseProtobuf),
		rt:        routing.NewRoutingTable(id, cfg.K, clk),
		store:     opts.Store,
		validator: opts.Validator,
		limiter:   limiter,
		stop:      make(chan struct{}),
	}
	if n.transport == nil {
		n.transport = netx.NewTCP(netx.TCPOptions{
			WorkerCount:       cfg.OutboundQueueWorkerCount,
			IdleTimeout:       cfg.PooledConnectionIdleTimeout,
			IdleCheckInterval: cfg.PooledConnectionIdleCheckInterval,
			Logger:            logger,
		})
	}
	if n.store == nil {
		n.store = storage.NewMemoryStore(clk)
		n.ownsStore = true
	}

	if err := n.transport.Listen(opts.ListenAddr, n.onMessage); err != nil {
		_ = n.transport.Close()
		return nil, fmt.Errorf("dht: listen on %q: %w", opts.ListenAddr, err)
	}
	n.advertised = n.transport.Addr()

	n.startBackgroundLoops()
	n.log.Info("node started", "addr", n.advertised)
	return n, nil
}

// Addr - The address this node advertises to peers.
func (n *Node) Addr() string {
	n.addrMu.RLock()
	defer n.addrMu.RUnlock()
	return n.advertised
}

// AddListener - Registers l for node events.
func (n *Node) AddListener(l events.NodeEventListener) {
	n.listenersMu.Lock()
	n.listeners = append(n.listeners, l)
	n.listenersMu.Unlock()
}

func (n *Node) notify(fn func(l events.NodeEventListener)) {
	n.listenersMu.RLock()
	defer n.listenersMu.RUnlock()
	for _, l := range n.listeners {
		fn(l)
	}
}

// Close - Stops the background loops and the transport. Safe to call repeatedly.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.stop)
		n.wg.Wait()
		err = n.transport.Close()
		if n.ownsStore {
			err = multierr.Append(err, n.store.Close())
		}
		n.log.Info("node stopped")
	})
	return err
}

func (n *Node) closed() bool {
	select {
	case <-n.stop:
		return true
	default:
		return false
	}
}

func (n *Node) observe(op string, start time.Time, err error) {
	outcome := metrics.Outcome(err)
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrOverlayTimeout):
		outcome = "timeout"
	}
	metrics.OverlayOperations.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// Neighbors - Returns the peers currently in the routing table.
func (n *Node) Neighbors() []PeerAddress {
	peers := n.rt.ListKnownPeers()
	out := make([]PeerAddress, 0, len(peers))
	for _, p := range peers {
		out = append(out, PeerAddress{ID: p.ID, Addr: p.Addr})
	}
	return out
}

// Bootstrap - Joins the overlay through the node at entryAddr: a DISCOVER round-trip
// learns the entry node's id and this node's externally observed address, then an
// iterative lookup of our own id fills the routing table. Calling it again while
// bootstrapped simply refreshes the table.
func (n *Node) Bootstrap(entryAddr string) (err error) {
	start := time.Now()
	defer func() { n.observe("bootstrap", start, err) }()

	if n.closed() {
		return ErrClosed
	}
	if entryAddr == "" {
		return fmt.Errorf("%w: no entry node configured", ErrBootstrap)
	}

	resp, err := n.request(entryAddr, &wire.Message{Op: OP_DISCOVER})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBootstrap, entryAddr, err)
	}
	if resp.FromID == n.ID || resp.FromID.IsZero() {
		return fmt.Errorf("%w: %s is this node", ErrBootstrap, entryAddr)
	}
	n.peerSeen(resp.FromID, entryAddr)
	n.learnObservedAddr(resp.ObservedAddr)

	deadline := time.Now().Add(n.cfg.OperationTimeout)
	res := n.iterativeLookup(n.ID, OP_FIND_NODE, deadline)
	n.log.Info("bootstrapped", "entry", entryAddr, "contacted", res.Contacted, "peers", n.rt.Size())
	return nil
}

// learnObservedAddr adopts the host an entry node saw us connect from when this node
// listens on an unspecified address.
func (n *Node) learnObservedAddr(observed string) {
	obsHost, _, err := net.SplitHostPort(observed)
	if err != nil || obsHost == "" {
		return
	}
	n.addrMu.Lock()
	defer n.addrMu.Unlock()
	host, port, err := net.SplitHostPort(n.advertised)
	if err != nil {
		return
	}
	if host == "" || net.ParseIP(host).IsUnspecified() {
		n.advertised = net.JoinHostPort(obsHost, port)
		n.log.Info("learned external address", "addr", n.advertised)
	}
}

// Get - Returns every distinct value held for key by this node and by the K closest
// reachable peers, the local copy first. Callers choose among candidates since a
// replica may be stale or forged.
func (n *Node) Get(key types.NodeID) (values [][]byte, err error) {
	start := time.Now()
	defer func() { n.observe("get", start, err) }()

	if n.closed() {
		return nil, ErrClosed
	}

	seen := map[string]bool{}
	if rec, ok, err := n.store.Get(key); err != nil {
		n.log.Warn("local read failed", "key", key.String(), "err", err)
	} else if ok {
		values = append(values, rec.Value)
		seen[string(rec.Value)] = true
	}

	res := n.iterativeLookup(key, OP_FIND_VALUE, time.Now().Add(n.cfg.OperationTimeout))
	for _, v := range res.Values {
		if !seen[string(v)] {
			seen[string(v)] = true
			values = append(values, v)
		}
	}

	switch {
	case len(values) > 0:
		return values, nil
	case res.Contacted == 0 || res.Answered > 0:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("%w: none of %d peers answered", ErrOverlayTimeout, res.Contacted)
	}
}

// Put - Stores value under key on the K closest peers, this node included when it ranks
// among them; otherwise any local copy is dropped. It succeeds once
// MinPutAcks replicas (this node counts when it is among the K closest) have
// acknowledged. Concurrent puts to one key are last-writer-wins.
func (n *Node) Put(key types.NodeID, value []byte) (err error) {
	start := time.Now()
	defer func() { n.observe("put", start, err) }()

	if n.closed() {
		return ErrClosed
	}
	deadline := time.Now().Add(n.cfg.OperationTimeout)

	res := n.iterativeLookup(key, OP_FIND_NODE, deadline)
	targets, selfIncluded := n.replicaSet(key, res.Closest)

	//only replicas keep a copy.
	if selfIncluded {
		now := n.clock.Now()
		if err := n.store.Put(storage.Record{
			Key:       key,
			Value:     value,
			Expiry:    now.Add(n.cfg.ValueTTL),
			Publisher: n.ID,
			StoredAt:  now,
		}); err != nil {
			return fmt.Errorf("%w: local store: %v", ErrOverlay, err)
		}
	} else if err := n.store.Delete(key); err != nil {
		n.log.Warn("failed to drop non-replica copy", "key", key.String(), "err", err)
	}

	acks, errs := n.storeAt(targets, key, value, n.cfg.ValueTTL, deadline)
	if selfIncluded {
		acks++
	}
	if acks >= n.cfg.MinPutAcks {
		if errs != nil {
			n.log.Debug("put reached quorum with failures", "key", key.String(), "acks", acks, "err", errs)
		}
		return nil
	}
	if errs == nil {
		errs = fmt.Errorf("only %d replicas known", len(targets))
	}
	return fmt.Errorf("%w: %d of %d required acknowledgements: %w", ErrOverlay, acks, n.cfg.MinPutAcks, errs)
}

// Delete - Best-effort removal of key from this node and from the K closest peers.
// It fails only when peers were contacted and none acknowledged.
func (n *Node) Delete(key types.NodeID) (err error) {
	start := time.Now()
	defer func() { n.observe("delete", start, err) }()

	if n.closed() {
		return ErrClosed
	}
	if err := n.store.Delete(key); err != nil {
		return fmt.Errorf("%w: local delete: %v", ErrOverlay, err)
	}

	deadline := time.Now().Add(n.cfg.OperationTimeout)
	res := n.iterativeLookup(key, OP_FIND_NODE, deadline)
	targets, _ := n.replicaSet(key, res.Closest)
	if len(targets) == 0 {
		return nil
	}

	acks, errs := n.fanOut(targets, deadline, func(p PeerAddress) error {
		resp, err := n.requestPeer(p, &wire.Message{Op: OP_DELETE, Key: key})
		if err != nil {
			return err
		}
		if !resp.OK {
			return fmt.Errorf("%s refused delete: %s", p.Addr, resp.Err)
		}
		return nil
	})
	if acks == 0 {
		return fmt.Errorf("%w: no replica acknowledged delete: %w", ErrOverlay, errs)
	}
	return nil
}

// replicaSet returns the peers among the K closest to key (with this node taking part
// in the ranking) and whether this node itself is one of them.
func (n *Node) replicaSet(key types.NodeID, closest []PeerAddress) ([]PeerAddress, bool) {
	ranked := append([]PeerAddress{{ID: n.ID, Addr: n.Addr()}}, closest...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return types.CompareDistance(ranked[i].ID, ranked[j].ID, key) < 0
	})
	if len(ranked) > n.cfg.K {
		ranked = ranked[:n.cfg.K]
	}

	selfIncluded := false
	peers := make([]PeerAddress, 0, len(ranked))
	for _, p := range ranked {
		if p.ID == n.ID {
			selfIncluded = true
			continue
		}
		peers = append(peers, p)
	}
	return peers, selfIncluded
}

// storeAt sends STORE to every target in parallel.
func (n *Node) storeAt(targets []PeerAddress, key types.NodeID, value []byte, ttl time.Duration, deadline time.Time) (int, error) {
	return n.fanOut(targets, deadline, func(p PeerAddress) error {
		resp, err := n.requestPeer(p, &wire.Message{
			Op:    OP_STORE,
			Key:   key,
			Value: value,
			TTLms: ttl.Milliseconds(),
		})
		if err != nil {
			return err
		}
		if !resp.OK {
			return fmt.Errorf("%s refused store: %s", p.Addr, resp.Err)
		}
		return nil
	})
}

// fanOut runs fn against every target concurrently and waits for all of them or the
// deadline. It returns the number of successes and the combined failures.
func (n *Node) fanOut(targets []PeerAddress, deadline time.Time, fn func(p PeerAddress) error) (int, error) {
	results := make(chan error, len(targets))
	for _, p := range targets {
		go func(p PeerAddress) {
			results <- fn(p)
		}(p)
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	var (
		acks int
		errs error
	)
	for pending := len(targets); pending > 0; pending-- {
		select {
		case err := <-results:
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			acks++
		case <-timer.C:
			return acks, multierr.Append(errs, fmt.Errorf("%w: %d replicas still pending", ErrOverlayTimeout, pending))
		case <-n.stop:
			return acks, multierr.Append(errs, ErrClosed)
		}
	}
	return acks, errs
}
