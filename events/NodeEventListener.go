package events

import (
	"log/slog"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/types"
)

// NodeEventListener receives notifications about changes to an overlay node's state.
// Callbacks run on the node's goroutines and must not block.
type NodeEventListener interface {

	//OnPeerAdded is called when a peer not previously known is added to the routing table.
	OnPeerAdded(event PeerEvent)

	//OnPeerRemoved is called when a peer is pruned from the routing table after repeated failures.
	OnPeerRemoved(event PeerEvent)

	//OnValueStored is called when a peer's STORE request has been accepted into the local store.
	OnValueStored(event ValueStoredEvent)

	//OnValueRejected is called when a peer's STORE request fails validation.
	OnValueRejected(event ValueStoredEvent, err error)
}

// PeerEvent - A routing table change.
type PeerEvent struct {
	ID        types.NodeID
	Addr      string
	EventTime time.Time
}

// ValueStoredEvent - A replica written (or refused) on behalf of a peer.
type ValueStoredEvent struct {
	Key           types.NodeID
	Size          int
	PublisherID   types.NodeID
	PublisherAddr string
	EventTime     time.Time
}

// LogListener - A NodeEventListener that writes every event to a logger.
type LogListener struct {
	Logger *slog.Logger
}

func (l LogListener) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l LogListener) OnPeerAdded(e PeerEvent) {
	l.logger().Info("peer added", "peer", e.ID.String(), "addr", e.Addr)
}

func (l LogListener) OnPeerRemoved(e PeerEvent) {
	l.logger().Info("peer removed", "peer", e.ID.String(), "addr", e.Addr)
}

func (l LogListener) OnValueStored(e ValueStoredEvent) {
	l.logger().Debug("replica stored", "key", e.Key.String(), "size", e.Size, "peer", e.PublisherID.String())
}

func (l LogListener) OnValueRejected(e ValueStoredEvent, err error) {
	l.logger().Warn("replica rejected", "key", e.Key.String(), "peer", e.PublisherID.String(), "addr", e.PublisherAddr, "err", err)
}
