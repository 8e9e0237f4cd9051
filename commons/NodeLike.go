package commons

import (
	"github.com/SharefulNetworks/shareful-gsls/types"
	"github.com/SharefulNetworks/shareful-gsls/wire"
)

// NodeLike - Provides the subset of the public interface exported by the dht.Node
// struct that the record store and the maintenance scheduler depend on. It lets those
// subsystems call the overlay without importing the dht package, and lets tests swap
// in a fake overlay.
type NodeLike interface {

	//Bootstrap - Joins the overlay through the entry node at entryAddr. Safe to call
	//again while already bootstrapped.
	Bootstrap(entryAddr string) error

	//Get - Returns every distinct value held for key by this node and its closest peers.
	Get(key types.NodeID) ([][]byte, error)

	//Put - Stores value under key on this node and its closest peers.
	Put(key types.NodeID, value []byte) error

	//Delete - Best-effort removal of key from this node and its closest peers.
	Delete(key types.NodeID) error

	//Neighbors - Returns the peers currently in the routing table.
	Neighbors() []wire.PeerInfo
}
