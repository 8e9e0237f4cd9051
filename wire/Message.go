package wire

import (
	"github.com/SharefulNetworks/shareful-gsls/types"
)

// PeerInfo - A peer's id and dialable address as exchanged between nodes.
type PeerInfo struct {
	ID   types.NodeID
	Addr string
}

// Message - A single overlay request or response. Which fields are meaningful
// depends on Op; unused fields are left at their zero values and are not encoded.
type Message struct {
	Op         int
	ReqID      uint64
	IsResponse bool

	FromID   types.NodeID
	FromAddr string //the sender's advertised listen address; empty for responses.

	Key   types.NodeID
	Value []byte
	TTLms int64

	Peers []PeerInfo

	OK  bool   //success for STORE/DELETE/PING, found for FIND_VALUE.
	Err string //remote failure reason.

	ObservedAddr string //the requester's address as seen by the responder (DISCOVER).
}

// Reply - Builds the response skeleton for m.
func (m *Message) Reply(self types.NodeID) *Message {
	return &Message{
		Op:         m.Op,
		ReqID:      m.ReqID,
		IsResponse: true,
		FromID:     self,
		Key:        m.Key,
	}
}
