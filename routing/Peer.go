package routing

import (
	"time"

	"github.com/SharefulNetworks/shareful-gsls/types"
)

// Peer - Represents a known peer in the overlay: its id, its dialable address, when it
// last answered and how many requests to it have failed in a row since.
type Peer struct {
	ID       types.NodeID
	Addr     string
	LastSeen time.Time
	Failures int
}
