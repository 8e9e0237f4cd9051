// Package storage holds the values an overlay node is responsible for.
package storage

import (
	"errors"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/types"
)

var ErrClosed = errors.New("storage: closed")

// Store is the local replica store of an overlay node. Expired records are never
// returned by Get or Range.
type Store interface {
	Put(rec Record) error
	Get(key types.NodeID) (Record, bool, error)
	Delete(key types.NodeID) error
	// Range calls fn for every live record until fn returns false.
	Range(fn func(rec Record) bool) error
	// DeleteExpired drops every record expired at now and returns how many it dropped.
	DeleteExpired(now time.Time) (int, error)
	Close() error
}
