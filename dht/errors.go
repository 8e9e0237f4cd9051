package dht

import "errors"

var (
	// ErrNotFound is returned by Get when no reachable node holds the key.
	ErrNotFound = errors.New("dht: not found")

	// ErrBootstrap is returned when the entry node is unreachable or never answers.
	ErrBootstrap = errors.New("dht: bootstrap failed")

	// ErrOverlayTimeout is returned when contacted peers did not answer in time.
	ErrOverlayTimeout = errors.New("dht: overlay timeout")

	// ErrOverlay is returned when an operation could not reach its quorum.
	ErrOverlay = errors.New("dht: overlay error")

	// ErrClosed is returned by operations on a closed node.
	ErrClosed = errors.New("dht: node closed")
)
